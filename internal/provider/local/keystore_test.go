package local_test

import (
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/IMALI-DEFI/Imali-sub000/internal/provider/local"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// testMnemonic is the well-known development mnemonic whose first accounts
// are published by every Ethereum dev toolchain.
const (
	testMnemonic   = "test test test test test test test test test test test junk"
	testPassphrase = "correct horse battery staple"
)

var (
	devAccount0 = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	devAccount1 = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func importKeystore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keystore.age")
	require.NoError(t, local.ImportKeystore(path, testPassphrase, testMnemonic))
	return path
}

func TestKeystore_ImportDerivesKnownAccounts(t *testing.T) {
	t.Parallel()

	path := importKeystore(t)
	ks, err := local.OpenKeystore(path, testPassphrase, false)
	require.NoError(t, err)
	defer ks.Close()

	addr, err := ks.Address(0)
	require.NoError(t, err)
	assert.Equal(t, devAccount0, addr)

	addr, err = ks.Address(1)
	require.NoError(t, err)
	assert.Equal(t, devAccount1, addr)
	assert.Equal(t, path, ks.Path())
}

func TestKeystore_ImportNormalizesWhitespaceAndCase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keystore.age")
	messy := "  " + strings.ToUpper(strings.ReplaceAll(testMnemonic, " ", "   ")) + "\n"
	require.NoError(t, local.ImportKeystore(path, testPassphrase, messy))

	ks, err := local.OpenKeystore(path, testPassphrase, false)
	require.NoError(t, err)
	defer ks.Close()

	addr, err := ks.Address(0)
	require.NoError(t, err)
	assert.Equal(t, devAccount0, addr)
}

func TestKeystore_Create(t *testing.T) {
	t.Parallel()

	for _, words := range []int{12, 24} {
		t.Run(strconv.Itoa(words)+" words", func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "keystore.age")
			mnemonic, err := local.CreateKeystore(path, testPassphrase, words)
			require.NoError(t, err)
			assert.Len(t, strings.Fields(mnemonic), words)
			assert.True(t, bip39.IsMnemonicValid(mnemonic))
			assert.True(t, local.KeystoreExists(path))

			ks, err := local.OpenKeystore(path, testPassphrase, false)
			require.NoError(t, err)
			defer ks.Close()
			_, err = ks.Address(0)
			require.NoError(t, err)
		})
	}
}

func TestKeystore_Errors(t *testing.T) {
	t.Parallel()

	existing := importKeystore(t)

	tests := []struct {
		name string
		run  func(dir string) error
		want error
	}{
		{
			name: "bad word count",
			run: func(dir string) error {
				_, err := local.CreateKeystore(filepath.Join(dir, "k"), testPassphrase, 13)
				return err
			},
			want: imalierr.ErrInvalidInput,
		},
		{
			name: "already exists",
			run: func(string) error {
				return local.ImportKeystore(existing, testPassphrase, testMnemonic)
			},
			want: imalierr.ErrKeystoreExists,
		},
		{
			name: "invalid mnemonic",
			run: func(dir string) error {
				return local.ImportKeystore(filepath.Join(dir, "k"), testPassphrase, "test test test")
			},
			want: imalierr.ErrInvalidMnemonic,
		},
		{
			name: "missing keystore",
			run: func(dir string) error {
				_, err := local.OpenKeystore(filepath.Join(dir, "missing"), testPassphrase, false)
				return err
			},
			want: imalierr.ErrKeystoreNotFound,
		},
		{
			name: "wrong passphrase",
			run: func(string) error {
				_, err := local.OpenKeystore(existing, "nope", false)
				return err
			},
			want: imalierr.ErrDecryptionFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, tc.run(t.TempDir()), tc.want)
		})
	}
}

func TestKeystore_ClosedCannotDerive(t *testing.T) {
	t.Parallel()

	ks, err := local.OpenKeystore(importKeystore(t), testPassphrase, false)
	require.NoError(t, err)
	ks.Close()
	ks.Close()

	_, err = ks.Address(0)
	require.Error(t, err)
}
