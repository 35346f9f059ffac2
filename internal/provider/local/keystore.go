package local

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/IMALI-DEFI/Imali-sub000/internal/fileutil"
	"github.com/IMALI-DEFI/Imali-sub000/internal/securemem"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

const keystorePermissions = 0o600

// DerivationPath is the BIP44 path prefix for Ethereum accounts; the
// account index is appended.
const DerivationPath = "m/44'/60'/0'/0"

var (
	errBadWordCount   = errors.New("word count must be 12 or 24")
	errKeystoreClosed = errors.New("keystore closed")
)

// Keystore holds the wallet seed, decrypted from an age-sealed mnemonic.
type Keystore struct {
	path string
	lock bool
	seed *securemem.Secret
}

// KeystoreExists reports whether a keystore file exists at path.
func KeystoreExists(path string) bool {
	return fileutil.Exists(path)
}

// CreateKeystore generates a new mnemonic, seals it with passphrase and
// writes it to path. The mnemonic is returned once so the user can record
// it.
func CreateKeystore(path, passphrase string, words int) (string, error) {
	var bits int
	switch words {
	case 12:
		bits = 128
	case 24:
		bits = 256
	default:
		return "", imalierr.WithCause(imalierr.ErrInvalidInput, errBadWordCount)
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("generating entropy: %w", err)
	}
	defer securemem.Zero(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generating mnemonic: %w", err)
	}

	if err := ImportKeystore(path, passphrase, mnemonic); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// ImportKeystore seals an existing mnemonic with passphrase and writes it
// to path.
func ImportKeystore(path, passphrase, mnemonic string) error {
	if KeystoreExists(path) {
		return imalierr.WithDetails(imalierr.ErrKeystoreExists, map[string]string{"path": path})
	}

	mnemonic = normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return imalierr.ErrInvalidMnemonic
	}

	sealed, err := securemem.Seal([]byte(mnemonic), passphrase)
	if err != nil {
		return fmt.Errorf("sealing keystore: %w", err)
	}
	if err := fileutil.WriteAtomic(path, sealed, keystorePermissions); err != nil {
		return fmt.Errorf("writing keystore: %w", err)
	}
	return nil
}

// OpenKeystore decrypts the keystore at path. When lock is true the seed
// is kept in locked memory.
func OpenKeystore(path, passphrase string, lock bool) (*Keystore, error) {
	// #nosec G304 -- keystore path comes from configuration
	sealed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, imalierr.WithDetails(imalierr.ErrKeystoreNotFound, map[string]string{"path": path})
		}
		return nil, fmt.Errorf("reading keystore: %w", err)
	}

	secret, err := securemem.Open(sealed, passphrase, lock)
	if err != nil {
		return nil, imalierr.WithCause(imalierr.ErrDecryptionFailed, err)
	}
	defer secret.Destroy()

	seed, err := bip39.NewSeedWithErrorChecking(string(secret.Bytes()), "")
	if err != nil {
		return nil, imalierr.WithCause(imalierr.ErrInvalidMnemonic, err)
	}

	return &Keystore{path: path, lock: lock, seed: securemem.FromBytes(seed, lock)}, nil
}

// Path returns the keystore file path.
func (k *Keystore) Path() string {
	return k.path
}

// PrivateKey derives the key for account index.
func (k *Keystore) PrivateKey(index uint32) (*ecdsa.PrivateKey, error) {
	seed := k.seed.Bytes()
	if seed == nil {
		return nil, errKeystoreClosed
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("creating master key: %w", err)
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
		index,
	}
	for _, child := range path {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, fmt.Errorf("deriving %s/%d: %w", DerivationPath, index, err)
		}
	}

	raw := common.LeftPadBytes(key.Key, 32)
	defer securemem.Zero(raw)
	return crypto.ToECDSA(raw)
}

// Address derives the address of account index.
func (k *Keystore) Address(index uint32) (common.Address, error) {
	key, err := k.PrivateKey(index)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Close destroys the seed.
func (k *Keystore) Close() {
	k.seed.Destroy()
}

func normalizeMnemonic(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
