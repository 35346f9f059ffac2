package local_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMALI-DEFI/Imali-sub000/internal/netswitch"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider/local"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	"github.com/IMALI-DEFI/Imali-sub000/internal/session"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// approver approves everything except the kinds in deny and records what
// it was asked.
type approver struct {
	mu     sync.Mutex
	deny   map[local.PromptKind]bool
	block  bool
	prompt []local.Prompt
}

func (a *approver) Approve(ctx context.Context, p local.Prompt) (bool, error) {
	a.mu.Lock()
	a.prompt = append(a.prompt, p)
	deny, block := a.deny[p.Kind], a.block
	a.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return !deny, nil
}

func (a *approver) kinds() []local.PromptKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]local.PromptKind, 0, len(a.prompt))
	for _, p := range a.prompt {
		out = append(out, p.Kind)
	}
	return out
}

// events records raw notifications.
type events struct {
	mu  sync.Mutex
	got []string
}

func (e *events) handle(event string, payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, event+" "+string(payload))
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.got...)
}

type env struct {
	keystore string
	store    string
	approver *approver
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.age")
	require.NoError(t, local.ImportKeystore(path, testPassphrase, testMnemonic))
	return &env{
		keystore: path,
		store:    filepath.Join(dir, "wallet.db"),
		approver: &approver{deny: make(map[local.PromptKind]bool)},
	}
}

func (e *env) options() local.Options {
	return local.Options{
		Origin:        "test-app",
		Accounts:      2,
		DefaultChain:  137,
		BuiltinChains: map[uint64]string{1: "Ethereum Mainnet", 137: "Polygon"},
		Approver:      e.approver,
	}
}

func (e *env) open(t *testing.T) *local.Wallet {
	t.Helper()
	ks, err := local.OpenKeystore(e.keystore, testPassphrase, false)
	require.NoError(t, err)
	store, err := local.OpenStore(context.Background(), e.store)
	require.NoError(t, err)
	w, err := local.New(context.Background(), ks, store, e.options())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func adapter(t *testing.T, w *local.Wallet) *provider.Adapter {
	t.Helper()
	a := provider.NewAdapter("local", w, nil)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func baseChain(t *testing.T) registry.ChainDescriptor {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	base, err := reg.Describe(8453)
	require.NoError(t, err)
	return base
}

func TestWallet_AccountsHiddenUntilAuthorized(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	a := adapter(t, e.open(t))
	ctx := context.Background()

	accounts, err := a.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	accounts, err = a.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{devAccount0}, accounts)

	accounts, err = a.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{devAccount0}, accounts)

	_, err = a.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []local.PromptKind{local.PromptConnect}, e.approver.kinds())
}

func TestWallet_ConnectRejected(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.approver.deny[local.PromptConnect] = true
	a := adapter(t, e.open(t))

	_, err := a.RequestAccounts(context.Background())
	require.ErrorIs(t, err, imalierr.ErrUserRejected)

	accounts, err := a.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestWallet_ApprovalTimeoutIsRejection(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.approver.block = true

	ks, err := local.OpenKeystore(e.keystore, testPassphrase, false)
	require.NoError(t, err)
	store, err := local.OpenStore(context.Background(), e.store)
	require.NoError(t, err)
	opts := e.options()
	opts.ApprovalTimeout = 20 * time.Millisecond
	w, err := local.New(context.Background(), ks, store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	_, err = adapter(t, w).RequestAccounts(context.Background())
	require.ErrorIs(t, err, imalierr.ErrUserRejected)
}

func TestWallet_ChainID(t *testing.T) {
	t.Parallel()

	a := adapter(t, newEnv(t).open(t))
	id, err := a.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(137), id)
}

func TestWallet_SwitchChain(t *testing.T) {
	t.Parallel()

	t.Run("known chain", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		w := e.open(t)
		rec := &events{}
		_, err := w.Subscribe(rec.handle)
		require.NoError(t, err)

		require.NoError(t, adapter(t, w).SwitchChain(context.Background(), 1))
		assert.Equal(t, uint64(1), w.ActiveChain())
		assert.Equal(t, []string{`chainChanged "0x1"`}, rec.list())
	})

	t.Run("already active does not prompt", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		require.NoError(t, adapter(t, e.open(t)).SwitchChain(context.Background(), 137))
		assert.Empty(t, e.approver.kinds())
	})

	t.Run("unknown chain", func(t *testing.T) {
		t.Parallel()
		err := adapter(t, newEnv(t).open(t)).SwitchChain(context.Background(), 8453)
		require.ErrorIs(t, err, provider.ErrChainNotAdded)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.approver.deny[local.PromptSwitchChain] = true
		w := e.open(t)
		err := adapter(t, w).SwitchChain(context.Background(), 1)
		require.ErrorIs(t, err, imalierr.ErrUserRejected)
		assert.Equal(t, uint64(137), w.ActiveChain())
	})
}

func TestWallet_AddChainSwitchesToIt(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	w := e.open(t)
	rec := &events{}
	_, err := w.Subscribe(rec.handle)
	require.NoError(t, err)

	require.NoError(t, adapter(t, w).AddChain(context.Background(), provider.AddChainParamsFor(baseChain(t))))
	assert.True(t, w.KnownChain(8453))
	assert.Equal(t, uint64(8453), w.ActiveChain())
	assert.Equal(t, []string{`chainChanged "0x2105"`}, rec.list())
	assert.Equal(t, []local.PromptKind{local.PromptAddChain, local.PromptSwitchChain}, e.approver.kinds())
}

func TestWallet_AddChainKeptWhenSwitchDeclined(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.approver.deny[local.PromptSwitchChain] = true
	w := e.open(t)

	require.NoError(t, adapter(t, w).AddChain(context.Background(), provider.AddChainParamsFor(baseChain(t))))
	assert.True(t, w.KnownChain(8453))
	assert.Equal(t, uint64(137), w.ActiveChain())
}

func TestWallet_AddChainValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params provider.AddChainParams
	}{
		{"bad chain id", provider.AddChainParams{ChainID: "base", ChainName: "Base", RPCURLs: []string{"https://x"}}},
		{"zero chain id", provider.AddChainParams{ChainID: "0x0", ChainName: "Zero", RPCURLs: []string{"https://x"}}},
		{"missing name", provider.AddChainParams{ChainID: "0x2105", RPCURLs: []string{"https://x"}}},
		{"missing rpc", provider.AddChainParams{ChainID: "0x2105", ChainName: "Base"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w := newEnv(t).open(t)
			_, err := w.Request(context.Background(), provider.MethodAddChain, tc.params)
			var reqErr *provider.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, provider.CodeInvalidParams, reqErr.Code)
		})
	}
}

func TestWallet_StatePersistsAcrossRestarts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	first := e.open(t)
	a := adapter(t, first)
	_, err := a.RequestAccounts(ctx)
	require.NoError(t, err)
	require.NoError(t, a.AddChain(ctx, provider.AddChainParamsFor(baseChain(t))))
	require.NoError(t, first.SelectAccount(ctx, 1))
	require.NoError(t, a.Close())

	second := e.open(t)
	assert.Equal(t, uint64(8453), second.ActiveChain())
	assert.True(t, second.KnownChain(8453))

	accounts, err := adapter(t, second).Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{devAccount1}, accounts)
}

func TestWallet_SignTransaction(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	w := e.open(t)
	a := adapter(t, w)
	ctx := context.Background()
	_, err := a.RequestAccounts(ctx)
	require.NoError(t, err)

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chainID := big.NewInt(137)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2_000_000_000),
		Gas:       21_000,
		To:        &to,
		Value:     big.NewInt(5),
	})

	signed, err := a.SignTransaction(ctx, devAccount0, tx, chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, devAccount0, sender)
	assert.Equal(t, uint64(3), signed.Nonce())
	assert.Equal(t, chainID, signed.ChainId())
	assert.Contains(t, e.approver.kinds(), local.PromptSignTransaction)
}

func TestWallet_SignTransactionRefusals(t *testing.T) {
	t.Parallel()

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	legacy := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21_000, To: &to, Value: big.NewInt(1)})

	tests := []struct {
		name      string
		authorize bool
		deny      bool
		from      common.Address
		chainID   *big.Int
		wantCode  int
		rejected  bool
	}{
		{name: "not authorized", from: devAccount0, chainID: big.NewInt(137), wantCode: provider.CodeUnauthorized},
		{name: "other account", authorize: true, from: devAccount1, chainID: big.NewInt(137), wantCode: provider.CodeUnauthorized},
		{name: "wrong chain", authorize: true, from: devAccount0, chainID: big.NewInt(1), wantCode: provider.CodeInvalidParams},
		{name: "user rejects", authorize: true, deny: true, from: devAccount0, chainID: big.NewInt(137), rejected: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t)
			e.approver.deny[local.PromptSignTransaction] = tc.deny
			w := e.open(t)
			ctx := context.Background()
			if tc.authorize {
				_, err := w.Request(ctx, provider.MethodRequestAccounts)
				require.NoError(t, err)
			}

			_, err := w.Request(ctx, provider.MethodSignTransaction, provider.ArgsFromTransaction(tc.from, legacy, tc.chainID))
			var reqErr *provider.RequestError
			require.ErrorAs(t, err, &reqErr)
			if tc.rejected {
				assert.Equal(t, provider.CodeUserRejected, reqErr.Code)
				return
			}
			assert.Equal(t, tc.wantCode, reqErr.Code)
		})
	}
}

func TestWallet_WalletSideChangesNotify(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	w := e.open(t)
	ctx := context.Background()
	rec := &events{}
	_, err := w.Subscribe(rec.handle)
	require.NoError(t, err)

	// Before authorization account changes are invisible.
	require.NoError(t, w.SelectAccount(ctx, 1))
	require.NoError(t, w.SelectAccount(ctx, 0))
	assert.Empty(t, rec.list())

	_, err = w.Request(ctx, provider.MethodRequestAccounts)
	require.NoError(t, err)

	require.NoError(t, w.SelectAccount(ctx, 1))
	require.NoError(t, w.SetActiveChain(ctx, 1))
	require.ErrorIs(t, w.SetActiveChain(ctx, 8453), imalierr.ErrChainNotFound)
	require.ErrorIs(t, w.SelectAccount(ctx, 5), imalierr.ErrInvalidInput)

	w.Lock()
	w.Lock()
	accounts, err := w.Request(ctx, provider.MethodAccounts)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(accounts))

	require.Error(t, w.Unlock("wrong"))
	require.NoError(t, w.Unlock(testPassphrase))

	_, err = w.Request(ctx, provider.MethodRevokePermissions)
	require.NoError(t, err)

	account1 := `["` + lower(devAccount1) + `"]`
	assert.Equal(t, []string{
		"accountsChanged " + account1,
		`chainChanged "0x1"`,
		"accountsChanged []",
		"accountsChanged " + account1,
		"accountsChanged []",
	}, rec.list())
}

func TestWallet_LockedRefusesAccess(t *testing.T) {
	t.Parallel()

	w := newEnv(t).open(t)
	ctx := context.Background()
	w.Lock()

	_, err := w.Request(ctx, provider.MethodRequestAccounts)
	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, provider.CodeUnauthorized, reqErr.Code)
}

func TestWallet_SubscriptionAndClose(t *testing.T) {
	t.Parallel()

	w := newEnv(t).open(t)

	cancel, err := w.Subscribe(func(string, json.RawMessage) {})
	require.NoError(t, err)
	_, err = w.Subscribe(func(string, json.RawMessage) {})
	require.Error(t, err)
	cancel()
	cancel()

	closed := make(chan struct{})
	_, err = w.Subscribe(func(string, json.RawMessage) {
		_ = w.Close()
		close(closed)
	})
	require.NoError(t, err)
	require.NoError(t, w.SetActiveChain(context.Background(), 1))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close from handler blocked")
	}

	_, err = w.Request(context.Background(), provider.MethodChainID)
	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, provider.CodeDisconnected, reqErr.Code)
	require.NoError(t, w.Close())
}

func TestWallet_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	_, err := newEnv(t).open(t).Request(context.Background(), "eth_sign")
	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, provider.CodeUnsupportedMethod, reqErr.Code)
}

func TestSource(t *testing.T) {
	t.Parallel()

	t.Run("no keystore", func(t *testing.T) {
		t.Parallel()
		src := local.Source(local.SourceConfig{Keystore: filepath.Join(t.TempDir(), "missing")})
		_, err := src.Open(context.Background())
		require.ErrorIs(t, err, provider.ErrNotPresent)
	})

	t.Run("passphrase error", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		boom := errors.New("no tty")
		src := local.Source(local.SourceConfig{
			Keystore:   e.keystore,
			Store:      e.store,
			Passphrase: func() (string, error) { return "", boom },
		})
		_, err := src.Open(context.Background())
		require.ErrorIs(t, err, boom)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		src := local.Source(local.SourceConfig{
			Keystore:   e.keystore,
			Store:      e.store,
			Passphrase: func() (string, error) { return "nope", nil },
		})
		_, err := provider.Connect(context.Background(), nil, src)
		require.ErrorIs(t, err, imalierr.ErrDecryptionFailed)
	})
}

// TestWallet_SessionFollowsSwitchToAddedChain drives the wallet through the
// session manager and the network switcher the way the contract cache
// does.
func TestWallet_SessionFollowsSwitchToAddedChain(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	src := local.Source(local.SourceConfig{
		Keystore:   e.keystore,
		Store:      e.store,
		Passphrase: func() (string, error) { return testPassphrase, nil },
		Options:    e.options(),
	})

	sess := session.NewManager(func(ctx context.Context) (*provider.Adapter, error) {
		return provider.Connect(ctx, nil, src)
	}, nil)
	t.Cleanup(sess.Close)

	ctx := context.Background()
	snap, err := sess.Connect(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Account)
	assert.Equal(t, devAccount0, *snap.Account)
	assert.Equal(t, uint64(137), snap.ChainID)

	require.NoError(t, netswitch.New(nil).EnsureChain(ctx, snap.Provider, baseChain(t)))

	next, err := sess.SyncChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8453), next.ChainID)
	assert.Equal(t, snap.Generation, next.Generation)
	assert.Equal(t, []local.PromptKind{
		local.PromptConnect,
		local.PromptAddChain,
		local.PromptSwitchChain,
	}, e.approver.kinds())

	// A second session restores without prompting.
	restored := session.NewManager(func(ctx context.Context) (*provider.Adapter, error) {
		return provider.Connect(ctx, nil, src)
	}, nil)
	t.Cleanup(restored.Close)
	sess.Close()

	require.True(t, restored.Restore(ctx))
	assert.Equal(t, uint64(8453), restored.Snapshot().ChainID)
	assert.Len(t, e.approver.kinds(), 3)
}

func lower(a common.Address) string {
	raw, _ := json.Marshal(a)
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}
