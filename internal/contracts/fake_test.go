package contracts_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strconv"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/IMALI-DEFI/Imali-sub000/internal/chainrpc"
	"github.com/IMALI-DEFI/Imali-sub000/internal/contracts"
	"github.com/IMALI-DEFI/Imali-sub000/internal/netswitch"
	"github.com/IMALI-DEFI/Imali-sub000/internal/provider"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	"github.com/IMALI-DEFI/Imali-sub000/internal/session"
)

// wallet is a provider.Provider that signs with a real key and switches
// between the chains it knows.
type wallet struct {
	key *ecdsa.PrivateKey

	mu           sync.Mutex
	accounts     []common.Address
	chainID      uint64
	known        map[uint64]bool
	switchErr    error
	ignoreSwitch bool
	handler      provider.NotificationHandler
	requests     []string
}

var _ provider.Provider = (*wallet)(nil)

func newWallet(t *testing.T, chainID uint64, known ...uint64) *wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	w := &wallet{
		key:      key,
		accounts: []common.Address{crypto.PubkeyToAddress(key.PublicKey)},
		chainID:  chainID,
		known:    map[uint64]bool{chainID: true},
	}
	for _, id := range known {
		w.known[id] = true
	}
	return w
}

func (w *wallet) address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *wallet) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, method)

	switch method {
	case provider.MethodRequestAccounts, provider.MethodAccounts:
		return json.Marshal(w.accounts)
	case provider.MethodChainID:
		return json.Marshal(hexutil.EncodeUint64(w.chainID))
	case provider.MethodSwitchChain:
		if w.switchErr != nil {
			return nil, w.switchErr
		}
		var p provider.SwitchChainParams
		if err := roundTrip(params[0], &p); err != nil {
			return nil, provider.NewRequestError(provider.CodeInvalidParams, "bad params")
		}
		id, err := hexutil.DecodeUint64(p.ChainID)
		if err != nil {
			return nil, provider.NewRequestError(provider.CodeInvalidParams, "bad chain id")
		}
		if !w.known[id] {
			return nil, provider.NewRequestError(provider.CodeUnrecognizedChain, "unrecognized chain %d", id)
		}
		if !w.ignoreSwitch {
			w.chainID = id
		}
		return json.RawMessage(`null`), nil
	case provider.MethodSignTransaction:
		var args provider.TransactionArgs
		if err := roundTrip(params[0], &args); err != nil {
			return nil, provider.NewRequestError(provider.CodeInvalidParams, "bad params")
		}
		if args.ChainID == nil || args.ChainID.ToInt().Uint64() != w.chainID {
			return nil, provider.NewRequestError(provider.CodeInvalidParams, "wrong chain")
		}
		signed, err := types.SignTx(args.ToTransaction(), types.LatestSignerForChainID(args.ChainID.ToInt()), w.key)
		if err != nil {
			return nil, err
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Encode(raw))
	default:
		return nil, provider.NewRequestError(provider.CodeUnsupportedMethod, "unsupported %s", method)
	}
}

func (w *wallet) Subscribe(handler provider.NotificationHandler) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.handler = nil
	}, nil
}

func (w *wallet) Close() error { return nil }

func (w *wallet) emit(event string, payload any) {
	raw, _ := json.Marshal(payload)
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h != nil {
		h(event, raw)
	}
}

// switchAccount makes addr the wallet's selected account and notifies.
func (w *wallet) switchAccount(addr common.Address) {
	w.mu.Lock()
	w.accounts = []common.Address{addr}
	w.mu.Unlock()
	w.emit(string(provider.EventAccountsChanged), []string{addr.Hex()})
}

// switchChain changes the active chain from the wallet side and notifies.
func (w *wallet) switchChain(id uint64) {
	w.mu.Lock()
	w.chainID = id
	w.mu.Unlock()
	w.emit(string(provider.EventChainChanged), hexutil.EncodeUint64(id))
}

func (w *wallet) sent(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.requests {
		if m == method {
			n++
		}
	}
	return n
}

func roundTrip(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// backend is a chainrpc.Backend answering the calls a bound contract makes.
// Methods not overridden panic through the nil embedded interface.
type backend struct {
	chainrpc.Backend

	chainID uint64

	mu     sync.Mutex
	sent   []*types.Transaction
	closed bool
}

var _ chainrpc.Backend = (*backend)(nil)

func (b *backend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil
}

func (b *backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *backend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (b *backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (b *backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (b *backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *backend) transactions() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

func (b *backend) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// dialer hands out fake backends and counts dials per chain. When gate is
// set, the next dial signals entered and blocks until gate is closed.
type dialer struct {
	mu       sync.Mutex
	dials    map[uint64]int
	backends map[uint64]*backend
	gate     chan struct{}
	entered  chan struct{}
	err      error
}

func newDialer() *dialer {
	return &dialer{dials: make(map[uint64]int), backends: make(map[uint64]*backend)}
}

func (d *dialer) dial(ctx context.Context, chain registry.ChainDescriptor) (chainrpc.Backend, error) {
	d.mu.Lock()
	d.dials[chain.ID]++
	gate, entered, err := d.gate, d.entered, d.err
	d.gate, d.entered = nil, nil
	d.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	b := &backend{chainID: chain.ID}
	d.mu.Lock()
	d.backends[chain.ID] = b
	d.mu.Unlock()
	return b, nil
}

func (d *dialer) count(chainID uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[chainID]
}

func (d *dialer) backend(chainID uint64) *backend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backends[chainID]
}

// block makes the next dial wait for the returned release function.
func (d *dialer) block() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{})
	d.mu.Lock()
	d.gate, d.entered = gate, in
	d.mu.Unlock()
	return in, func() { close(gate) }
}

type fixture struct {
	wallet *wallet
	dialer *dialer
	sess   *session.Manager
	cache  *contracts.Cache
}

// connected returns a cache over a session connected to w.
func connected(t *testing.T, w *wallet) *fixture {
	t.Helper()

	reg, err := registry.Default()
	require.NoError(t, err)

	sess := session.NewManager(func(context.Context) (*provider.Adapter, error) {
		return provider.NewAdapter("test", w, nil), nil
	}, nil)
	_, err = sess.Connect(context.Background())
	require.NoError(t, err)

	d := newDialer()
	cache := contracts.New(reg, sess,
		contracts.WithDial(d.dial),
		contracts.WithSwitcher(netswitch.New(nil)),
	)
	t.Cleanup(func() {
		cache.Close()
		sess.Close()
	})

	return &fixture{wallet: w, dialer: d, sess: sess, cache: cache}
}

func chainString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
