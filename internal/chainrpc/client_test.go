package chainrpc_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMALI-DEFI/Imali-sub000/internal/chainrpc"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// rpcNode is a minimal JSON-RPC node answering a fixed set of methods.
type rpcNode struct {
	chainID uint64

	mu          sync.Mutex
	throttle    int // respond 429 to this many requests first
	unavailable bool
	calls       map[string]int
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func newNode(t *testing.T, chainID uint64) (*rpcNode, *httptest.Server) {
	t.Helper()
	n := &rpcNode{chainID: chainID, calls: make(map[string]int)}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *rpcNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	if n.unavailable {
		n.mu.Unlock()
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	if n.throttle > 0 {
		n.throttle--
		n.mu.Unlock()
		http.Error(w, "slow down", http.StatusTooManyRequests)
		return
	}
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "eth_chainId":
		resp["result"] = "0x" + strconv.FormatUint(n.chainID, 16)
	case "eth_getBalance":
		resp["result"] = "0xde0b6b3a7640000"
	case "eth_call":
		resp["result"] = "0x000000000000000000000000000000000000000000000000000000000000002a"
	case "eth_getTransactionCount":
		resp["result"] = "0x5"
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *rpcNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func fastDialer() *chainrpc.Dialer {
	return chainrpc.NewDialer(
		chainrpc.WithRetry(chainrpc.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}),
		chainrpc.WithRateLimiter(chainrpc.NewRateLimiter(1000, 1000)),
		chainrpc.WithTimeout(2*time.Second),
	)
}

func chainWith(id uint64, urls ...string) registry.ChainDescriptor {
	return registry.ChainDescriptor{
		ID:      id,
		Name:    "Test",
		Key:     "test",
		RPCURLs: urls,
	}
}

func TestDial_FirstMatchingEndpoint(t *testing.T) {
	t.Parallel()

	_, primary := newNode(t, 137)
	_, fallback := newNode(t, 137)

	c, err := fastDialer().Dial(context.Background(), chainWith(137, primary.URL, fallback.URL))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, primary.URL, c.URL())
	assert.Equal(t, uint64(137), c.ID())
}

func TestDial_FallsBackOnWrongChain(t *testing.T) {
	t.Parallel()

	_, wrong := newNode(t, 1)
	_, right := newNode(t, 137)

	c, err := fastDialer().Dial(context.Background(), chainWith(137, wrong.URL, right.URL))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, right.URL, c.URL())
}

func TestDial_FallsBackOnUnavailableEndpoint(t *testing.T) {
	t.Parallel()

	down, downSrv := newNode(t, 137)
	down.unavailable = true
	_, up := newNode(t, 137)

	c, err := fastDialer().Dial(context.Background(), chainWith(137, downSrv.URL, up.URL))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, up.URL, c.URL())
	assert.Equal(t, 3, down.count("eth_chainId"), "5xx is retried before falling back")
}

func TestDial_AllEndpointsFail(t *testing.T) {
	t.Parallel()

	_, a := newNode(t, 1)
	_, b := newNode(t, 56)

	_, err := fastDialer().Dial(context.Background(), chainWith(137, a.URL, b.URL))
	require.ErrorIs(t, err, imalierr.ErrNetworkError)
	assert.Equal(t, "137", imalierr.Details(err)["chain"])
	assert.Equal(t, "2", imalierr.Details(err)["endpoints"])
}

func TestDial_NoEndpoints(t *testing.T) {
	t.Parallel()

	_, err := fastDialer().Dial(context.Background(), chainWith(137))
	require.ErrorIs(t, err, imalierr.ErrNetworkError)
}

func TestClient_RetriesRateLimitedReads(t *testing.T) {
	t.Parallel()

	node, srv := newNode(t, 137)
	c, err := fastDialer().Dial(context.Background(), chainWith(137, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	node.mu.Lock()
	node.throttle = 2
	node.mu.Unlock()

	balance, err := c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())
	assert.Equal(t, 3, node.count("eth_getBalance"))
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	node, srv := newNode(t, 137)
	c, err := fastDialer().Dial(context.Background(), chainWith(137, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	node.mu.Lock()
	node.throttle = 10
	node.mu.Unlock()

	_, err = c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	require.ErrorIs(t, err, chainrpc.ErrRateLimited)
	assert.Equal(t, 3, node.count("eth_getBalance"))
}

func TestClient_NodeErrorsAreFinal(t *testing.T) {
	t.Parallel()

	node, srv := newNode(t, 137)
	c, err := fastDialer().Dial(context.Background(), chainWith(137, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SuggestGasTipCap(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, node.count("eth_maxPriorityFeePerGas"))
}

func TestClient_CallContractAndNonce(t *testing.T) {
	t.Parallel()

	_, srv := newNode(t, 137)
	c, err := fastDialer().Dial(context.Background(), chainWith(137, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	to := common.HexToAddress("0x02")
	out, err := c.CallContract(context.Background(), ethereum.CallMsg{To: &to, Data: []byte{0x01}}, nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), new(big.Int).SetBytes(out))

	nonce, err := c.PendingNonceAt(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nonce)
}
