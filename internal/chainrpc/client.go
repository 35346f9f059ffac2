// Package chainrpc provides the read/broadcast backend that contract handles
// use: an ethclient connection to the first healthy RPC endpoint of a
// chain, with per-endpoint rate limiting and retry of transient failures.
package chainrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// DefaultTimeout bounds a single RPC call.
const DefaultTimeout = 30 * time.Second

// Backend is what a contract handle needs from a chain connection.
type Backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

var errChainMismatch = errors.New("chain id mismatch")

// Compile-time interface checks
var (
	_ Backend              = (*Client)(nil)
	_ bind.ContractBackend = (*Client)(nil)
)

// LogWriter is the logging surface used by this package.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Dialer opens chain connections.
type Dialer struct {
	limiter    *RateLimiter
	retry      RetryConfig
	timeout    time.Duration
	httpClient *http.Client
	logger     LogWriter
	metrics    *metrics.Metrics
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithRateLimiter shares limiter across every connection of the dialer.
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(d *Dialer) { d.limiter = limiter }
}

// WithRetry sets the retry policy for read calls.
func WithRetry(cfg RetryConfig) Option {
	return func(d *Dialer) { d.retry = cfg }
}

// WithTimeout bounds each RPC call.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dialer) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithHTTPClient sets the HTTP client used for http(s) endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(logger LogWriter) Option {
	return func(d *Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDialer creates a Dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		limiter:    DefaultRateLimiter(),
		retry:      DefaultRetryConfig(),
		timeout:    DefaultTimeout,
		httpClient: http.DefaultClient,
		logger:     nopLogger{},
		metrics:    metrics.Global,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects to the first endpoint of chain that answers with the
// expected chain id. Endpoints are tried in registry order.
func (d *Dialer) Dial(ctx context.Context, chain registry.ChainDescriptor) (*Client, error) {
	details := map[string]string{"chain": strconv.FormatUint(chain.ID, 10)}
	if len(chain.RPCURLs) == 0 {
		details["reason"] = "no RPC endpoints"
		return nil, imalierr.WithDetails(imalierr.ErrNetworkError, details)
	}

	var lastErr error
	for _, url := range chain.RPCURLs {
		c, err := d.dialOne(ctx, chain.ID, url)
		if err == nil {
			d.logger.Debug("chainrpc: using %s for %s", url, chain)
			return c, nil
		}
		d.logger.Debug("chainrpc: endpoint %s unusable: %v", url, err)
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	details["endpoints"] = strconv.Itoa(len(chain.RPCURLs))
	return nil, imalierr.WithDetails(imalierr.WithCause(imalierr.ErrNetworkError, lastErr), details)
}

func (d *Dialer) dialOne(ctx context.Context, want uint64, url string) (*Client, error) {
	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(d.httpClient))
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}

	c := &Client{
		Client:  ethclient.NewClient(rc),
		url:     url,
		limiter: d.limiter,
		retry:   d.retry,
		timeout: d.timeout,
		metrics: d.metrics,
	}

	id, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("getting chain ID: %w", err)
	}
	if !id.IsUint64() || id.Uint64() != want {
		c.Close()
		return nil, fmt.Errorf("%w: endpoint reports chain %s, want %d", errChainMismatch, id, want)
	}
	c.chainID = want

	return c, nil
}

// Client is an ethclient connection with rate limiting, per-call timeouts,
// retry of transient read failures and call metrics. Methods not overridden
// here go straight to the embedded client.
type Client struct {
	*ethclient.Client

	url     string
	chainID uint64
	limiter *RateLimiter
	retry   RetryConfig
	timeout time.Duration
	metrics *metrics.Metrics
}

// URL returns the endpoint in use.
func (c *Client) URL() string {
	return c.url
}

// ID returns the verified chain id.
func (c *Client) ID() uint64 {
	return c.chainID
}

// ChainID returns the chain id reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return read(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.Client.ChainID(ctx)
	})
}

// BalanceAt returns the native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return read(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.Client.BalanceAt(ctx, account, blockNumber)
	})
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return read(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.Client.CallContract(ctx, msg, blockNumber)
	})
}

// CodeAt returns the contract code at account.
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return read(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.Client.CodeAt(ctx, account, blockNumber)
	})
}

// PendingCodeAt returns the contract code at account in the pending state.
func (c *Client) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return read(ctx, c, func(ctx context.Context) ([]byte, error) {
		return c.Client.PendingCodeAt(ctx, account)
	})
}

// PendingNonceAt returns the next nonce for account.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return read(ctx, c, func(ctx context.Context) (uint64, error) {
		return c.Client.PendingNonceAt(ctx, account)
	})
}

// HeaderByNumber returns a block header.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return read(ctx, c, func(ctx context.Context) (*types.Header, error) {
		return c.Client.HeaderByNumber(ctx, number)
	})
}

// SuggestGasPrice returns the node's legacy gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return read(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.Client.SuggestGasPrice(ctx)
	})
}

// SuggestGasTipCap returns the node's priority fee suggestion.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return read(ctx, c, func(ctx context.Context) (*big.Int, error) {
		return c.Client.SuggestGasTipCap(ctx)
	})
}

// EstimateGas estimates the gas needed for msg.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return read(ctx, c, func(ctx context.Context) (uint64, error) {
		return c.Client.EstimateGas(ctx, msg)
	})
}

// SendTransaction broadcasts a signed transaction. It is never retried.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.limiter.Wait(ctx, c.url); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.Client.SendTransaction(callCtx, tx)
	c.metrics.RecordRPCCall(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("broadcasting transaction: %w", err)
	}
	return nil
}

func read[T any](ctx context.Context, c *Client, op func(context.Context) (T, error)) (T, error) {
	return RetryWithConfig(ctx, c.retry, func() (T, error) {
		var zero T
		if err := c.limiter.Wait(ctx, c.url); err != nil {
			return zero, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		v, err := op(callCtx)
		c.metrics.RecordRPCCall(time.Since(start), err)
		if err != nil {
			return zero, classify(err)
		}
		return v, nil
	})
}
