// Package metrics provides application-level metrics collection.
// This is a lightweight metrics foundation using atomic counters.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds application metrics using atomic counters for thread safety.
type Metrics struct {
	// Wallet provider requests
	providerCallsTotal   atomic.Int64
	providerErrorsTotal  atomic.Int64
	providerRejections   atomic.Int64
	providerLatencyNanos atomic.Int64

	// Read backend RPC calls
	rpcCallsTotal   atomic.Int64
	rpcErrorsTotal  atomic.Int64
	rpcLatencyNanos atomic.Int64

	// Session lifecycle
	connectsTotal   atomic.Int64
	connectErrors   atomic.Int64
	disconnects     atomic.Int64
	accountChanges  atomic.Int64
	chainChanges    atomic.Int64
	staleDiscarded  atomic.Int64
	restoresTotal   atomic.Int64
	restoresSuccess atomic.Int64

	// Network switch protocol
	switchNoops    atomic.Int64
	switchPrompts  atomic.Int64
	addChainPrompt atomic.Int64
	switchFailures atomic.Int64

	// Contract resolution cache
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	cacheEvictions atomic.Int64
}

// Global is the global metrics instance.
// Use this for recording metrics throughout the application.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordProviderRequest records a wallet provider request. Rejections by
// the user are counted separately from errors.
func (m *Metrics) RecordProviderRequest(duration time.Duration, err error, rejected bool) {
	m.providerCallsTotal.Add(1)
	m.providerLatencyNanos.Add(duration.Nanoseconds())

	switch {
	case rejected:
		m.providerRejections.Add(1)
	case err != nil:
		m.providerErrorsTotal.Add(1)
	}
}

// RecordRPCCall records a read backend RPC call with its duration and success status.
func (m *Metrics) RecordRPCCall(duration time.Duration, err error) {
	m.rpcCallsTotal.Add(1)
	m.rpcLatencyNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.rpcErrorsTotal.Add(1)
	}
}

// RecordConnect records a connect attempt.
func (m *Metrics) RecordConnect(err error) {
	m.connectsTotal.Add(1)
	if err != nil {
		m.connectErrors.Add(1)
	}
}

// RecordDisconnect records a local or wallet-initiated disconnect.
func (m *Metrics) RecordDisconnect() {
	m.disconnects.Add(1)
}

// RecordAccountChange records an applied accountsChanged event.
func (m *Metrics) RecordAccountChange() {
	m.accountChanges.Add(1)
}

// RecordChainChange records an applied chainChanged event.
func (m *Metrics) RecordChainChange() {
	m.chainChanges.Add(1)
}

// RecordStaleResult records an async result dropped by the generation check.
func (m *Metrics) RecordStaleResult() {
	m.staleDiscarded.Add(1)
}

// RecordRestore records a passive session restore attempt.
func (m *Metrics) RecordRestore(restored bool) {
	m.restoresTotal.Add(1)
	if restored {
		m.restoresSuccess.Add(1)
	}
}

// RecordSwitchNoop records an ensure-chain call that needed no prompt.
func (m *Metrics) RecordSwitchNoop() {
	m.switchNoops.Add(1)
}

// RecordSwitchPrompt records a wallet_switchEthereumChain prompt.
func (m *Metrics) RecordSwitchPrompt() {
	m.switchPrompts.Add(1)
}

// RecordAddChainPrompt records a wallet_addEthereumChain prompt.
func (m *Metrics) RecordAddChainPrompt() {
	m.addChainPrompt.Add(1)
}

// RecordSwitchFailure records an ensure-chain call that failed.
func (m *Metrics) RecordSwitchFailure() {
	m.switchFailures.Add(1)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheEviction records a full cache clear.
func (m *Metrics) RecordCacheEviction() {
	m.cacheEvictions.Add(1)
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	ProviderCallsTotal   int64 `json:"provider_calls_total"`
	ProviderErrorsTotal  int64 `json:"provider_errors_total"`
	ProviderRejections   int64 `json:"provider_rejections"`
	ProviderLatencyNanos int64 `json:"provider_latency_nanos"`
	RPCCallsTotal        int64 `json:"rpc_calls_total"`
	RPCErrorsTotal       int64 `json:"rpc_errors_total"`
	RPCLatencyNanos      int64 `json:"rpc_latency_nanos"`
	ConnectsTotal        int64 `json:"connects_total"`
	ConnectErrors        int64 `json:"connect_errors"`
	Disconnects          int64 `json:"disconnects"`
	AccountChanges       int64 `json:"account_changes"`
	ChainChanges         int64 `json:"chain_changes"`
	StaleDiscarded       int64 `json:"stale_discarded"`
	RestoresTotal        int64 `json:"restores_total"`
	RestoresSuccess      int64 `json:"restores_success"`
	SwitchNoops          int64 `json:"switch_noops"`
	SwitchPrompts        int64 `json:"switch_prompts"`
	AddChainPrompts      int64 `json:"add_chain_prompts"`
	SwitchFailures       int64 `json:"switch_failures"`
	CacheHits            int64 `json:"cache_hits"`
	CacheMisses          int64 `json:"cache_misses"`
	CacheEvictions       int64 `json:"cache_evictions"`
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ProviderCallsTotal:   m.providerCallsTotal.Load(),
		ProviderErrorsTotal:  m.providerErrorsTotal.Load(),
		ProviderRejections:   m.providerRejections.Load(),
		ProviderLatencyNanos: m.providerLatencyNanos.Load(),
		RPCCallsTotal:        m.rpcCallsTotal.Load(),
		RPCErrorsTotal:       m.rpcErrorsTotal.Load(),
		RPCLatencyNanos:      m.rpcLatencyNanos.Load(),
		ConnectsTotal:        m.connectsTotal.Load(),
		ConnectErrors:        m.connectErrors.Load(),
		Disconnects:          m.disconnects.Load(),
		AccountChanges:       m.accountChanges.Load(),
		ChainChanges:         m.chainChanges.Load(),
		StaleDiscarded:       m.staleDiscarded.Load(),
		RestoresTotal:        m.restoresTotal.Load(),
		RestoresSuccess:      m.restoresSuccess.Load(),
		SwitchNoops:          m.switchNoops.Load(),
		SwitchPrompts:        m.switchPrompts.Load(),
		AddChainPrompts:      m.addChainPrompt.Load(),
		SwitchFailures:       m.switchFailures.Load(),
		CacheHits:            m.cacheHits.Load(),
		CacheMisses:          m.cacheMisses.Load(),
		CacheEvictions:       m.cacheEvictions.Load(),
	}
}

// ProviderLatencyAvgMs returns the average wallet request latency in
// milliseconds, or 0 if no requests have been made.
func (m *Metrics) ProviderLatencyAvgMs() float64 {
	calls := m.providerCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	return float64(m.providerLatencyNanos.Load()) / float64(calls) / 1e6
}

// RPCLatencyAvgMs returns the average RPC latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) RPCLatencyAvgMs() float64 {
	calls := m.rpcCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	return float64(m.rpcLatencyNanos.Load()) / float64(calls) / 1e6
}

// CacheHitRate returns the cache hit rate as a percentage (0-100).
// Returns 0 if no cache operations have occurred.
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Int64{
		&m.providerCallsTotal, &m.providerErrorsTotal, &m.providerRejections, &m.providerLatencyNanos,
		&m.rpcCallsTotal, &m.rpcErrorsTotal, &m.rpcLatencyNanos,
		&m.connectsTotal, &m.connectErrors, &m.disconnects, &m.accountChanges, &m.chainChanges,
		&m.staleDiscarded, &m.restoresTotal, &m.restoresSuccess,
		&m.switchNoops, &m.switchPrompts, &m.addChainPrompt, &m.switchFailures,
		&m.cacheHits, &m.cacheMisses, &m.cacheEvictions,
	} {
		c.Store(0)
	}
}
