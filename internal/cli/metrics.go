package cli

import (
	"io"
	"strconv"

	"github.com/IMALI-DEFI/Imali-sub000/internal/metrics"
	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
)

// reportMetrics writes the process metrics gathered during the command.
func reportMetrics(w io.Writer, m *metrics.Metrics, format output.Format) error {
	snap := m.Snapshot()
	if format == output.FormatJSON {
		return output.WriteJSON(w, struct {
			metrics.Snapshot

			ProviderLatencyAvgMs float64 `json:"provider_latency_avg_ms"`
			RPCLatencyAvgMs      float64 `json:"rpc_latency_avg_ms"`
			CacheHitRate         float64 `json:"cache_hit_rate"`
		}{snap, m.ProviderLatencyAvgMs(), m.RPCLatencyAvgMs(), m.CacheHitRate()})
	}

	rows := []struct {
		name  string
		value int64
	}{
		{"wallet requests", snap.ProviderCallsTotal},
		{"wallet errors", snap.ProviderErrorsTotal},
		{"wallet rejections", snap.ProviderRejections},
		{"rpc calls", snap.RPCCallsTotal},
		{"rpc errors", snap.RPCErrorsTotal},
		{"connects", snap.ConnectsTotal},
		{"connect errors", snap.ConnectErrors},
		{"restores", snap.RestoresTotal},
		{"restores succeeded", snap.RestoresSuccess},
		{"account changes", snap.AccountChanges},
		{"chain changes", snap.ChainChanges},
		{"stale results", snap.StaleDiscarded},
		{"switch prompts", snap.SwitchPrompts},
		{"add-chain prompts", snap.AddChainPrompts},
		{"switch failures", snap.SwitchFailures},
		{"cache hits", snap.CacheHits},
		{"cache misses", snap.CacheMisses},
		{"cache evictions", snap.CacheEvictions},
	}

	table := output.NewTable("Metric", "Value").AlignRight(1)
	for _, r := range rows {
		table.AddRow(r.name, strconv.FormatInt(r.value, 10))
	}
	table.AddRow("wallet latency avg", strconv.FormatFloat(m.ProviderLatencyAvgMs(), 'f', 1, 64)+" ms")
	table.AddRow("rpc latency avg", strconv.FormatFloat(m.RPCLatencyAvgMs(), 'f', 1, 64)+" ms")
	return table.Render(w)
}
