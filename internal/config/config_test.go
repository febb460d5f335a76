package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitspectre/surveil/internal/models"
)

const exchangesYAML = `
exchanges:
  binance:
    enabled: true
    websocket:
      futures: wss://fstream.binance.com/ws
      spot: wss://stream.binance.com:9443/ws
    rest:
      futures: https://fapi.binance.com
      spot: https://api.binance.com
    connection:
      rate_limit_per_second: 5
    streams:
      orderbook_depth: 20
      orderbook_speed: 100ms
  okx:
    enabled: true
    websocket:
      public: wss://ws.okx.com:8443/ws/v5/public
    rest:
      base: https://www.okx.com
    streams:
      orderbook_channel: books
`

const instrumentsYAML = `
instruments:
  - id: BTC-USDT-PERP
    name: Bitcoin Perpetual
    type: perpetual
    base: BTC
    quote: USDT
    enabled: true
    venue_symbols:
      binance:
        symbol: btcusdt
        stream: btcusdt@depth20@100ms
      okx:
        symbol: BTC-USDT-SWAP
        inst_type: SWAP
  - id: BTC-USDT-SPOT
    name: Bitcoin Spot
    type: spot
    base: BTC
    quote: USDT
    enabled: true
    venue_symbols:
      binance:
        symbol: btcusdt
        stream: btcusdt@depth20@100ms
basis_pairs:
  - perp: BTC-USDT-PERP
    spot: BTC-USDT-SPOT
`

const alertsYAML = `
alerts:
  global:
    throttle_seconds: 60
    dedup_window_seconds: 300
    auto_resolve: true
  priorities:
    P1:
      name: Critical
      description: immediate action
      channels: [console, webhook]
    P2:
      name: Warning
      description: investigate soon
      channels: [console]
      escalation:
        to: P1
        after_seconds: 300
  definitions:
    spread_warning:
      name: Spread Warning
      description: spread widened
      metric: spread_bps
      default_priority: P2
      default_severity: warning
      condition: gt
      requires_zscore: true
      throttle_seconds: 60
  thresholds:
    BTC-USDT-PERP:
      spread_warning:
        threshold: 3.0
        zscore: 2.0
    "*":
      spread_warning:
        threshold: 5.0
        zscore: 2.5
  channels:
    console:
      enabled: true
      format: structured
`

const featuresYAML = `
features:
  zscore:
    enabled: true
    window_size: 300
    min_samples: 30
    min_std: 0.0001
    reset_on_gap: true
  gap_handling:
    mark_gaps: true
    gap_threshold_seconds: 5
  logging:
    format: json
    level: info
`

func writeConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		exchangesFile:   exchangesYAML,
		instrumentsFile: instrumentsYAML,
		alertsFile:      alertsYAML,
		featuresFile:    featuresYAML,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfigDir(t))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"binance", "okx"}, cfg.EnabledExchanges())
	require.Len(t, cfg.EnabledInstruments(), 2)

	bin, ok := cfg.Exchange("binance")
	require.True(t, ok)
	assert.Equal(t, "wss://fstream.binance.com/ws", bin.WebSocketURL("futures"))
	assert.Equal(t, 5, bin.Connection.RateLimitPerSecond)
	// defaults filled in
	assert.Equal(t, 10, bin.Connection.MaxReconnectAttempts)

	okx, ok := cfg.Exchange("okx")
	require.True(t, ok)
	assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", okx.WebSocketURL("futures"))
	assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", okx.WebSocketURL("spot"))

	spot, ok := cfg.SpotForPerp("BTC-USDT-PERP")
	require.True(t, ok)
	assert.Equal(t, "BTC-USDT-SPOT", spot)
}

func TestLoad_ThresholdFallback(t *testing.T) {
	cfg, err := Load(writeConfigDir(t))
	require.NoError(t, err)

	th, ok := cfg.Alerts.Threshold("BTC-USDT-PERP", "spread_warning")
	require.True(t, ok)
	assert.True(t, th.Threshold.Equal(decimal.RequireFromString("3.0")))

	th, ok = cfg.Alerts.Threshold("ETH-USDT-PERP", "spread_warning")
	require.True(t, ok)
	assert.True(t, th.Threshold.Equal(decimal.RequireFromString("5.0")))
	require.NotNil(t, th.ZScore)
	assert.True(t, th.ZScore.Equal(decimal.RequireFromString("2.5")))

	_, ok = cfg.Alerts.Threshold("BTC-USDT-PERP", "unknown_alert")
	assert.False(t, ok)
}

func TestLoad_DefinitionDefaults(t *testing.T) {
	cfg, err := Load(writeConfigDir(t))
	require.NoError(t, err)

	def, ok := cfg.Alerts.Definition("spread_warning")
	require.True(t, ok)
	assert.True(t, def.IsEnabled())
	assert.Equal(t, models.PriorityP2, def.DefaultPriority)
	assert.Equal(t, models.ConditionGT, def.Condition)
	assert.True(t, def.RequiresZScore)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KV_URL", "redis://elsewhere:6380")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")

	cfg, err := Load(writeConfigDir(t))
	require.NoError(t, err)

	assert.Equal(t, "redis://elsewhere:6380", cfg.KVURL)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DatabaseURL)
}

func TestLoad_RejectsDanglingBasisPair(t *testing.T) {
	dir := writeConfigDir(t)
	broken := `
instruments:
  - id: BTC-USDT-PERP
    name: Bitcoin Perpetual
    type: perpetual
    base: BTC
    quote: USDT
    enabled: true
basis_pairs:
  - perp: BTC-USDT-PERP
    spot: BTC-USDT-SPOT
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, instrumentsFile), []byte(broken), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown spot")
}

func TestLoad_MissingExchangesIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
}

func TestZScoreDefaults(t *testing.T) {
	f := defaultFeatures()
	assert.Equal(t, 300, f.ZScore.WindowSize)
	assert.Equal(t, 30, f.ZScore.MinSamples)
	assert.True(t, f.ZScore.MinStd.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, f.ZScore.ResetOnGap)
	assert.Equal(t, 5, f.GapHandling.GapThresholdSeconds)
}
