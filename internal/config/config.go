package config

import (
	"fmt"

	"github.com/bitspectre/surveil/internal/models"
)

// InstrumentType distinguishes perpetual from spot instruments.
type InstrumentType string

const (
	InstrumentPerpetual InstrumentType = "perpetual"
	InstrumentSpot      InstrumentType = "spot"
)

// WebSocketEndpoints holds the stream URLs for a venue. Venues with one
// public endpoint set Public; venues with split markets set Futures/Spot.
type WebSocketEndpoints struct {
	Futures string `yaml:"futures"`
	Spot    string `yaml:"spot"`
	Public  string `yaml:"public"`
}

// RestEndpoints holds the REST base URLs for a venue.
type RestEndpoints struct {
	Futures string `yaml:"futures"`
	Spot    string `yaml:"spot"`
	Base    string `yaml:"base"`
}

// ConnectionSettings tunes transport behavior per venue.
type ConnectionSettings struct {
	RateLimitPerSecond   int `yaml:"rate_limit_per_second"`
	ReconnectDelaySecs   int `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	PingIntervalSecs     int `yaml:"ping_interval_seconds"`
	PingTimeoutSecs      int `yaml:"ping_timeout_seconds"`
}

// StreamSettings configures the subscribed book streams.
type StreamSettings struct {
	OrderbookDepth   int    `yaml:"orderbook_depth"`
	OrderbookSpeed   string `yaml:"orderbook_speed"`
	OrderbookChannel string `yaml:"orderbook_channel"`
}

// ExchangeConfig is one venue's configuration.
type ExchangeConfig struct {
	Enabled    bool               `yaml:"enabled"`
	WebSocket  WebSocketEndpoints `yaml:"websocket"`
	Rest       RestEndpoints      `yaml:"rest"`
	Connection ConnectionSettings `yaml:"connection"`
	Streams    StreamSettings     `yaml:"streams"`
}

// WebSocketURL resolves the stream URL for a market type, falling back to the
// venue's single public endpoint.
func (e *ExchangeConfig) WebSocketURL(marketType string) string {
	switch marketType {
	case "futures":
		if e.WebSocket.Futures != "" {
			return e.WebSocket.Futures
		}
	case "spot":
		if e.WebSocket.Spot != "" {
			return e.WebSocket.Spot
		}
	}
	return e.WebSocket.Public
}

// RestURL resolves the REST base URL for a market type.
func (e *ExchangeConfig) RestURL(marketType string) string {
	switch marketType {
	case "futures":
		if e.Rest.Futures != "" {
			return e.Rest.Futures
		}
	case "spot":
		if e.Rest.Spot != "" {
			return e.Rest.Spot
		}
	}
	return e.Rest.Base
}

// VenueSymbol maps an instrument onto one venue's naming.
type VenueSymbol struct {
	Symbol          string `yaml:"symbol"`
	Stream          string `yaml:"stream"`
	TickerStream    string `yaml:"ticker_stream"`
	MarkPriceStream string `yaml:"mark_price_stream"`
	InstType        string `yaml:"inst_type"`
}

// InstrumentConfig defines one tracked instrument.
type InstrumentConfig struct {
	ID           string                 `yaml:"id"`
	Name         string                 `yaml:"name"`
	Type         InstrumentType         `yaml:"type"`
	Base         string                 `yaml:"base"`
	Quote        string                 `yaml:"quote"`
	Enabled      bool                   `yaml:"enabled"`
	VenueSymbols map[string]VenueSymbol `yaml:"venue_symbols"`
	DepthLevels  int                    `yaml:"depth_levels"`
}

// VenueSymbol returns the venue-specific mapping, or false when the
// instrument is not listed on the venue.
func (i *InstrumentConfig) VenueSymbol(venue string) (VenueSymbol, bool) {
	s, ok := i.VenueSymbols[venue]
	return s, ok
}

// IsPerpetual reports whether the instrument is a perpetual swap.
func (i *InstrumentConfig) IsPerpetual() bool {
	return i.Type == InstrumentPerpetual
}

// BasisPair links a perpetual to its spot counterpart for basis metrics.
type BasisPair struct {
	Perp string `yaml:"perp"`
	Spot string `yaml:"spot"`
}

// GlobalAlertSettings is shared alert behavior.
type GlobalAlertSettings struct {
	ThrottleSeconds    int  `yaml:"throttle_seconds"`
	DedupWindowSeconds int  `yaml:"dedup_window_seconds"`
	AutoResolve        bool `yaml:"auto_resolve"`
}

// PriorityEscalation defines the promotion rule for a priority level.
type PriorityEscalation struct {
	To           models.AlertPriority `yaml:"to"`
	AfterSeconds int                  `yaml:"after_seconds"`
}

// PriorityConfig routes a priority to its channels and escalation.
type PriorityConfig struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Channels    []string            `yaml:"channels"`
	Escalation  *PriorityEscalation `yaml:"escalation"`
	Color       string              `yaml:"color"`
}

// AlertDefinition declares one alert type. Immutable per process lifetime.
type AlertDefinition struct {
	Name               string                `yaml:"name"`
	Description        string                `yaml:"description"`
	Metric             string                `yaml:"metric"`
	DefaultPriority    models.AlertPriority  `yaml:"default_priority"`
	DefaultSeverity    models.AlertSeverity  `yaml:"default_severity"`
	Condition          models.AlertCondition `yaml:"condition"`
	RequiresZScore     bool                  `yaml:"requires_zscore"`
	PersistenceSeconds int                   `yaml:"persistence_seconds"`
	ThrottleSeconds    int                   `yaml:"throttle_seconds"`
	EscalatesTo        string                `yaml:"escalates_to"`
	Enabled            *bool                 `yaml:"enabled"`
}

// IsEnabled defaults to true when the flag is omitted.
func (d *AlertDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// AlertThreshold is the per-instrument bound for one alert type.
type AlertThreshold struct {
	Threshold Decimal  `yaml:"threshold"`
	ZScore    *Decimal `yaml:"zscore"`
}

// ChannelConfig configures one notification channel.
type ChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Format     string `yaml:"format"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	IconEmoji  string `yaml:"icon_emoji"`
}

// AlertsConfig is the full alerting configuration document.
type AlertsConfig struct {
	Global      GlobalAlertSettings                     `yaml:"global"`
	Priorities  map[models.AlertPriority]PriorityConfig `yaml:"priorities"`
	Definitions map[string]AlertDefinition              `yaml:"definitions"`
	Thresholds  map[string]map[string]AlertThreshold    `yaml:"thresholds"`
	Channels    map[string]ChannelConfig                `yaml:"channels"`
}

// Threshold resolves the bound for an instrument and alert type, falling back
// to the wildcard "*" entry. Returns false when neither exists.
func (a *AlertsConfig) Threshold(instrument, alertType string) (AlertThreshold, bool) {
	if byType, ok := a.Thresholds[instrument]; ok {
		if t, ok := byType[alertType]; ok {
			return t, true
		}
	}
	if byType, ok := a.Thresholds["*"]; ok {
		if t, ok := byType[alertType]; ok {
			return t, true
		}
	}
	return AlertThreshold{}, false
}

// Definition returns the alert definition for a type.
func (a *AlertsConfig) Definition(alertType string) (AlertDefinition, bool) {
	d, ok := a.Definitions[alertType]
	return d, ok
}

// ZScoreConfig tunes the rolling z-score trackers.
type ZScoreConfig struct {
	Enabled             bool    `yaml:"enabled"`
	WindowSize          int     `yaml:"window_size"`
	MinSamples          int     `yaml:"min_samples"`
	MinStd              Decimal `yaml:"min_std"`
	WarmupLogInterval   int     `yaml:"warmup_log_interval"`
	ResetOnGap          bool    `yaml:"reset_on_gap"`
	ResetOnGapThreshold int     `yaml:"reset_on_gap_threshold"`
}

// GapHandlingConfig tunes gap detection.
type GapHandlingConfig struct {
	MarkGaps            bool `yaml:"mark_gaps"`
	GapThresholdSeconds int  `yaml:"gap_threshold_seconds"`
	AlertOnGap          bool `yaml:"alert_on_gap"`
	TrackSequenceIDs    bool `yaml:"track_sequence_ids"`
}

// DataCaptureConfig tunes processing and storage cadence.
type DataCaptureConfig struct {
	RealtimeIntervalMs     int `yaml:"realtime_interval_ms"`
	StorageIntervalSeconds int `yaml:"storage_interval_seconds"`
	DepthLevels            int `yaml:"depth_levels"`
}

// KVStorageConfig tunes TTLs on the key-value store.
type KVStorageConfig struct {
	CurrentStateTTLSeconds int `yaml:"current_state_ttl_seconds"`
	ZScoreBufferTTLSeconds int `yaml:"zscore_buffer_ttl_seconds"`
	AlertDedupTTLSeconds   int `yaml:"alert_dedup_ttl_seconds"`
}

// TSDBStorageConfig tunes time-series retention.
type TSDBStorageConfig struct {
	SnapshotRetentionDays int `yaml:"snapshot_retention_days"`
	MetricsRetentionDays  int `yaml:"metrics_retention_days"`
	AlertsRetentionDays   int `yaml:"alerts_retention_days"`
	CompressAfterDays     int `yaml:"compress_after_days"`
}

// StorageConfig groups store tuning.
type StorageConfig struct {
	KV   KVStorageConfig   `yaml:"kv"`
	TSDB TSDBStorageConfig `yaml:"tsdb"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// FeaturesConfig is the features document.
type FeaturesConfig struct {
	ZScore      ZScoreConfig      `yaml:"zscore"`
	GapHandling GapHandlingConfig `yaml:"gap_handling"`
	DataCapture DataCaptureConfig `yaml:"data_capture"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Config is the root application configuration, merged from the config
// directory documents plus environment overrides.
type Config struct {
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Instruments []InstrumentConfig        `yaml:"instruments"`
	BasisPairs  []BasisPair               `yaml:"basis_pairs"`
	Alerts      AlertsConfig              `yaml:"alerts"`
	Features    FeaturesConfig            `yaml:"features"`

	KVURL       string `yaml:"kv_url"`
	DatabaseURL string `yaml:"database_url"`
	OpsListen   string `yaml:"ops_listen"`
}

// Validate checks cross-references between documents.
func (c *Config) Validate() error {
	ids := make(map[string]struct{}, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.ID == "" {
			return fmt.Errorf("instrument with empty id")
		}
		if _, dup := ids[inst.ID]; dup {
			return fmt.Errorf("duplicate instrument id: %s", inst.ID)
		}
		ids[inst.ID] = struct{}{}
	}
	for _, p := range c.BasisPairs {
		if _, ok := ids[p.Perp]; !ok {
			return fmt.Errorf("basis pair references unknown perp: %s", p.Perp)
		}
		if _, ok := ids[p.Spot]; !ok {
			return fmt.Errorf("basis pair references unknown spot: %s", p.Spot)
		}
	}
	for name, def := range c.Alerts.Definitions {
		if !def.Condition.Valid() {
			return fmt.Errorf("alert %s: invalid condition %q", name, def.Condition)
		}
	}
	return nil
}

// Exchange returns the config for a venue.
func (c *Config) Exchange(name string) (ExchangeConfig, bool) {
	e, ok := c.Exchanges[name]
	return e, ok
}

// Instrument returns the config for an instrument id.
func (c *Config) Instrument(id string) (InstrumentConfig, bool) {
	for _, inst := range c.Instruments {
		if inst.ID == id {
			return inst, true
		}
	}
	return InstrumentConfig{}, false
}

// EnabledExchanges lists enabled venue names.
func (c *Config) EnabledExchanges() []string {
	var names []string
	for name, e := range c.Exchanges {
		if e.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// EnabledInstruments lists enabled instrument configs.
func (c *Config) EnabledInstruments() []InstrumentConfig {
	var out []InstrumentConfig
	for _, inst := range c.Instruments {
		if inst.Enabled {
			out = append(out, inst)
		}
	}
	return out
}

// SpotForPerp returns the spot counterpart for basis computation.
func (c *Config) SpotForPerp(perpID string) (string, bool) {
	for _, p := range c.BasisPairs {
		if p.Perp == perpID {
			return p.Spot, true
		}
	}
	return "", false
}
