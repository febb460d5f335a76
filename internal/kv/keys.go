package kv

import "fmt"

// Key layout. These are the only keys the pipeline writes; every consumer
// reconstructs them through these helpers so the layout stays in one place.
const (
	keyPrefixOrderbook = "orderbook"
	keyPrefixTicker    = "ticker"
	keyPrefixMetrics   = "metrics"
	keyPrefixZScore    = "zscore"
	keyPrefixAlert     = "alert"
	keyPrefixHealth    = "health"

	KeyAlertsActive = "alerts:active"
)

// Pub/sub channels. Messages are compact envelopes carrying identifiers only;
// subscribers re-read full state from the KV keys.
const (
	ChannelOrderbook = "updates:orderbook"
	ChannelMetrics   = "updates:metrics"
	ChannelAlerts    = "updates:alerts"
	ChannelHealth    = "updates:health"
)

func OrderbookKey(venue, instrument string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefixOrderbook, venue, instrument)
}

func TickerKey(venue, instrument string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefixTicker, venue, instrument)
}

func MetricsKey(venue, instrument string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefixMetrics, venue, instrument)
}

func ZScoreKey(venue, instrument, metric string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefixZScore, venue, instrument, metric)
}

func AlertKey(alertID string) string {
	return fmt.Sprintf("%s:%s", keyPrefixAlert, alertID)
}

func AlertsByPriorityKey(priority string) string {
	return fmt.Sprintf("alerts:by_priority:%s", priority)
}

func AlertsByInstrumentKey(instrument string) string {
	return fmt.Sprintf("alerts:by_instrument:%s", instrument)
}

func HealthKey(venue string) string {
	return fmt.Sprintf("%s:%s", keyPrefixHealth, venue)
}
