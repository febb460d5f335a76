package models

import (
	"fmt"
	"time"
)

// ConnectionState is the venue connection lifecycle state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded"
	StateReconnecting ConnectionState = "reconnecting"
)

// GapReason classifies a data discontinuity.
type GapReason string

const (
	GapSequenceBackwards GapReason = "sequence_backwards"
	GapSequenceDuplicate GapReason = "sequence_duplicate"
	GapTime              GapReason = "time_gap"
	GapDisconnect        GapReason = "disconnect"
)

// GapMarker records one discontinuity in a market-data stream.
type GapMarker struct {
	Venue            string    `json:"venue" db:"venue"`
	Instrument       string    `json:"instrument" db:"instrument"`
	GapStart         time.Time `json:"gap_start" db:"gap_start"`
	GapEnd           time.Time `json:"gap_end" db:"gap_end"`
	DurationSeconds  float64   `json:"duration_seconds" db:"duration_seconds"`
	Reason           GapReason `json:"reason" db:"reason"`
	SequenceIDBefore *int64    `json:"sequence_id_before,omitempty" db:"sequence_id_before"`
	SequenceIDAfter  *int64    `json:"sequence_id_after,omitempty" db:"sequence_id_after"`
}

// NewGapMarker validates the gap interval ordering.
func NewGapMarker(venue, instrument string, start, end time.Time, reason GapReason) (*GapMarker, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("gap_end %s before gap_start %s", end, start)
	}
	return &GapMarker{
		Venue:           venue,
		Instrument:      instrument,
		GapStart:        start,
		GapEnd:          end,
		DurationSeconds: end.Sub(start).Seconds(),
		Reason:          reason,
	}, nil
}

// HealthStatus is the per-venue connection health snapshot reported at 1 Hz.
type HealthStatus struct {
	Venue          string          `json:"venue"`
	State          ConnectionState `json:"state"`
	LastMessageAt  *time.Time      `json:"last_message_at,omitempty"`
	MessageCount   int64           `json:"message_count"`
	LagMs          int64           `json:"lag_ms"`
	ReconnectCount int64           `json:"reconnect_count"`
	GapsLastHour   int             `json:"gaps_last_hour"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Healthy reports the composite health predicate: connected, lag under one
// second, and fewer than five gaps in the trailing hour.
func (h *HealthStatus) Healthy() bool {
	return h.State == StateConnected && h.LagMs < 1000 && h.GapsLastHour < 5
}
