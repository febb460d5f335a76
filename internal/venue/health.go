package venue

import (
	"sync"
	"time"

	"github.com/bitspectre/surveil/internal/models"
)

// HealthTracker accumulates per-venue health signals from one or more managed
// connections plus the gap history over the trailing hour.
type HealthTracker struct {
	venue string

	mu   sync.Mutex
	gaps []time.Time
}

// NewHealthTracker creates a tracker for a venue.
func NewHealthTracker(venue string) *HealthTracker {
	return &HealthTracker{venue: venue}
}

// RecordGap notes one gap occurrence.
func (h *HealthTracker) RecordGap(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gaps = append(h.gaps, at)
	h.trimLocked(at)
}

// GapsLastHour counts gaps in the trailing hour.
func (h *HealthTracker) GapsLastHour(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trimLocked(now)
	return len(h.gaps)
}

func (h *HealthTracker) trimLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	keep := h.gaps[:0]
	for _, t := range h.gaps {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	h.gaps = keep
}

// Snapshot synthesizes the venue health from the given connections. The
// reported state is the weakest state across connections; lag is measured
// from the most recent message on any of them. Five or more gaps in the
// trailing hour degrade an otherwise connected venue.
func (h *HealthTracker) Snapshot(now time.Time, conns ...*Conn) *models.HealthStatus {
	status := &models.HealthStatus{
		Venue:     h.venue,
		State:     models.StateDisconnected,
		Timestamp: now,
	}

	var newest time.Time
	for i, c := range conns {
		msgs, reconnects, last := c.Stats()
		status.MessageCount += msgs
		status.ReconnectCount += reconnects
		if last.After(newest) {
			newest = last
		}

		s := c.State()
		if i == 0 {
			status.State = s
		} else {
			status.State = weakerState(status.State, s)
		}
	}

	if !newest.IsZero() {
		t := newest
		status.LastMessageAt = &t
		status.LagMs = now.Sub(newest).Milliseconds()
		if status.LagMs < 0 {
			status.LagMs = 0
		}
	}

	status.GapsLastHour = h.GapsLastHour(now)
	if status.State == models.StateConnected && status.GapsLastHour >= 5 {
		status.State = models.StateDegraded
	}

	return status
}

// stateRank orders states from healthiest to weakest.
func stateRank(s models.ConnectionState) int {
	switch s {
	case models.StateConnected:
		return 0
	case models.StateDegraded:
		return 1
	case models.StateConnecting:
		return 2
	case models.StateReconnecting:
		return 3
	default:
		return 4
	}
}

func weakerState(a, b models.ConnectionState) models.ConnectionState {
	if stateRank(b) > stateRank(a) {
		return b
	}
	return a
}
