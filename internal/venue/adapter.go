package venue

import (
	"context"
	"errors"
	"time"

	"github.com/bitspectre/surveil/internal/models"
)

// Sentinel errors for adapter misuse.
var (
	// ErrNotConnected is returned by Subscribe before Connect.
	ErrNotConnected = errors.New("adapter not connected")
	// ErrUnknownInstrument is returned when an instrument has no mapping on
	// the venue.
	ErrUnknownInstrument = errors.New("instrument not mapped on venue")
)

// Adapter is the per-venue capability contract. Wire-format parsing is a
// private concern of each implementation; everything crossing this boundary
// is a normalized model.
type Adapter interface {
	// Name returns the venue identifier, e.g. "binance".
	Name() string

	// Connect establishes all streams. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect drains and releases all streams and timers. Idempotent.
	Disconnect() error

	// Subscribe registers instruments on the live connection. Fails with
	// ErrNotConnected before Connect and ErrUnknownInstrument when any id
	// lacks a venue mapping.
	Subscribe(instruments []string) error

	// StreamOrderBooks returns the normalized snapshot stream. Reconnections
	// are internal; the channel closes only on Disconnect or context end.
	StreamOrderBooks() <-chan *models.OrderBookSnapshot

	// StreamTickers returns the normalized ticker stream.
	StreamTickers() <-chan *models.TickerSnapshot

	// GetOrderBookREST fetches a single snapshot over REST. Rate-limited and
	// breaker-protected; used as a fallback, never on the hot path.
	GetOrderBookREST(ctx context.Context, instrument string) (*models.OrderBookSnapshot, error)

	// GetTickerREST fetches a single ticker over REST.
	GetTickerREST(ctx context.Context, instrument string) (*models.TickerSnapshot, error)

	// HealthCheck synthesizes the current connection health without blocking.
	HealthCheck() *models.HealthStatus

	// DetectGap applies the sequence-gap policy for this venue.
	DetectGap(instrument string, prevSeq, currSeq int64, now time.Time) *models.GapMarker
}

// DetectSequenceGap is the shared sequence-gap policy. Top-N depth streams
// skip global sequence numbers for updates outside the window, so forward
// jumps of any size are expected and never a gap. Only a stalled or rewound
// sequence is a discontinuity: curr < prev after a reconnect replays history
// (sequence_backwards) and curr == prev is a duplicate delivery
// (sequence_duplicate).
func DetectSequenceGap(venue, instrument string, prevSeq, currSeq int64, now time.Time) *models.GapMarker {
	if currSeq > prevSeq {
		return nil
	}

	reason := models.GapSequenceBackwards
	if currSeq == prevSeq {
		reason = models.GapSequenceDuplicate
	}

	prev := prevSeq
	curr := currSeq
	return &models.GapMarker{
		Venue:            venue,
		Instrument:       instrument,
		GapStart:         now,
		GapEnd:           now,
		DurationSeconds:  0,
		Reason:           reason,
		SequenceIDBefore: &prev,
		SequenceIDAfter:  &curr,
	}
}
