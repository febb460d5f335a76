package alerts

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/models"
)

// Dispatcher fans alert events out to the channels bound to a priority.
// Channel failures are logged and isolated; one broken webhook never blocks
// the rest of the set. Channels and bindings can change at runtime.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bindings map[models.AlertPriority][]string
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		channels: make(map[string]Channel),
		bindings: make(map[models.AlertPriority][]string),
	}
}

// AddChannel registers or replaces a channel by name.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// RemoveChannel unregisters a channel. Bindings referencing it are skipped
// until rebound.
func (d *Dispatcher) RemoveChannel(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.channels, name)
}

// Bind replaces the channel list for a priority.
func (d *Dispatcher) Bind(p models.AlertPriority, channelNames []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[p] = append([]string(nil), channelNames...)
}

func (d *Dispatcher) channelsFor(p models.AlertPriority) []Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := d.bindings[p]
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		if ch, ok := d.channels[name]; ok {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) send(alert *models.Alert, p models.AlertPriority, op func(Channel) error, event string) {
	for _, ch := range d.channelsFor(p) {
		if err := op(ch); err != nil {
			log.Error().
				Str("channel", ch.Name()).
				Str("alert_id", alert.AlertID).
				Str("event", event).
				Err(err).
				Msg("channel dispatch failed")
		}
	}
}

// Dispatch sends a new alert to the channels of its current priority.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) {
	d.send(alert, alert.Priority, func(ch Channel) error {
		return ch.Dispatch(ctx, alert)
	}, "triggered")
}

// DispatchEscalation always uses the P1 channel set.
func (d *Dispatcher) DispatchEscalation(ctx context.Context, alert *models.Alert) {
	d.send(alert, models.PriorityP1, func(ch Channel) error {
		return ch.DispatchEscalation(ctx, alert)
	}, "escalated")
}

// DispatchResolution routes to the pre-escalation priority's channels when the
// alert was escalated, otherwise to the current priority's.
func (d *Dispatcher) DispatchResolution(ctx context.Context, alert *models.Alert) {
	p := alert.Priority
	if alert.OriginalPriority != nil {
		p = *alert.OriginalPriority
	}
	d.send(alert, p, func(ch Channel) error {
		return ch.DispatchResolution(ctx, alert)
	}, "resolved")
}
