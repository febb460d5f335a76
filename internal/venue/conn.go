package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/models"
	"github.com/bitspectre/surveil/internal/telemetry"
)

// maxReconnectDelay caps the exponential backoff.
const maxReconnectDelay = 60 * time.Second

// ConnConfig tunes one managed WebSocket connection.
type ConnConfig struct {
	URL                  string
	Venue                string
	PingInterval         time.Duration
	PingTimeout          time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

// Conn is a managed WebSocket connection with automatic reconnection.
// Messages are delivered to OnMessage from a single reader goroutine;
// OnReconnect runs after each successful (re)dial so the owner can
// resubscribe. Reaching the reconnect attempt limit calls OnFatal and leaves
// the connection disconnected.
type Conn struct {
	cfg     ConnConfig
	label   string
	dialer  *websocket.Dialer

	OnMessage   func(data []byte)
	OnReconnect func() error
	OnFatal     func(err error)

	mu    sync.RWMutex
	ws    *websocket.Conn
	state models.ConnectionState

	closeCh     chan struct{}
	reconnectCh chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	messageCount  atomic.Int64
	reconnects    atomic.Int64
	lastMessageNs atomic.Int64
}

// NewConn creates an unconnected managed connection. label appears in logs.
func NewConn(label string, cfg ConnConfig) *Conn {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.Venue == "" {
		cfg.Venue = label
	}
	return &Conn{
		cfg:   cfg,
		label: label,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		state:       models.StateDisconnected,
		closeCh:     make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
	}
}

// Connect dials and starts the reader, heartbeat and reconnect supervisor
// goroutines. Idempotent while connected.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == models.StateConnected || c.state == models.StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = models.StateConnecting
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.setState(models.StateDisconnected)
		return err
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop(ctx)

	return nil
}

func (c *Conn) dial(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PingTimeout))
	})

	c.mu.Lock()
	c.ws = ws
	c.state = models.StateConnected
	c.mu.Unlock()

	log.Info().Str("conn", c.label).Str("url", c.cfg.URL).Msg("websocket connected")
	return nil
}

// Close tears the connection down permanently.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.mu.Lock()
		if c.ws != nil {
			c.ws.Close()
		}
		c.state = models.StateDisconnected
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}

// WriteJSON sends a control message (subscription etc) on the socket.
func (c *Conn) WriteJSON(v interface{}) error {
	c.mu.RLock()
	ws := c.ws
	state := c.state
	c.mu.RUnlock()

	if ws == nil || state != models.StateConnected {
		return ErrNotConnected
	}
	return ws.WriteJSON(v)
}

// State returns the connection lifecycle state.
func (c *Conn) State() models.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MarkDegraded moves a connected socket to degraded. Still usable; only
// health reporting changes.
func (c *Conn) MarkDegraded() {
	c.mu.Lock()
	if c.state == models.StateConnected {
		c.state = models.StateDegraded
	}
	c.mu.Unlock()
}

// Stats returns message count, reconnect count and last-message time.
func (c *Conn) Stats() (msgs, reconnects int64, lastMessage time.Time) {
	ns := c.lastMessageNs.Load()
	if ns > 0 {
		lastMessage = time.Unix(0, ns)
	}
	return c.messageCount.Load(), c.reconnects.Load(), lastMessage
}

func (c *Conn) setState(s models.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			select {
			case <-c.closeCh:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		ws.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PingTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			log.Warn().Str("conn", c.label).Err(err).Msg("websocket read error")
			c.triggerReconnect()
			select {
			case <-c.closeCh:
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		c.messageCount.Add(1)
		c.lastMessageNs.Store(time.Now().UnixNano())
		telemetry.MessagesReceived.WithLabelValues(c.cfg.Venue).Inc()
		if c.OnMessage != nil {
			c.OnMessage(data)
		}
	}
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.mu.RLock()
			ws := c.ws
			connected := c.state == models.StateConnected || c.state == models.StateDegraded
			c.mu.RUnlock()
			if ws == nil || !connected {
				continue
			}
			deadline := time.Now().Add(c.cfg.PingTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Str("conn", c.label).Err(err).Msg("ping failed")
				c.triggerReconnect()
			}
		}
	}
}

func (c *Conn) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

func (c *Conn) reconnectLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		case <-c.reconnectCh:
		}

		c.setState(models.StateReconnecting)
		c.mu.Lock()
		if c.ws != nil {
			c.ws.Close()
			c.ws = nil
		}
		c.mu.Unlock()

		var lastErr error
		recovered := false
		for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
			delay := ReconnectDelay(c.cfg.ReconnectBaseDelay, attempt)
			log.Info().
				Str("conn", c.label).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("reconnecting")

			select {
			case <-c.closeCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			if lastErr = c.dial(ctx); lastErr == nil {
				c.reconnects.Add(1)
				telemetry.Reconnects.WithLabelValues(c.cfg.Venue).Inc()
				if c.OnReconnect != nil {
					if err := c.OnReconnect(); err != nil {
						log.Error().Str("conn", c.label).Err(err).Msg("resubscribe after reconnect failed")
						lastErr = err
						continue
					}
				}
				recovered = true
				break
			}
			log.Warn().Str("conn", c.label).Err(lastErr).Msg("reconnect attempt failed")
		}

		if !recovered {
			c.setState(models.StateDisconnected)
			err := fmt.Errorf("exhausted %d reconnect attempts: %w", c.cfg.MaxReconnectAttempts, lastErr)
			log.Error().Str("conn", c.label).Err(err).Msg("connection lost permanently")
			if c.OnFatal != nil {
				c.OnFatal(err)
			}
			return
		}

		// drop any stale trigger raised while we were already reconnecting
		select {
		case <-c.reconnectCh:
		default:
		}
	}
}

// ReconnectDelay computes min(base * 2^attempt, 60s) plus uniform jitter in
// [0, 10% of the delay].
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base << uint(attempt)
	if delay > maxReconnectDelay || delay <= 0 {
		delay = maxReconnectDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}
