package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/bitspectre/surveil/internal/models"
)

// TTLConfig holds the expiry windows for volatile state.
type TTLConfig struct {
	CurrentState time.Duration
	ZScoreBuffer time.Duration
	AlertDedup   time.Duration
}

// DefaultTTLConfig mirrors the features document defaults.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		CurrentState: 60 * time.Second,
		ZScoreBuffer: 10 * time.Minute,
		AlertDedup:   60 * time.Second,
	}
}

// UpdateEnvelope is the compact pub/sub message. Only identifiers travel on
// the bus; full records live under the KV keys.
type UpdateEnvelope struct {
	Venue      string `json:"venue,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	AlertID    string `json:"alert_id,omitempty"`
	AlertType  string `json:"alert_type,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Event      string `json:"event,omitempty"`
	Timestamp  int64  `json:"ts"`
}

// Client is the shared key-value store client. It owns snapshot/metrics/
// health current state, the z-score spill buffers, the alert records with
// their index sets, and the four pub/sub channels.
type Client struct {
	rdb  *redis.Client
	ttls TTLConfig
}

// NewClient connects to the store at url (redis URL syntax) and verifies the
// connection.
func NewClient(ctx context.Context, url string, ttls TTLConfig) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse kv url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kv ping: %w", err)
	}

	return &Client{rdb: rdb, ttls: ttls}, nil
}

// NewClientFromRedis wraps an existing connection. Used by tests with a mock.
func NewClientFromRedis(rdb *redis.Client, ttls TTLConfig) *Client {
	return &Client{rdb: rdb, ttls: ttls}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetOrderbook stores the current snapshot for its venue/instrument with the
// current-state TTL.
func (c *Client) SetOrderbook(ctx context.Context, snapshot *models.OrderBookSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := OrderbookKey(snapshot.Venue, snapshot.Instrument)
	if err := c.rdb.Set(ctx, key, data, c.ttls.CurrentState).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetOrderbook reads the current snapshot, returning nil when absent or
// expired.
func (c *Client) GetOrderbook(ctx context.Context, venue, instrument string) (*models.OrderBookSnapshot, error) {
	data, err := c.rdb.Get(ctx, OrderbookKey(venue, instrument)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get orderbook %s/%s: %w", venue, instrument, err)
	}
	var snapshot models.OrderBookSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal orderbook %s/%s: %w", venue, instrument, err)
	}
	return &snapshot, nil
}

// SetTicker stores the latest ticker for its venue/instrument with the
// current-state TTL.
func (c *Client) SetTicker(ctx context.Context, t *models.TickerSnapshot) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticker: %w", err)
	}
	key := TickerKey(t.Venue, t.Instrument)
	if err := c.rdb.Set(ctx, key, data, c.ttls.CurrentState).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetTicker reads the latest ticker, nil when absent.
func (c *Client) GetTicker(ctx context.Context, venue, instrument string) (*models.TickerSnapshot, error) {
	data, err := c.rdb.Get(ctx, TickerKey(venue, instrument)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticker %s/%s: %w", venue, instrument, err)
	}
	var t models.TickerSnapshot
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal ticker %s/%s: %w", venue, instrument, err)
	}
	return &t, nil
}

// SetMetrics stores the latest metrics record for its venue/instrument.
func (c *Client) SetMetrics(ctx context.Context, m *models.AggregatedMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	key := MetricsKey(m.Venue, m.Instrument)
	if err := c.rdb.Set(ctx, key, data, c.ttls.CurrentState).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetMetrics reads the latest metrics record, nil when absent.
func (c *Client) GetMetrics(ctx context.Context, venue, instrument string) (*models.AggregatedMetrics, error) {
	data, err := c.rdb.Get(ctx, MetricsKey(venue, instrument)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics %s/%s: %w", venue, instrument, err)
	}
	var m models.AggregatedMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metrics %s/%s: %w", venue, instrument, err)
	}
	return &m, nil
}

// PushZScoreSample appends a sample to the rolling spill buffer, trims it to
// the window size and refreshes the TTL. The three commands run as one
// transaction so the buffer never exists untrimmed or unexpiring.
func (c *Client) PushZScoreSample(ctx context.Context, venue, instrument, metric string, value decimal.Decimal, window int) error {
	key := ZScoreKey(venue, instrument, metric)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value.String())
		pipe.LTrim(ctx, key, int64(-window), -1)
		pipe.Expire(ctx, key, c.ttls.ZScoreBuffer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push zscore sample %s: %w", key, err)
	}
	return nil
}

// GetZScoreBuffer reads the spill buffer in order.
func (c *Client) GetZScoreBuffer(ctx context.Context, venue, instrument, metric string) ([]decimal.Decimal, error) {
	key := ZScoreKey(venue, instrument, metric)
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read zscore buffer %s: %w", key, err)
	}
	out := make([]decimal.Decimal, 0, len(raw))
	for _, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("corrupt zscore sample %q in %s: %w", s, key, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ClearZScoreBuffer deletes the spill buffer, used on gap resets.
func (c *Client) ClearZScoreBuffer(ctx context.Context, venue, instrument, metric string) error {
	return c.rdb.Del(ctx, ZScoreKey(venue, instrument, metric)).Err()
}

// SaveAlert writes the alert record and adjusts the index sets in one
// transaction. Active alerts join the active/priority/instrument sets;
// resolved alerts leave them.
func (c *Client) SaveAlert(ctx context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	key := AlertKey(alert.AlertID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		if alert.IsActive() {
			pipe.SAdd(ctx, KeyAlertsActive, alert.AlertID)
			pipe.SAdd(ctx, AlertsByPriorityKey(string(alert.Priority)), alert.AlertID)
			pipe.SAdd(ctx, AlertsByInstrumentKey(alert.Instrument), alert.AlertID)
		} else {
			pipe.SRem(ctx, KeyAlertsActive, alert.AlertID)
			pipe.SRem(ctx, AlertsByPriorityKey(string(alert.Priority)), alert.AlertID)
			pipe.SRem(ctx, AlertsByInstrumentKey(alert.Instrument), alert.AlertID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// MoveAlertPriority rewrites the priority index membership after escalation.
func (c *Client) MoveAlertPriority(ctx context.Context, alertID string, from, to models.AlertPriority) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, AlertsByPriorityKey(string(from)), alertID)
		pipe.SAdd(ctx, AlertsByPriorityKey(string(to)), alertID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move alert %s priority %s->%s: %w", alertID, from, to, err)
	}
	return nil
}

// GetAlert reads one alert record, nil when absent.
func (c *Client) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	data, err := c.rdb.Get(ctx, AlertKey(alertID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	var alert models.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("unmarshal alert %s: %w", alertID, err)
	}
	return &alert, nil
}

// GetActiveAlerts reads all alerts in the active set. Dangling index entries
// (record expired or deleted) are skipped with a warning.
func (c *Client) GetActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	return c.alertsFromSet(ctx, KeyAlertsActive)
}

// GetAlertsByPriority reads the active alerts indexed under one priority.
func (c *Client) GetAlertsByPriority(ctx context.Context, p models.AlertPriority) ([]*models.Alert, error) {
	return c.alertsFromSet(ctx, AlertsByPriorityKey(string(p)))
}

// GetAlertsByInstrument reads the active alerts indexed under one instrument.
func (c *Client) GetAlertsByInstrument(ctx context.Context, instrument string) ([]*models.Alert, error) {
	return c.alertsFromSet(ctx, AlertsByInstrumentKey(instrument))
}

func (c *Client) alertsFromSet(ctx context.Context, setKey string) ([]*models.Alert, error) {
	ids, err := c.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", setKey, err)
	}
	alerts := make([]*models.Alert, 0, len(ids))
	for _, id := range ids {
		alert, err := c.GetAlert(ctx, id)
		if err != nil {
			return nil, err
		}
		if alert == nil {
			log.Warn().Str("alert_id", id).Str("set", setKey).Msg("dangling alert index entry")
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// SetHealth stores a venue health snapshot with the current-state TTL.
func (c *Client) SetHealth(ctx context.Context, h *models.HealthStatus) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	key := HealthKey(h.Venue)
	if err := c.rdb.Set(ctx, key, data, c.ttls.CurrentState).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetHealth reads a venue health snapshot, nil when absent.
func (c *Client) GetHealth(ctx context.Context, venue string) (*models.HealthStatus, error) {
	data, err := c.rdb.Get(ctx, HealthKey(venue)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get health %s: %w", venue, err)
	}
	var h models.HealthStatus
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal health %s: %w", venue, err)
	}
	return &h, nil
}

// Publish sends an envelope on one of the update channels.
func (c *Client) Publish(ctx context.Context, channel string, env UpdateEnvelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on the given channels and delivers decoded
// envelopes on the returned channel until ctx is cancelled. The delivery
// channel is bounded; undecodable payloads are dropped with a warning.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (<-chan UpdateEnvelope, error) {
	pubsub := c.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan UpdateEnvelope, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env UpdateEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Warn().Str("channel", msg.Channel).Err(err).Msg("dropping undecodable pubsub payload")
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
