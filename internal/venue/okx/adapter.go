package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/models"
	"github.com/bitspectre/surveil/internal/venue"
)

const venueName = "okx"

// Adapter streams OKX order books and tickers. One combined public connection
// carries every channel; the envelope's instId routes each frame back to its
// instrument, including the SWAP-suffixed perpetual names.
type Adapter struct {
	cfg         config.ExchangeConfig
	instruments map[string]config.InstrumentConfig

	// instId (e.g. BTC-USDT-SWAP) -> canonical instrument id
	byInstID map[string]string

	rest   *venue.RESTClient
	health *venue.HealthTracker

	mu         sync.RWMutex
	connected  bool
	conn       *venue.Conn
	lastMark   map[string]*markPriceData
	subscribed []string

	books   chan *models.OrderBookSnapshot
	tickers chan *models.TickerSnapshot

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdapter creates an adapter for the configured instruments that have an
// okx mapping.
func NewAdapter(cfg config.ExchangeConfig, instruments []config.InstrumentConfig) *Adapter {
	byID := make(map[string]config.InstrumentConfig)
	byInstID := make(map[string]string)
	for _, inst := range instruments {
		sym, ok := inst.VenueSymbol(venueName)
		if !ok {
			continue
		}
		byID[inst.ID] = inst
		byInstID[sym.Symbol] = inst.ID
	}

	return &Adapter{
		cfg:         cfg,
		instruments: byID,
		byInstID:    byInstID,
		rest:        venue.NewRESTClient(venueName, cfg.Connection.RateLimitPerSecond),
		health:      venue.NewHealthTracker(venueName),
		lastMark:    make(map[string]*markPriceData),
		books:       make(chan *models.OrderBookSnapshot, 1024),
		tickers:     make(chan *models.TickerSnapshot, 256),
	}
}

// Name returns "okx".
func (a *Adapter) Name() string { return venueName }

// Connect opens the combined public stream. Idempotent.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	url := a.cfg.WebSocketURL("public")
	if url == "" {
		return fmt.Errorf("no public websocket endpoint configured")
	}

	a.ctx, a.cancel = context.WithCancel(ctx)

	conn := venue.NewConn(venueName, venue.ConnConfig{
		URL:                  url,
		Venue:                venueName,
		PingInterval:         time.Duration(a.cfg.Connection.PingIntervalSecs) * time.Second,
		PingTimeout:          time.Duration(a.cfg.Connection.PingTimeoutSecs) * time.Second,
		ReconnectBaseDelay:   time.Duration(a.cfg.Connection.ReconnectDelaySecs) * time.Second,
		MaxReconnectAttempts: a.cfg.Connection.MaxReconnectAttempts,
	})
	conn.OnMessage = a.handleMessage
	conn.OnReconnect = a.resubscribe
	conn.OnFatal = func(err error) {
		log.Error().Str("venue", venueName).Err(err).Msg("public stream lost")
	}
	if err := conn.Connect(a.ctx); err != nil {
		return fmt.Errorf("connect public stream: %w", err)
	}

	a.conn = conn
	a.connected = true
	return nil
}

// Disconnect closes the stream and both output channels. Idempotent.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = false

	if a.cancel != nil {
		a.cancel()
	}
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	// Close waits for the read loop, and the read loop's message callback
	// takes a.mu, so closing must happen outside the lock.
	if conn != nil {
		conn.Close()
	}
	close(a.books)
	close(a.tickers)
	return nil
}

// Subscribe registers book, ticker and (for perpetuals) mark-price channels
// for the instruments on the combined stream.
func (a *Adapter) Subscribe(instruments []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.conn == nil {
		return venue.ErrNotConnected
	}

	args, err := a.subscribeArgs(instruments)
	if err != nil {
		return err
	}
	if err := a.conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	a.subscribed = append(a.subscribed, instruments...)
	log.Info().Str("venue", venueName).Strs("instruments", instruments).Msg("subscribed")
	return nil
}

func (a *Adapter) subscribeArgs(instruments []string) ([]map[string]string, error) {
	bookChannel := a.cfg.Streams.OrderbookChannel
	if bookChannel == "" {
		bookChannel = "books5"
	}

	var args []map[string]string
	for _, id := range instruments {
		inst, ok := a.instruments[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", venue.ErrUnknownInstrument, id, venueName)
		}
		sym, _ := inst.VenueSymbol(venueName)

		args = append(args,
			map[string]string{"channel": bookChannel, "instId": sym.Symbol},
			map[string]string{"channel": "tickers", "instId": sym.Symbol},
		)
		if inst.IsPerpetual() {
			args = append(args, map[string]string{"channel": "mark-price", "instId": sym.Symbol})
		}
	}
	return args, nil
}

func (a *Adapter) resubscribe() error {
	a.mu.RLock()
	subscribed := append([]string(nil), a.subscribed...)
	conn := a.conn
	a.mu.RUnlock()

	if len(subscribed) == 0 || conn == nil {
		return nil
	}
	args, err := a.subscribeArgs(subscribed)
	if err != nil {
		return err
	}
	return conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args})
}

// handleMessage routes one combined-stream frame by channel. Event frames
// (subscribe acks, errors) are logged and dropped.
func (a *Adapter) handleMessage(data []byte) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Str("venue", venueName).Err(err).Msg("dropping unparseable frame")
		return
	}

	if msg.Event != "" {
		if msg.Event == "error" {
			log.Error().Str("venue", venueName).RawJSON("frame", data).Msg("stream error event")
		}
		return
	}

	instrument, ok := a.byInstID[msg.Arg.InstID]
	if !ok {
		return
	}

	switch {
	case isBookChannel(msg.Arg.Channel):
		for _, raw := range msg.Data {
			snap, err := normalizeBook(raw, instrument)
			if err != nil {
				log.Warn().Str("venue", venueName).Str("instrument", instrument).Err(err).
					Msg("dropping bad book event")
				continue
			}
			a.emitBook(snap)
		}

	case msg.Arg.Channel == "mark-price":
		for _, raw := range msg.Data {
			var mark markPriceData
			if err := json.Unmarshal(raw, &mark); err != nil {
				log.Warn().Str("venue", venueName).Err(err).Msg("dropping bad mark-price event")
				continue
			}
			a.mu.Lock()
			a.lastMark[instrument] = &mark
			a.mu.Unlock()
		}

	case msg.Arg.Channel == "tickers":
		a.mu.RLock()
		mark := a.lastMark[instrument]
		a.mu.RUnlock()
		for _, raw := range msg.Data {
			ticker, err := normalizeTicker(raw, mark, instrument)
			if err != nil {
				log.Warn().Str("venue", venueName).Str("instrument", instrument).Err(err).
					Msg("dropping bad ticker event")
				continue
			}
			a.emitTicker(ticker)
		}
	}
}

func isBookChannel(channel string) bool {
	switch channel {
	case "books", "books5", "books50-l2-tbt", "books-l2-tbt":
		return true
	}
	return false
}

func (a *Adapter) emitBook(s *models.OrderBookSnapshot) {
	select {
	case a.books <- s:
	default:
		log.Warn().Str("venue", venueName).Str("instrument", s.Instrument).
			Msg("orderbook stream backpressure, dropping snapshot")
	}
}

func (a *Adapter) emitTicker(t *models.TickerSnapshot) {
	select {
	case a.tickers <- t:
	default:
	}
}

// StreamOrderBooks returns the normalized snapshot stream.
func (a *Adapter) StreamOrderBooks() <-chan *models.OrderBookSnapshot { return a.books }

// StreamTickers returns the normalized ticker stream.
func (a *Adapter) StreamTickers() <-chan *models.TickerSnapshot { return a.tickers }

// GetOrderBookREST fetches a one-shot book snapshot over REST.
func (a *Adapter) GetOrderBookREST(ctx context.Context, instrument string) (*models.OrderBookSnapshot, error) {
	inst, ok := a.instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", venue.ErrUnknownInstrument, instrument, venueName)
	}
	sym, _ := inst.VenueSymbol(venueName)

	url := fmt.Sprintf("%s/api/v5/market/books?instId=%s&sz=%d", a.cfg.RestURL("base"), sym.Symbol, inst.DepthLevels)
	body, err := a.rest.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rest book for %s: %w", instrument, err)
	}

	var resp struct {
		Code string            `json:"code"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse rest book: %w", err)
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return nil, fmt.Errorf("rest book for %s: code=%s", instrument, resp.Code)
	}
	return normalizeBook(resp.Data[0], instrument)
}

// GetTickerREST fetches a one-shot ticker over REST.
func (a *Adapter) GetTickerREST(ctx context.Context, instrument string) (*models.TickerSnapshot, error) {
	inst, ok := a.instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", venue.ErrUnknownInstrument, instrument, venueName)
	}
	sym, _ := inst.VenueSymbol(venueName)

	url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", a.cfg.RestURL("base"), sym.Symbol)
	body, err := a.rest.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rest ticker for %s: %w", instrument, err)
	}

	var resp struct {
		Code string            `json:"code"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse rest ticker: %w", err)
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return nil, fmt.Errorf("rest ticker for %s: code=%s", instrument, resp.Code)
	}
	return normalizeTicker(resp.Data[0], nil, instrument)
}

// HealthCheck synthesizes venue health from the combined connection.
func (a *Adapter) HealthCheck() *models.HealthStatus {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()

	if conn == nil {
		return a.health.Snapshot(time.Now().UTC())
	}
	return a.health.Snapshot(time.Now().UTC(), conn)
}

// DetectGap applies the shared sequence-gap policy and records any gap in the
// venue's health window.
func (a *Adapter) DetectGap(instrument string, prevSeq, currSeq int64, now time.Time) *models.GapMarker {
	gap := venue.DetectSequenceGap(venueName, instrument, prevSeq, currSeq, now)
	if gap != nil {
		a.health.RecordGap(now)
	}
	return gap
}
