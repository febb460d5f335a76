package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/models"
	"github.com/bitspectre/surveil/internal/venue"
)

const venueName = "binance"

// Adapter streams Binance order books and tickers. Futures instruments share
// one diff-depth connection whose messages carry the symbol; each spot
// instrument gets its own partial-depth connection because those messages
// carry no symbol at all.
type Adapter struct {
	cfg         config.ExchangeConfig
	instruments map[string]config.InstrumentConfig

	// symbol (upper-case) -> canonical instrument id, futures side only
	futuresSymbols map[string]string

	rest   *venue.RESTClient
	health *venue.HealthTracker

	mu          sync.RWMutex
	connected   bool
	futuresConn *venue.Conn
	spotConns   map[string]*venue.Conn
	lastMark    map[string]*markPriceMessage
	subscribed  []string

	books   chan *models.OrderBookSnapshot
	tickers chan *models.TickerSnapshot

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdapter creates an adapter for the configured instruments that have a
// binance mapping.
func NewAdapter(cfg config.ExchangeConfig, instruments []config.InstrumentConfig) *Adapter {
	byID := make(map[string]config.InstrumentConfig)
	futures := make(map[string]string)
	for _, inst := range instruments {
		sym, ok := inst.VenueSymbol(venueName)
		if !ok {
			continue
		}
		byID[inst.ID] = inst
		if inst.IsPerpetual() {
			futures[strings.ToUpper(sym.Symbol)] = inst.ID
		}
	}

	return &Adapter{
		cfg:            cfg,
		instruments:    byID,
		futuresSymbols: futures,
		rest:           venue.NewRESTClient(venueName, cfg.Connection.RateLimitPerSecond),
		health:         venue.NewHealthTracker(venueName),
		spotConns:      make(map[string]*venue.Conn),
		lastMark:       make(map[string]*markPriceMessage),
		books:          make(chan *models.OrderBookSnapshot, 1024),
		tickers:        make(chan *models.TickerSnapshot, 256),
	}
}

// Name returns "binance".
func (a *Adapter) Name() string { return venueName }

func (a *Adapter) connConfig(url string) venue.ConnConfig {
	return venue.ConnConfig{
		URL:                  url,
		Venue:                venueName,
		PingInterval:         time.Duration(a.cfg.Connection.PingIntervalSecs) * time.Second,
		PingTimeout:          time.Duration(a.cfg.Connection.PingTimeoutSecs) * time.Second,
		ReconnectBaseDelay:   time.Duration(a.cfg.Connection.ReconnectDelaySecs) * time.Second,
		MaxReconnectAttempts: a.cfg.Connection.MaxReconnectAttempts,
	}
}

// Connect opens the futures connection when any perpetual is configured.
// Spot connections open per instrument at Subscribe time. Idempotent.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	a.ctx, a.cancel = context.WithCancel(ctx)

	if len(a.futuresSymbols) > 0 {
		url := a.cfg.WebSocketURL("futures")
		if url == "" {
			return fmt.Errorf("no futures websocket endpoint configured")
		}
		conn := venue.NewConn(venueName+"-futures", a.connConfig(url))
		conn.OnMessage = a.handleFuturesMessage
		conn.OnReconnect = a.resubscribeFutures
		conn.OnFatal = func(err error) {
			log.Error().Str("venue", venueName).Err(err).Msg("futures stream lost")
		}
		if err := conn.Connect(a.ctx); err != nil {
			return fmt.Errorf("connect futures stream: %w", err)
		}
		a.futuresConn = conn
	}

	a.connected = true
	return nil
}

// Disconnect closes every connection and both output streams. Idempotent.
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
	conns := make([]*venue.Conn, 0, 1+len(a.spotConns))
	if a.futuresConn != nil {
		conns = append(conns, a.futuresConn)
		a.futuresConn = nil
	}
	for id, c := range a.spotConns {
		conns = append(conns, c)
		delete(a.spotConns, id)
	}
	a.mu.Unlock()

	// Close waits for the read loop, and the read loop's message callback
	// takes a.mu, so closing must happen outside the lock.
	for _, c := range conns {
		c.Close()
	}
	close(a.books)
	close(a.tickers)
	return nil
}

// Subscribe registers instruments: futures ids join the shared diff-depth
// subscription, spot ids each get a dedicated partial-depth connection.
func (a *Adapter) Subscribe(instruments []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return venue.ErrNotConnected
	}

	var futuresStreams []string
	for _, id := range instruments {
		inst, ok := a.instruments[id]
		if !ok {
			return fmt.Errorf("%w: %s on %s", venue.ErrUnknownInstrument, id, venueName)
		}
		sym, _ := inst.VenueSymbol(venueName)

		if inst.IsPerpetual() {
			futuresStreams = append(futuresStreams, sym.Stream)
			if sym.TickerStream != "" {
				futuresStreams = append(futuresStreams, sym.TickerStream)
			}
			if sym.MarkPriceStream != "" {
				futuresStreams = append(futuresStreams, sym.MarkPriceStream)
			}
			continue
		}

		if _, exists := a.spotConns[id]; exists {
			continue
		}
		base := strings.TrimRight(a.cfg.WebSocketURL("spot"), "/")
		conn := venue.NewConn(venueName+"-spot-"+id, a.connConfig(base+"/"+sym.Stream))
		instrument := id
		conn.OnMessage = func(data []byte) { a.handleSpotMessage(data, instrument) }
		conn.OnFatal = func(err error) {
			log.Error().Str("venue", venueName).Str("instrument", instrument).Err(err).Msg("spot stream lost")
		}
		if err := conn.Connect(a.ctx); err != nil {
			return fmt.Errorf("connect spot stream for %s: %w", id, err)
		}
		a.spotConns[id] = conn
	}

	if len(futuresStreams) > 0 {
		if a.futuresConn == nil {
			return venue.ErrNotConnected
		}
		if err := a.sendFuturesSubscribe(futuresStreams); err != nil {
			return err
		}
	}

	a.subscribed = append(a.subscribed, instruments...)
	log.Info().Str("venue", venueName).Strs("instruments", instruments).Msg("subscribed")
	return nil
}

func (a *Adapter) sendFuturesSubscribe(streams []string) error {
	req := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixMilli(),
	}
	if err := a.futuresConn.WriteJSON(req); err != nil {
		return fmt.Errorf("send futures subscribe: %w", err)
	}
	return nil
}

func (a *Adapter) resubscribeFutures() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var streams []string
	for _, id := range a.subscribed {
		inst, ok := a.instruments[id]
		if !ok || !inst.IsPerpetual() {
			continue
		}
		sym, _ := inst.VenueSymbol(venueName)
		streams = append(streams, sym.Stream)
		if sym.TickerStream != "" {
			streams = append(streams, sym.TickerStream)
		}
		if sym.MarkPriceStream != "" {
			streams = append(streams, sym.MarkPriceStream)
		}
	}
	if len(streams) == 0 {
		return nil
	}
	return a.sendFuturesSubscribe(streams)
}

// handleFuturesMessage routes one futures stream frame by event type. Parse
// failures drop the frame; the stream continues.
func (a *Adapter) handleFuturesMessage(data []byte) {
	var probe struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.EventType == "" {
		// subscription acks and other control frames are expected here
		return
	}

	instrument, ok := a.futuresSymbols[strings.ToUpper(probe.Symbol)]
	if !ok {
		return
	}

	switch probe.EventType {
	case "depthUpdate":
		snapshot, err := normalizeFuturesDepth(data, instrument)
		if err != nil {
			log.Warn().Str("venue", venueName).Str("instrument", instrument).Err(err).
				Str("payload", truncate(data)).Msg("dropping bad depth message")
			return
		}
		a.emitBook(snapshot)

	case "markPriceUpdate":
		var mark markPriceMessage
		if err := json.Unmarshal(data, &mark); err != nil {
			log.Warn().Str("venue", venueName).Err(err).Msg("dropping bad mark price message")
			return
		}
		a.mu.Lock()
		a.lastMark[instrument] = &mark
		a.mu.Unlock()

	case "24hrTicker":
		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Str("venue", venueName).Err(err).Msg("dropping bad ticker message")
			return
		}
		a.mu.RLock()
		mark := a.lastMark[instrument]
		a.mu.RUnlock()
		ticker, err := normalizeTicker(&msg, mark, instrument)
		if err != nil {
			log.Warn().Str("venue", venueName).Str("instrument", instrument).Err(err).
				Msg("dropping bad ticker")
			return
		}
		a.emitTicker(ticker)
	}
}

func (a *Adapter) handleSpotMessage(data []byte, instrument string) {
	snapshot, err := normalizeSpotDepth(data, instrument)
	if err != nil {
		log.Warn().Str("venue", venueName).Str("instrument", instrument).Err(err).
			Str("payload", truncate(data)).Msg("dropping bad spot depth message")
		return
	}
	a.emitBook(snapshot)
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

// GetOrderBookREST fetches a one-shot depth snapshot over REST.
func (a *Adapter) GetOrderBookREST(ctx context.Context, instrument string) (*models.OrderBookSnapshot, error) {
	inst, ok := a.instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", venue.ErrUnknownInstrument, instrument, venueName)
	}
	sym, _ := inst.VenueSymbol(venueName)

	var url string
	if inst.IsPerpetual() {
		url = fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d",
			a.cfg.RestURL("futures"), strings.ToUpper(sym.Symbol), inst.DepthLevels)
	} else {
		url = fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d",
			a.cfg.RestURL("spot"), strings.ToUpper(sym.Symbol), inst.DepthLevels)
	}

	body, err := a.rest.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rest depth for %s: %w", instrument, err)
	}
	return normalizeSpotDepth(body, instrument)
}

// GetTickerREST fetches a one-shot 24hr ticker over REST.
func (a *Adapter) GetTickerREST(ctx context.Context, instrument string) (*models.TickerSnapshot, error) {
	inst, ok := a.instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", venue.ErrUnknownInstrument, instrument, venueName)
	}
	sym, _ := inst.VenueSymbol(venueName)

	var url string
	if inst.IsPerpetual() {
		url = fmt.Sprintf("%s/fapi/v1/ticker/24hr?symbol=%s", a.cfg.RestURL("futures"), strings.ToUpper(sym.Symbol))
	} else {
		url = fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", a.cfg.RestURL("spot"), strings.ToUpper(sym.Symbol))
	}

	body, err := a.rest.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rest ticker for %s: %w", instrument, err)
	}

	var raw struct {
		LastPrice   string `json:"lastPrice"`
		HighPrice   string `json:"highPrice"`
		LowPrice    string `json:"lowPrice"`
		Volume      string `json:"volume"`
		QuoteVolume string `json:"quoteVolume"`
		CloseTime   int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse rest ticker: %w", err)
	}
	msg := &tickerMessage{
		EventTime: raw.CloseTime,
		LastPrice: raw.LastPrice,
		High:      raw.HighPrice,
		Low:       raw.LowPrice,
		Volume:    raw.Volume,
		QuoteVol:  raw.QuoteVolume,
	}
	return normalizeTicker(msg, nil, instrument)
}

// HealthCheck synthesizes venue health across the futures and spot
// connections.
func (a *Adapter) HealthCheck() *models.HealthStatus {
	a.mu.RLock()
	conns := make([]*venue.Conn, 0, 1+len(a.spotConns))
	if a.futuresConn != nil {
		conns = append(conns, a.futuresConn)
	}
	for _, c := range a.spotConns {
		conns = append(conns, c)
	}
	a.mu.RUnlock()

	return a.health.Snapshot(time.Now().UTC(), conns...)
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

func truncate(data []byte) string {
	const max = 256
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
