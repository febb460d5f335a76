package metricsengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/kv"
	"github.com/bitspectre/surveil/internal/metrics"
	"github.com/bitspectre/surveil/internal/models"
	"github.com/bitspectre/surveil/internal/telemetry"
	"github.com/bitspectre/surveil/internal/tsdb"
)

// Service is the metrics engine: it follows the orderbook channel, recomputes
// the full metrics record for each updated instrument, maintains the rolling
// z-score windows (with spill buffers in the KV store), and feeds the TSDB
// batch writer.
type Service struct {
	cfg  *config.Config
	kv   *kv.Client
	tsdb *tsdb.Client

	mu          sync.Mutex
	aggregators map[string]*metrics.Aggregator
	metricBuf   []tsdb.MetricRow
	basisBuf    []tsdb.BasisRow
	lastWarmup  time.Time
	processed   int64
}

// New wires the metrics engine.
func New(cfg *config.Config, kvClient *kv.Client, tsdbClient *tsdb.Client) *Service {
	return &Service{
		cfg:         cfg,
		kv:          kvClient,
		tsdb:        tsdbClient,
		aggregators: make(map[string]*metrics.Aggregator),
	}
}

func (s *Service) aggregatorConfig() metrics.AggregatorConfig {
	agg := metrics.DefaultAggregatorConfig()
	z := s.cfg.Features.ZScore
	agg.UseZScore = z.Enabled
	if z.WindowSize > 0 {
		agg.ZScoreWindow = z.WindowSize
	}
	if z.MinSamples > 0 {
		agg.ZScoreMinSamples = z.MinSamples
	}
	if z.MinStd.IsPositive() {
		agg.ZScoreMinStd = z.MinStd.Decimal
	}
	return agg
}

// aggregatorFor returns the per-series calculator set, creating it on first
// use. Caller holds s.mu.
func (s *Service) aggregatorFor(venue, instrument string) (*metrics.Aggregator, error) {
	key := venue + ":" + instrument
	if agg, ok := s.aggregators[key]; ok {
		return agg, nil
	}
	agg, err := metrics.NewAggregator(s.aggregatorConfig())
	if err != nil {
		return nil, err
	}
	s.aggregators[key] = agg
	return agg, nil
}

// Run subscribes to orderbook updates and blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	updates, err := s.kv.Subscribe(ctx, kv.ChannelOrderbook)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.warmupLogLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.flush(context.Background())
			return nil
		case env, ok := <-updates:
			if !ok {
				wg.Wait()
				s.flush(context.Background())
				return nil
			}
			if env.Event == "gap" {
				s.handleGap(ctx, env.Venue, env.Instrument)
				continue
			}
			s.handleUpdate(ctx, env.Venue, env.Instrument)
		}
	}
}

// handleGap resets the affected series' z-score windows and clears their
// spill buffers, so post-gap scores never mix pre-gap state.
func (s *Service) handleGap(ctx context.Context, venue, instrument string) {
	if !s.cfg.Features.ZScore.ResetOnGap {
		return
	}

	s.mu.Lock()
	agg, ok := s.aggregators[venue+":"+instrument]
	s.mu.Unlock()
	if !ok {
		return
	}

	agg.ResetAllZScores("gap")
	for _, metric := range []string{"spread_bps", "basis_bps"} {
		if err := s.kv.ClearZScoreBuffer(ctx, venue, instrument, metric); err != nil {
			log.Warn().Str("venue", venue).Str("instrument", instrument).
				Str("metric", metric).Err(err).Msg("zscore buffer clear failed")
		}
	}
	log.Info().Str("venue", venue).Str("instrument", instrument).
		Msg("zscore windows reset after gap")
}

func (s *Service) handleUpdate(ctx context.Context, venue, instrument string) {
	snap, err := s.kv.GetOrderbook(ctx, venue, instrument)
	if err != nil {
		log.Warn().Str("venue", venue).Str("instrument", instrument).Err(err).
			Msg("orderbook read failed")
		return
	}
	if snap == nil || !snap.IsValid() {
		return
	}

	spot := s.spotSnapshot(ctx, venue, instrument)

	s.mu.Lock()
	agg, err := s.aggregatorFor(venue, instrument)
	if err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("aggregator construction failed")
		return
	}
	record, err := agg.CalculateAll(snap, spot)
	s.mu.Unlock()
	if err != nil {
		log.Warn().Str("venue", venue).Str("instrument", instrument).Err(err).
			Msg("metrics computation failed")
		return
	}

	telemetry.MetricsComputed.WithLabelValues(venue, instrument).Inc()
	s.mu.Lock()
	s.processed++
	s.mu.Unlock()

	if err := s.kv.SetMetrics(ctx, record); err != nil {
		log.Warn().Err(err).Msg("metrics write failed")
	}
	if err := s.kv.Publish(ctx, kv.ChannelMetrics, kv.UpdateEnvelope{
		Venue:      venue,
		Instrument: instrument,
	}); err != nil {
		log.Warn().Err(err).Msg("metrics publish failed")
	}

	s.spillZScoreSamples(ctx, record)
	s.bufferRows(record, instrument)
}

// spotSnapshot resolves the spot leg for a perp's basis computation: same
// venue first, then any other enabled venue that lists the spot instrument.
func (s *Service) spotSnapshot(ctx context.Context, venue, instrument string) *models.OrderBookSnapshot {
	spotID, ok := s.cfg.SpotForPerp(instrument)
	if !ok {
		return nil
	}

	spot, err := s.kv.GetOrderbook(ctx, venue, spotID)
	if err == nil && spot != nil {
		return spot
	}
	for _, other := range s.cfg.EnabledExchanges() {
		if other == venue {
			continue
		}
		spot, err = s.kv.GetOrderbook(ctx, other, spotID)
		if err == nil && spot != nil {
			return spot
		}
	}
	return nil
}

// spillZScoreSamples mirrors the in-memory rolling windows into the KV spill
// buffers so a restarted engine can inspect recent history.
func (s *Service) spillZScoreSamples(ctx context.Context, record *models.AggregatedMetrics) {
	if !s.cfg.Features.ZScore.Enabled {
		return
	}
	window := s.cfg.Features.ZScore.WindowSize

	if err := s.kv.PushZScoreSample(ctx, record.Venue, record.Instrument, "spread_bps", record.Spread.SpreadBps, window); err != nil {
		log.Warn().Err(err).Msg("spread zscore spill failed")
	}
	if record.Basis != nil {
		if err := s.kv.PushZScoreSample(ctx, record.Venue, record.Instrument, "basis_bps", record.Basis.BasisBps.Abs(), window); err != nil {
			log.Warn().Err(err).Msg("basis zscore spill failed")
		}
	}
}

func (s *Service) bufferRows(record *models.AggregatedMetrics, instrument string) {
	rows := []tsdb.MetricRow{
		{MetricName: "spread_bps", Venue: record.Venue, Instrument: instrument, Timestamp: record.Timestamp, Value: record.Spread.SpreadBps, ZScore: record.Spread.ZScore},
		{MetricName: "spread_abs", Venue: record.Venue, Instrument: instrument, Timestamp: record.Timestamp, Value: record.Spread.SpreadAbs},
		{MetricName: "mid_price", Venue: record.Venue, Instrument: instrument, Timestamp: record.Timestamp, Value: record.Spread.MidPrice},
		{MetricName: "imbalance", Venue: record.Venue, Instrument: instrument, Timestamp: record.Timestamp, Value: record.Depth.Imbalance},
		{MetricName: "depth_10bps_total", Venue: record.Venue, Instrument: instrument, Timestamp: record.Timestamp, Value: record.Depth.Depth10BpsTotal},
	}

	s.mu.Lock()
	s.metricBuf = append(s.metricBuf, rows...)
	if record.Basis != nil {
		spotID, _ := s.cfg.SpotForPerp(instrument)
		s.basisBuf = append(s.basisBuf, tsdb.BasisRow{
			PerpInstrument: instrument,
			SpotInstrument: spotID,
			Venue:          record.Venue,
			Timestamp:      record.Timestamp,
			PerpMid:        record.Basis.PerpMid,
			SpotMid:        record.Basis.SpotMid,
			BasisAbs:       record.Basis.BasisAbs,
			BasisBps:       record.Basis.BasisBps,
			ZScore:         record.Basis.ZScore,
		})
	}
	s.mu.Unlock()
}

func (s *Service) flushLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Features.DataCapture.StorageIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

func (s *Service) flush(ctx context.Context) {
	s.mu.Lock()
	metricRows := s.metricBuf
	basisRows := s.basisBuf
	s.metricBuf = nil
	s.basisBuf = nil
	s.mu.Unlock()

	if err := s.tsdb.InsertMetrics(ctx, metricRows); err != nil {
		telemetry.StorageFailures.WithLabelValues("tsdb", "insert_metrics").Inc()
		log.Error().Int("rows", len(metricRows)).Err(err).Msg("metrics batch write failed")
	}
	if err := s.tsdb.InsertBasisMetrics(ctx, basisRows); err != nil {
		telemetry.StorageFailures.WithLabelValues("tsdb", "insert_basis").Inc()
		log.Error().Int("rows", len(basisRows)).Err(err).Msg("basis batch write failed")
	}
}

// warmupLogLoop reports z-score warmup progress so quiet startups are visibly
// warming rather than silently dead.
func (s *Service) warmupLogLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Features.ZScore.WarmupLogInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logWarmup()
		}
	}
}

func (s *Service) logWarmup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, agg := range s.aggregators {
		for metric, st := range agg.ZScoreStatuses() {
			telemetry.ZScoreSamples.WithLabelValues(splitSeriesKey(key, metric)).Set(float64(st.SamplesCollected))
			if st.Ready {
				continue
			}
			log.Info().
				Str("series", key).
				Str("metric", metric).
				Int("samples", st.SamplesCollected).
				Int("required", st.SamplesRequired).
				Msg("zscore warming up")
		}
	}
}

func splitSeriesKey(key, metric string) (venue, instrument, metricName string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], metric
		}
	}
	return key, "", metric
}

// Healthy reports liveness for the ops listener.
func (s *Service) Healthy() (bool, interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return true, map[string]interface{}{
		"series":    len(s.aggregators),
		"processed": s.processed,
	}
}
