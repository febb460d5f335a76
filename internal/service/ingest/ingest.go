package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/kv"
	"github.com/bitspectre/surveil/internal/metrics"
	"github.com/bitspectre/surveil/internal/models"
	"github.com/bitspectre/surveil/internal/telemetry"
	"github.com/bitspectre/surveil/internal/tsdb"
	"github.com/bitspectre/surveil/internal/venue"
)

// Service is the venue ingest pipeline: adapters in, normalized snapshots
// out to the KV current state and the TSDB batch writer, gaps marked, health
// reported at 1 Hz.
type Service struct {
	cfg      *config.Config
	kv       *kv.Client
	tsdb     *tsdb.Client
	adapters []venue.Adapter
	depth    *metrics.DepthCalculator

	mu      sync.Mutex
	lastSeq map[string]int64
	lastTS  map[string]time.Time
	rowBuf  []*tsdb.SnapshotRow
	healthy map[string]bool
}

// New wires the ingest pipeline over the given adapters.
func New(cfg *config.Config, kvClient *kv.Client, tsdbClient *tsdb.Client, adapters []venue.Adapter) (*Service, error) {
	depth, err := metrics.NewDepthCalculator(metrics.DefaultImbalanceBand)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		kv:       kvClient,
		tsdb:     tsdbClient,
		adapters: adapters,
		depth:    depth,
		lastSeq:  make(map[string]int64),
		lastTS:   make(map[string]time.Time),
		healthy:  make(map[string]bool),
	}, nil
}

func (s *Service) instrumentsFor(venueName string) []string {
	var ids []string
	for _, inst := range s.cfg.EnabledInstruments() {
		if _, ok := inst.VenueSymbol(venueName); ok {
			ids = append(ids, inst.ID)
		}
	}
	return ids
}

// Run connects every adapter, consumes its streams and blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, a := range s.adapters {
		ids := s.instrumentsFor(a.Name())
		if len(ids) == 0 {
			log.Warn().Str("venue", a.Name()).Msg("no instruments mapped, skipping venue")
			continue
		}
		if err := a.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", a.Name(), err)
		}
		if err := a.Subscribe(ids); err != nil {
			return fmt.Errorf("subscribe %s: %w", a.Name(), err)
		}

		adapter := a
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.consumeBooks(ctx, adapter)
		}()
		go func() {
			defer wg.Done()
			s.consumeTickers(ctx, adapter)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.healthLoop(ctx)
	}()

	<-ctx.Done()
	for _, a := range s.adapters {
		if err := a.Disconnect(); err != nil {
			log.Warn().Str("venue", a.Name()).Err(err).Msg("disconnect failed")
		}
	}
	wg.Wait()

	// last flush picks up whatever arrived before shutdown
	s.flush(context.Background())
	return nil
}

func (s *Service) consumeBooks(ctx context.Context, adapter venue.Adapter) {
	for snap := range adapter.StreamOrderBooks() {
		s.handleSnapshot(ctx, adapter, snap)
	}
}

func (s *Service) consumeTickers(ctx context.Context, adapter venue.Adapter) {
	for ticker := range adapter.StreamTickers() {
		if err := s.kv.SetTicker(ctx, ticker); err != nil {
			log.Warn().Str("venue", ticker.Venue).Str("instrument", ticker.Instrument).
				Err(err).Msg("ticker write failed")
		}
	}
}

func (s *Service) handleSnapshot(ctx context.Context, adapter venue.Adapter, snap *models.OrderBookSnapshot) {
	telemetry.SnapshotsNormalized.WithLabelValues(snap.Venue, snap.Instrument).Inc()

	key := snap.Venue + ":" + snap.Instrument
	now := snap.LocalTimestamp

	var gaps []*models.GapMarker

	s.mu.Lock()
	if s.cfg.Features.GapHandling.TrackSequenceIDs {
		if prev, ok := s.lastSeq[key]; ok {
			if gap := adapter.DetectGap(snap.Instrument, prev, snap.SequenceID, now); gap != nil {
				gaps = append(gaps, gap)
			}
		}
		s.lastSeq[key] = snap.SequenceID
	}
	if s.cfg.Features.GapHandling.MarkGaps {
		threshold := time.Duration(s.cfg.Features.GapHandling.GapThresholdSeconds) * time.Second
		if prev, ok := s.lastTS[key]; ok && threshold > 0 && snap.Timestamp.Sub(prev) > threshold {
			if gap, err := models.NewGapMarker(snap.Venue, snap.Instrument, prev, snap.Timestamp, models.GapTime); err == nil {
				gaps = append(gaps, gap)
			}
		}
		s.lastTS[key] = snap.Timestamp
	}
	s.mu.Unlock()

	for _, gap := range gaps {
		s.recordGap(ctx, gap)
	}

	if err := s.kv.SetOrderbook(ctx, snap); err != nil {
		log.Warn().Str("venue", snap.Venue).Str("instrument", snap.Instrument).
			Err(err).Msg("orderbook write failed")
	}
	if err := s.kv.Publish(ctx, kv.ChannelOrderbook, kv.UpdateEnvelope{
		Venue:      snap.Venue,
		Instrument: snap.Instrument,
	}); err != nil {
		log.Warn().Err(err).Msg("orderbook publish failed")
	}

	if !snap.IsValid() {
		return
	}
	depth, err := s.depth.Calculate(snap)
	if err != nil {
		return
	}
	row, err := tsdb.NewSnapshotRow(snap, depth)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.rowBuf = append(s.rowBuf, row)
	s.mu.Unlock()
}

// recordGap marks the discontinuity in the TSDB and tells the metrics engine
// through the orderbook channel, so z-score windows reset when configured.
func (s *Service) recordGap(ctx context.Context, gap *models.GapMarker) {
	telemetry.GapsDetected.WithLabelValues(gap.Venue, string(gap.Reason)).Inc()
	log.Warn().
		Str("venue", gap.Venue).
		Str("instrument", gap.Instrument).
		Str("reason", string(gap.Reason)).
		Msg("data gap detected")

	if err := s.tsdb.InsertGapMarker(ctx, gap); err != nil {
		telemetry.StorageFailures.WithLabelValues("tsdb", "insert_gap").Inc()
		log.Error().Err(err).Msg("gap marker write failed")
	}
	if err := s.kv.Publish(ctx, kv.ChannelOrderbook, kv.UpdateEnvelope{
		Venue:      gap.Venue,
		Instrument: gap.Instrument,
		Event:      "gap",
	}); err != nil {
		log.Warn().Err(err).Msg("gap publish failed")
	}
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
	rows := s.rowBuf
	s.rowBuf = nil
	s.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	if err := s.tsdb.InsertSnapshots(ctx, rows); err != nil {
		telemetry.StorageFailures.WithLabelValues("tsdb", "insert_snapshots").Inc()
		log.Error().Int("rows", len(rows)).Err(err).Msg("snapshot batch write failed")
	}
}

func (s *Service) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, a := range s.adapters {
				h := a.HealthCheck()
				telemetry.VenueLagMs.WithLabelValues(h.Venue).Set(float64(h.LagMs))

				s.mu.Lock()
				s.healthy[h.Venue] = h.Healthy()
				s.mu.Unlock()

				if err := s.kv.SetHealth(ctx, h); err != nil {
					log.Warn().Str("venue", h.Venue).Err(err).Msg("health write failed")
					continue
				}
				if err := s.kv.Publish(ctx, kv.ChannelHealth, kv.UpdateEnvelope{
					Venue: h.Venue,
					Event: string(h.State),
				}); err != nil {
					log.Warn().Str("venue", h.Venue).Err(err).Msg("health publish failed")
				}
			}
		}
	}
}

// Healthy reports whether every venue is currently healthy. Used by the ops
// listener.
func (s *Service) Healthy() (bool, interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := true
	detail := make(map[string]bool, len(s.healthy))
	for v, ok := range s.healthy {
		detail[v] = ok
		if !ok {
			all = false
		}
	}
	return all, detail
}
