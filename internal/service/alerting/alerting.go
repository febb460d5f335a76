package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/alerts"
	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/kv"
	"github.com/bitspectre/surveil/internal/tsdb"
)

// Service is the alert pipeline: it follows the metrics channel and drives
// the lifecycle manager, with the escalation scan running alongside.
type Service struct {
	cfg *config.Config
	kv  *kv.Client
	mgr *alerts.Manager

	mu        sync.Mutex
	processed int64
}

// New wires the alert pipeline: channels from config, dispatcher bindings
// per priority, dual-store persistence.
func New(cfg *config.Config, kvClient *kv.Client, tsdbClient *tsdb.Client) *Service {
	dispatcher := alerts.NewDispatcher()
	for name, chCfg := range cfg.Alerts.Channels {
		if !chCfg.Enabled {
			continue
		}
		if chCfg.WebhookURL != "" {
			dispatcher.AddChannel(alerts.NewWebhookChannel(name, chCfg))
		} else {
			dispatcher.AddChannel(alerts.NewConsoleChannel(name, chCfg))
		}
		log.Info().Str("channel", name).Msg("notification channel registered")
	}
	for priority, pCfg := range cfg.Alerts.Priorities {
		dispatcher.Bind(priority, pCfg.Channels)
	}

	store := alerts.NewStore(kvClient, tsdbClient)
	return &Service{
		cfg: cfg,
		kv:  kvClient,
		mgr: alerts.NewManager(cfg.Alerts, store, dispatcher),
	}
}

// Run subscribes to metrics updates and blocks until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.mgr.LoadActiveAlerts(ctx); err != nil {
		return err
	}

	updates, err := s.kv.Subscribe(ctx, kv.ChannelMetrics)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.mgr.RunEscalationLoop(ctx, alerts.EscalationCheckInterval)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case env, ok := <-updates:
			if !ok {
				wg.Wait()
				return nil
			}
			s.handleUpdate(ctx, env.Venue, env.Instrument)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, venue, instrument string) {
	record, err := s.kv.GetMetrics(ctx, venue, instrument)
	if err != nil {
		log.Warn().Str("venue", venue).Str("instrument", instrument).Err(err).
			Msg("metrics read failed")
		return
	}
	if record == nil {
		return
	}

	s.mgr.ProcessMetrics(ctx, venue, instrument, record, time.Now().UTC())

	s.mu.Lock()
	s.processed++
	s.mu.Unlock()
}

// Healthy reports liveness for the ops listener.
func (s *Service) Healthy() (bool, interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return true, map[string]interface{}{"processed": s.processed}
}
