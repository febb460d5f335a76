package service

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bitspectre/surveil/internal/config"
	"github.com/bitspectre/surveil/internal/kv"
	"github.com/bitspectre/surveil/internal/logging"
	"github.com/bitspectre/surveil/internal/ops"
	"github.com/bitspectre/surveil/internal/tsdb"
)

// Runtime is the shared scaffolding every service runs on: validated config,
// configured logging, connected stores and the ops listener.
type Runtime struct {
	Cfg  *config.Config
	KV   *kv.Client
	TSDB *tsdb.Client

	opsSrv *ops.Server
}

func ttlsFromConfig(c config.KVStorageConfig) kv.TTLConfig {
	ttls := kv.DefaultTTLConfig()
	if c.CurrentStateTTLSeconds > 0 {
		ttls.CurrentState = time.Duration(c.CurrentStateTTLSeconds) * time.Second
	}
	if c.ZScoreBufferTTLSeconds > 0 {
		ttls.ZScoreBuffer = time.Duration(c.ZScoreBufferTTLSeconds) * time.Second
	}
	if c.AlertDedupTTLSeconds > 0 {
		ttls.AlertDedup = time.Duration(c.AlertDedupTTLSeconds) * time.Second
	}
	return ttls
}

// NewRuntime loads configuration, configures logging and connects both
// stores.
func NewRuntime(ctx context.Context, serviceName, configDir, logLevel string) (*Runtime, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	level := cfg.Features.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Setup(serviceName, cfg.Features.Logging.Format, level)

	kvClient, err := kv.NewClient(ctx, cfg.KVURL, ttlsFromConfig(cfg.Features.Storage.KV))
	if err != nil {
		return nil, err
	}

	tsdbClient, err := tsdb.NewClient(ctx, cfg.DatabaseURL, tsdb.DefaultPoolConfig())
	if err != nil {
		kvClient.Close()
		return nil, err
	}

	return &Runtime{Cfg: cfg, KV: kvClient, TSDB: tsdbClient}, nil
}

// StartOps serves /healthz and /metrics in the background.
func (r *Runtime) StartOps(health ops.HealthFunc) {
	r.opsSrv = ops.NewServer(r.Cfg.OpsListen, health)
	go func() {
		if err := r.opsSrv.Start(); err != nil {
			log.Error().Err(err).Msg("ops listener failed")
		}
	}()
}

// Close releases the stores and the ops listener.
func (r *Runtime) Close() {
	if r.opsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.opsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if r.KV != nil {
		r.KV.Close()
	}
	if r.TSDB != nil {
		r.TSDB.Close()
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
