package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"cluster_go/internal/domain"
	"cluster_go/internal/engine"
	"cluster_go/internal/execution"
	"cluster_go/internal/feed"
	"cluster_go/internal/infra"
	"cluster_go/internal/infra/storage"
	"cluster_go/internal/risk"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config  *infra.Config
	Journal *storage.Journal
	Metrics *infra.Metrics
	Runner  *engine.Runner

	candles    *feed.CandleStream
	metricsSrv *http.Server
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and wires every component together. It
// does not start the loop; Run does.
func (b *Bootstrap) Initialize(configPath, strategiesPath string) error {
	// .env is optional, real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("bootstrapping", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	journal, err := storage.NewJournal(journalPath(cfg))
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("trade journal ready")

	b.Metrics = infra.NewMetrics()

	engineCfgs, err := infra.LoadStrategies(strategiesPath)
	if err != nil {
		return err
	}
	engines := make([]*engine.Engine, 0, len(engineCfgs))
	for i := range engineCfgs {
		engines = append(engines, engine.New(&engineCfgs[i], logger))
	}
	slog.Info("engines loaded", slog.Int("count", len(engines)))

	b.candles = feed.NewCandleStream(cfg.Candles.WSURL, candleSymbol(cfg), logger)

	poller := feed.NewPoller(feed.PollerConfig{
		BaseURL:    cfg.Feed.BaseURL,
		Token:      cfg.Feed.Token,
		Groups:     cfg.Feed.Groups,
		Symbol:     cfg.Feed.Symbol,
		Timeout:    time.Duration(cfg.Feed.TimeoutSec) * time.Second,
		SeenMaxAge: time.Duration(cfg.Feed.SeenMaxAgeMin) * time.Minute,
	}, logger)

	exec := execution.NewPaper(symbolSpec(cfg), b.candles, startBalance(cfg))

	session, err := risk.NewSession(cfg.Session.Enabled, cfg.Session.Start, cfg.Session.End, cfg.LossLocation())
	if err != nil {
		return fmt.Errorf("invalid session window: %w", err)
	}

	var zones engine.ZoneProvider
	if cfg.Zones.Path != "" {
		zones = infra.NewZoneFile(cfg.Zones.Path, cfg.LossLocation(),
			time.Duration(cfg.Zones.ReloadSec)*time.Second, logger)
	}

	var sink engine.SnapshotSink
	if cfg.Loop.SnapshotPath != "" {
		sink = storage.NewSnapshotFile(cfg.Loop.SnapshotPath)
	}

	breaker := infra.NewCircuitBreaker("feed",
		cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold,
		time.Duration(cfg.Breaker.OpenForSec)*time.Second)

	b.Runner = engine.NewRunner(engine.RunnerConfig{
		PollInterval:   cfg.PollInterval(),
		EventLookback:  cfg.EventLookback(),
		CandleHistory:  cfg.Loop.CandleHistory,
		HeartbeatEvery: time.Duration(cfg.Loop.HeartbeatSec) * time.Second,
		Session:        session,
		Limits: risk.LossLimits{
			PerEngine: decimal.NewFromFloat(cfg.Risk.DailyLossPerEngine),
			Total:     decimal.NewFromFloat(cfg.Risk.DailyLossTotal),
		},
		LossLocation: cfg.LossLocation(),
	}, engines, engine.Deps{
		Exec:    exec,
		Journal: journal,
		Metrics: b.Metrics,
		Log:     logger,
	}, poller, b.candles, zones, sink, breaker)

	// Bootstrap the poller so positions already open at startup never fire
	// a cluster.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := poller.Bootstrap(ctx); err != nil {
		slog.Warn("feed bootstrap failed, existing positions may replay", slog.Any("error", err))
	}

	return nil
}

// Run starts the candle stream, the metrics server and the trading loop,
// blocking until ctx is cancelled.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.Config.Candles.WSURL != "" {
		if err := b.candles.Connect(ctx); err != nil {
			return fmt.Errorf("candle stream: %w", err)
		}
		defer b.candles.Disconnect()
		slog.Info("candle stream connected", slog.String("url", b.Config.Candles.WSURL))
	}

	if addr := b.Config.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", b.Metrics.Handler())
		b.metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := b.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer b.metricsSrv.Close()
		slog.Info("metrics server started", slog.String("addr", addr))
	}

	b.Runner.Run(ctx)
	return nil
}

func journalPath(cfg *infra.Config) string {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return "data/journal.db"
}

func candleSymbol(cfg *infra.Config) string {
	if cfg.Candles.Symbol != "" {
		return cfg.Candles.Symbol
	}
	return cfg.Feed.Symbol
}

func symbolSpec(cfg *infra.Config) domain.SymbolSpec {
	spec := domain.SymbolSpec{
		Symbol:       cfg.Feed.Symbol,
		ContractSize: cfg.Execution.ContractSize,
		VolumeMin:    cfg.Execution.VolumeMin,
		VolumeMax:    cfg.Execution.VolumeMax,
		VolumeStep:   cfg.Execution.VolumeStep,
		Digits:       cfg.Execution.Digits,
	}
	if spec.ContractSize <= 0 {
		spec.ContractSize = 100
	}
	if spec.VolumeMin <= 0 {
		spec.VolumeMin = 0.01
	}
	if spec.VolumeMax <= 0 {
		spec.VolumeMax = 100
	}
	if spec.VolumeStep <= 0 {
		spec.VolumeStep = 0.01
	}
	if spec.Digits <= 0 {
		spec.Digits = 2
	}
	return spec
}

func startBalance(cfg *infra.Config) decimal.Decimal {
	if cfg.Execution.StartBalance > 0 {
		return decimal.NewFromFloat(cfg.Execution.StartBalance)
	}
	return decimal.NewFromInt(10000)
}
