package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc/health"

	"sentinel/internal/api"
	"sentinel/internal/collector"
	"sentinel/internal/config"
	"sentinel/internal/metrics"
	"sentinel/internal/pipeline"
	"sentinel/internal/rules"
	"sentinel/internal/store"
)

// Version is the build version reported by the API and CLI.
var Version = "dev"

// Agent owns every long-lived component built from one configuration.
// Params: built once by NewAgent and shared by scheduler, API and CLI.
// Returns: runtime ready to Run or to serve one-shot commands.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	Telemetry *metrics.Telemetry
	Store     store.Repository
	Rules     *rules.Engine
	Service   *collector.Service
	Sink      *pipeline.MultiSink
	Session   *pipeline.Session
	Health    *health.Server

	nats      *nats.Conn
	closeOnce sync.Once
}

// agentOptions swaps process-wide collaborators in tests.
type agentOptions struct {
	collectors []collector.Collector
	repo       store.Repository
	publisher  pipeline.Publisher
}

// NewAgent builds storage, rules, collectors and sinks from cfg.
// Params: ctx for connection checks and initial rules load; cfg validated config; logger root logger.
// Returns: agent or build error; partially built resources are released on error.
func NewAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	return newAgent(ctx, cfg, logger, agentOptions{})
}

func newAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts agentOptions) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:       cfg,
		logger:    logger,
		Telemetry: metrics.New(),
		Health:    health.NewServer(),
	}

	repo := opts.repo
	if repo == nil {
		opened, err := store.Open(ctx, storeOptions(cfg.DB))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		repo = opened
	}
	a.Store = repo

	a.Rules = rules.NewEngine(ctx, rules.FileSource{Path: cfg.Rules.Path}, logger.With(slog.String("component", "rules")))
	a.Rules.SetReloadHook(func(active *rules.RuleSet, err error) {
		summary := active.Summary()
		a.Telemetry.ObserveReload(summary.Version, summary.BlocklistedIPsCount, err)
	})
	initial := a.Rules.Summary()
	a.Telemetry.RulesVersion.Set(float64(initial.Version))
	a.Telemetry.BlocklistSize.Set(float64(initial.BlocklistedIPsCount))

	collectors := opts.collectors
	if collectors == nil {
		collectors = buildCollectors(cfg.Collectors)
	}
	a.Service = collector.NewService(a.Rules, logger.With(slog.String("component", "collector")), collectors...)

	publisher := opts.publisher
	if publisher == nil && cfg.NATS.Enabled {
		nc, err := nats.Connect(
			cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", slog.String("error", err.Error()))
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
			}),
		)
		if err != nil {
			_ = a.Store.Close()
			return nil, fmt.Errorf("connect nats %q: %w", cfg.NATS.URL, err)
		}
		a.nats = nc
		publisher = nc
	}

	a.Sink = pipeline.NewMultiSink(func(name string, _ error) {
		a.Telemetry.SinkFailures.WithLabelValues(name).Inc()
	}).
		Add("log", pipeline.NewLogSink(logger.With(slog.String("component", "alerts")))).
		Add(pipeline.StoreSinkName, pipeline.NewStoreSink(a.Store)).
		Add("metrics", pipeline.NewMetricsSink(a.Telemetry)).
		Add("health", pipeline.NewHealthSink(a.Health, a.Service.Names()))

	if publisher != nil {
		natsSink, err := pipeline.NewNATSSink(publisher, cfg.NATS.Subject, cfg.NATS.Encoding, pipeline.EventTags{
			DC:      cfg.Global.DC,
			Host:    cfg.Global.Host,
			Project: cfg.Global.Project,
			Role:    cfg.Global.Role,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build nats sink: %w", err)
		}
		a.Sink.Add("nats", natsSink)
	}

	a.Session = pipeline.NewSession(a.Service, pipeline.SessionConfig{
		MinDuration: cfg.Stream.MinDuration.Duration,
		MaxDuration: cfg.Stream.MaxDuration.Duration,
		Delay:       cfg.Stream.Delay.Duration,
		TopN:        cfg.Stream.TopN,
	}, logger.With(slog.String("component", "stream")))

	return a, nil
}

// buildCollectors instantiates enabled collectors in fixed registration order.
func buildCollectors(cfg config.CollectorsConfig) []collector.Collector {
	out := make([]collector.Collector, 0, 2)
	if cfg.Process.IsEnabled() {
		out = append(out, collector.NewProcessCollector(cfg.Process.ExcludeNames))
	}
	if cfg.Network.IsEnabled() {
		out = append(out, collector.NewNetworkCollector(cfg.Network.Kind))
	}
	return out
}

func storeOptions(cfg config.DBConfig) store.Options {
	return store.Options{
		Driver:         cfg.Driver,
		DSN:            cfg.DSN,
		Host:           cfg.Host,
		Port:           cfg.Port,
		Name:           cfg.Name,
		User:           cfg.User,
		Password:       cfg.Password,
		SSLMode:        cfg.SSLMode,
		MemoryCapacity: cfg.MemoryCapacity,
	}
}

// ScanOnce runs one collect→evaluate cycle and hands it to every sink.
// Params: ctx for collection and persistence.
// Returns: scan result and joined sink errors.
func (a *Agent) ScanOnce(ctx context.Context) (collector.Scan, error) {
	scan := a.Service.CollectAndAlert(ctx)
	if err := a.Sink.Consume(ctx, scan); err != nil {
		return scan, fmt.Errorf("consume scan: %w", err)
	}
	return scan, nil
}

// ReloadRules re-reads the rule source; the previous set stays active on failure.
func (a *Agent) ReloadRules(ctx context.Context) error {
	return a.Rules.Reload(ctx)
}

// APIServer builds the HTTP control surface over the agent components.
func (a *Agent) APIServer() (*api.Server, error) {
	return api.NewServer(api.Deps{
		Service:   a.Service,
		Rules:     a.Rules,
		Store:     a.Store,
		Persist:   a.Sink,
		Stream:    a.Session,
		Telemetry: a.Telemetry,
		Logger:    a.logger.With(slog.String("component", "api")),
		Info: api.Info{
			Version:            Version,
			Host:               a.cfg.Global.Host,
			DBDriver:           a.cfg.DB.Driver,
			CollectionInterval: a.cfg.Agent.Interval.Duration,
		},
	})
}

// Run starts the listeners and the rules watcher, then blocks in the scheduler loop.
// Params: ctx controls lifecycle; cancellation stops the loop between ticks.
// Returns: listener startup error, or nil after ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stops []func()
	defer func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}()

	if a.cfg.HTTP.Enabled {
		server, err := a.APIServer()
		if err != nil {
			return fmt.Errorf("build api: %w", err)
		}
		stop, err := serveHTTP(runCtx, "api", a.cfg.HTTP.Listen, server.Handler(), a.cfg.Agent.ShutdownTimeout.Duration, a.logger)
		if err != nil {
			return fmt.Errorf("start api: %w", err)
		}
		stops = append(stops, stop)
	}

	if a.cfg.GRPC.Enabled {
		stop, err := serveGRPCHealth(runCtx, a.cfg.GRPC.Listen, a.Health, a.cfg.Agent.ShutdownTimeout.Duration, a.logger)
		if err != nil {
			return fmt.Errorf("start grpc: %w", err)
		}
		stops = append(stops, stop)
	}

	var wg sync.WaitGroup
	if a.cfg.Rules.Watch {
		watcher := rules.NewWatcher(a.cfg.Rules.Path, a.cfg.Rules.Debounce.Duration, a.Rules, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("rules watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	scheduler, err := pipeline.NewScheduler(a.Service, a.Sink, pipeline.SchedulerConfig{
		Interval: a.cfg.Agent.Interval.Duration,
		OnTickFailure: func(error) {
			a.Telemetry.TickFailures.Inc()
		},
	}, a.logger.With(slog.String("component", "scheduler")))
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	scheduler.Run(runCtx)
	cancel()
	wg.Wait()
	return nil
}

// Close releases the broker connection and the store; safe to call twice.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.nats != nil {
			if drainErr := a.nats.Drain(); drainErr != nil {
				a.nats.Close()
			}
		}
		if a.Store != nil {
			err = a.Store.Close()
		}
	})
	return err
}
