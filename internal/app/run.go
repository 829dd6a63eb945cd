package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/logging"
)

// Runtime defines runtime inputs required to start the agent.
// Params: ConfigPath points to the TOML configuration file; Reload triggers rules reload;
// Interval overrides agent.interval when positive.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Reload     <-chan struct{}
	Interval   time.Duration
}

type agentRunner interface {
	Run(context.Context) error
	ReloadRules(context.Context) error
	Close() error
}

type runDeps struct {
	loadConfig func(string) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	startPprof func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	newAgent   func(context.Context, *config.Config, *slog.Logger) (agentRunner, error)
}

type activeRuntime struct {
	cfg         *config.Config
	logger      *slog.Logger
	agent       agentRunner
	closeLogger func()
	cancel      context.CancelFunc
	done        chan error
	stopPprof   func()
}

// Run loads configuration, starts the agent, and reloads rules via Runtime.Reload.
// Params: ctx controls lifecycle; rt provides runtime inputs and optional reload trigger channel.
// Returns: error on startup failure or unexpected agent exit, nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// LoadConfig reads path when set and falls back to built-in defaults otherwise.
// Params: path TOML file or directory; empty means defaults.
// Returns: validated config.
func LoadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default()
	}
	return config.Load(path)
}

// runWithDeps executes runtime lifecycle using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps start/reload dependencies.
// Returns: runtime error or nil on graceful stop.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	if rt.Interval < 0 {
		return fmt.Errorf("interval must be >= 0")
	}

	active, err := buildRuntime(ctx, rt, deps)
	if err != nil {
		return err
	}

	reloadCh := rt.Reload
	for {
		select {
		case runErr := <-active.done:
			active.done = nil
			active.stopRuntime()

			if ctx.Err() != nil {
				active.logger.Info("agent stopped", slog.String("reason", ctx.Err().Error()))
				active.closeLoggerSink()
				return nil
			}

			if runErr != nil {
				active.logger.Error("agent stopped unexpectedly", slog.String("error", runErr.Error()))
				active.closeLoggerSink()
				return fmt.Errorf("run agent: %w", runErr)
			}

			active.logger.Error("agent stopped unexpectedly", slog.String("error", "runner exited without context cancellation"))
			active.closeLoggerSink()
			return fmt.Errorf("run agent: runner exited without context cancellation")
		case <-ctx.Done():
			active.stopRuntime()
			active.logger.Info("agent stopped", slog.String("reason", ctx.Err().Error()))
			active.closeLoggerSink()
			return nil
		case _, ok := <-reloadCh:
			if !ok {
				reloadCh = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}

			active.logger.Info("rules reload requested")
			if err := active.agent.ReloadRules(ctx); err != nil {
				active.logger.Error("rules reload failed, previous rules kept", slog.String("error", err.Error()))
				continue
			}
			active.logger.Info("rules reload applied")
		}
	}
}

// defaultRunDeps provides production runtime dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: LoadConfig,
		newLogger:  logging.New,
		startPprof: startPprofServer,
		newAgent: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agentRunner, error) {
			return NewAgent(ctx, cfg, logger)
		},
	}
}

// buildRuntime loads validated config and starts runtime components.
// Params: ctx root lifecycle context; rt runtime inputs; deps runtime dependency set.
// Returns: active runtime or startup error.
func buildRuntime(ctx context.Context, rt Runtime, deps runDeps) (*activeRuntime, error) {
	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if rt.Interval > 0 {
		cfg.Agent.Interval = config.Duration{Duration: rt.Interval}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("runtime context canceled: %w", ctx.Err())
	}

	logger, closeFn, err := deps.newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopPprof, err := deps.startPprof(runCtx, cfg.Pprof, logger)
	if err != nil {
		cancel()
		closeFn()
		return nil, fmt.Errorf("start pprof: %w", err)
	}

	agent, err := deps.newAgent(runCtx, cfg, logger)
	if err != nil {
		stopPprof()
		cancel()
		closeFn()
		return nil, fmt.Errorf("build agent: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- agent.Run(runCtx)
	}()

	logStartup(logger, cfg)
	return &activeRuntime{
		cfg:         cfg,
		logger:      logger,
		agent:       agent,
		closeLogger: closeFn,
		cancel:      cancel,
		done:        done,
		stopPprof:   stopPprof,
	}, nil
}

// stopRuntime stops agent and pprof components while keeping logger open.
// Params: none.
// Returns: none.
func (r *activeRuntime) stopRuntime() {
	if r == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.done != nil {
		<-r.done
		r.done = nil
	}
	if r.agent != nil {
		if err := r.agent.Close(); err != nil {
			r.logger.Warn("agent close error", slog.String("error", err.Error()))
		}
		r.agent = nil
	}
	if r.stopPprof != nil {
		r.stopPprof()
		r.stopPprof = nil
	}
}

// closeLoggerSink closes active logger resources.
// Params: none.
// Returns: none.
func (r *activeRuntime) closeLoggerSink() {
	if r == nil {
		return
	}
	if r.closeLogger != nil {
		r.closeLogger()
		r.closeLogger = nil
	}
}

// logStartup emits initial startup metadata.
// Params: logger is initialized slog logger; cfg is validated runtime config.
// Returns: none.
func logStartup(logger *slog.Logger, cfg *config.Config) {
	logger.Info(
		"sentinel started",
		slog.String("dc", cfg.Global.DC),
		slog.String("project", cfg.Global.Project),
		slog.String("role", cfg.Global.Role),
		slog.String("host", cfg.Global.Host),
		slog.Duration("interval", cfg.Agent.Interval.Duration),
		slog.String("rules_file", cfg.Rules.Path),
		slog.String("db_driver", cfg.DB.Driver),
		slog.Bool("http", cfg.HTTP.Enabled),
		slog.Bool("grpc", cfg.GRPC.Enabled),
		slog.Bool("nats", cfg.NATS.Enabled),
	)
}
