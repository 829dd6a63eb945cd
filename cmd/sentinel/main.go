package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sentinel/internal/app"
	"sentinel/internal/collector"
	"sentinel/internal/config"
	"sentinel/internal/logging"
	"sentinel/internal/pipeline"
)

const (
	exitCodeFailure = 1
	exitCodeUsage   = 2

	reloadRequestTimeout = 10 * time.Second
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `usage: sentinel [-config path] <command> [flags]

commands:
  scan          run collectors once, evaluate rules, persist and publish
  agent         run the periodic agent loop with HTTP, gRPC health and rule hot reload
  status        print collector health and the active rule set
  reload-rules  ask a running agent to reload its rule file
  stream        print live monitoring frames as JSON lines
  version       show build information
`

// command runs one subcommand with its own flag set.
type command func(ctx context.Context, env *cliEnv, args []string) error

type cliEnv struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

var commands = map[string]command{
	"scan":         runScan,
	"agent":        runAgent,
	"status":       runStatus,
	"reload-rules": runReloadRules,
	"stream":       runStream,
	"version":      runVersion,
}

// run parses global flags and dispatches a subcommand.
// Params: args without program name; stdout/stderr writers.
// Returns: process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("sentinel", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }

	env := &cliEnv{stdout: stdout, stderr: stderr}
	global.StringVar(&env.configPath, "config", os.Getenv("SENTINEL_CONFIG"), "path to TOML config file or directory (empty: built-in defaults)")
	if err := global.Parse(args); err != nil {
		return exitCodeUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return exitCodeUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", rest[0])
		global.Usage()
		return exitCodeUsage
	}

	if err := cmd(ctx, env, rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitCodeUsage
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCodeFailure
	}
	return 0
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func parseFlags(fs *flag.FlagSet, env *cliEnv, args []string) error {
	fs.SetOutput(env.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err: err}
	}
	if fs.NArg() > 0 {
		return usageError{err: fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))}
	}
	return nil
}

// withAgent loads config, builds the logger and agent, and runs fn.
func withAgent(ctx context.Context, env *cliEnv, fn func(*app.Agent, *config.Config) error) error {
	cfg, err := app.LoadConfig(env.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLogger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	agent, err := app.NewAgent(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}
	defer func() {
		if err := agent.Close(); err != nil {
			logger.Warn("agent close error", slog.String("error", err.Error()))
		}
	}()
	return fn(agent, cfg)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runScan(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	if err := parseFlags(fs, env, args); err != nil {
		return err
	}

	return withAgent(ctx, env, func(agent *app.Agent, _ *config.Config) error {
		scan, consumeErr := agent.ScanOnce(ctx)
		summary := map[string]any{
			"events_collected": len(scan.Events),
			"alerts_generated": len(scan.Alerts),
			"collectors":       reportSummary(scan.Reports),
			"alerts":           scan.Alerts,
		}
		if consumeErr != nil {
			summary["error"] = consumeErr.Error()
		}
		if err := writeJSON(env.stdout, summary); err != nil {
			return err
		}
		return consumeErr
	})
}

func reportSummary(reports []collector.Report) map[string]any {
	out := make(map[string]any, len(reports))
	for _, report := range reports {
		if report.Err != nil {
			out[report.Name] = map[string]any{"status": collector.StatusError, "error": report.Err.Error()}
			continue
		}
		out[report.Name] = map[string]any{"status": collector.StatusActive, "events": report.Count}
	}
	return out
}

func runAgent(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	interval := fs.Duration("interval", 0, "collection interval (overrides agent.interval)")
	if err := parseFlags(fs, env, args); err != nil {
		return err
	}
	if *interval < 0 {
		return usageError{err: fmt.Errorf("interval must be >= 0")}
	}

	reloadSignal := make(chan os.Signal, 1)
	signal.Notify(reloadSignal, syscall.SIGHUP)
	defer signal.Stop(reloadSignal)

	reload := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadSignal:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()

	return app.Run(ctx, app.Runtime{ConfigPath: env.configPath, Reload: reload, Interval: *interval})
}

func runStatus(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := parseFlags(fs, env, args); err != nil {
		return err
	}

	return withAgent(ctx, env, func(agent *app.Agent, cfg *config.Config) error {
		events, err := agent.Store.LatestEvents(ctx, 5)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		alerts, err := agent.Store.LatestAlerts(ctx, 5)
		if err != nil {
			return fmt.Errorf("read alerts: %w", err)
		}
		return writeJSON(env.stdout, map[string]any{
			"timestamp":  time.Now().UTC(),
			"collectors": agent.Service.CollectorStatus(ctx),
			"rules":      agent.Rules.Summary(),
			"configuration": map[string]any{
				"host":                cfg.Global.Host,
				"db_driver":           cfg.DB.Driver,
				"collection_interval": cfg.Agent.Interval.Seconds(),
			},
			"recent_data": map[string]int{
				"events_count": len(events),
				"alerts_count": len(alerts),
			},
		})
	})
}

func runReloadRules(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("reload-rules", flag.ContinueOnError)
	addr := fs.String("addr", "", "agent HTTP address (default: http.listen from config)")
	if err := parseFlags(fs, env, args); err != nil {
		return err
	}

	target := strings.TrimSpace(*addr)
	if target == "" {
		cfg, err := app.LoadConfig(env.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		target = cfg.HTTP.Listen
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "http://" + target
	}

	reqCtx, cancel := context.WithTimeout(ctx, reloadRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(target, "/")+"/rules/reload", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if _, err := env.stdout.Write(body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reload rules: agent answered %s", resp.Status)
	}
	return nil
}

func runStream(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	duration := fs.Duration("duration", 60*time.Second, "session length, clamped to stream.min_duration..stream.max_duration")
	if err := parseFlags(fs, env, args); err != nil {
		return err
	}

	return withAgent(ctx, env, func(agent *app.Agent, _ *config.Config) error {
		enc := json.NewEncoder(env.stdout)
		_, err := agent.Session.Run(ctx, *duration, func(frame pipeline.Frame) error {
			return enc.Encode(frame)
		})
		return err
	})
}

func runVersion(_ context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := parseFlags(fs, env, args); err != nil {
		return err
	}
	_, err := fmt.Fprintf(env.stdout, "sentinel version=%s commit=%s date=%s\n", version, commit, date)
	return err
}

func main() {
	app.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
