package rules

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"sentinel/internal/model"
)

// ReloadHook observes reload outcomes (metrics, audit logs).
type ReloadHook func(active *RuleSet, err error)

// Engine evaluates events against the active rule set and supports atomic reload.
// Params: rule source and logger.
// Returns: evaluator safe for concurrent use.
type Engine struct {
	source Source
	logger *slog.Logger
	active atomic.Pointer[RuleSet]
	seq    atomic.Int64
	reload sync.Mutex
	hookMu sync.RWMutex
	onLoad ReloadHook
}

// NewEngine loads the initial rule set, falling back to safe defaults on failure.
// Params: ctx for initial load; source rule storage; logger diagnostics.
// Returns: engine with exactly one active rule set.
func NewEngine(ctx context.Context, source Source, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{source: source, logger: logger}

	rs, err := source.Load(ctx)
	if err != nil {
		logger.Warn(
			"rules load failed, using defaults",
			slog.String("rules_file", source.Location()),
			slog.String("error", err.Error()),
		)
		rs = DefaultRuleSet(source.Location())
	}
	e.publish(rs)
	logger.Info(
		"rules loaded",
		slog.String("rules_file", source.Location()),
		slog.Int("blocklisted_ips", len(rs.blocklist)),
		slog.Bool("fallback", rs.fallback),
	)
	return e
}

// SetReloadHook registers a callback invoked after every reload attempt.
func (e *Engine) SetReloadHook(hook ReloadHook) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onLoad = hook
}

// Rules returns the currently active rule set snapshot.
func (e *Engine) Rules() *RuleSet {
	return e.active.Load()
}

// Summary returns the active rule set projection.
func (e *Engine) Summary() Summary {
	return e.Rules().Summary()
}

// Evaluate runs every event against one rule set snapshot.
// Params: events to evaluate.
// Returns: alerts in event order, then rule order.
func (e *Engine) Evaluate(events []model.Event) []model.Alert {
	return Evaluate(e.active.Load(), events)
}

// Reload acquires a new rule set from the source and publishes it atomically.
// Params: ctx for source IO.
// Returns: load error; the previous rule set stays active on failure.
func (e *Engine) Reload(ctx context.Context) error {
	e.reload.Lock()
	defer e.reload.Unlock()

	next, err := e.source.Load(ctx)
	if err != nil {
		e.logger.Error(
			"rules reload failed, keeping previous set",
			slog.String("rules_file", e.source.Location()),
			slog.String("error", err.Error()),
		)
		e.notify(e.active.Load(), err)
		return err
	}

	published := e.publish(next)
	e.logger.Info(
		"rules reloaded",
		slog.String("rules_file", e.source.Location()),
		slog.Int64("version", published.version),
		slog.Int("blocklisted_ips", len(published.blocklist)),
	)
	e.notify(published, nil)
	return nil
}

// publish stamps a version and swaps the pointer in one store.
func (e *Engine) publish(rs *RuleSet) *RuleSet {
	stamped := rs.withVersion(e.seq.Add(1))
	e.active.Store(stamped)
	return stamped
}

func (e *Engine) notify(active *RuleSet, err error) {
	e.hookMu.RLock()
	hook := e.onLoad
	e.hookMu.RUnlock()
	if hook != nil {
		hook(active, err)
	}
}
