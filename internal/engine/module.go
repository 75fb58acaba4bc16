package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/cooldownd/internal/core"
	"github.com/flemzord/cooldownd/internal/cron"
	"github.com/flemzord/cooldownd/internal/entitlement"
	"github.com/flemzord/cooldownd/internal/grant"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ErrNotStarted indicates an engine operation was invoked before Start().
var ErrNotStarted = errors.New("engine: not started")

// Config holds the engine module configuration.
type Config struct {
	// RestrictedEntitlement is the entitlement applied while a grant is
	// active (the cooldown role). Required.
	RestrictedEntitlement string `yaml:"restricted_entitlement"`

	// DefaultDuration is used when command input carries no parsable
	// duration. Defaults to 1h.
	DefaultDuration time.Duration `yaml:"default_duration"`

	// GatewayTimeout bounds each platform call. Defaults to 10s.
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`

	// SweepSchedule is the cron expression for the deadline reconciliation
	// sweep. Defaults to every minute; "off" disables the sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

func (c *Config) defaults() {
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = time.Hour
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "* * * * *"
	}
}

// Module wires the scheduler into the module system and exposes the engine
// operations to request handlers (chat commands, admin API, MCP bridge).
type Module struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	metrics   *Metrics
	parser    grant.DurationParser
	scheduler *Scheduler
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "engine.cooldown",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("engine: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The engine registers itself and
// its metrics; the store and platform gateway are resolved lazily at
// Start(), after every module has provisioned.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.metrics = NewMetrics()
	m.parser = grant.NewDurationParser(m.config.DefaultDuration)

	ctx.RegisterService("engine", m)
	ctx.RegisterService("engine.metrics", m.metrics)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.RestrictedEntitlement == "" {
		return errors.New("engine: restricted_entitlement is required")
	}
	return nil
}

// Start implements core.Starter. It resolves the store and gateway from the
// service registry, replays the persisted ledger, and registers the
// deadline sweep with the cron scheduler if one is loaded.
func (m *Module) Start() error {
	store, ok := resolveAs[grant.Store](m.appCtx, "grant.store")
	if !ok {
		return errors.New("engine: no grant.store service (is a store module configured?)")
	}
	gw, ok := resolveAs[entitlement.Gateway](m.appCtx, "entitlement.gateway")
	if !ok {
		return errors.New("engine: no entitlement.gateway service (is a channel module configured?)")
	}

	// Optional release announcer.
	notifier, _ := resolveAs[Notifier](m.appCtx, "release.notifier")

	m.scheduler = NewScheduler(Options{
		Store:          store,
		Gateway:        gw,
		Logger:         m.logger,
		Metrics:        m.metrics,
		Notifier:       notifier,
		Restricted:     m.config.RestrictedEntitlement,
		GatewayTimeout: m.config.GatewayTimeout,
	})

	recoverCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := m.scheduler.Recover(recoverCtx); err != nil {
		return err
	}

	if m.config.SweepSchedule != "off" {
		if sched, ok := resolveAs[*cron.Scheduler](m.appCtx, "cron.scheduler"); ok {
			job := &sweepJob{scheduler: m.scheduler, schedule: m.config.SweepSchedule, logger: m.logger}
			if err := sched.RegisterJob(job); err != nil {
				return err
			}
		}
	}

	return nil
}

// Stop implements core.Stopper. Pending timers are cancelled; grants stay
// persisted for the next start's recovery pass.
func (m *Module) Stop(ctx context.Context) error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown(ctx)
}

// ParseDuration interprets raw command input, falling back to the
// configured default duration.
func (m *Module) ParseDuration(raw string) time.Duration {
	return m.parser.Parse(raw)
}

// CreateGrant delegates to the scheduler.
func (m *Module) CreateGrant(ctx context.Context, scopeID, subjectID string, d time.Duration) (CreateResult, error) {
	if m.scheduler == nil {
		return CreateResult{}, ErrNotStarted
	}
	return m.scheduler.CreateGrant(ctx, scopeID, subjectID, d)
}

// EarlyRelease delegates to the scheduler.
func (m *Module) EarlyRelease(ctx context.Context, scopeID, subjectID string) (RestoreResult, error) {
	if m.scheduler == nil {
		return RestoreResult{}, ErrNotStarted
	}
	return m.scheduler.EarlyRelease(ctx, scopeID, subjectID)
}

// Override delegates to the scheduler.
func (m *Module) Override(ctx context.Context, actorID, scopeID, subjectID string) (RestoreResult, error) {
	if m.scheduler == nil {
		return RestoreResult{}, ErrNotStarted
	}
	return m.scheduler.Override(ctx, actorID, scopeID, subjectID)
}

// ListGrants returns all active grants from the store.
func (m *Module) ListGrants(ctx context.Context) ([]grant.Grant, error) {
	if m.scheduler == nil {
		return nil, ErrNotStarted
	}
	return m.scheduler.store.List(ctx)
}

// resolveAs fetches a service and type-asserts it, returning false if the
// service is missing or has an unexpected type.
func resolveAs[T any](ctx *core.AppContext, name string) (T, bool) {
	var zero T
	svc, ok := ctx.Service(name)
	if !ok {
		return zero, false
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// sweepJob is the periodic reconciliation net behind the one-shot timers.
type sweepJob struct {
	scheduler *Scheduler
	schedule  string
	logger    *slog.Logger
}

var _ cron.Job = (*sweepJob)(nil)

// Name implements cron.Job.
func (j *sweepJob) Name() string { return "grant_deadline_sweep" }

// Schedule implements cron.Job.
func (j *sweepJob) Schedule() string { return j.schedule }

// Run releases every grant whose deadline has passed.
func (j *sweepJob) Run(ctx context.Context) error {
	released, err := j.scheduler.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if released > 0 {
		j.logger.Info("deadline sweep released overdue grants", "count", released)
	}
	return nil
}
