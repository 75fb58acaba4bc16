// Package gateway provides an HTTP server for administration and
// monitoring of the grant engine. It binds to loopback by default and
// follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/cooldownd/internal/core"
	"github.com/flemzord/cooldownd/internal/engine"
	"github.com/flemzord/cooldownd/internal/grant"
	"github.com/flemzord/cooldownd/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Engine is the subset of the grant engine the admin API drives.
type Engine interface {
	ParseDuration(raw string) time.Duration
	CreateGrant(ctx context.Context, scopeID, subjectID string, d time.Duration) (engine.CreateResult, error)
	Override(ctx context.Context, actorID, scopeID, subjectID string) (engine.RestoreResult, error)
	ListGrants(ctx context.Context) ([]grant.Grant, error)
}

// Gateway is the HTTP gateway module. It exposes health, metrics, and
// grant administration endpoints. It is a leaf module, nothing imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	registry  *prometheus.Registry
	audit     *security.AuditLogger
	limiter   *security.RateLimiter
	auditFile *os.File
	startedAt time.Time

	// Resolved lazily at Start() via service registry.
	engine Engine
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.registry = prometheus.NewRegistry()
	g.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	g.limiter = security.NewRateLimiter(g.config.RateLimit)
	if ctx.Redactor != nil {
		ctx.Redactor.AddLiteral(g.config.Auth.BearerToken)
		ctx.Redactor.AddLiteral(g.config.Auth.BasicPass)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves the engine from the service
// registry, opens the audit log, and starts the HTTP server.
func (g *Gateway) Start() error {
	if svc, ok := g.appCtx.Service("engine"); ok {
		if eng, ok := svc.(Engine); ok {
			g.engine = eng
		}
	}
	if svc, ok := g.appCtx.Service("engine.metrics"); ok {
		if m, ok := svc.(*engine.Metrics); ok {
			if err := m.Register(g.registry); err != nil {
				return errors.New("gateway: register engine metrics: " + err.Error())
			}
		}
	}

	if err := g.openAuditLog(); err != nil {
		return err
	}

	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	err := g.server.Shutdown(shutdownCtx)
	if g.auditFile != nil {
		_ = g.auditFile.Close()
	}
	return err
}

// openAuditLog builds the audit logger. Without a configured path, events
// are dropped (the logger stays non-nil so handlers need no nil checks).
func (g *Gateway) openAuditLog() error {
	cfg := security.AuditLoggerConfig{Redactor: g.appCtx.Redactor}
	if g.config.AuditLog != "" {
		path := g.config.AuditLog
		if !filepath.IsAbs(path) {
			path = filepath.Join(g.appCtx.DataDir, path)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return errors.New("gateway: open audit log: " + err.Error())
		}
		g.auditFile = f
		cfg.Writer = f
	}
	g.audit = security.NewAuditLogger(cfg)
	return nil
}
