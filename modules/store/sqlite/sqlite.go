// Package sqlite provides the SQLite-backed durable grant store module.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/cooldownd/internal/core"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module wires the grant store into the module system and registers it as
// the "grant.store" service.
type Module struct {
	config Config
	logger *slog.Logger
	store  *GrantStore
	db     *sql.DB
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The database is opened here, not
// in Start(), so the engine can rely on the store during its own Start().
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	path := m.config.Path
	if path == "" {
		path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	store, db, err := OpenGrantStore(path, m.config.BusyTimeout, m.logger)
	if err != nil {
		return err
	}
	m.store = store
	m.db = db

	m.logger.Info("grant store opened", "path", path, "grants", store.Len())
	ctx.RegisterService("grant.store", store)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
