// Package app wires the brain's subsystems from a workspace directory.
package app

import (
	"context"
	"database/sql"
	"path/filepath"

	"go.uber.org/zap"

	"socialbrain/internal/activity"
	"socialbrain/internal/browser"
	"socialbrain/internal/budget"
	"socialbrain/internal/config"
	"socialbrain/internal/db"
	"socialbrain/internal/migrate"
	"socialbrain/internal/proof"
	"socialbrain/internal/registry"
)

// App holds every wired subsystem. Build one with Open, release with Close.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Log      *zap.Logger
	Journal  *activity.Journal
	Registry registry.Registry
	Ledger   budget.Ledger
	Proof    *proof.Generator
	Adapter  *browser.Adapter
}

// Open loads config from the workspace, opens and migrates the database, and
// wires the subsystems. The caller owns Close.
func Open(workspace string, log *zap.Logger) (*App, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	rates, err := budget.BuildRateTable(cfg.Budget.Rates)
	if err != nil {
		conn.Close()
		return nil, err
	}

	dataDir := filepath.Join(workspace, ".socialbrain")
	journal := activity.New(filepath.Join(dataDir, "activity"), log)
	return &App{
		Config:   cfg,
		DB:       conn,
		Log:      log,
		Journal:  journal,
		Registry: registry.New(conn, journal, log),
		Ledger:   budget.New(conn, rates, cfg.Budget.MissionLimitUSD, log),
		Proof:    proof.New(filepath.Join(dataDir, "proof"), cfg.Companion.URL, log),
		Adapter:  browser.New(cfg.Companion.URL, log),
	}, nil
}

// Startup runs the crash-recovery and housekeeping pass: orphaned missions
// are failed, and old activity and proof data is pruned. Run once before
// accepting new work.
func (a *App) Startup(ctx context.Context) error {
	if _, err := a.Registry.FailZombies(ctx); err != nil {
		return err
	}
	if _, err := a.Journal.Prune(); err != nil {
		a.Log.Warn("activity prune failed", zap.Error(err))
	}
	if _, _, err := a.Proof.PruneOldProofs(); err != nil {
		a.Log.Warn("proof prune failed", zap.Error(err))
	}
	return nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
