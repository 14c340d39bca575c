// Package app opens a workspace and wires its collaborators into an Engine.
package app

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"rideline/internal/address"
	"rideline/internal/config"
	"rideline/internal/db"
	"rideline/internal/engine"
	"rideline/internal/events"
	"rideline/internal/gateway"
	"rideline/internal/logger"
	"rideline/internal/metrics"
	"rideline/internal/migrate"
	"rideline/internal/repo"
)

// App holds an opened workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Engine    engine.Engine
	Logger    logger.Logger
	Metrics   *metrics.Sink
}

// Options adjust how a workspace is opened.
type Options struct {
	// Configure runs after the config file is loaded and before validation,
	// so flags and environment can override file values.
	Configure func(*config.Config)
	// Memory keeps drafts and snapshots in process instead of SQLite.
	Memory bool
}

// Open loads the workspace config (defaults when absent), migrates the local
// store and connects the address source and request gateway.
func Open(workspace string, opts Options) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if opts.Configure != nil {
		opts.Configure(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log := logger.New("rideline", logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	sink, err := metrics.NewSink()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	addrs, err := addressSource(workspace, cfg)
	if err != nil {
		return nil, err
	}
	gw := requestGateway(cfg)

	a := &App{Workspace: workspace, Config: cfg, Logger: log, Metrics: sink}
	var (
		store repo.Store
		evlog engine.EventLog
	)
	if opts.Memory {
		store = repo.NewMemory()
	} else {
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.DB = conn
		a.Repo = repo.Repo{DB: conn, Events: events.Writer{}}
		store, evlog = a.Repo, a.Repo
	}
	eng := engine.New(store, evlog, addrs, gw, cfg)
	eng.Logger = log
	eng.Metrics = sink
	a.Engine = eng
	log.Debugf("workspace %s opened (gateway=%s addresses=%s)", workspace, cfg.Gateway.Mode, cfg.Addresses.Source)
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func addressSource(workspace string, cfg *config.Config) (address.Source, error) {
	switch cfg.Addresses.Source {
	case "http":
		return address.NewClient(cfg.Addresses.BaseURL, cfg.GatewayTimeout()), nil
	default:
		path := cfg.Addresses.DirectoryFile
		if !filepath.IsAbs(path) {
			if workspace == "" {
				workspace = "."
			}
			path = filepath.Join(workspace, path)
		}
		return address.LoadDirectory(path)
	}
}

func requestGateway(cfg *config.Config) gateway.Gateway {
	if cfg.Gateway.Mode == "memory" {
		return gateway.NewMemory()
	}
	return gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.BearerToken, cfg.GatewayTimeout())
}
