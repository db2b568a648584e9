package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"tradeline/internal/board"
	"tradeline/internal/config"
	"tradeline/internal/db"
	"tradeline/internal/engine"
	"tradeline/internal/logging"
	"tradeline/internal/metrics"
	"tradeline/internal/migrate"
	"tradeline/internal/notify"
	"tradeline/internal/storage"
)

// Context is a fully wired workspace: database, engine and its collaborators.
type Context struct {
	Workspace string
	Env       config.Env
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Board     *board.Board
	Hub       *notify.Hub
	Logger    *zap.Logger
}

// Open loads .env and marketplace.yml from workspace, migrates the database and wires
// the engine. The engine's notifier invalidates the board before fanning out to the hub,
// so a subscriber that re-reads the board never sees a stale view.
func Open(ctx context.Context, workspace string) (*Context, error) {
	if err := config.LoadDotEnv(workspace); err != nil {
		return nil, err
	}
	env, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(env.LogLevel, env.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dbCfg := db.Config{Workspace: workspace, Path: env.DB.Path, BusyTimeout: env.DB.BusyTimeout}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	dataDir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	store, err := storage.New(ctx, env.Storage, dataDir)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Metrics = metrics.New()
	e.Storage = store
	b, err := board.New(e.Repo, board.DefaultSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	hub := notify.NewHub()
	e.Notifier = notify.Multi{b, hub}
	logger.Debug("workspace opened",
		zap.String("workspace", workspace),
		zap.String("db", dbCfg.File()),
		zap.String("storage", env.Storage.Provider))
	return &Context{
		Workspace: workspace,
		Env:       env,
		Config:    cfg,
		DB:        conn,
		Engine:    e,
		Board:     b,
		Hub:       hub,
		Logger:    logger,
	}, nil
}

func (c *Context) Close() error {
	_ = c.Logger.Sync()
	return c.DB.Close()
}
