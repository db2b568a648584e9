package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"tradeline/internal/config"
	"tradeline/internal/domain"
	"tradeline/internal/engine/auth"
	"tradeline/internal/journal"
	"tradeline/internal/logging"
	"tradeline/internal/metrics"
	"tradeline/internal/repo"
	"tradeline/internal/storage"
)

// Notifier is told, after commit, which project changed.
type Notifier interface {
	Notify(projectID string)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Journal  journal.Writer
	Auth     auth.Service
	Config   *config.Config
	Now      func() time.Time
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *metrics.Recorder
	Storage  storage.Store
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Journal: journal.Writer{},
		Auth:    auth.Service{Repo: r},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, entryType, projectID, entityKind, entityID, actorID string, payload journal.Payload) error {
	w := e.Journal
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, entryType, projectID, entityKind, entityID, actorID, payload)
}

func (e Engine) ensureActor(ctx context.Context, tx *sql.Tx, id string, role domain.Role) error {
	s := e.Auth
	if s.Now == nil {
		s.Now = e.now
	}
	s.Repo = e.Repo
	return s.EnsureActor(ctx, tx, domain.Actor{ID: id, Role: role})
}

func (e Engine) notify(projectID string) {
	if e.Notifier != nil {
		e.Notifier.Notify(projectID)
	}
}

// observe records latency and, for failures, the error kind. Use with a named error result:
//
//	defer e.observe("accept_application", time.Now(), &err)
func (e Engine) observe(op string, start time.Time, err *error) {
	e.Metrics.Observe(op, start)
	if err == nil || *err == nil {
		return
	}
	kind := KindOf(*err)
	e.Metrics.Error(op, string(kind))
	if kind == ErrTransientFailure {
		e.log().Error("operation failed", zap.String("op", op), zap.Error(*err))
		return
	}
	e.log().Debug("operation rejected", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(*err))
}

func (e Engine) begin(ctx context.Context, op string) (*sql.Tx, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	return tx, nil
}

func (e Engine) commit(op string, tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return wrap(op, err)
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
