package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tradeline/internal/domain"
)

const eventColumns = `seq,id,project_id,COALESCE(author_id,''),update_type,category,COALESCE(message,''),COALESCE(attachment_ref,''),metadata_json,created_at`

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var category string
	var meta sql.NullString
	err := s.Scan(&e.Seq, &e.ID, &e.ProjectID, &e.AuthorID, &e.UpdateType, &category, &e.Message, &e.AttachmentRef, &meta, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Category = domain.Category(category)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode event %s metadata: %w", e.ID, err)
		}
	}
	return e, nil
}

// InsertEvent appends a ledger event and returns its insertion sequence.
func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e domain.Event) (int64, error) {
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal event metadata: %w", err)
		}
		meta = string(b)
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO project_events(id,project_id,author_id,update_type,category,message,attachment_ref,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, nullable(e.AuthorID), e.UpdateType, string(e.Category), nullable(e.Message), nullable(e.AttachmentRef), meta, e.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestEventTSTx returns the newest created_at for a project's ledger, or "" if empty.
func (r Repo) LatestEventTSTx(ctx context.Context, tx *sql.Tx, projectID string) (string, error) {
	var ts sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(created_at) FROM project_events WHERE project_id=?`, projectID).Scan(&ts)
	if err != nil {
		return "", err
	}
	return ts.String, nil
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM project_events WHERE id=?`, id))
}

type EventFilters struct {
	ProjectID  string
	UpdateType string
	// Query is a case-insensitive substring matched against message, update type and category.
	Query     string
	Limit     int
	CursorTS  string
	CursorSeq int64
}

// ListEvents returns one page of ledger events, newest first.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	return r.ListEventsTx(ctx, nil, f)
}

func (r Repo) ListEventsTx(ctx context.Context, tx *sql.Tx, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.UpdateType != "" {
		clauses = append(clauses, "update_type=?")
		args = append(args, f.UpdateType)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, "(instr(lower(COALESCE(message,'')), lower(?)) > 0 OR instr(lower(update_type), lower(?)) > 0 OR instr(lower(category), lower(?)) > 0)")
		args = append(args, q, q, q)
	}
	if f.CursorTS != "" && f.CursorSeq > 0 {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND seq < ?))")
		args = append(args, f.CursorTS, f.CursorTS, f.CursorSeq)
	}
	query := `SELECT ` + eventColumns + ` FROM project_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountEventsTx counts a project's ledger events of the given category; empty category counts all.
func (r Repo) CountEventsTx(ctx context.Context, tx *sql.Tx, projectID string, category domain.Category) (int, error) {
	query := `SELECT COUNT(*) FROM project_events WHERE project_id=?`
	args := []any{projectID}
	if category != "" {
		query += ` AND category=?`
		args = append(args, string(category))
	}
	var n int
	err := r.q(tx).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
