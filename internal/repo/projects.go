package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tradeline/internal/domain"
)

const projectColumns = `id,client_id,title,COALESCE(description,''),budget_cents,COALESCE(category,''),COALESCE(location,''),required_skills_json,requirements_json,COALESCE(timeline,''),COALESCE(urgency,''),status,assigned_to,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	var skills, reqs, assigned sql.NullString
	var status string
	err := s.Scan(&p.ID, &p.ClientID, &p.Title, &p.Description, &p.Budget, &p.Category, &p.Location,
		&skills, &reqs, &p.Timeline, &p.Urgency, &status, &assigned, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.ProjectStatus(status)
	if assigned.Valid {
		p.AssignedTo = &assigned.String
	}
	if p.RequiredSkills, err = unmarshalStrings(skills); err != nil {
		return p, err
	}
	if p.Requirements, err = unmarshalStrings(reqs); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	skills, err := marshalStrings(p.RequiredSkills)
	if err != nil {
		return err
	}
	reqs, err := marshalStrings(p.Requirements)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,client_id,title,description,budget_cents,category,location,required_skills_json,requirements_json,timeline,urgency,status,assigned_to,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ClientID, p.Title, nullable(p.Description), int64(p.Budget), nullable(p.Category), nullable(p.Location),
		skills, reqs, nullable(p.Timeline), nullable(p.Urgency), string(p.Status), nullableStringPtr(p.AssignedTo), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	Status     string
	ClientID   string
	AssignedTo string
	Category   string
	Limit      int
	CursorTS   string
	CursorID   string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.CursorTS != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorTS, f.CursorTS, f.CursorID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CompareAndSetStatus moves a project from one status to another only if it is still in from.
// It reports whether the row was updated.
func (r Repo) CompareAndSetStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProjectStatus, assignedTo *string, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET status=?, assigned_to=?, updated_at=? WHERE id=? AND status=?`,
		string(to), nullableStringPtr(assignedTo), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	return n == 1, err
}
