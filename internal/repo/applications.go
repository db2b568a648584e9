package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tradeline/internal/domain"
)

const applicationColumns = `id,project_id,professional_id,bid_cents,COALESCE(proposal,''),COALESCE(availability,''),status,created_at,updated_at`

func scanApplication(s scanner) (domain.Application, error) {
	var a domain.Application
	var status string
	err := s.Scan(&a.ID, &a.ProjectID, &a.ProfessionalID, &a.Bid, &a.Proposal, &a.Availability, &status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.Status = domain.ApplicationStatus(status)
	return a, err
}

func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO applications(id,project_id,professional_id,bid_cents,proposal,availability,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.ProfessionalID, int64(a.Bid), nullable(a.Proposal), nullable(a.Availability), string(a.Status), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	return r.GetApplicationTx(ctx, nil, id)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	return scanApplication(r.q(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id))
}

// LiveApplicationTx returns the professional's non-withdrawn application on a project.
func (r Repo) LiveApplicationTx(ctx context.Context, tx *sql.Tx, projectID, professionalID string) (domain.Application, error) {
	return scanApplication(r.q(tx).QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE project_id=? AND professional_id=? AND status<>'withdrawn' LIMIT 1`,
		projectID, professionalID))
}

type ApplicationFilters struct {
	ProjectID      string
	ProfessionalID string
	Status         string
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.Application, error) {
	return r.ListApplicationsTx(ctx, nil, f)
}

func (r Repo) ListApplicationsTx(ctx context.Context, tx *sql.Tx, f ApplicationFilters) ([]domain.Application, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.ProfessionalID != "" {
		clauses = append(clauses, "professional_id=?")
		args = append(args, f.ProfessionalID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountApplicationsByStatusTx returns per-status application counts for a project.
func (r Repo) CountApplicationsByStatusTx(ctx context.Context, tx *sql.Tx, projectID string) (map[domain.ApplicationStatus]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT status, COUNT(*) FROM applications WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.ApplicationStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.ApplicationStatus(status)] = n
	}
	return res, rows.Err()
}

// CompareAndSetApplicationStatus updates an application only while it is still in from.
func (r Repo) CompareAndSetApplicationStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ApplicationStatus, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE applications SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	return n == 1, err
}
