package repo

import (
	"context"
	"database/sql"
	"errors"

	"tradeline/internal/domain"
)

func (r Repo) InsertReview(ctx context.Context, tx *sql.Tx, rv domain.Review) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO reviews(id,project_id,client_id,professional_id,rating,comment,created_at) VALUES (?,?,?,?,?,?,?)`,
		rv.ID, rv.ProjectID, rv.ClientID, rv.ProfessionalID, rv.Rating, nullable(rv.Comment), rv.CreatedAt)
	return err
}

func (r Repo) GetReviewByProject(ctx context.Context, projectID string) (domain.Review, error) {
	return r.GetReviewByProjectTx(ctx, nil, projectID)
}

func (r Repo) GetReviewByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.Review, error) {
	var rv domain.Review
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,client_id,professional_id,rating,COALESCE(comment,''),created_at FROM reviews WHERE project_id=?`, projectID).
		Scan(&rv.ID, &rv.ProjectID, &rv.ClientID, &rv.ProfessionalID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rv, ErrNotFound
	}
	return rv, err
}

// ListReviewsByProfessional returns reviews received by a professional, newest first.
func (r Repo) ListReviewsByProfessional(ctx context.Context, professionalID string) ([]domain.Review, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,client_id,professional_id,rating,COALESCE(comment,''),created_at FROM reviews WHERE professional_id=? ORDER BY created_at DESC`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Review
	for rows.Next() {
		var rv domain.Review
		if err := rows.Scan(&rv.ID, &rv.ProjectID, &rv.ClientID, &rv.ProfessionalID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

const paymentColumns = `id,project_id,client_id,professional_id,amount_cents,status,created_at,updated_at`

func scanPayment(s scanner) (domain.Payment, error) {
	var p domain.Payment
	var status string
	err := s.Scan(&p.ID, &p.ProjectID, &p.ClientID, &p.ProfessionalID, &p.Amount, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.Status = domain.PaymentStatus(status)
	return p, err
}

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO payments(id,project_id,client_id,professional_id,amount_cents,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.ProjectID, p.ClientID, p.ProfessionalID, int64(p.Amount), string(p.Status), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return r.GetPaymentTx(ctx, nil, id)
}

func (r Repo) GetPaymentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Payment, error) {
	return scanPayment(r.q(tx).QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id))
}

func (r Repo) ListPayments(ctx context.Context, projectID string) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CompareAndSetPaymentStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.PaymentStatus, updatedAt string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE payments SET status=?, updated_at=? WHERE id=? AND status=?`, string(to), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	return n == 1, err
}
