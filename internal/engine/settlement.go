package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeline/internal/domain"
	"tradeline/internal/journal"
	"tradeline/internal/repo"
)

type ReviewInput struct {
	ProjectID string
	ClientID  string
	Rating    int
	Comment   string
}

func (e Engine) ratingBounds() (int, int) {
	r := e.config().Settlement.Rating
	lo, hi := r.Min, r.Max
	if lo <= 0 {
		lo = 1
	}
	if hi < lo {
		hi = 5
	}
	return lo, hi
}

// SubmitReview records the client's single review of a completed project and archives it.
func (e Engine) SubmitReview(ctx context.Context, in ReviewInput) (rv domain.Review, err error) {
	const op = "submit_review"
	defer e.observe(op, time.Now(), &err)
	if lo, hi := e.ratingBounds(); in.Rating < lo || in.Rating > hi {
		return domain.Review{}, invalidInput(op, "rating must be between %d and %d, got %d", lo, hi, in.Rating)
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return domain.Review{}, wrapLookup(op, "project", in.ProjectID, err)
	}
	if p.ClientID != in.ClientID {
		return domain.Review{}, notOwner(op, p, in.ClientID)
	}
	existing, err := e.Repo.GetReviewByProjectTx(ctx, tx, p.ID)
	if err == nil {
		return domain.Review{}, &Error{Kind: ErrReviewAlreadyExists, Op: op, Entity: "review", ID: existing.ID, Status: string(p.Status)}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Review{}, wrap(op, err)
	}
	if p.Status != domain.StatusCompleted && p.Status != domain.StatusPaid {
		return domain.Review{}, &Error{Kind: ErrProjectNotCompleted, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	rv = domain.Review{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		ClientID:       in.ClientID,
		ProfessionalID: deref(p.AssignedTo),
		Rating:         in.Rating,
		Comment:        strings.TrimSpace(in.Comment),
		CreatedAt:      e.stamp(),
	}
	if err := e.Repo.InsertReview(ctx, tx, rv); err != nil {
		if isUniqueViolation(err) {
			return domain.Review{}, &Error{Kind: ErrReviewAlreadyExists, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status), Err: err}
		}
		return domain.Review{}, wrap(op, err)
	}
	if err := e.record(ctx, tx, "review.submitted", p.ID, journal.KindReview, rv.ID, in.ClientID, journal.Payload{
		"rating":          rv.Rating,
		"professional_id": rv.ProfessionalID,
	}); err != nil {
		return domain.Review{}, wrap(op, err)
	}
	_, tr, err := e.transition(ctx, tx, op, p, domain.StatusArchived, nil, in.ClientID, "review submitted")
	if err != nil {
		return domain.Review{}, err
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Review{}, err
	}
	e.applied(op, tr)
	e.notify(p.ID)
	return rv, nil
}

func (e Engine) GetReview(ctx context.Context, projectID string) (domain.Review, error) {
	rv, err := e.Repo.GetReviewByProject(ctx, projectID)
	if err != nil {
		return domain.Review{}, wrapLookup("get_review", "review", projectID, err)
	}
	return rv, nil
}

// ListReviews returns the reviews a professional has received, newest first.
func (e Engine) ListReviews(ctx context.Context, professionalID string) ([]domain.Review, error) {
	if strings.TrimSpace(professionalID) == "" {
		return nil, invalidInput("list_reviews", "professional_id required")
	}
	reviews, err := e.Repo.ListReviewsByProfessional(ctx, professionalID)
	if err != nil {
		return nil, wrap("list_reviews", err)
	}
	return reviews, nil
}

type PaymentInput struct {
	ProjectID string
	ClientID  string
	Amount    domain.Money
}

// CreatePayment opens a pending payment from the client to the assigned professional.
func (e Engine) CreatePayment(ctx context.Context, in PaymentInput) (pay domain.Payment, err error) {
	const op = "create_payment"
	defer e.observe(op, time.Now(), &err)
	if !in.Amount.Positive() {
		return domain.Payment{}, invalidInput(op, "amount must be positive, got %s", in.Amount)
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return domain.Payment{}, wrapLookup(op, "project", in.ProjectID, err)
	}
	if p.ClientID != in.ClientID {
		return domain.Payment{}, notOwner(op, p, in.ClientID)
	}
	if p.AssignedTo == nil {
		return domain.Payment{}, &Error{Kind: ErrProjectNotActionable, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status), Msg: "project has no assigned professional"}
	}
	now := e.stamp()
	pay = domain.Payment{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		ClientID:       p.ClientID,
		ProfessionalID: *p.AssignedTo,
		Amount:         in.Amount,
		Status:         domain.PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertPayment(ctx, tx, pay); err != nil {
		return domain.Payment{}, wrap(op, err)
	}
	if err := e.record(ctx, tx, "payment.created", p.ID, journal.KindPayment, pay.ID, in.ClientID, journal.Payload{
		"amount": pay.Amount.String(),
	}); err != nil {
		return domain.Payment{}, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Payment{}, err
	}
	e.notify(p.ID)
	return pay, nil
}

// MarkPaymentComplete settles a pending payment. The project must have reached completed;
// a completed project moves to paid.
func (e Engine) MarkPaymentComplete(ctx context.Context, paymentID, actorID string) (pay domain.Payment, err error) {
	const op = "mark_payment_complete"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	pay, err = e.Repo.GetPaymentTx(ctx, tx, paymentID)
	if err != nil {
		return domain.Payment{}, wrapLookup(op, "payment", paymentID, err)
	}
	if pay.Status == domain.PaymentCompleted {
		return pay, nil
	}
	if pay.Status != domain.PaymentPending {
		return pay, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "payment", ID: pay.ID, Status: string(pay.Status),
			Edge: string(pay.Status) + "->" + string(domain.PaymentCompleted)}
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, pay.ProjectID)
	if err != nil {
		return pay, wrapLookup(op, "project", pay.ProjectID, err)
	}
	if p.Status.Rank() < domain.StatusCompleted.Rank() {
		return pay, &Error{Kind: ErrProjectNotCompleted, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	now := e.stamp()
	ok, err := e.Repo.CompareAndSetPaymentStatus(ctx, tx, pay.ID, domain.PaymentPending, domain.PaymentCompleted, now)
	if err != nil {
		return pay, wrap(op, err)
	}
	if !ok {
		return pay, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "payment", ID: pay.ID, Msg: "status changed concurrently"}
	}
	if err := e.record(ctx, tx, "payment.completed", p.ID, journal.KindPayment, pay.ID, actorID, journal.Payload{
		"amount": pay.Amount.String(),
	}); err != nil {
		return pay, wrap(op, err)
	}
	var tr *transitioned
	if p.Status == domain.StatusCompleted {
		if _, tr, err = e.transition(ctx, tx, op, p, domain.StatusPaid, nil, actorID, "payment completed"); err != nil {
			return pay, err
		}
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Payment{}, err
	}
	pay.Status = domain.PaymentCompleted
	pay.UpdatedAt = now
	e.applied(op, tr)
	e.notify(p.ID)
	return pay, nil
}

// MarkPaymentFailed records that a pending payment did not settle. The project is untouched.
func (e Engine) MarkPaymentFailed(ctx context.Context, paymentID, actorID, reason string) (pay domain.Payment, err error) {
	const op = "mark_payment_failed"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Payment{}, err
	}
	defer tx.Rollback()

	pay, err = e.Repo.GetPaymentTx(ctx, tx, paymentID)
	if err != nil {
		return domain.Payment{}, wrapLookup(op, "payment", paymentID, err)
	}
	if pay.Status == domain.PaymentFailed {
		return pay, nil
	}
	if pay.Status != domain.PaymentPending {
		return pay, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "payment", ID: pay.ID, Status: string(pay.Status),
			Edge: string(pay.Status) + "->" + string(domain.PaymentFailed)}
	}
	now := e.stamp()
	ok, err := e.Repo.CompareAndSetPaymentStatus(ctx, tx, pay.ID, domain.PaymentPending, domain.PaymentFailed, now)
	if err != nil {
		return pay, wrap(op, err)
	}
	if !ok {
		return pay, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "payment", ID: pay.ID, Msg: "status changed concurrently"}
	}
	if err := e.record(ctx, tx, "payment.failed", pay.ProjectID, journal.KindPayment, pay.ID, actorID, journal.Payload{
		"reason": reason,
	}); err != nil {
		return pay, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Payment{}, err
	}
	pay.Status = domain.PaymentFailed
	pay.UpdatedAt = now
	e.notify(pay.ProjectID)
	return pay, nil
}

func (e Engine) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	pay, err := e.Repo.GetPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, wrapLookup("get_payment", "payment", id, err)
	}
	return pay, nil
}

func (e Engine) ListPayments(ctx context.Context, projectID string) ([]domain.Payment, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, wrapLookup("list_payments", "project", projectID, err)
	}
	items, err := e.Repo.ListPayments(ctx, projectID)
	if err != nil {
		return nil, wrap("list_payments", err)
	}
	return items, nil
}

// JournalFilter selects audit entries. Before pages backwards from an entry ID.
type JournalFilter struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Before     int64
}

func (e Engine) ListJournal(ctx context.Context, f JournalFilter) ([]domain.JournalEntry, error) {
	if f.Limit <= 0 {
		f.Limit = e.config().PageSize()
	}
	items, err := e.Repo.LatestJournalFrom(ctx, f.Limit, f.Before, f.ProjectID, f.Type, f.EntityKind, f.EntityID)
	if err != nil {
		return nil, wrap("list_journal", err)
	}
	return items, nil
}
