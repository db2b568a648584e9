package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeline/internal/domain"
	"tradeline/internal/journal"
	"tradeline/internal/repo"
)

// ApplicationDraft is a professional's bid. A zero Bid defaults to the project budget.
type ApplicationDraft struct {
	ProjectID      string
	ProfessionalID string
	Bid            domain.Money
	Proposal       string
	Availability   string
}

func (e Engine) SubmitApplication(ctx context.Context, d ApplicationDraft) (a domain.Application, err error) {
	const op = "submit_application"
	defer e.observe(op, time.Now(), &err)
	if strings.TrimSpace(d.ProfessionalID) == "" {
		return domain.Application{}, invalidInput(op, "professional is required")
	}
	if d.Bid < 0 {
		return domain.Application{}, invalidInput(op, "bid must be positive, got %s", d.Bid)
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, d.ProjectID)
	if err != nil {
		return domain.Application{}, wrapLookup(op, "project", d.ProjectID, err)
	}
	if p.Status != domain.StatusOpen {
		return domain.Application{}, &Error{Kind: ErrProjectNotOpen, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	if d.ProfessionalID == p.ClientID {
		return domain.Application{}, invalidInput(op, "client %s cannot bid on their own project", p.ClientID)
	}
	existing, err := e.Repo.LiveApplicationTx(ctx, tx, p.ID, d.ProfessionalID)
	if err == nil {
		return domain.Application{}, &Error{Kind: ErrDuplicateApplication, Op: op, Entity: "application", ID: existing.ID, Status: string(existing.Status)}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Application{}, wrap(op, err)
	}
	bid := d.Bid
	if bid == 0 {
		bid = p.Budget
	}
	now := e.stamp()
	a = domain.Application{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		ProfessionalID: d.ProfessionalID,
		Bid:            bid,
		Proposal:       d.Proposal,
		Availability:   d.Availability,
		Status:         domain.ApplicationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.ensureActor(ctx, tx, d.ProfessionalID, domain.RoleProfessional); err != nil {
		return domain.Application{}, wrap(op, err)
	}
	if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
		if isUniqueViolation(err) {
			return domain.Application{}, &Error{Kind: ErrDuplicateApplication, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status), Err: err}
		}
		return domain.Application{}, wrap(op, err)
	}
	if err := e.record(ctx, tx, "application.submitted", p.ID, journal.KindApplication, a.ID, d.ProfessionalID, journal.Payload{
		"bid": a.Bid.String(),
	}); err != nil {
		return domain.Application{}, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Application{}, err
	}
	e.Metrics.Decision(string(a.Status))
	e.notify(p.ID)
	return a, nil
}

// AcceptApplication accepts one pending bid and assigns its professional in the same
// transaction. When two accepts race on a project, the loser sees ProjectNotOpen.
func (e Engine) AcceptApplication(ctx context.Context, applicationID, clientID string) (a domain.Application, err error) {
	const op = "accept_application"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	a, p, err := e.loadApplication(ctx, tx, op, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if p.ClientID != clientID {
		return a, notOwner(op, p, clientID)
	}
	if a.Status == domain.ApplicationAccepted && deref(p.AssignedTo) == a.ProfessionalID {
		return a, nil
	}
	if a.Status != domain.ApplicationPending {
		return a, &Error{Kind: ErrApplicationNotPending, Op: op, Entity: "application", ID: a.ID, Status: string(a.Status)}
	}
	if p.Status != domain.StatusOpen {
		return a, &Error{Kind: ErrProjectNotOpen, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	now := e.stamp()
	ok, err := e.Repo.CompareAndSetApplicationStatus(ctx, tx, a.ID, domain.ApplicationPending, domain.ApplicationAccepted, now)
	if err != nil {
		if isUniqueViolation(err) {
			return a, &Error{Kind: ErrProjectNotOpen, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status), Err: err}
		}
		return a, wrap(op, err)
	}
	if !ok {
		return a, &Error{Kind: ErrApplicationNotPending, Op: op, Entity: "application", ID: a.ID, Msg: "status changed concurrently"}
	}
	_, tr, err := e.transition(ctx, tx, op, p, domain.StatusAssigned, strPtr(a.ProfessionalID), clientID, "application accepted")
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			var te *Error
			errors.As(err, &te)
			return a, &Error{Kind: ErrProjectNotOpen, Op: op, Entity: "project", ID: p.ID, Status: te.Status, Err: err}
		}
		return a, err
	}
	if err := e.record(ctx, tx, "application.accepted", p.ID, journal.KindApplication, a.ID, clientID, journal.Payload{
		"professional_id": a.ProfessionalID,
		"bid":             a.Bid.String(),
	}); err != nil {
		return a, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Application{}, err
	}
	a.Status = domain.ApplicationAccepted
	a.UpdatedAt = now
	e.Metrics.Decision(string(a.Status))
	e.applied(op, tr)
	e.notify(p.ID)
	return a, nil
}

// RejectApplication rejects a pending bid. Once the project has left open the bid is
// moot and rejecting it is a no-op.
func (e Engine) RejectApplication(ctx context.Context, applicationID, clientID string) (a domain.Application, err error) {
	const op = "reject_application"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	a, p, err := e.loadApplication(ctx, tx, op, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if p.ClientID != clientID {
		return a, notOwner(op, p, clientID)
	}
	if p.Status != domain.StatusOpen || a.Status == domain.ApplicationRejected {
		return a, nil
	}
	if a.Status != domain.ApplicationPending {
		return a, &Error{Kind: ErrApplicationNotPending, Op: op, Entity: "application", ID: a.ID, Status: string(a.Status)}
	}
	return e.resolveApplication(ctx, tx, op, a, domain.ApplicationRejected, clientID)
}

// WithdrawApplication lets a professional pull their own pending bid.
func (e Engine) WithdrawApplication(ctx context.Context, applicationID, professionalID string) (a domain.Application, err error) {
	const op = "withdraw_application"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	a, p, err := e.loadApplication(ctx, tx, op, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if a.ProfessionalID != professionalID {
		return a, &Error{Kind: ErrNotProjectOwner, Op: op, Entity: "application", ID: a.ID, Status: string(a.Status),
			Msg: fmt.Sprintf("%s did not submit this application", professionalID)}
	}
	if a.Status == domain.ApplicationWithdrawn {
		return a, nil
	}
	if a.Status != domain.ApplicationPending {
		return a, &Error{Kind: ErrApplicationNotPending, Op: op, Entity: "application", ID: a.ID, Status: string(a.Status)}
	}
	if p.Status.Terminal() {
		return a, &Error{Kind: ErrProjectNotOpen, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	return e.resolveApplication(ctx, tx, op, a, domain.ApplicationWithdrawn, professionalID)
}

// resolveApplication moves a pending application to a final status and commits tx.
func (e Engine) resolveApplication(ctx context.Context, tx *sql.Tx, op string, a domain.Application, to domain.ApplicationStatus, actorID string) (domain.Application, error) {
	now := e.stamp()
	ok, err := e.Repo.CompareAndSetApplicationStatus(ctx, tx, a.ID, domain.ApplicationPending, to, now)
	if err != nil {
		return a, wrap(op, err)
	}
	if !ok {
		return a, &Error{Kind: ErrApplicationNotPending, Op: op, Entity: "application", ID: a.ID, Msg: "status changed concurrently"}
	}
	if err := e.record(ctx, tx, "application."+string(to), a.ProjectID, journal.KindApplication, a.ID, actorID, nil); err != nil {
		return a, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Application{}, err
	}
	a.Status = to
	a.UpdatedAt = now
	e.Metrics.Decision(string(to))
	e.notify(a.ProjectID)
	return a, nil
}

func (e Engine) loadApplication(ctx context.Context, tx *sql.Tx, op, applicationID string) (domain.Application, domain.Project, error) {
	a, err := e.Repo.GetApplicationTx(ctx, tx, applicationID)
	if err != nil {
		return domain.Application{}, domain.Project{}, wrapLookup(op, "application", applicationID, err)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, a.ProjectID)
	if err != nil {
		return domain.Application{}, domain.Project{}, wrapLookup(op, "project", a.ProjectID, err)
	}
	return a, p, nil
}

func notOwner(op string, p domain.Project, actorID string) error {
	return &Error{Kind: ErrNotProjectOwner, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status),
		Msg: fmt.Sprintf("%s does not own the project", actorID)}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (e Engine) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	a, err := e.Repo.GetApplication(ctx, id)
	if err != nil {
		return domain.Application{}, wrapLookup("get_application", "application", id, err)
	}
	return a, nil
}

// ListApplications lists bids oldest first. A ProjectID filter must name an existing project.
func (e Engine) ListApplications(ctx context.Context, f repo.ApplicationFilters) ([]domain.Application, error) {
	const op = "list_applications"
	if f.ProjectID != "" {
		if _, err := e.Repo.GetProject(ctx, f.ProjectID); err != nil {
			return nil, wrapLookup(op, "project", f.ProjectID, err)
		}
	}
	items, err := e.Repo.ListApplications(ctx, f)
	if err != nil {
		return nil, wrap(op, err)
	}
	return items, nil
}
