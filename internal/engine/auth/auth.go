package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradeline/internal/domain"
	"tradeline/internal/repo"
)

// ForbiddenError indicates the actor's role does not allow the action.
type ForbiddenError struct {
	Action string
	Role   domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// Actions guarded by role.
const (
	ActionCreateProject    = "project.create"
	ActionSubmitBid        = "application.submit"
	ActionDecideBid        = "application.decide"
	ActionWithdrawBid      = "application.withdraw"
	ActionAppendEvent      = "event.append"
	ActionMarkComplete     = "project.complete"
	ActionCancelProject    = "project.cancel"
	ActionSubmitReview     = "review.submit"
	ActionCreatePayment    = "payment.create"
	ActionSettlePayment    = "payment.settle"
	ActionReadJournal      = "journal.read"
	ActionManageCredential = "apikey.manage"
)

var allowed = map[string][]domain.Role{
	ActionCreateProject:    {domain.RoleClient},
	ActionSubmitBid:        {domain.RoleProfessional},
	ActionDecideBid:        {domain.RoleClient},
	ActionWithdrawBid:      {domain.RoleProfessional},
	ActionAppendEvent:      {domain.RoleProfessional},
	ActionMarkComplete:     {domain.RoleProfessional},
	ActionCancelProject:    {domain.RoleClient, domain.RoleProfessional},
	ActionSubmitReview:     {domain.RoleClient},
	ActionCreatePayment:    {domain.RoleClient},
	ActionSettlePayment:    {domain.RoleAdmin},
	ActionReadJournal:      {domain.RoleClient, domain.RoleProfessional},
	ActionManageCredential: {},
}

// Can reports whether role may perform action. Admins may do everything.
func Can(role domain.Role, action string) bool {
	if role == domain.RoleAdmin {
		return true
	}
	for _, r := range allowed[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless actor may perform action.
func Require(actor domain.Actor, action string) error {
	if Can(actor.Role, action) {
		return nil
	}
	return ForbiddenError{Action: action, Role: actor.Role}
}

// Service resolves and records actors backed by SQL.
type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s Service) EnsureActor(ctx context.Context, tx *sql.Tx, actor domain.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return errors.New("actor_id required")
	}
	if !actor.Role.Valid() {
		return fmt.Errorf("invalid role %q", actor.Role)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if actor.CreatedAt == "" {
		actor.CreatedAt = domain.FormatTime(now())
	}
	return s.Repo.EnsureActor(ctx, tx, actor)
}

// Resolve returns the stored actor; an unknown actor gets fallback as its role.
func (s Service) Resolve(ctx context.Context, actorID string, fallback domain.Role) (domain.Actor, error) {
	a, err := s.Repo.GetActor(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{ID: actorID, Role: fallback}, nil
	}
	return a, err
}
