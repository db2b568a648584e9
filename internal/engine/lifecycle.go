package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradeline/internal/config"
	"tradeline/internal/domain"
	"tradeline/internal/journal"
)

// edges is the legal transition table. Anything not listed is InvalidTransition.
var edges = map[domain.ProjectStatus][]domain.ProjectStatus{
	domain.StatusOpen:       {domain.StatusAssigned, domain.StatusCancelled},
	domain.StatusAssigned:   {domain.StatusInProgress, domain.StatusCancelled},
	domain.StatusInProgress: {domain.StatusRevision, domain.StatusSubmitted, domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusRevision:   {domain.StatusInProgress, domain.StatusSubmitted, domain.StatusCancelled},
	domain.StatusSubmitted:  {domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusCompleted:  {domain.StatusPaid, domain.StatusArchived},
	domain.StatusPaid:       {domain.StatusArchived},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.ProjectStatus) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func edgeName(from, to domain.ProjectStatus) string {
	return string(from) + "->" + string(to)
}

// transitioned describes a status change applied inside a transaction, reported after commit.
type transitioned struct {
	ProjectID string
	From, To  domain.ProjectStatus
}

// transition moves p to status `to` with a compare-and-swap on its current status.
// assignee is applied when the target carries one; cancellation clears it. A target equal
// to the current status is a no-op and reports nil.
func (e Engine) transition(ctx context.Context, tx *sql.Tx, op string, p domain.Project, to domain.ProjectStatus, assignee *string, actorID, reason string) (domain.Project, *transitioned, error) {
	if p.Status == to {
		return p, nil, nil
	}
	if !CanTransition(p.Status, to) {
		return p, nil, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status), Edge: edgeName(p.Status, to)}
	}
	var assigned *string
	if to.HasAssignee() {
		assigned = p.AssignedTo
		if assignee != nil {
			assigned = assignee
		}
		if assigned == nil {
			return p, nil, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status), Edge: edgeName(p.Status, to), Msg: "target status requires an assigned professional"}
		}
	}
	now := e.stamp()
	ok, err := e.Repo.CompareAndSetStatus(ctx, tx, p.ID, p.Status, to, assigned, now)
	if err != nil {
		return p, nil, wrap(op, err)
	}
	if !ok {
		cur, err := e.Repo.GetProjectTx(ctx, tx, p.ID)
		if err != nil {
			return p, nil, wrapLookup(op, "project", p.ID, err)
		}
		if cur.Status == to {
			return cur, nil, nil
		}
		return cur, nil, &Error{Kind: ErrInvalidTransition, Op: op, Entity: "project", ID: p.ID, Status: string(cur.Status), Edge: edgeName(p.Status, to), Msg: "status changed concurrently"}
	}
	from := p.Status
	if err := e.record(ctx, tx, "project.transitioned", p.ID, journal.KindProject, p.ID, actorID, journal.Payload{
		"from":        string(from),
		"to":          string(to),
		"reason":      reason,
		"assigned_to": deref(assigned),
	}); err != nil {
		return p, nil, wrap(op, err)
	}
	p.Status = to
	p.AssignedTo = assigned
	p.UpdatedAt = now
	return p, &transitioned{ProjectID: p.ID, From: from, To: to}, nil
}

// applied reports committed transitions to metrics, logs and subscribers.
func (e Engine) applied(op string, ts ...*transitioned) {
	for _, t := range ts {
		if t == nil {
			continue
		}
		e.Metrics.Transition(string(t.From), string(t.To))
		e.log().Info("project transitioned",
			zap.String("op", op),
			zap.String("project_id", t.ProjectID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)))
	}
}

// derivedTransition picks the lifecycle transition an appended event implies for a
// project currently in status. Several triggers may apply; the most advanced wins.
func derivedTransition(cfg *config.Config, status domain.ProjectStatus, spec config.UpdateTypeSpec, message string) (domain.ProjectStatus, string, bool) {
	var target domain.ProjectStatus
	var reason string
	consider := func(to domain.ProjectStatus, why string) {
		if !CanTransition(status, to) {
			return
		}
		if target == "" || to.Rank() > target.Rank() {
			target, reason = to, why
		}
	}
	if spec.Category == domain.CategoryActivity && (status == domain.StatusAssigned || status == domain.StatusRevision) {
		consider(domain.StatusInProgress, "activity")
	}
	if spec.Signals == config.SignalRevision && status == domain.StatusInProgress {
		consider(domain.StatusRevision, "revision requested")
	}
	if status == domain.StatusInProgress || status == domain.StatusRevision {
		if kw, ok := completionKeyword(cfg.Ledger.CompletionKeywords, message); ok {
			consider(domain.StatusSubmitted, "message contains "+kw)
		}
	}
	return target, reason, target != ""
}

func completionKeyword(keywords []string, message string) (string, bool) {
	if message == "" {
		return "", false
	}
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// MarkComplete moves a submitted or in-progress project to completed on behalf of its
// assigned professional.
func (e Engine) MarkComplete(ctx context.Context, projectID, professionalID string) (p domain.Project, err error) {
	const op = "mark_complete"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err = e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, wrapLookup(op, "project", projectID, err)
	}
	if p.AssignedTo != nil && *p.AssignedTo != professionalID {
		return p, &Error{Kind: ErrNotAssignedProfessional, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status),
			Msg: fmt.Sprintf("%s is not the assigned professional", professionalID)}
	}
	p, tr, err := e.transition(ctx, tx, op, p, domain.StatusCompleted, nil, professionalID, "marked complete")
	if err != nil {
		return p, err
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Project{}, err
	}
	e.applied(op, tr)
	if tr != nil {
		e.notify(p.ID)
	}
	return p, nil
}

// CancelProject cancels a non-terminal project. The owning client or the assigned
// professional may cancel; pending applications are left as they are.
func (e Engine) CancelProject(ctx context.Context, projectID, actorID, reason string) (p domain.Project, err error) {
	const op = "cancel_project"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err = e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, wrapLookup(op, "project", projectID, err)
	}
	if actorID != p.ClientID && deref(p.AssignedTo) != actorID {
		return p, &Error{Kind: ErrNotProjectOwner, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status),
			Msg: fmt.Sprintf("%s is neither the client nor the assigned professional", actorID)}
	}
	if reason == "" {
		reason = "cancelled"
	}
	p, tr, err := e.transition(ctx, tx, op, p, domain.StatusCancelled, nil, actorID, reason)
	if err != nil {
		return p, err
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Project{}, err
	}
	e.applied(op, tr)
	if tr != nil {
		e.notify(p.ID)
	}
	return p, nil
}
