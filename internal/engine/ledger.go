package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tradeline/internal/domain"
	"tradeline/internal/journal"
	"tradeline/internal/repo"
	"tradeline/internal/storage"
)

// EventInput is one ledger append.
type EventInput struct {
	ProjectID     string
	AuthorID      string
	UpdateType    string
	Message       string
	AttachmentRef string
	Metadata      map[string]any
}

// AppendEvent records an event for the assigned professional, then applies at most one
// lifecycle transition implied by it. The event commits first: if the transition fails the
// event is returned together with the error.
func (e Engine) AppendEvent(ctx context.Context, in EventInput) (ev domain.Event, err error) {
	const op = "append_event"
	defer e.observe(op, time.Now(), &err)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return domain.Event{}, wrapLookup(op, "project", in.ProjectID, err)
	}
	if !p.Status.Actionable() {
		return domain.Event{}, &Error{Kind: ErrProjectNotActionable, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	if deref(p.AssignedTo) != in.AuthorID {
		return domain.Event{}, &Error{Kind: ErrNotAssignedProfessional, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status),
			Msg: fmt.Sprintf("%s is not the assigned professional", in.AuthorID)}
	}
	// Lifecycle preconditions are reported before anything wrong with the payload.
	spec, ok := e.config().UpdateType(in.UpdateType)
	if !ok {
		return domain.Event{}, invalidInput(op, "unknown update type %q", in.UpdateType)
	}
	for _, key := range spec.Requires {
		if v, ok := in.Metadata[key]; !ok || v == nil || v == "" {
			return domain.Event{}, invalidInput(op, "update type %s requires metadata %q", in.UpdateType, key)
		}
	}
	ts, err := e.eventTime(ctx, tx, p.ID)
	if err != nil {
		return domain.Event{}, wrap(op, err)
	}
	ev = domain.Event{
		ID:            uuid.NewString(),
		ProjectID:     p.ID,
		AuthorID:      in.AuthorID,
		UpdateType:    in.UpdateType,
		Category:      spec.Category,
		Message:       in.Message,
		AttachmentRef: in.AttachmentRef,
		Metadata:      in.Metadata,
		CreatedAt:     ts,
	}
	seq, err := e.Repo.InsertEvent(ctx, tx, ev)
	if err != nil {
		return domain.Event{}, wrap(op, err)
	}
	ev.Seq = seq
	if err := e.record(ctx, tx, "event.appended", p.ID, journal.KindEvent, ev.ID, in.AuthorID, journal.Payload{
		"update_type": ev.UpdateType,
		"category":    string(ev.Category),
	}); err != nil {
		return domain.Event{}, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Event{}, err
	}
	e.Metrics.EventAppended(string(ev.Category))
	e.notify(p.ID)

	if err := e.applyEventTrigger(ctx, ev); err != nil {
		e.log().Warn("event trigger failed",
			zap.String("project_id", ev.ProjectID),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return ev, err
	}
	return ev, nil
}

// eventTime returns a timestamp no earlier than the project's newest event, so per-project
// ledger order follows append order even if the clock steps back.
func (e Engine) eventTime(ctx context.Context, tx *sql.Tx, projectID string) (string, error) {
	now := e.now().UTC()
	latest, err := e.Repo.LatestEventTSTx(ctx, tx, projectID)
	if err != nil || latest == "" {
		return domain.FormatTime(now), err
	}
	last, err := domain.ParseTime(latest)
	if err != nil {
		return "", fmt.Errorf("parse latest event time: %w", err)
	}
	if !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return domain.FormatTime(now), nil
}

// applyEventTrigger evaluates ev against the project's current status in its own transaction.
func (e Engine) applyEventTrigger(ctx context.Context, ev domain.Event) error {
	const op = "event_trigger"
	spec, _ := e.config().UpdateType(ev.UpdateType)
	tx, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, ev.ProjectID)
	if err != nil {
		return wrapLookup(op, "project", ev.ProjectID, err)
	}
	to, reason, ok := derivedTransition(e.config(), p.Status, spec, ev.Message)
	if !ok {
		return nil
	}
	_, tr, err := e.transition(ctx, tx, op, p, to, nil, ev.AuthorID, fmt.Sprintf("event %s: %s", ev.UpdateType, reason))
	if err != nil {
		return err
	}
	if err := e.commit(op, tx); err != nil {
		return err
	}
	e.applied(op, tr)
	if tr != nil {
		e.notify(p.ID)
	}
	return nil
}

// EventFilter narrows a ledger listing. BeforeTS/BeforeSeq resume after a previously seen event.
type EventFilter struct {
	UpdateType string
	Query      string
	BeforeTS   string
	BeforeSeq  int64
}

// ListEvents returns the project's ledger newest first. Pages are fetched lazily as the
// sequence is consumed; ranging again re-queries from the start.
func (e Engine) ListEvents(ctx context.Context, projectID string, f EventFilter) iter.Seq2[domain.Event, error] {
	const op = "list_events"
	pageSize := e.config().PageSize()
	return func(yield func(domain.Event, error) bool) {
		if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
			yield(domain.Event{}, wrapLookup(op, "project", projectID, err))
			return
		}
		rf := repo.EventFilters{
			ProjectID:  projectID,
			UpdateType: f.UpdateType,
			Query:      strings.TrimSpace(f.Query),
			Limit:      pageSize,
			CursorTS:   f.BeforeTS,
			CursorSeq:  f.BeforeSeq,
		}
		for {
			page, err := e.Repo.ListEvents(ctx, rf)
			if err != nil {
				yield(domain.Event{}, wrap(op, err))
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			rf.CursorTS, rf.CursorSeq = last.CreatedAt, last.Seq
		}
	}
}

// CollectEvents drains up to limit events from seq. limit <= 0 drains everything.
func CollectEvents(seq iter.Seq2[domain.Event, error], limit int) ([]domain.Event, error) {
	var out []domain.Event
	for ev, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Attachment is a file the assigned professional adds to the ledger.
type Attachment struct {
	ProjectID   string
	AuthorID    string
	UpdateType  string
	Name        string
	ContentType string
	Data        []byte
	Message     string
	Metadata    map[string]any
}

// AttachFile uploads the file, then appends a files-category event referencing it.
func (e Engine) AttachFile(ctx context.Context, a Attachment) (ev domain.Event, err error) {
	const op = "attach_file"
	defer e.observe(op, time.Now(), &err)
	if e.Storage == nil {
		return domain.Event{}, &Error{Kind: ErrTransientFailure, Op: op, Msg: "object storage not configured"}
	}
	if a.UpdateType == "" {
		a.UpdateType = "document"
	}
	// Check preconditions before uploading so a rejected append leaves no orphan object.
	p, err := e.Repo.GetProject(ctx, a.ProjectID)
	if err != nil {
		return domain.Event{}, wrapLookup(op, "project", a.ProjectID, err)
	}
	if !p.Status.Actionable() {
		return domain.Event{}, &Error{Kind: ErrProjectNotActionable, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	if deref(p.AssignedTo) != a.AuthorID {
		return domain.Event{}, &Error{Kind: ErrNotAssignedProfessional, Op: op, Entity: "project", ID: p.ID, Status: string(p.Status)}
	}
	spec, ok := e.config().UpdateType(a.UpdateType)
	if !ok || spec.Category != domain.CategoryFiles {
		return domain.Event{}, invalidInput(op, "update type %q is not a files type", a.UpdateType)
	}
	if len(a.Data) == 0 {
		return domain.Event{}, invalidInput(op, "file is empty")
	}
	ref, err := e.Storage.Upload(ctx, p.ID, a.Name, a.ContentType, a.Data)
	if err != nil {
		return domain.Event{}, wrap(op, err)
	}
	meta := map[string]any{}
	for k, v := range a.Metadata {
		meta[k] = v
	}
	meta["file_name"] = a.Name
	if a.ContentType != "" {
		meta["content_type"] = a.ContentType
	}
	meta["size_bytes"] = len(a.Data)
	return e.AppendEvent(ctx, EventInput{
		ProjectID:     p.ID,
		AuthorID:      a.AuthorID,
		UpdateType:    a.UpdateType,
		Message:       a.Message,
		AttachmentRef: ref,
		Metadata:      meta,
	})
}

func (e Engine) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	ev, err := e.Repo.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, wrapLookup("get_event", "event", id, err)
	}
	return ev, nil
}

// AttachmentURL resolves an event's attachment reference through object storage.
func (e Engine) AttachmentURL(ctx context.Context, ref string) (string, error) {
	const op = "attachment_url"
	if e.Storage == nil {
		return "", &Error{Kind: ErrTransientFailure, Op: op, Msg: "object storage not configured"}
	}
	u, err := e.Storage.URLFor(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return "", notFound(op, "attachment", ref)
	}
	if err != nil {
		return "", wrap(op, err)
	}
	return u, nil
}
