package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeline/internal/domain"
	"tradeline/internal/journal"
	"tradeline/internal/repo"
)

// ProjectDraft holds the client-supplied fields of a new project.
type ProjectDraft struct {
	ClientID       string
	Title          string
	Description    string
	Budget         domain.Money
	Category       string
	Location       string
	RequiredSkills []string
	Requirements   []string
	Timeline       string
	Urgency        string
}

func (e Engine) CreateProject(ctx context.Context, d ProjectDraft) (p domain.Project, err error) {
	const op = "create_project"
	defer e.observe(op, time.Now(), &err)
	if strings.TrimSpace(d.ClientID) == "" {
		return domain.Project{}, invalidInput(op, "client is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return domain.Project{}, invalidInput(op, "title is required")
	}
	if !d.Budget.Positive() {
		return domain.Project{}, invalidInput(op, "budget must be positive, got %s", d.Budget)
	}
	now := e.stamp()
	p = domain.Project{
		ID:             uuid.NewString(),
		ClientID:       d.ClientID,
		Title:          strings.TrimSpace(d.Title),
		Description:    d.Description,
		Budget:         d.Budget,
		Category:       d.Category,
		Location:       d.Location,
		RequiredSkills: dedupe(d.RequiredSkills),
		Requirements:   d.Requirements,
		Timeline:       d.Timeline,
		Urgency:        d.Urgency,
		Status:         domain.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.begin(ctx, op)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.ensureActor(ctx, tx, d.ClientID, domain.RoleClient); err != nil {
		return domain.Project{}, wrap(op, err)
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, wrap(op, err)
	}
	if err := e.record(ctx, tx, "project.created", p.ID, journal.KindProject, p.ID, d.ClientID, journal.Payload{
		"title":  p.Title,
		"budget": p.Budget.String(),
		"status": string(p.Status),
	}); err != nil {
		return domain.Project{}, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return domain.Project{}, err
	}
	e.notify(p.ID)
	return p, nil
}

// dedupe keeps the first occurrence of each non-empty value; required skills are a set.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, wrapLookup("get_project", "project", id, err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.Status != "" && !domain.ProjectStatus(f.Status).Valid() {
		return nil, invalidInput("list_projects", "unknown status %q", f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = e.config().PageSize()
	}
	items, err := e.Repo.ListProjects(ctx, f)
	if err != nil {
		return nil, wrap("list_projects", err)
	}
	return items, nil
}
