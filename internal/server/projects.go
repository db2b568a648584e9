package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tradeline/internal/board"
	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/engine/auth"
	"tradeline/internal/repo"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectBody struct {
	Body ProjectResponse `json:"body"`
}

func parseMoney(field, raw string) (domain.Money, error) {
	m, err := domain.ParseMoney(raw)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "invalid_input", err.Error(), map[string]any{"field": field})
	}
	return m, nil
}

func registerProjects(api huma.API, e engine.Engine, b *board.Board) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Post a project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		actor, err := requireAction(ctx, auth.ActionCreateProject)
		if err != nil {
			return nil, err
		}
		budget, err := parseMoney("budget", input.Body.Budget)
		if err != nil {
			return nil, err
		}
		p, err := e.CreateProject(ctx, engine.ProjectDraft{
			ClientID:       actor.ID,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Budget:         budget,
			Category:       input.Body.Category,
			Location:       input.Body.Location,
			RequiredSkills: input.Body.RequiredSkills,
			Requirements:   input.Body.Requirements,
			Timeline:       input.Body.Timeline,
			Urgency:        input.Body.Urgency,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		ClientID   string `query:"client_id"`
		AssignedTo string `query:"assigned_to"`
		Category   string `query:"category"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, badCursor(input.Cursor)
		}
		items, err := e.ListProjects(ctx, repo.ProjectFilters{
			Status:     input.Status,
			ClientID:   input.ClientID,
			AssignedTo: input.AssignedTo,
			Category:   input.Category,
			Limit:      limit + 1,
			CursorTS:   cursorTS,
			CursorID:   cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapProjects(items)
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-board",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/board",
		Summary:     "Project summary with bid counts and latest ledger event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		v, err := b.View(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/cancel",
		Summary:     "Cancel a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      CancelProjectRequest `json:"body,omitempty" required:"false"`
	}) (*projectBody, error) {
		actor, err := requireAction(ctx, auth.ActionCancelProject)
		if err != nil {
			return nil, err
		}
		p, err := e.CancelProject(ctx, input.ProjectID, actor.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/complete",
		Summary:     "Mark the work complete (assigned professional)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*projectBody, error) {
		actor, err := requireAction(ctx, auth.ActionMarkComplete)
		if err != nil {
			return nil, err
		}
		p, err := e.MarkComplete(ctx, input.ProjectID, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: projectResponse(p)}, nil
	})
}
