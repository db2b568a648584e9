package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/engine/auth"
	"tradeline/internal/repo"
)

type applicationPath struct {
	ApplicationID string `path:"application_id"`
}

type applicationBody struct {
	Body ApplicationResponse `json:"body"`
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-application",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/applications",
		Summary:       "Bid on an open project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      SubmitApplicationRequest `json:"body"`
	}) (*applicationBody, error) {
		actor, err := requireAction(ctx, auth.ActionSubmitBid)
		if err != nil {
			return nil, err
		}
		var bid domain.Money
		if strings.TrimSpace(input.Body.Bid) != "" {
			if bid, err = parseMoney("bid", input.Body.Bid); err != nil {
				return nil, err
			}
		}
		a, err := e.SubmitApplication(ctx, engine.ApplicationDraft{
			ProjectID:      input.ProjectID,
			ProfessionalID: actor.ID,
			Bid:            bid,
			Proposal:       input.Body.Proposal,
			Availability:   input.Body.Availability,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationBody{Body: applicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/applications",
		Summary:     "List bids on a project, oldest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID      string `path:"project_id"`
		Status         string `query:"status"`
		ProfessionalID string `query:"professional_id"`
	}) (*struct {
		Body []ApplicationResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListApplications(ctx, repo.ApplicationFilters{
			ProjectID:      input.ProjectID,
			ProfessionalID: input.ProfessionalID,
			Status:         input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ApplicationResponse `json:"body"`
		}{Body: mapApplications(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{application_id}",
		Summary:     "Get application",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *applicationPath) (*applicationBody, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.GetApplication(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &applicationBody{Body: applicationResponse(a)}, nil
	})

	decisions := []struct {
		id, verb, summary, action string
		apply                     func(context.Context, string, string) (domain.Application, error)
	}{
		{"accept-application", "accept", "Accept a bid and assign the project", auth.ActionDecideBid, e.AcceptApplication},
		{"reject-application", "reject", "Reject a bid", auth.ActionDecideBid, e.RejectApplication},
		{"withdraw-application", "withdraw", "Withdraw your own bid", auth.ActionWithdrawBid, e.WithdrawApplication},
	}
	for _, d := range decisions {
		huma.Register(api, huma.Operation{
			OperationID: d.id,
			Method:      http.MethodPost,
			Path:        "/applications/{application_id}/" + d.verb,
			Summary:     d.summary,
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *applicationPath) (*applicationBody, error) {
			actor, err := requireAction(ctx, d.action)
			if err != nil {
				return nil, err
			}
			a, err := d.apply(ctx, input.ApplicationID, actor.ID)
			if err != nil {
				return nil, handleError(err)
			}
			return &applicationBody{Body: applicationResponse(a)}, nil
		})
	}
}
