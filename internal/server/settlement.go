package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/engine/auth"
)

type paymentPath struct {
	PaymentID string `path:"payment_id"`
}

type paymentBody struct {
	Body PaymentResponse `json:"body"`
}

type reviewBody struct {
	Body ReviewResponse `json:"body"`
}

func registerSettlement(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-review",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/review",
		Summary:       "Review the professional and archive the project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      SubmitReviewRequest `json:"body"`
	}) (*reviewBody, error) {
		actor, err := requireAction(ctx, auth.ActionSubmitReview)
		if err != nil {
			return nil, err
		}
		rv, err := e.SubmitReview(ctx, engine.ReviewInput{
			ProjectID: input.ProjectID,
			ClientID:  actor.ID,
			Rating:    input.Body.Rating,
			Comment:   input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &reviewBody{Body: reviewResponse(rv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-review",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/review",
		Summary:     "Get the project's review",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*reviewBody, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rv, err := e.GetReview(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &reviewBody{Body: reviewResponse(rv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-professional-reviews",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/reviews",
		Summary:     "List reviews a professional has received",
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		reviews, err := e.ListReviews(ctx, input.ProfessionalID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ReviewResponse, 0, len(reviews))
		for _, rv := range reviews {
			out = append(out, reviewResponse(rv))
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-payment",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/payments",
		Summary:       "Record a pending payment to the assigned professional",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      CreatePaymentRequest `json:"body"`
	}) (*paymentBody, error) {
		actor, err := requireAction(ctx, auth.ActionCreatePayment)
		if err != nil {
			return nil, err
		}
		amount, err := parseMoney("amount", input.Body.Amount)
		if err != nil {
			return nil, err
		}
		pay, err := e.CreatePayment(ctx, engine.PaymentInput{
			ProjectID: input.ProjectID,
			ClientID:  actor.ID,
			Amount:    amount,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: paymentResponse(pay)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/payments",
		Summary:     "List a project's payments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []PaymentResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPayments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]PaymentResponse, 0, len(items))
		for _, p := range items {
			out = append(out, paymentResponse(p))
		}
		return &struct {
			Body []PaymentResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-payment",
		Method:      http.MethodGet,
		Path:        "/payments/{payment_id}",
		Summary:     "Get payment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *paymentPath) (*paymentBody, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		pay, err := e.GetPayment(ctx, input.PaymentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: paymentResponse(pay)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/complete",
		Summary:     "Settle a payment; a completed project moves to paid",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *paymentPath) (*paymentBody, error) {
		actor, err := requireAction(ctx, auth.ActionSettlePayment)
		if err != nil {
			return nil, err
		}
		pay, err := e.MarkPaymentComplete(ctx, input.PaymentID, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: paymentResponse(pay)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-payment",
		Method:      http.MethodPost,
		Path:        "/payments/{payment_id}/fail",
		Summary:     "Mark a pending payment failed",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PaymentID string             `path:"payment_id"`
		Body      FailPaymentRequest `json:"body,omitempty" required:"false"`
	}) (*paymentBody, error) {
		actor, err := requireAction(ctx, auth.ActionSettlePayment)
		if err != nil {
			return nil, err
		}
		pay, err := e.MarkPaymentFailed(ctx, input.PaymentID, actor.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &paymentBody{Body: paymentResponse(pay)}, nil
	})
}

func registerJournal(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Audit trail of mutations, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,application,event,review,payment,actor"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedJournal `json:"body"`
	}, error) {
		if _, err := requireAction(ctx, auth.ActionReadJournal); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, badCursor(input.Cursor)
			}
			before = parsed
		}
		items, err := e.ListJournal(ctx, engine.JournalFilter{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Before:     before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedJournal{Items: []JournalEntryResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, entry := range items {
			resp.Items = append(resp.Items, journalResponse(entry))
		}
		return &struct {
			Body paginatedJournal `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/actors/{actor_id}/api-keys",
		Summary:       "Issue an API key for an actor (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
		Middlewares:   guard(auth.ActionManageCredential),
	}, func(ctx context.Context, input *struct {
		ActorID string              `path:"actor_id"`
		Role    string              `query:"role" enum:"client,professional,admin" default:"client"`
		Body    CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		admin, err := requireAction(ctx, auth.ActionManageCredential)
		if err != nil {
			return nil, err
		}
		issued, err := e.CreateAPIKey(ctx, domain.Actor{ID: input.ActorID, Role: domain.Role(input.Role)}, input.Body.Name, admin.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: issued.ID, ActorID: issued.ActorID, Name: issued.Name, Key: issued.Secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key (admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
		Middlewares:   guard(auth.ActionManageCredential),
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		admin, err := requireAction(ctx, auth.ActionManageCredential)
		if err != nil {
			return nil, err
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID, admin.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
