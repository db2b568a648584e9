package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"tradeline/internal/domain"
	"tradeline/internal/engine"
	"tradeline/internal/engine/auth"
)

type appendEventBody struct {
	Body AppendEventResponse `json:"body"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "append-event",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/events",
		Summary:       "Append a ledger event (assigned professional)",
		Description:   "The event is stored before any lifecycle change it implies. If that change fails the event is still returned, with trigger_error set.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      AppendEventRequest `json:"body"`
	}) (*appendEventBody, error) {
		actor, err := requireAction(ctx, auth.ActionAppendEvent)
		if err != nil {
			return nil, err
		}
		ev, err := e.AppendEvent(ctx, engine.EventInput{
			ProjectID:     input.ProjectID,
			AuthorID:      actor.ID,
			UpdateType:    input.Body.UpdateType,
			Message:       input.Body.Message,
			AttachmentRef: input.Body.AttachmentRef,
			Metadata:      input.Body.Metadata,
		})
		return appendResult(ctx, e, ev, err)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-file",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/attachments",
		Summary:       "Upload a file and append it to the ledger",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AttachFileRequest `json:"body"`
	}) (*appendEventBody, error) {
		actor, err := requireAction(ctx, auth.ActionAppendEvent)
		if err != nil {
			return nil, err
		}
		ev, err := e.AttachFile(ctx, engine.Attachment{
			ProjectID:   input.ProjectID,
			AuthorID:    actor.ID,
			UpdateType:  input.Body.UpdateType,
			Name:        input.Body.Name,
			ContentType: input.Body.ContentType,
			Data:        input.Body.Data,
			Message:     input.Body.Message,
			Metadata:    input.Body.Metadata,
		})
		return appendResult(ctx, e, ev, err)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List ledger events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		UpdateType string `query:"update_type"`
		Query      string `query:"q" doc:"Case-insensitive text search"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorSeq, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, badCursor(input.Cursor)
		}
		f := engine.EventFilter{UpdateType: input.UpdateType, Query: input.Query, BeforeTS: cursorTS}
		if cursorSeq != "" {
			if f.BeforeSeq, err = strconv.ParseInt(cursorSeq, 10, 64); err != nil {
				return nil, badCursor(input.Cursor)
			}
		}
		items, err := engine.CollectEvents(e.ListEvents(ctx, input.ProjectID, f), limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, strconv.FormatInt(last.Seq, 10))
			items = items[:limit]
		}
		for _, ev := range items {
			resp.Items = append(resp.Items, eventWithURL(ctx, e, ev))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}",
		Summary:     "Get one ledger event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		ev, err := e.GetEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventWithURL(ctx, e, ev)}, nil
	})
}

// appendResult shapes the outcome of an append. A stored event whose trigger failed
// is reported as created, carrying the failure alongside it.
func appendResult(ctx context.Context, e engine.Engine, ev domain.Event, err error) (*appendEventBody, error) {
	if err != nil && ev.ID == "" {
		return nil, handleError(err)
	}
	p, perr := e.GetProject(ctx, ev.ProjectID)
	if perr != nil {
		return nil, handleError(perr)
	}
	res := AppendEventResponse{
		Event:   eventWithURL(ctx, e, ev),
		Project: projectResponse(p),
	}
	if err != nil {
		var ae *apiError
		if errors.As(handleError(err), &ae) {
			body := ae.Body
			res.TriggerError = &body
		}
	}
	return &appendEventBody{Body: res}, nil
}

func eventWithURL(ctx context.Context, e engine.Engine, ev domain.Event) EventResponse {
	out := eventResponse(ev)
	if ev.AttachmentRef != "" && e.Storage != nil {
		if u, err := e.AttachmentURL(ctx, ev.AttachmentRef); err == nil {
			out.AttachmentURL = u
		}
	}
	return out
}
