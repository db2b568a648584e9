package server

import (
	"encoding/json"

	"tradeline/internal/board"
	"tradeline/internal/domain"
)

// Request payloads. Money travels as a decimal string ("500.00").

type CreateProjectRequest struct {
	Title          string   `json:"title" minLength:"1"`
	Description    string   `json:"description,omitempty"`
	Budget         string   `json:"budget" example:"600.00"`
	Category       string   `json:"category,omitempty"`
	Location       string   `json:"location,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
	Timeline       string   `json:"timeline,omitempty"`
	Urgency        string   `json:"urgency,omitempty"`
}

type CancelProjectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SubmitApplicationRequest struct {
	Bid          string `json:"bid,omitempty" example:"500.00" doc:"Defaults to the project budget"`
	Proposal     string `json:"proposal,omitempty"`
	Availability string `json:"availability,omitempty"`
}

type AppendEventRequest struct {
	UpdateType    string         `json:"update_type"`
	Message       string         `json:"message,omitempty"`
	AttachmentRef string         `json:"attachment_ref,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type AttachFileRequest struct {
	UpdateType  string         `json:"update_type,omitempty" example:"photo"`
	Name        string         `json:"name"`
	ContentType string         `json:"content_type,omitempty"`
	Data        []byte         `json:"data" doc:"Base64-encoded file content"`
	Message     string         `json:"message,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type SubmitReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

type CreatePaymentRequest struct {
	Amount string `json:"amount" example:"500.00"`
}

type FailPaymentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"client,professional,admin"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID             string   `json:"id"`
	ClientID       string   `json:"client_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Budget         string   `json:"budget"`
	Category       string   `json:"category,omitempty"`
	Location       string   `json:"location,omitempty"`
	RequiredSkills []string `json:"required_skills"`
	Requirements   []string `json:"requirements"`
	Timeline       string   `json:"timeline,omitempty"`
	Urgency        string   `json:"urgency,omitempty"`
	Status         string   `json:"status"`
	AssignedTo     *string  `json:"assigned_to,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type ApplicationResponse struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ProfessionalID string `json:"professional_id"`
	Bid            string `json:"bid"`
	Proposal       string `json:"proposal,omitempty"`
	Availability   string `json:"availability,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type EventResponse struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	ProjectID     string         `json:"project_id"`
	AuthorID      string         `json:"author_id,omitempty"`
	UpdateType    string         `json:"update_type"`
	Category      string         `json:"category"`
	Message       string         `json:"message,omitempty"`
	AttachmentRef string         `json:"attachment_ref,omitempty"`
	AttachmentURL string         `json:"attachment_url,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// AppendEventResponse carries the stored event and the project as it stands afterwards.
// TriggerError is set when the event was kept but its lifecycle side effect failed.
type AppendEventResponse struct {
	Event        EventResponse   `json:"event"`
	Project      ProjectResponse `json:"project"`
	TriggerError *apiErrorBody   `json:"trigger_error,omitempty"`
}

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedJournal struct {
	Items      []JournalEntryResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type ReviewResponse struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ClientID       string `json:"client_id"`
	ProfessionalID string `json:"professional_id"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type PaymentResponse struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ClientID       string `json:"client_id"`
	ProfessionalID string `json:"professional_id"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type JournalEntryResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type BoardResponse struct {
	Project      ProjectResponse `json:"project"`
	Applications map[string]int  `json:"applications"`
	EventCount   int             `json:"event_count"`
	LatestEvent  *EventResponse  `json:"latest_event,omitempty"`
	Reviewed     bool            `json:"reviewed"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key,omitempty" doc:"Only returned on creation"`
}

// Mapping helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		ClientID:       p.ClientID,
		Title:          p.Title,
		Description:    p.Description,
		Budget:         p.Budget.String(),
		Category:       p.Category,
		Location:       p.Location,
		RequiredSkills: nonNilSlice(p.RequiredSkills),
		Requirements:   nonNilSlice(p.Requirements),
		Timeline:       p.Timeline,
		Urgency:        p.Urgency,
		Status:         string(p.Status),
		AssignedTo:     p.AssignedTo,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func applicationResponse(a domain.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		ProfessionalID: a.ProfessionalID,
		Bid:            a.Bid.String(),
		Proposal:       a.Proposal,
		Availability:   a.Availability,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func mapApplications(items []domain.Application) []ApplicationResponse {
	out := make([]ApplicationResponse, 0, len(items))
	for _, a := range items {
		out = append(out, applicationResponse(a))
	}
	return out
}

func eventResponse(ev domain.Event) EventResponse {
	return EventResponse{
		ID:            ev.ID,
		Seq:           ev.Seq,
		ProjectID:     ev.ProjectID,
		AuthorID:      ev.AuthorID,
		UpdateType:    ev.UpdateType,
		Category:      string(ev.Category),
		Message:       ev.Message,
		AttachmentRef: ev.AttachmentRef,
		Metadata:      ev.Metadata,
		CreatedAt:     ev.CreatedAt,
	}
}

func reviewResponse(rv domain.Review) ReviewResponse {
	return ReviewResponse{
		ID:             rv.ID,
		ProjectID:      rv.ProjectID,
		ClientID:       rv.ClientID,
		ProfessionalID: rv.ProfessionalID,
		Rating:         rv.Rating,
		Comment:        rv.Comment,
		CreatedAt:      rv.CreatedAt,
	}
}

func paymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:             p.ID,
		ProjectID:      p.ProjectID,
		ClientID:       p.ClientID,
		ProfessionalID: p.ProfessionalID,
		Amount:         p.Amount.String(),
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func journalResponse(e domain.JournalEntry) JournalEntryResponse {
	return JournalEntryResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func boardResponse(v board.View) BoardResponse {
	res := BoardResponse{
		Project:      projectResponse(v.Project),
		Applications: map[string]int{},
		EventCount:   v.EventCount,
		Reviewed:     v.Reviewed,
	}
	for status, n := range v.Applications {
		res.Applications[string(status)] = n
	}
	if v.LatestEvent != nil {
		ev := eventResponse(*v.LatestEvent)
		res.LatestEvent = &ev
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
