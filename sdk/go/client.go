package tradelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Tradeline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	// ActorID and Role are sent as identity headers when the server runs in dev mode.
	ActorID string
	Role    string
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model. Money fields are decimal strings.
type Project struct {
	ID             string   `json:"id"`
	ClientID       string   `json:"client_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Budget         string   `json:"budget"`
	Category       string   `json:"category,omitempty"`
	RequiredSkills []string `json:"required_skills"`
	Status         string   `json:"status"`
	AssignedTo     *string  `json:"assigned_to,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// NewProject is the payload for posting a project.
type NewProject struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Budget         string   `json:"budget"`
	Category       string   `json:"category,omitempty"`
	Location       string   `json:"location,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
	Timeline       string   `json:"timeline,omitempty"`
	Urgency        string   `json:"urgency,omitempty"`
}

// Application represents a bid.
type Application struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ProfessionalID string `json:"professional_id"`
	Bid            string `json:"bid"`
	Proposal       string `json:"proposal,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// Event represents a ledger entry.
type Event struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"`
	ProjectID     string         `json:"project_id"`
	AuthorID      string         `json:"author_id"`
	UpdateType    string         `json:"update_type"`
	Category      string         `json:"category"`
	Message       string         `json:"message,omitempty"`
	AttachmentRef string         `json:"attachment_ref,omitempty"`
	AttachmentURL string         `json:"attachment_url,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// Appended is the result of appending to the ledger. TriggerError is set when the
// event was stored but the lifecycle change it implied failed.
type Appended struct {
	Event        Event        `json:"event"`
	Project      Project      `json:"project"`
	TriggerError *ErrorDetail `json:"trigger_error,omitempty"`
}

type Payment struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ProfessionalID string `json:"professional_id"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
}

type Review struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	ProfessionalID string `json:"professional_id"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment,omitempty"`
}

// ErrorDetail is the error envelope body.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Detail     ErrorDetail
	Body       string
}

func (e *APIError) Error() string {
	if e.Detail.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Detail.Code, e.Detail.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the envelope code of err, or "" if err is not an API error.
func ErrorCode(err error) string {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Detail.Code
	}
	return ""
}

// PaginatedProjects wraps list responses with cursors.
type PaginatedProjects struct {
	Items      []Project `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

func (c *Client) CreateProject(ctx context.Context, p NewProject) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", p, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

// ProjectsPage lists projects, optionally filtered by status.
func (c *Client) ProjectsPage(ctx context.Context, status string, limit int, cursor string) (PaginatedProjects, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp PaginatedProjects
	err := c.do(ctx, http.MethodGet, withPage("v0/projects", q, limit, cursor), nil, &resp)
	return resp, err
}

func (c *Client) CancelProject(ctx context.Context, id, reason string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, projectPath(id, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) MarkComplete(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, projectPath(id, "complete"), nil, &resp)
	return resp, err
}

// SubmitApplication bids on a project. An empty bid defaults to the budget.
func (c *Client) SubmitApplication(ctx context.Context, projectID, bid, proposal string) (Application, error) {
	body := map[string]any{"proposal": proposal}
	if bid != "" {
		body["bid"] = bid
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "applications"), body, &resp)
	return resp, err
}

func (c *Client) Applications(ctx context.Context, projectID string) ([]Application, error) {
	var resp []Application
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "applications"), nil, &resp)
	return resp, err
}

func (c *Client) AcceptApplication(ctx context.Context, id string) (Application, error) {
	return c.decide(ctx, id, "accept")
}

func (c *Client) RejectApplication(ctx context.Context, id string) (Application, error) {
	return c.decide(ctx, id, "reject")
}

func (c *Client) WithdrawApplication(ctx context.Context, id string) (Application, error) {
	return c.decide(ctx, id, "withdraw")
}

func (c *Client) decide(ctx context.Context, id, verb string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/applications/%s/%s", url.PathEscape(id), verb), nil, &resp)
	return resp, err
}

// AppendEvent posts a ledger event as the assigned professional.
func (c *Client) AppendEvent(ctx context.Context, projectID, updateType, message string, metadata map[string]any) (Appended, error) {
	body := map[string]any{"update_type": updateType, "message": message}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	var resp Appended
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "events"), body, &resp)
	return resp, err
}

// Events returns the newest ledger events.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, projectID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated ledger listing, newest first.
func (c *Client) EventsPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedEvents, error) {
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withPage(projectPath(projectID, "events"), url.Values{}, limit, cursor), nil, &resp)
	return resp, err
}

func (c *Client) CreatePayment(ctx context.Context, projectID, amount string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "payments"), map[string]any{"amount": amount}, &resp)
	return resp, err
}

func (c *Client) CompletePayment(ctx context.Context, paymentID string) (Payment, error) {
	var resp Payment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/payments/%s/complete", url.PathEscape(paymentID)), nil, &resp)
	return resp, err
}

func (c *Client) SubmitReview(ctx context.Context, projectID string, rating int, comment string) (Review, error) {
	var resp Review
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "review"), map[string]any{"rating": rating, "comment": comment}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		req.Header.Set("X-Actor-Role", c.Role)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error ErrorDetail `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Detail = env.Error
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(id, p string) string {
	base := "v0/projects/" + url.PathEscape(id)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func withPage(endpoint string, q url.Values, limit int, cursor string) string {
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
