package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeline/internal/board"
	"tradeline/internal/config"
	"tradeline/internal/db"
	"tradeline/internal/engine"
	"tradeline/internal/metrics"
	"tradeline/internal/migrate"
	"tradeline/internal/notify"
	"tradeline/internal/storage"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Hub    *notify.Hub
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.New()
	e.Storage = store
	b, err := board.New(e.Repo, board.DefaultSize)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	hub := notify.NewHub()
	e.Notifier = notify.Multi{b, hub}
	handler, err := New(Config{
		Engine:   e,
		Board:    b,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Hub:    hub,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actorID, role string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID, "X-Actor-Role": role}
}

var (
	asClient = as("client-1", "client")
	asPro    = as("pro-1", "professional")
	asPro2   = as("pro-2", "professional")
	asAdmin  = as("admin-1", "admin")
)

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// call performs a request, checks the status and decodes the body into out when set.
func call(t *testing.T, srv *testServer, method, path string, body any, headers map[string]string, want int, out any) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), method, srv.URL+path, body, headers)
	require.Equal(t, want, res.StatusCode, "%s %s: %s", method, path, string(data))
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
}

func apiErr(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func postProject(t *testing.T, srv *testServer) ProjectResponse {
	t.Helper()
	var p ProjectResponse
	call(t, srv, http.MethodPost, "/v0/projects", map[string]any{
		"title":           "Fix leaking shower",
		"budget":          "600.00",
		"category":        "plumbing",
		"required_skills": []string{"plumbing"},
	}, asClient, http.StatusCreated, &p)
	return p
}

func hire(t *testing.T, srv *testServer, projectID string) {
	t.Helper()
	var a ApplicationResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+projectID+"/applications", map[string]any{"bid": "500.00"}, asPro, http.StatusCreated, &a)
	call(t, srv, http.MethodPost, "/v0/applications/"+a.ID+"/accept", nil, asClient, http.StatusOK, nil)
}

func TestHireWorkAndSettle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := postProject(t, srv)
	require.Equal(t, "open", p.Status)
	require.Equal(t, "600.00", p.Budget)
	require.Equal(t, "client-1", p.ClientID)

	var a ApplicationResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/applications", map[string]any{"proposal": "Can start Monday"}, asPro, http.StatusCreated, &a)
	require.Equal(t, "600.00", a.Bid, "bid defaults to the budget")
	require.Equal(t, "pending", a.Status)

	var accepted ApplicationResponse
	call(t, srv, http.MethodPost, "/v0/applications/"+a.ID+"/accept", nil, asClient, http.StatusOK, &accepted)
	require.Equal(t, "accepted", accepted.Status)

	var got ProjectResponse
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID, nil, asClient, http.StatusOK, &got)
	require.Equal(t, "assigned", got.Status)
	require.NotNil(t, got.AssignedTo)
	require.Equal(t, "pro-1", *got.AssignedTo)

	var appended AppendEventResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/events", map[string]any{"update_type": "check_in"}, asPro, http.StatusCreated, &appended)
	require.Equal(t, "activity", appended.Event.Category)
	require.Equal(t, "in_progress", appended.Project.Status)
	require.Nil(t, appended.TriggerError)

	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/events", map[string]any{
		"update_type": "progress_note",
		"message":     "Tiling COMPLETED, grout drying",
	}, asPro, http.StatusCreated, &appended)
	require.Equal(t, "submitted", appended.Project.Status)

	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/complete", nil, asPro, http.StatusOK, &got)
	require.Equal(t, "completed", got.Status)

	var pay PaymentResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/payments", map[string]any{"amount": "500.00"}, asClient, http.StatusCreated, &pay)
	require.Equal(t, "pending", pay.Status)
	require.Equal(t, "pro-1", pay.ProfessionalID)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/payments/"+pay.ID+"/complete", nil, asClient)
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	call(t, srv, http.MethodPost, "/v0/payments/"+pay.ID+"/complete", nil, asAdmin, http.StatusOK, &pay)
	require.Equal(t, "completed", pay.Status)
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID, nil, asClient, http.StatusOK, &got)
	require.Equal(t, "paid", got.Status)

	var rv ReviewResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/review", map[string]any{"rating": 5, "comment": "Spotless"}, asClient, http.StatusCreated, &rv)
	require.Equal(t, "pro-1", rv.ProfessionalID)

	var history []ReviewResponse
	call(t, srv, http.MethodGet, "/v0/professionals/pro-1/reviews", nil, asClient, http.StatusOK, &history)
	require.Len(t, history, 1)
	require.Equal(t, rv.ID, history[0].ID)
	call(t, srv, http.MethodGet, "/v0/professionals/pro-2/reviews", nil, asClient, http.StatusOK, &history)
	require.Empty(t, history)

	var single EventResponse
	call(t, srv, http.MethodGet, "/v0/events/"+appended.Event.ID, nil, asClient, http.StatusOK, &single)
	require.Equal(t, "progress_note", single.UpdateType)
	require.Equal(t, p.ID, single.ProjectID)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events/missing", nil, asClient)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	var view BoardResponse
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID+"/board", nil, asPro, http.StatusOK, &view)
	require.Equal(t, "archived", view.Project.Status)
	require.True(t, view.Reviewed)
	require.Equal(t, 2, view.EventCount)
	require.Equal(t, 1, view.Applications["accepted"])

	var journal paginatedJournal
	call(t, srv, http.MethodGet, "/v0/journal?project_id="+p.ID+"&type=project.transitioned", nil, asClient, http.StatusOK, &journal)
	require.Len(t, journal.Items, 6)
	require.Equal(t, "archived", journal.Items[0].Payload["to"])
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	p := postProject(t, srv)
	hire(t, srv, p.ID)

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		headers map[string]string
		status  int
		code    string
	}{
		{"bid on assigned project", http.MethodPost, "/v0/projects/" + p.ID + "/applications", map[string]any{}, asPro2, http.StatusConflict, "project_not_open"},
		{"unknown project", http.MethodGet, "/v0/projects/nope", nil, asClient, http.StatusNotFound, "not_found"},
		{"professional posts project", http.MethodPost, "/v0/projects", map[string]any{"title": "x", "budget": "1.00"}, asPro, http.StatusForbidden, "forbidden"},
		{"client appends event", http.MethodPost, "/v0/projects/" + p.ID + "/events", map[string]any{"update_type": "check_in"}, asClient, http.StatusForbidden, "forbidden"},
		{"other professional appends event", http.MethodPost, "/v0/projects/" + p.ID + "/events", map[string]any{"update_type": "check_in"}, asPro2, http.StatusForbidden, "not_assigned_professional"},
		{"unknown update type", http.MethodPost, "/v0/projects/" + p.ID + "/events", map[string]any{"update_type": "teleport"}, asPro, http.StatusBadRequest, "invalid_input"},
		{"bad money", http.MethodPost, "/v0/projects", map[string]any{"title": "x", "budget": "ten"}, asClient, http.StatusBadRequest, "invalid_input"},
		{"bad cursor", http.MethodGet, "/v0/projects?cursor=broken", nil, asClient, http.StatusBadRequest, "bad_request"},
		{"no credentials", http.MethodGet, "/v0/projects", nil, nil, http.StatusUnauthorized, "unauthorized"},
		{"review before completion", http.MethodPost, "/v0/projects/" + p.ID + "/review", map[string]any{"rating": 4}, asClient, http.StatusConflict, "project_not_completed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, tc.headers)
			require.Equal(t, tc.status, res.StatusCode, string(data))
			require.Equal(t, tc.code, apiErr(t, data).Code)
		})
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+p.ID+"/applications", map[string]any{}, asPro2)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	details := apiErr(t, data).Details
	require.Equal(t, "project", details["entity"])
	require.Equal(t, "assigned", details["status"])
}

func TestListEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := postProject(t, srv)
	hire(t, srv, p.ID)
	for _, msg := range []string{"first", "second", "third"} {
		call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/events", map[string]any{"update_type": "progress_note", "message": msg}, asPro, http.StatusCreated, nil)
	}

	var page paginatedEvents
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID+"/events?limit=2", nil, asClient, http.StatusOK, &page)
	require.Len(t, page.Items, 2)
	require.Equal(t, "third", page.Items[0].Message)
	require.Equal(t, "second", page.Items[1].Message)
	require.NotEmpty(t, page.NextCursor)

	var rest paginatedEvents
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID+"/events?limit=2&cursor="+page.NextCursor, nil, asClient, http.StatusOK, &rest)
	require.Len(t, rest.Items, 1)
	require.Equal(t, "first", rest.Items[0].Message)
	require.Empty(t, rest.NextCursor)

	var search paginatedEvents
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID+"/events?q=SEC", nil, asClient, http.StatusOK, &search)
	require.Len(t, search.Items, 1)
	require.Equal(t, "second", search.Items[0].Message)
}

func TestAttachFile(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := postProject(t, srv)
	hire(t, srv, p.ID)

	var res AppendEventResponse
	call(t, srv, http.MethodPost, "/v0/projects/"+p.ID+"/attachments", map[string]any{
		"update_type":  "photo",
		"name":         "before.jpg",
		"content_type": "image/jpeg",
		"data":         []byte("jpeg-bytes"),
		"message":      "Before photo",
	}, asPro, http.StatusCreated, &res)
	require.Equal(t, "files", res.Event.Category)
	require.NotEmpty(t, res.Event.AttachmentRef)
	require.True(t, strings.HasPrefix(res.Event.AttachmentURL, "file://"), res.Event.AttachmentURL)
	require.Equal(t, "before.jpg", res.Event.Metadata["file_name"])

	var page paginatedEvents
	call(t, srv, http.MethodGet, "/v0/projects/"+p.ID+"/events?update_type=photo", nil, asClient, http.StatusOK, &page)
	require.Len(t, page.Items, 1)
	require.Equal(t, res.Event.AttachmentURL, page.Items[0].AttachmentURL)
}

func TestDevLoginAndAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var login DevLoginResponse
	call(t, srv, http.MethodPost, "/v0/auth/dev/login", map[string]any{"actor_id": "client-9", "role": "client"}, nil, http.StatusOK, &login)
	require.NotEmpty(t, login.Token)

	var me WhoAmIResponse
	call(t, srv, http.MethodGet, "/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token}, http.StatusOK, &me)
	require.Equal(t, WhoAmIResponse{ActorID: "client-9", Role: "client", Source: "jwt"}, me)

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/actors/pro-7/api-keys?role=professional", nil, asClient)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	var key APIKeyResponse
	call(t, srv, http.MethodPost, "/v0/actors/pro-7/api-keys?role=professional", map[string]any{"name": "van tablet"}, asAdmin, http.StatusCreated, &key)
	require.NotEmpty(t, key.Key)

	call(t, srv, http.MethodGet, "/v0/me", nil, map[string]string{"X-Api-Key": key.Key}, http.StatusOK, &me)
	require.Equal(t, WhoAmIResponse{ActorID: "pro-7", Role: "professional", Source: "api_key"}, me)

	call(t, srv, http.MethodDelete, "/v0/api-keys/"+key.ID, nil, asAdmin, http.StatusNoContent, nil)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	p := postProject(t, srv)
	hire(t, srv, p.ID)

	res, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `tradeline_project_transitions_total{from="open",to="assigned"} 1`)
	require.Contains(t, string(body), `tradeline_application_decisions_total{status="accepted"} 1`)
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"project.transitioned"}, Secret: "s3cret"}}
	d := NewWebhookDispatcher(srv.Engine.Repo, cfg, nil)
	require.NotNil(t, d)
	ctx := context.Background()

	postProject(t, srv)
	// The first pass only positions the cursor; earlier entries are not replayed.
	d.DispatchAll(ctx)
	require.Empty(t, received)

	p := postProject(t, srv)
	hire(t, srv, p.ID)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "project.transitioned", received[0].Type)
	require.Equal(t, p.ID, received[0].ProjectID)
	require.Equal(t, "project.transitioned", headers[0].Get("X-Tradeline-Event"))
	require.Equal(t, "s3cret", headers[0].Get("X-Tradeline-Secret"))
	require.Equal(t, p.ID, headers[0].Get("X-Tradeline-Project"))

	require.Nil(t, NewWebhookDispatcher(srv.Engine.Repo, config.Default(), nil))
}

func TestStatusForKind(t *testing.T) {
	cases := map[engine.Kind]int{
		engine.ErrNotFound:                http.StatusNotFound,
		engine.ErrInvalidInput:            http.StatusBadRequest,
		engine.ErrNotProjectOwner:         http.StatusForbidden,
		engine.ErrNotAssignedProfessional: http.StatusForbidden,
		engine.ErrTransientFailure:        http.StatusServiceUnavailable,
		engine.ErrDuplicateApplication:    http.StatusConflict,
		engine.ErrInvalidTransition:       http.StatusConflict,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusForKind(kind), string(kind))
	}
}

func TestCredentialRoutesAuthorizeBeforeValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"no body", http.MethodPost, "/v0/actors/pro-7/api-keys", nil},
		{"bad role query", http.MethodPost, "/v0/actors/pro-7/api-keys?role=owner", map[string]any{"name": "x"}},
		{"wrong body shape", http.MethodPost, "/v0/actors/pro-7/api-keys", map[string]any{"name": 42}},
		{"revoke", http.MethodDelete, "/v0/api-keys/missing", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, who := range []map[string]string{asClient, asPro} {
				res, data := doJSON(t, client, tc.method, srv.URL+tc.path, tc.body, who)
				require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
				require.Equal(t, "forbidden", apiErr(t, data).Code)
			}
		})
	}

	res, _ := doJSON(t, client, http.MethodPost, srv.URL+"/v0/actors/pro-7/api-keys", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOpenAPIDocumentConcurrentRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	docs := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			docs[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()

	var doc map[string]any
	require.NoError(t, json.Unmarshal(docs[0], &doc), string(docs[0]))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, paths, "/v0/projects/{project_id}/events")
	for i := 1; i < n; i++ {
		require.Equal(t, string(docs[0]), string(docs[i]))
	}
}
