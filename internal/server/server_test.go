package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideline/internal/address"
	"rideline/internal/config"
	"rideline/internal/db"
	"rideline/internal/domain"
	"rideline/internal/engine"
	"rideline/internal/events"
	"rideline/internal/gateway"
	"rideline/internal/metrics"
	"rideline/internal/migrate"
	"rideline/internal/repo"
)

const testSecret = "test-secret"

const employees = `employees:
  - id: A
    name: Ana
    home: {line: 1 Main St, city: Paris}
    office: {id: hq, line: 10 Tower Ave, city: Paris}
  - id: B
    name: Ben
    home: {line: 1 Main St, city: Paris}
    office: {id: hq, line: 10 Tower Ave, city: Paris}
  - id: C
    name: Cy
    home: {line: 3 Main St, city: Paris}
`

type testServer struct {
	URL    string
	GW     *gateway.Memory
	client *http.Client
	token  string
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Events: events.Writer{}}
	dir, err := address.ParseDirectory([]byte(employees))
	if err != nil {
		t.Fatalf("parse directory: %v", err)
	}
	gw := gateway.NewMemory()
	cfg := config.Default()
	cfg.Dispatch.TaxiCapacity = 2
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	e := engine.New(r, r, dir, gw, cfg)
	e.Metrics = sink
	srvHandler, err := New(Config{
		Engine:           e,
		BasePath:         "/v0",
		Auth:             AuthConfig{JWTSecret: testSecret},
		AutosaveInterval: time.Hour,
		Metrics:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	token, err := SignToken(testSecret, "dispatcher-1", time.Hour, "dispatcher")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: srvHandler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		GW:     gw,
		client: &http.Client{},
		token:  token,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			srvHandler.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

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

// call sends an authenticated request and decodes a successful response into out.
func (s *testServer) call(t *testing.T, method, path string, body any, want int, out any) []byte {
	t.Helper()
	res, data := doJSON(t, s.client, method, s.URL+"/v0"+path, body, map[string]string{
		"Authorization": "Bearer " + s.token,
	})
	require.Equalf(t, want, res.StatusCode, "%s %s: %s", method, path, string(data))
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}
	return data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) callErr(t *testing.T, method, path string, body any, want int) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	s.call(t, method, path, body, want, &env)
	return env
}

func (s *testServer) newDraft(t *testing.T, ids ...string) string {
	t.Helper()
	var view DraftView
	s.call(t, http.MethodPost, "/drafts", nil, http.StatusCreated, &view)
	for _, id := range ids {
		s.call(t, http.MethodPost, "/drafts/"+view.Draft.ID+"/passengers", SelectPassengerRequest{EmployeeID: id}, http.StatusOK, nil)
	}
	return view.Draft.ID
}

func TestHealthAndAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/drafts", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "unauthorized", env.Error.Code)

	other, err := SignToken("other-secret", "mallory", time.Hour)
	require.NoError(t, err)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/drafts", nil, map[string]string{"Authorization": "Bearer " + other})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "invalid_credentials", env.Error.Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/drafts", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOpenAPIAdvertisesBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	assert.Contains(t, doc.Paths, "/v0/drafts/{id}/submit")
	assert.Contains(t, doc.Paths, "/v0/dispatch/{request_id}/finalize")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/openapi.json")
}

func TestDraftToDispatchFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A", "B", "C")

	var view DraftView
	srv.call(t, http.MethodGet, "/drafts/"+id, nil, http.StatusOK, &view)
	require.Len(t, view.Draft.Passengers, 3)
	require.Len(t, view.Groups, 2)
	assert.Equal(t, "1 Main St, Paris", view.Groups[0].Pickup)
	assert.Equal(t, []string{"A", "B"}, view.Groups[0].EmployeeIDs)

	// C has no office on file, so the arrival needs an override first.
	env := srv.callErr(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusUnprocessableEntity)
	assert.Equal(t, "empty_schedule", env.Error.Code)
	srv.call(t, http.MethodPut, "/drafts/"+id+"/schedule", ScheduleRequest{Date: "2026-03-02", Time: "08:30"}, http.StatusOK, nil)
	env = srv.callErr(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusUnprocessableEntity)
	assert.Equal(t, "unresolved_address", env.Error.Code)

	srv.call(t, http.MethodPut, "/drafts/"+id+"/passengers/C/address", SetAddressRequest{
		Leg:     "arrival",
		Address: &AddressInput{Line: "10 Tower Ave", City: "Paris"},
	}, http.StatusOK, &view)
	assert.True(t, view.Draft.Passengers[2].Arrival.Manual)

	var submitted engine.SubmitResult
	srv.call(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusOK, &submitted)
	require.Len(t, submitted.Requests, 1)
	assert.False(t, submitted.Kept)
	req := submitted.Requests[0]
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Len(t, req.Passengers, 3)

	srv.callErr(t, http.MethodGet, "/drafts/"+id, nil, http.StatusNotFound)

	env = srv.callErr(t, http.MethodGet, "/dispatch/"+req.ID, nil, http.StatusConflict)
	assert.Equal(t, "invalid_transition", env.Error.Code)
	srv.call(t, http.MethodPut, "/requests/"+req.ID+"/status", StatusRequest{Status: "APPROVED"}, http.StatusOK, nil)

	var alloc AllocationView
	srv.call(t, http.MethodGet, "/dispatch/"+req.ID, nil, http.StatusOK, &alloc)
	require.Len(t, alloc.Taxis, 1)
	assert.Len(t, alloc.Unassigned, 3)
	assert.False(t, alloc.Complete)
	taxi1 := alloc.Taxis[0].ID

	for _, emp := range []string{"A", "B"} {
		srv.call(t, http.MethodPost, "/dispatch/"+req.ID+"/taxis/"+taxi1+"/passengers", AssignRequest{EmployeeID: emp}, http.StatusOK, &alloc)
	}
	env = srv.callErr(t, http.MethodPost, "/dispatch/"+req.ID+"/taxis/"+taxi1+"/passengers", AssignRequest{EmployeeID: "C"}, http.StatusConflict)
	assert.Equal(t, "taxi_full", env.Error.Code)
	env = srv.callErr(t, http.MethodPost, "/dispatch/"+req.ID+"/finalize", nil, http.StatusConflict)
	assert.Equal(t, "incomplete_allocation", env.Error.Code)
	env = srv.callErr(t, http.MethodDelete, "/dispatch/"+req.ID+"/taxis/"+taxi1, nil, http.StatusConflict)
	assert.Equal(t, "taxi_not_empty", env.Error.Code)

	srv.call(t, http.MethodPost, "/dispatch/"+req.ID+"/taxis", nil, http.StatusCreated, &alloc)
	require.Len(t, alloc.Taxis, 2)
	var taxi2 string
	for _, tx := range alloc.Taxis {
		if tx.ID != taxi1 {
			taxi2 = tx.ID
		}
	}
	srv.call(t, http.MethodPost, "/dispatch/"+req.ID+"/taxis/"+taxi2+"/passengers", AssignRequest{EmployeeID: "C"}, http.StatusOK, &alloc)
	assert.True(t, alloc.Complete)
	assert.Empty(t, alloc.Pool)

	var fin FinalizeResponse
	srv.call(t, http.MethodPost, "/dispatch/"+req.ID+"/finalize", nil, http.StatusOK, &fin)
	for _, tx := range fin.Taxis {
		assert.Equal(t, domain.TaxiDispatched, tx.Status)
	}

	var got domain.Request
	srv.call(t, http.MethodGet, "/requests/"+req.ID, nil, http.StatusOK, &got)
	assert.Equal(t, domain.StatusDispatched, got.Status)
	tags := map[string]string{}
	for _, p := range got.Passengers {
		tags[p.EmployeeID] = p.TaxiTag
	}
	assert.Equal(t, tags["A"], tags["B"])
	assert.NotEqual(t, tags["A"], tags["C"])

	var evs ListResponse[domain.Event]
	srv.call(t, http.MethodGet, "/events?entity_kind=request&entity_id="+req.ID, nil, http.StatusOK, &evs)
	var types []string
	for _, ev := range evs.Items {
		types = append(types, ev.Type)
		assert.Equal(t, "dispatcher-1", ev.ActorID)
	}
	assert.Contains(t, types, "request.created")
	assert.Contains(t, types, "request.status")
	assert.Contains(t, types, "allocation.finalized")
}

func TestDraftEditsAndDiscard(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A")
	note := "bring badges"
	kind := "public"
	var view DraftView
	srv.call(t, http.MethodPatch, "/drafts/"+id, DraftPatchRequest{Note: &note, TransportKind: &kind}, http.StatusOK, &view)
	assert.Equal(t, note, view.Draft.Note)
	assert.Equal(t, domain.TransportPublic, view.Draft.TransportKind)

	srv.call(t, http.MethodPost, "/drafts/"+id+"/direction/toggle", nil, http.StatusOK, &view)
	assert.Equal(t, domain.WorkToHome, view.Draft.Direction)
	assert.Equal(t, "hq", view.Draft.Passengers[0].Departure.ID)

	srv.call(t, http.MethodPut, "/drafts/"+id+"/recurring", RecurringRequest{Recurring: true, Dates: []string{"2026-03-03", "2026-03-02"}}, http.StatusOK, &view)
	require.Len(t, view.Draft.Schedule.Occurrences, 2)
	srv.call(t, http.MethodPut, "/drafts/"+id+"/occurrences/2026-03-03", OccurrenceTimeRequest{Time: "17:45"}, http.StatusOK, &view)

	srv.call(t, http.MethodPost, "/drafts/"+id+"/save", nil, http.StatusOK, nil)
	var list ListResponse[domain.Draft]
	srv.call(t, http.MethodGet, "/drafts", nil, http.StatusOK, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, id, list.Items[0].ID)

	env := srv.callErr(t, http.MethodPost, "/drafts/"+id+"/passengers", SelectPassengerRequest{EmployeeID: "nobody"}, http.StatusUnprocessableEntity)
	assert.Equal(t, "unknown_employee", env.Error.Code)
	env = srv.callErr(t, http.MethodPut, "/drafts/"+id+"/passengers/A/address", SetAddressRequest{Leg: "departure", AddressID: "nowhere"}, http.StatusUnprocessableEntity)
	assert.Equal(t, "invalid_address", env.Error.Code)

	srv.call(t, http.MethodDelete, "/drafts/"+id, nil, http.StatusNoContent, nil)
	srv.call(t, http.MethodGet, "/drafts", nil, http.StatusOK, &list)
	assert.Empty(t, list.Items)
	srv.callErr(t, http.MethodGet, "/drafts/"+id, nil, http.StatusNotFound)
}

func TestGatewayFailureMapsToBadGateway(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A")
	srv.call(t, http.MethodPut, "/drafts/"+id+"/schedule", ScheduleRequest{Date: "2026-03-02", Time: "08:30"}, http.StatusOK, nil)
	srv.GW.Fail = func(op string) error {
		if op == "create" {
			return errors.New("connection refused")
		}
		return nil
	}
	env := srv.callErr(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusBadGateway)
	assert.Equal(t, "collaborator_failed", env.Error.Code)
	assert.Equal(t, "gateway", env.Error.Details["service"])

	// the draft survives for a retry
	srv.GW.Fail = nil
	var submitted engine.SubmitResult
	srv.call(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusOK, &submitted)
	assert.Len(t, submitted.Requests, 1)

	srv.callErr(t, http.MethodGet, "/requests/missing", nil, http.StatusNotFound)
}

func TestRequestEditOnlyWhilePending(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A")
	srv.call(t, http.MethodPut, "/drafts/"+id+"/schedule", ScheduleRequest{Date: "2026-03-02", Time: "08:30"}, http.StatusOK, nil)
	var submitted engine.SubmitResult
	srv.call(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusOK, &submitted)
	reqID := submitted.Requests[0].ID

	note := "gate B"
	var got domain.Request
	srv.call(t, http.MethodPatch, "/requests/"+reqID, domain.RequestPatch{Note: &note}, http.StatusOK, &got)
	assert.Equal(t, note, got.Note)

	srv.call(t, http.MethodPut, "/requests/"+reqID+"/status", StatusRequest{Status: "CANCELLED"}, http.StatusOK, &got)
	env := srv.callErr(t, http.MethodPatch, "/requests/"+reqID, domain.RequestPatch{Note: &note}, http.StatusConflict)
	assert.Equal(t, "invalid_transition", env.Error.Code)
	env = srv.callErr(t, http.MethodPut, "/requests/"+reqID+"/status", StatusRequest{Status: "APPROVED"}, http.StatusConflict)
	assert.Equal(t, "invalid_transition", env.Error.Code)
}

func TestCancelledRequestCannotBeFinalized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A")
	srv.call(t, http.MethodPut, "/drafts/"+id+"/schedule", ScheduleRequest{Date: "2026-03-02", Time: "08:30"}, http.StatusOK, nil)
	var submitted engine.SubmitResult
	srv.call(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusOK, &submitted)
	reqID := submitted.Requests[0].ID
	srv.call(t, http.MethodPut, "/requests/"+reqID+"/status", StatusRequest{Status: "APPROVED"}, http.StatusOK, nil)

	var alloc AllocationView
	srv.call(t, http.MethodGet, "/dispatch/"+reqID, nil, http.StatusOK, &alloc)
	srv.call(t, http.MethodPost, "/dispatch/"+reqID+"/taxis/"+alloc.Taxis[0].ID+"/passengers", AssignRequest{EmployeeID: "A"}, http.StatusOK, &alloc)
	require.True(t, alloc.Complete)

	srv.call(t, http.MethodPut, "/requests/"+reqID+"/status", StatusRequest{Status: "CANCELLED"}, http.StatusOK, nil)
	env := srv.callErr(t, http.MethodPost, "/dispatch/"+reqID+"/finalize", nil, http.StatusConflict)
	assert.Equal(t, "invalid_transition", env.Error.Code)

	var got domain.Request
	srv.call(t, http.MethodGet, "/requests/"+reqID, nil, http.StatusOK, &got)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Empty(t, got.Passengers[0].TaxiTag)
}

func TestRequestEditRejectsBadPassengers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A")
	srv.call(t, http.MethodPut, "/drafts/"+id+"/schedule", ScheduleRequest{Date: "2026-03-02", Time: "08:30"}, http.StatusOK, nil)
	var submitted engine.SubmitResult
	srv.call(t, http.MethodPost, "/drafts/"+id+"/submit", nil, http.StatusOK, &submitted)
	req := submitted.Requests[0]

	env := srv.callErr(t, http.MethodPatch, "/requests/"+req.ID, map[string]any{"passengers": []any{}}, http.StatusUnprocessableEntity)
	assert.Equal(t, "empty_passengers", env.Error.Code)

	twice := []domain.PassengerTransport{req.Passengers[0], req.Passengers[0]}
	env = srv.callErr(t, http.MethodPatch, "/requests/"+req.ID, domain.RequestPatch{Passengers: twice}, http.StatusUnprocessableEntity)
	assert.Equal(t, "invalid_input", env.Error.Code)

	var got domain.Request
	srv.call(t, http.MethodGet, "/requests/"+req.ID, nil, http.StatusOK, &got)
	assert.Len(t, got.Passengers, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	id := srv.newDraft(t, "A")
	srv.call(t, http.MethodPost, "/drafts/"+id+"/save", nil, http.StatusOK, nil)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), `rideline_store_writes_total{namespace="draft",result="ok"} 1`), string(data))
}
