package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FlowForge/FlowForge/internal/engine"
	"github.com/FlowForge/FlowForge/internal/intake"
	"github.com/FlowForge/FlowForge/internal/messaging"
	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/store"
	"github.com/FlowForge/FlowForge/internal/twiliowhatsapp"
)

type testFixture struct {
	server *Server
	mux    *http.ServeMux
	st     store.Store
	client *twiliowhatsapp.MockClient
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	client := twiliowhatsapp.NewMockClient()
	msgService := messaging.NewTwilioService(client)
	eng := engine.NewEngine(st, msgService)
	wizard := intake.NewWizard(st)
	server := NewServer(st, eng, msgService, wizard)
	return &testFixture{server: server, mux: server.Routes(), st: st, client: client}
}

func (f *testFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func sampleFlow(name string) models.FlowDefinition {
	return models.FlowDefinition{
		Name:        name,
		Trigger:     "hello",
		TriggerType: models.TriggerTypeExact,
		Active:      true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "Welcome aboard!"}},
		},
		Connections: []models.Connection{
			{Source: "n1", Target: "n2"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %q", body["status"])
	}
	if body["timestamp"] == "" {
		t.Error("expected a timestamp in health response")
	}
}

func TestFlowCRUD(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/flows", sampleFlow("Onboarding"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	created, _ := resp.Result.(map[string]interface{})
	flowID, _ := created["id"].(string)
	if flowID == "" {
		t.Fatal("create: expected a generated flow id")
	}

	rec = f.do(t, http.MethodGet, "/api/flows", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	resp = decodeResponse(t, rec)
	list, _ := resp.Result.([]interface{})
	if len(list) != 1 {
		t.Fatalf("list: expected 1 flow, got %d", len(list))
	}

	rec = f.do(t, http.MethodGet, "/api/flows/"+flowID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	updated := sampleFlow("Onboarding v2")
	rec = f.do(t, http.MethodPut, "/api/flows/"+flowID, updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, err := f.st.GetFlow(flowID)
	if err != nil || stored == nil {
		t.Fatalf("update: flow missing after PUT: %v", err)
	}
	if stored.Name != "Onboarding v2" {
		t.Errorf("update: expected renamed flow, got %q", stored.Name)
	}

	rec = f.do(t, http.MethodDelete, "/api/flows/"+flowID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	stored, err = f.st.GetFlow(flowID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if stored != nil {
		t.Error("delete: flow still present")
	}
}

func TestCreateFlowValidation(t *testing.T) {
	f := newTestFixture(t)

	invalid := sampleFlow("Broken")
	invalid.Nodes = invalid.Nodes[1:] // drop the start node
	rec := f.do(t, http.MethodPost, "/api/flows", invalid)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
}

func TestGetFlowNotFound(t *testing.T) {
	f := newTestFixture(t)
	rec := f.do(t, http.MethodGet, "/api/flows/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestFlowStatsEndpoint(t *testing.T) {
	f := newTestFixture(t)

	flow := sampleFlow("Tracked")
	flow.ID = "flow-stats"
	if err := f.st.SaveFlow(flow); err != nil {
		t.Fatalf("seed flow: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/flows/flow-stats/stats", map[string]string{"metric": "clicked"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored, err := f.st.GetFlow("flow-stats")
	if err != nil || stored == nil {
		t.Fatalf("flow missing after stat increment: %v", err)
	}
	if stored.Stats.Clicked != 1 {
		t.Errorf("expected clicked=1, got %d", stored.Stats.Clicked)
	}

	rec = f.do(t, http.MethodPost, "/api/flows/flow-stats/stats", map[string]string{"metric": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid metric: expected 400, got %d", rec.Code)
	}
}

func TestTestFlowWithInlineDefinition(t *testing.T) {
	f := newTestFixture(t)

	flow := sampleFlow("Inline")
	rec := f.do(t, http.MethodPost, "/api/test-flow", map[string]interface{}{
		"phone":    "+91 90000 00001",
		"flowData": flow,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !strings.Contains(resp.Message, "919000000001") {
		t.Errorf("expected canonical phone in message, got %q", resp.Message)
	}

	if len(f.client.Messages) != 1 {
		t.Fatalf("expected 1 outbound message, got %d", len(f.client.Messages))
	}
	if f.client.Messages[0].Body != "Welcome aboard!" {
		t.Errorf("unexpected outbound body %q", f.client.Messages[0].Body)
	}
}

func TestTestFlowMissingFlow(t *testing.T) {
	f := newTestFixture(t)
	rec := f.do(t, http.MethodPost, "/api/test-flow", map[string]interface{}{
		"phone":  "919000000001",
		"flowId": "missing",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendEndpoint(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/send", map[string]string{
		"to":      "+1 (555) 010-0001",
		"message": "Your slot is confirmed.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if len(f.client.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(f.client.Messages))
	}
	if f.client.Messages[0].To != "15550100001" {
		t.Errorf("expected canonical recipient, got %q", f.client.Messages[0].To)
	}
}

func TestSendEndpointMissingFields(t *testing.T) {
	f := newTestFixture(t)
	rec := f.do(t, http.MethodPost, "/api/send", map[string]string{"to": "123456"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLeadsEndpoint(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/leads", models.Lead{
		Phone: "919000000001",
		Name:  "Asha",
		Tags:  []string{"yoga"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create lead: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/leads", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list leads: expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	leads, _ := resp.Result.([]interface{})
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads))
	}

	rec = f.do(t, http.MethodPost, "/api/leads", models.Lead{Name: "No Phone"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing phone: expected 400, got %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/919000000001", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for absent session, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/test-flow", map[string]interface{}{
		"phone":    "919000000001",
		"flowData": sampleFlow("Session probe"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("test-flow: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/sessions/919000000001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected live session, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodDelete, "/api/sessions/919000000001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear session: expected 200, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/sessions/919000000001", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after clear, got %d", rec.Code)
	}
}

func TestBulkMessageScheduling(t *testing.T) {
	f := newTestFixture(t)

	scheduled := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec := f.do(t, http.MethodPost, "/api/bulk-messages/schedule", map[string]interface{}{
		"message":       "Hi {name}, classes resume Monday.",
		"recipients":    []string{"919000000001", "919000000002"},
		"scheduledTime": scheduled.Format(time.RFC3339),
		"personalize":   true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/bulk-messages/scheduled", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	pending, _ := resp.Result.([]interface{})
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	first, _ := pending[0].(map[string]interface{})
	if first["addDelay"] != true {
		t.Error("expected addDelay to default to true")
	}
	if first["status"] != string(models.BulkStatusPending) {
		t.Errorf("expected pending status, got %v", first["status"])
	}
}

func TestBulkMessageValidation(t *testing.T) {
	f := newTestFixture(t)

	rec := f.do(t, http.MethodPost, "/api/bulk-messages/schedule", map[string]interface{}{
		"message":       "hello",
		"recipients":    []string{},
		"scheduledTime": time.Now().Format(time.RFC3339),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty recipients: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/bulk-messages/schedule", map[string]interface{}{
		"recipients": []string{"919000000001"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing message: expected 400, got %d", rec.Code)
	}
}
