package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// captureServer records the last Graph API request body.
type captureServer struct {
	server *httptest.Server
	path   string
	auth   string
	body   map[string]any
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.path = r.URL.Path
		cs.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		cs.body = nil
		if err := json.Unmarshal(raw, &cs.body); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"messages":[{"id":"wamid.test"}]}`)
	}))
	t.Cleanup(cs.server.Close)
	return cs
}

func newTestCloudService(t *testing.T, cs *captureServer) *CloudAPIService {
	t.Helper()
	return NewCloudAPIService("test-token", "123456",
		WithGraphBaseURL(cs.server.URL),
		WithPublicBaseURL("https://flows.example.com"),
		WithVerifyToken("verify-secret"),
	)
}

func (cs *captureServer) interactive(t *testing.T) map[string]any {
	t.Helper()
	interactive, ok := cs.body["interactive"].(map[string]any)
	if !ok {
		t.Fatalf("expected interactive message, got %v", cs.body)
	}
	return interactive
}

func TestCloudAPISendText(t *testing.T) {
	cs := newCaptureServer(t)
	svc := newTestCloudService(t, cs)

	if err := svc.SendMessage(context.Background(), "+91 900-000-0001", "hello"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}

	if cs.path != "/123456/messages" {
		t.Errorf("request path = %q", cs.path)
	}
	if cs.auth != "Bearer test-token" {
		t.Errorf("authorization = %q", cs.auth)
	}
	if cs.body["to"] != "919000000001" {
		t.Errorf("to = %v, want canonicalized digits", cs.body["to"])
	}
	txt := cs.body["text"].(map[string]any)
	if txt["body"] != "hello" {
		t.Errorf("text body = %v", txt["body"])
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt status = %q", receipt.Status)
		}
	case <-time.After(time.Second):
		t.Error("expected a sent receipt")
	}
}

func TestCloudAPIButtonMessage(t *testing.T) {
	cs := newCaptureServer(t)
	svc := newTestCloudService(t, cs)

	payload := &models.Payload{
		Type:    models.PayloadButtons,
		Content: "Pick one",
		Buttons: []models.Button{
			{ID: "opt_a", Text: "Option A"},
			{Text: "This title is far too long for a button"},
			{ID: "opt_c", Text: "Option C"},
			{ID: "opt_d", Text: "Never sent"},
		},
	}
	if err := svc.SendPayload(context.Background(), "919000000001", payload); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}

	interactive := cs.interactive(t)
	if interactive["type"] != "button" {
		t.Fatalf("interactive type = %v", interactive["type"])
	}
	buttons := interactive["action"].(map[string]any)["buttons"].([]any)
	if len(buttons) != 3 {
		t.Fatalf("expected 3 buttons (limit), got %d", len(buttons))
	}

	second := buttons[1].(map[string]any)["reply"].(map[string]any)
	title := second["title"].(string)
	if len([]rune(title)) != 20 {
		t.Errorf("long title should truncate to 20 runes, got %d (%q)", len([]rune(title)), title)
	}
	if second["id"] != title {
		t.Errorf("button without id should reuse the truncated title, got %v", second["id"])
	}
}

func TestCloudAPICTAMessage(t *testing.T) {
	cs := newCaptureServer(t)
	svc := newTestCloudService(t, cs)

	payload := &models.Payload{
		Type:    models.PayloadButtons,
		Content: "Book your session",
		Buttons: []models.Button{{Text: "Book Now", Kind: "url", Value: "/book?src=wa"}},
	}
	if err := svc.SendPayload(context.Background(), "919000000001", payload); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}

	interactive := cs.interactive(t)
	if interactive["type"] != "cta_url" {
		t.Fatalf("interactive type = %v", interactive["type"])
	}
	params := interactive["action"].(map[string]any)["parameters"].(map[string]any)
	if params["display_text"] != "Book Now" {
		t.Errorf("display_text = %v", params["display_text"])
	}
	if params["url"] != "https://flows.example.com/book?src=wa" {
		t.Errorf("relative url should gain public base, got %v", params["url"])
	}
}

func TestCloudAPIListMessage(t *testing.T) {
	cs := newCaptureServer(t)
	svc := newTestCloudService(t, cs)

	payload := &models.Payload{
		Type:    models.PayloadList,
		Content: "Choose a slot",
		Items: []models.ListRow{
			{ID: "slot_1", Title: "A row title that overflows the twenty-four limit", Description: strings.Repeat("d", 100)},
			{ID: "slot_2", Title: "Short"},
		},
	}
	if err := svc.SendPayload(context.Background(), "919000000001", payload); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}

	interactive := cs.interactive(t)
	action := interactive["action"].(map[string]any)
	if action["button"] != "View Menu" {
		t.Errorf("default list button = %v", action["button"])
	}
	sections := action["sections"].([]any)
	if len(sections) != 1 {
		t.Fatalf("flat items should wrap in one section, got %d", len(sections))
	}
	section := sections[0].(map[string]any)
	if section["title"] != "Options" {
		t.Errorf("wrapper section title = %v", section["title"])
	}
	rows := section["rows"].([]any)
	first := rows[0].(map[string]any)
	if len([]rune(first["title"].(string))) != rowTitleLimit {
		t.Errorf("row title should truncate to %d runes", rowTitleLimit)
	}
	if len([]rune(first["description"].(string))) != rowDescLimit {
		t.Errorf("row description should truncate to %d runes", rowDescLimit)
	}
}

func TestCloudAPIDocumentMessage(t *testing.T) {
	cs := newCaptureServer(t)
	svc := newTestCloudService(t, cs)

	payload := &models.Payload{
		Type:     models.PayloadDocument,
		URL:      "https://cdn.example.com/plan",
		Caption:  "  Your plan  ",
		Filename: "meal plan (final)",
	}
	if err := svc.SendPayload(context.Background(), "919000000001", payload); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}

	doc := cs.body["document"].(map[string]any)
	if doc["filename"] != "meal_plan_final.pdf" {
		t.Errorf("filename = %v, want meal_plan_final.pdf", doc["filename"])
	}
	if doc["caption"] != "Your plan" {
		t.Errorf("caption should be trimmed, got %v", doc["caption"])
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"":                 "document.pdf",
		"workout plan":     "workout_plan.pdf",
		"notes.txt":        "notes.txt",
		"a/b\\c report":    "abc_report.pdf",
		"  spaced  name  ": "spaced_name.pdf",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloudAPISendFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad token"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	svc := NewCloudAPIService("bad", "123456", WithGraphBaseURL(server.URL))
	err := svc.SendMessage(context.Background(), "919000000001", "hello")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCloudAPIWebhookVerification(t *testing.T) {
	svc := NewCloudAPIService("t", "123456", WithVerifyToken("verify-secret"))

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Errorf("verification should echo challenge, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong", nil)
	rec = httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad token should be forbidden, got %d", rec.Code)
	}
}

func TestCloudAPIWebhookInboundMessages(t *testing.T) {
	svc := NewCloudAPIService("t", "123456")

	body := `{
		"entry": [{"changes": [{"value": {
			"messages": [
				{"from": "919000000001", "timestamp": "1756400000", "type": "text", "text": {"body": "hi"}},
				{"from": "919000000002", "timestamp": "1756400001", "type": "interactive",
				 "interactive": {"type": "button_reply", "button_reply": {"id": "opt_a", "title": "Option A"}}},
				{"from": "919000000003", "timestamp": "1756400002", "type": "interactive",
				 "interactive": {"type": "list_reply", "list_reply": {"id": "slot_10_11", "title": "10:00 AM - 11:00 AM"}}}
			],
			"statuses": [{"recipient_id": "919000000001", "status": "delivered", "timestamp": "1756400003"}]
		}}]}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	svc.WebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook POST status = %d", rec.Code)
	}

	wantBodies := []string{"hi", "opt_a", "slot_10_11"}
	for i, want := range wantBodies {
		select {
		case resp := <-svc.Responses():
			if resp.Body != want {
				t.Errorf("response %d body = %q, want %q", i, resp.Body, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing response %d", i)
		}
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusDelivered || receipt.To != "919000000001" {
			t.Errorf("receipt = %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Error("missing delivery receipt")
	}
}

func TestCloudAPIStoppedService(t *testing.T) {
	svc := NewCloudAPIService("t", "123456")
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "919000000001", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
