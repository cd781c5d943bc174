package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/twiliowhatsapp"
)

func TestTwilioSendMessageCanonicalizes(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "+91 (900) 000-0001", "hello"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}

	if len(mock.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.Messages))
	}
	if mock.Messages[0].To != "919000000001" {
		t.Errorf("to = %q, want digits only", mock.Messages[0].To)
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

func TestTwilioSendPayloadDegradesButtons(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	payload := &models.Payload{
		Type:    models.PayloadButtons,
		Content: "Pick one",
		Buttons: []models.Button{{Text: "Yes"}, {Text: "No"}},
	}
	if err := svc.SendPayload(context.Background(), "919000000001", payload); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}

	body := mock.Messages[0].Body
	for _, want := range []string{"Pick one", "1. Yes", "2. No"} {
		if !strings.Contains(body, want) {
			t.Errorf("degraded body missing %q: %q", want, body)
		}
	}
}

func TestTwilioSendPayloadNoReply(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendPayload(context.Background(), "919000000001", models.NoReplyPayload()); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}
	if len(mock.Messages) != 0 {
		t.Errorf("no_reply payload should send nothing, sent %d", len(mock.Messages))
	}
}

func TestTwilioInvalidRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "abc", "hi"); err == nil {
		t.Fatal("expected validation error for digit-free recipient")
	}
}

func TestTwilioStopped(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "919000000001", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop error: %v", err)
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+919000000001")
	form.Set("Body", "hello there")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	select {
	case resp := <-svc.Responses():
		if resp.Body != "hello there" {
			t.Errorf("response body = %q", resp.Body)
		}
	case <-time.After(time.Second):
		t.Error("expected an inbound response")
	}
}

func TestTwilioWebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("Body=only"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.TwilioWebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing From should be a bad request, got %d", rec.Code)
	}
}
