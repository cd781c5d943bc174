package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/whatsapp"
)

func TestWhatsmeowSendPayloadDegradesList(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsmeowService(mock)

	payload := &models.Payload{
		Type:    models.PayloadList,
		Content: "Pick a slot",
		Items:   []models.ListRow{{Title: "10 AM"}, {Title: "6 PM"}},
	}
	if err := svc.SendPayload(context.Background(), "919000000001", payload); err != nil {
		t.Fatalf("SendPayload error: %v", err)
	}

	if len(mock.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.Messages))
	}
	body := mock.Messages[0].Body
	for _, want := range []string{"Pick a slot", "1. 10 AM", "2. 6 PM"} {
		if !strings.Contains(body, want) {
			t.Errorf("degraded body missing %q: %q", want, body)
		}
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

func TestWhatsmeowStartWithMockSkipsEvents(t *testing.T) {
	svc := NewWhatsmeowService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "919000000001", "hi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
