package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/store"
)

func scheduledFlow(id string, repeat models.RepeatInterval, nextRun time.Time, config models.RecipientConfig) models.FlowDefinition {
	return models.FlowDefinition{
		ID: id, Name: "campaign " + id, TriggerType: models.TriggerTypeScheduled, Active: true,
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			textNode("m1", "Reminder for {name}"),
		},
		Connections:     []models.Connection{conn("start", "m1")},
		Schedule:        models.Schedule{Repeat: repeat, NextRun: &nextRun},
		RecipientConfig: config,
	}
}

func TestScheduledFlowDailyCadence(t *testing.T) {
	origin := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tick := origin.Add(90 * time.Minute) // late tick must not drift the cadence

	flow := scheduledFlow("f1", models.RepeatDaily, origin, models.RecipientConfig{AudienceType: models.AudienceAll})
	eng, st, sender := newTestEngine(t, flow)
	st.SaveLead(models.Lead{Phone: "911", Name: "Ana"})
	st.SaveLead(models.Lead{Phone: "922", Name: "Ben"})

	eng.RunScheduledWork(context.Background(), tick)

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.sent))
	}
	if sender.sent[0].Payload.Content != "Reminder for Ana" {
		t.Errorf("expected personalized reminder, got %q", sender.sent[0].Payload.Content)
	}

	saved, _ := st.GetFlow("f1")
	if !saved.Active {
		t.Error("daily flow must stay active")
	}
	if saved.Schedule.LastRun == nil || !saved.Schedule.LastRun.Equal(tick) {
		t.Errorf("lastRun = %v, want %v", saved.Schedule.LastRun, tick)
	}
	wantNext := origin.AddDate(0, 0, 1)
	if saved.Schedule.NextRun == nil || !saved.Schedule.NextRun.Equal(wantNext) {
		t.Errorf("nextRun = %v, want %v", saved.Schedule.NextRun, wantNext)
	}
}

func TestScheduledFlowOnceDeactivates(t *testing.T) {
	due := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	flow := scheduledFlow("f1", models.RepeatOnce, due, models.RecipientConfig{
		AudienceType: models.AudienceSpecific,
		Phones:       []string{"+91 900-00", "junk"},
	})
	eng, st, sender := newTestEngine(t, flow)

	eng.RunScheduledWork(context.Background(), due)

	if len(sender.sent) != 1 || sender.sent[0].To != "9190000" {
		t.Fatalf("expected one sanitized recipient, got %+v", sender.sent)
	}
	saved, _ := st.GetFlow("f1")
	if saved.Active {
		t.Error("once flow must deactivate after running")
	}
	if saved.Schedule.NextRun != nil {
		t.Errorf("nextRun should be cleared, got %v", saved.Schedule.NextRun)
	}
}

func TestScheduledFlowNoRecipientsDeactivates(t *testing.T) {
	due := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	flow := scheduledFlow("f1", models.RepeatDaily, due, models.RecipientConfig{
		AudienceType: models.AudienceTags, Tags: []string{"vip"},
	})
	eng, st, sender := newTestEngine(t, flow)

	eng.RunScheduledWork(context.Background(), due)

	if len(sender.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(sender.sent))
	}
	saved, _ := st.GetFlow("f1")
	if saved.Active {
		t.Error("flow with empty audience must deactivate")
	}
	if saved.Schedule.LastRun == nil || !saved.Schedule.LastRun.Equal(due) {
		t.Errorf("lastRun = %v, want %v", saved.Schedule.LastRun, due)
	}
}

func TestScheduledFlowTaggedAudience(t *testing.T) {
	due := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	flow := scheduledFlow("f1", models.RepeatWeekly, due, models.RecipientConfig{
		AudienceType: models.AudienceTags, Tags: []string{"vip"},
	})
	eng, st, sender := newTestEngine(t, flow)
	st.SaveLead(models.Lead{Phone: "911", Name: "Ana", Tags: []string{"vip"}})
	st.SaveLead(models.Lead{Phone: "922", Name: "Ben", Tags: []string{"trial"}})

	eng.RunScheduledWork(context.Background(), due)

	if len(sender.sent) != 1 || sender.sent[0].To != "911" {
		t.Fatalf("expected only tagged lead, got %+v", sender.sent)
	}
	saved, _ := st.GetFlow("f1")
	wantNext := due.AddDate(0, 0, 7)
	if saved.Schedule.NextRun == nil || !saved.Schedule.NextRun.Equal(wantNext) {
		t.Errorf("nextRun = %v, want %v", saved.Schedule.NextRun, wantNext)
	}
}

func TestBulkMessageDispatch(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	eng, st, sender := newTestEngine(t)
	st.SaveLead(models.Lead{Phone: "911", Name: "Ana", PreferredDate: "2025-03-05"})
	st.SaveBulkMessage(models.ScheduledBulkMessage{
		ID:            "b1",
		Message:       "Hi {name}, see you on {preferred_date} at {preferred_time}",
		Recipients:    []string{"911", "922"},
		ScheduledTime: now.Add(-time.Minute),
		Personalize:   true,
		AddDelay:      true,
		Status:        models.BulkStatusPending,
	})

	var slept []time.Duration
	eng.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	eng.RunScheduledWork(context.Background(), now)

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.sent))
	}
	if got := sender.sent[0].Payload.Content; got != "Hi Ana, see you on 2025-03-05 at your requested time" {
		t.Errorf("personalized bulk text = %q", got)
	}
	// Unknown lead falls back to the friendly defaults.
	if got := sender.sent[1].Payload.Content; got != "Hi there, see you on your requested date at your requested time" {
		t.Errorf("fallback bulk text = %q", got)
	}
	// One inter-recipient pause, none after the last send.
	pauses := 0
	for _, d := range slept {
		if d == bulkSendDelay {
			pauses++
		}
	}
	if pauses != 1 {
		t.Errorf("expected 1 inter-recipient pause, got %d", pauses)
	}

	msgs, _ := st.ListDueBulkMessages(now.Add(time.Hour))
	if len(msgs) != 0 {
		t.Errorf("executed bulk message still pending: %+v", msgs)
	}
}

func TestBulkMessageFailedOnlyWhenAllFail(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	type result struct {
		sendErr error
		want    models.BulkMessageStatus
	}
	for name, tc := range map[string]result{
		"all fail": {sendErr: errors.New("down"), want: models.BulkStatusFailed},
		"all ok":   {sendErr: nil, want: models.BulkStatusSent},
	} {
		t.Run(name, func(t *testing.T) {
			eng, st, sender := newTestEngine(t)
			sender.sendErr = tc.sendErr
			st.SaveBulkMessage(models.ScheduledBulkMessage{
				ID: "b1", Message: "hi", Recipients: []string{"911", "922"},
				ScheduledTime: now.Add(-time.Minute), Status: models.BulkStatusPending,
			})

			eng.RunScheduledWork(context.Background(), now)

			got := bulkStatus(t, st, now)
			if got != tc.want {
				t.Errorf("status = %q, want %q", got, tc.want)
			}
		})
	}
}

func bulkStatus(t *testing.T, st *store.InMemoryStore, now time.Time) models.BulkMessageStatus {
	t.Helper()
	msgs, err := st.ListBulkMessages()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range msgs {
		if m.ID == "b1" {
			if m.ExecutedAt == nil || !m.ExecutedAt.Equal(now) {
				t.Errorf("executedAt = %v, want %v", m.ExecutedAt, now)
			}
			return m.Status
		}
	}
	t.Fatal("bulk message b1 not found")
	return ""
}
