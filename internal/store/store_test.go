package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

func sampleFlow(id string, active bool) models.FlowDefinition {
	return models.FlowDefinition{
		ID:          id,
		Name:        "flow " + id,
		Trigger:     "hello",
		TriggerType: models.TriggerTypeContains,
		Active:      active,
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeTypeStart},
			{ID: "m1", Type: models.NodeTypeMessage, Data: models.NodeData{Text: "hi"}},
		},
		Connections: []models.Connection{{Source: "start", Target: "m1"}},
	}
}

func TestInMemoryStoreFlows(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.SaveFlow(sampleFlow("f1", true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveFlow(sampleFlow("f2", false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, err := s.ListActiveFlows()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].ID != "f1" {
		t.Errorf("expected only f1 active, got %+v", active)
	}

	got, err := s.GetFlow("f2")
	if err != nil || got == nil {
		t.Fatalf("expected flow f2, got %v (err %v)", got, err)
	}
	missing, err := s.GetFlow("ghost")
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing flow, got %v (err %v)", missing, err)
	}
}

func TestInMemoryStoreDeleteFlow(t *testing.T) {
	s := NewInMemoryStore()
	s.SaveFlow(sampleFlow("f1", true))
	s.SaveFlow(sampleFlow("f2", true))

	if err := s.DeleteFlow("f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteFlow("ghost"); err != nil {
		t.Errorf("deleting a missing flow should not error, got %v", err)
	}
	all, err := s.ListFlows()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all[0].ID != "f2" {
		t.Errorf("expected only f2 left, got %+v", all)
	}
}

func TestInMemoryStoreIncrementStat(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.SaveFlow(sampleFlow("f1", true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementFlowStat("f1", models.StatDelivered); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := s.IncrementFlowStat("f1", "bogus"); err == nil {
		t.Error("expected error for unknown metric")
	}
	f, _ := s.GetFlow("f1")
	if f.Stats.Delivered != 3 {
		t.Errorf("expected delivered=3, got %d", f.Stats.Delivered)
	}
}

func TestInMemoryStoreLeadsByTags(t *testing.T) {
	s := NewInMemoryStore()
	s.SaveLead(models.Lead{Phone: "111", Name: "Ana", Tags: []string{"vip"}})
	s.SaveLead(models.Lead{Phone: "222", Name: "Ben", Tags: []string{"trial"}})
	s.SaveLead(models.Lead{Phone: "333", Name: "Cam"})

	got, err := s.ListLeadsByTags([]string{"vip", "gold"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Phone != "111" {
		t.Errorf("expected only lead 111, got %+v", got)
	}
}

func TestInMemoryStoreDueBulkMessages(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	s.SaveBulkMessage(models.ScheduledBulkMessage{
		ID: "b1", Message: "due", Recipients: []string{"111"},
		ScheduledTime: now.Add(-time.Minute), Status: models.BulkStatusPending,
	})
	s.SaveBulkMessage(models.ScheduledBulkMessage{
		ID: "b2", Message: "future", Recipients: []string{"111"},
		ScheduledTime: now.Add(time.Hour), Status: models.BulkStatusPending,
	})
	s.SaveBulkMessage(models.ScheduledBulkMessage{
		ID: "b3", Message: "done", Recipients: []string{"111"},
		ScheduledTime: now.Add(-time.Hour), Status: models.BulkStatusSent,
	})

	due, err := s.ListDueBulkMessages(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "b1" {
		t.Errorf("expected only b1 due, got %+v", due)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "flowforge.db")
	s, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	next := time.Now().Add(-time.Minute).UTC()
	def := sampleFlow("f1", true)
	def.TriggerType = models.TriggerTypeScheduled
	def.Schedule = models.Schedule{Repeat: models.RepeatDaily, NextRun: &next}
	if err := s.SaveFlow(def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, err := s.ListDueScheduledFlows(time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "f1" {
		t.Fatalf("expected f1 due, got %+v", due)
	}
	if due[0].Schedule.Repeat != models.RepeatDaily {
		t.Errorf("schedule repeat not preserved: %+v", due[0].Schedule)
	}
	if len(due[0].Nodes) != 2 || due[0].Nodes[0].Type != models.NodeTypeStart {
		t.Errorf("graph not preserved: %+v", due[0].Nodes)
	}

	if err := s.IncrementFlowStat("f1", models.StatSent); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.GetFlow("f1")
	if err != nil || got == nil {
		t.Fatalf("expected flow back, got %v (err %v)", got, err)
	}
	if got.Stats.Sent != 1 {
		t.Errorf("expected sent=1, got %d", got.Stats.Sent)
	}

	lead := models.Lead{Phone: "9111", Name: "Ana", PreferredDate: "2025-01-02", Tags: []string{"vip"}, Completed: true}
	if err := s.SaveLead(lead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotLead, err := s.GetLead("9111")
	if err != nil || gotLead == nil {
		t.Fatalf("expected lead back, got %v (err %v)", gotLead, err)
	}
	if gotLead.Name != "Ana" || len(gotLead.Tags) != 1 || gotLead.Tags[0] != "vip" {
		t.Errorf("lead not preserved: %+v", gotLead)
	}

	msg := models.ScheduledBulkMessage{
		ID: "b1", Message: "hi", Recipients: []string{"9111", "9222"},
		ScheduledTime: time.Now().Add(-time.Minute).UTC(), Status: models.BulkStatusPending,
	}
	if err := s.SaveBulkMessage(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dueMsgs, err := s.ListDueBulkMessages(time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dueMsgs) != 1 || len(dueMsgs[0].Recipients) != 2 {
		t.Fatalf("expected b1 with 2 recipients, got %+v", dueMsgs)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":    "postgres",
		"postgresql://u:p@localhost/db":  "postgres",
		"host=localhost dbname=ff":       "postgres",
		"/var/lib/flowforge/flow.db":     "sqlite",
		"file:flow.db?_foreign_keys=on":  "sqlite",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}
