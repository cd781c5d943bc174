// Package store provides storage backends for FlowForge.
//
// This file implements the in-memory store used by tests and development.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// InMemoryStore keeps all records in process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu    sync.RWMutex
	flows map[string]models.FlowDefinition
	leads map[string]models.Lead
	bulk  map[string]models.ScheduledBulkMessage
	// flowOrder preserves insertion order so trigger matching stays
	// first-match-wins in a stable order.
	flowOrder []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows: make(map[string]models.FlowDefinition),
		leads: make(map[string]models.Lead),
		bulk:  make(map[string]models.ScheduledBulkMessage),
	}
}

func (s *InMemoryStore) ListFlows() ([]models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FlowDefinition, 0, len(s.flows))
	for _, id := range s.flowOrder {
		if f, ok := s.flows[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListActiveFlows() ([]models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowDefinition
	for _, id := range s.flowOrder {
		if f, ok := s.flows[id]; ok && f.Active {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListDueScheduledFlows(now time.Time) ([]models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowDefinition
	for _, id := range s.flowOrder {
		f, ok := s.flows[id]
		if !ok || !f.Active || f.TriggerType != models.TriggerTypeScheduled {
			continue
		}
		if f.Schedule.NextRun != nil && !f.Schedule.NextRun.After(now) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetFlow(id string) (*models.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *InMemoryStore) SaveFlow(def models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flows[def.ID]; !exists {
		s.flowOrder = append(s.flowOrder, def.ID)
	}
	s.flows[def.ID] = def
	return nil
}

func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return nil
	}
	delete(s.flows, id)
	for i, fid := range s.flowOrder {
		if fid == id {
			s.flowOrder = append(s.flowOrder[:i], s.flowOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) IncrementFlowStat(id string, metric models.StatMetric) error {
	if err := validateMetric(metric); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil
	}
	switch metric {
	case models.StatSent:
		f.Stats.Sent++
	case models.StatDelivered:
		f.Stats.Delivered++
	case models.StatRead:
		f.Stats.Read++
	case models.StatClicked:
		f.Stats.Clicked++
	case models.StatErrors:
		f.Stats.Errors++
	}
	s.flows[id] = f
	return nil
}

func (s *InMemoryStore) GetLead(phone string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[phone]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *InMemoryStore) SaveLead(lead models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.Phone] = lead
	return nil
}

func (s *InMemoryStore) ListLeads() ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out, nil
}

func (s *InMemoryStore) ListLeadsByTags(tags []string) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []models.Lead
	for _, l := range s.leads {
		for _, t := range l.Tags {
			if want[t] {
				out = append(out, l)
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListBulkMessages() ([]models.ScheduledBulkMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScheduledBulkMessage, 0, len(s.bulk))
	for _, m := range s.bulk {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (s *InMemoryStore) ListDueBulkMessages(now time.Time) ([]models.ScheduledBulkMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScheduledBulkMessage
	for _, m := range s.bulk {
		if m.Status == models.BulkStatusPending && !m.ScheduledTime.After(now) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (s *InMemoryStore) SaveBulkMessage(msg models.ScheduledBulkMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk[msg.ID] = msg
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
