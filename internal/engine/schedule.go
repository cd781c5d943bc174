package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// bulkSendDelay is the pause between recipients of a bulk message when its
// AddDelay flag is set.
const bulkSendDelay = 2 * time.Second

var nonDigitRe = regexp.MustCompile(`\D`)

// RunScheduledWork executes one scheduler cycle: it starts every scheduled
// flow whose nextRun has passed and dispatches every due bulk message.
// Failures are logged per item and never abort the cycle.
func (e *Engine) RunScheduledWork(ctx context.Context, now time.Time) {
	flows, err := e.store.ListDueScheduledFlows(now)
	if err != nil {
		slog.Error("failed to list due scheduled flows", "error", err)
	} else {
		for i := range flows {
			slog.Info("triggering scheduled flow", "flowID", flows[i].ID, "flowName", flows[i].Name)
			e.executeScheduledFlow(ctx, &flows[i], now)
		}
	}

	msgs, err := e.store.ListDueBulkMessages(now)
	if err != nil {
		slog.Error("failed to list due bulk messages", "error", err)
		return
	}
	for i := range msgs {
		e.executeScheduledBulkMessage(ctx, &msgs[i], now)
	}
}

// executeScheduledFlow starts one scheduled flow for its whole audience and
// advances its schedule bookkeeping.
func (e *Engine) executeScheduledFlow(ctx context.Context, flow *models.FlowDefinition, now time.Time) {
	recipients := e.resolveAudience(flow)

	if len(recipients) == 0 {
		slog.Warn("scheduled flow has no recipients, deactivating", "flowID", flow.ID, "flowName", flow.Name)
		flow.Schedule.LastRun = &now
		flow.Active = false
		if err := e.store.SaveFlow(*flow); err != nil {
			slog.Error("failed to save scheduled flow", "flowID", flow.ID, "error", err)
		}
		return
	}

	slog.Info("executing scheduled flow", "flowID", flow.ID, "flowName", flow.Name, "recipients", len(recipients))

	for _, phone := range recipients {
		payload, err := e.StartFlow(ctx, phone, flow)
		if err != nil {
			slog.Error("scheduled flow failed for recipient", "flowID", flow.ID, "phone", phone, "error", err)
			continue
		}
		if payload == nil || !payload.IsVisible() {
			slog.Warn("scheduled flow produced no initial payload", "flowID", flow.ID, "phone", phone)
			continue
		}
		if err := e.sender.SendPayload(ctx, phone, payload); err != nil {
			slog.Error("failed to send scheduled flow message", "flowID", flow.ID, "phone", phone, "error", err)
		}
	}

	flow.Schedule.LastRun = &now
	if flow.Schedule.Repeat != "" && flow.Schedule.Repeat != models.RepeatOnce && flow.Schedule.NextRun != nil {
		// Advance one period from the previous nextRun, not from now, so a
		// late cycle does not drift the cadence.
		next := advanceSchedule(*flow.Schedule.NextRun, flow.Schedule.Repeat)
		flow.Schedule.NextRun = &next
	} else {
		flow.Schedule.NextRun = nil
		flow.Active = false
	}
	if err := e.store.SaveFlow(*flow); err != nil {
		slog.Error("failed to save scheduled flow", "flowID", flow.ID, "error", err)
		return
	}
	slog.Info("scheduled flow updated", "flowID", flow.ID, "nextRun", flow.Schedule.NextRun)
}

// advanceSchedule returns the run time one repeat period after prev.
func advanceSchedule(prev time.Time, repeat models.RepeatInterval) time.Time {
	switch repeat {
	case models.RepeatDaily:
		return prev.AddDate(0, 0, 1)
	case models.RepeatWeekly:
		return prev.AddDate(0, 0, 7)
	case models.RepeatMonthly:
		return prev.AddDate(0, 1, 0)
	default:
		return prev
	}
}

// resolveAudience expands a flow's recipient config into phone numbers.
func (e *Engine) resolveAudience(flow *models.FlowDefinition) []string {
	config := flow.RecipientConfig

	switch config.AudienceType {
	case models.AudienceTags:
		if len(config.Tags) == 0 {
			return nil
		}
		leads, err := e.store.ListLeadsByTags(config.Tags)
		if err != nil {
			slog.Error("failed to resolve tagged audience", "flowID", flow.ID, "error", err)
			return nil
		}
		return leadPhones(leads)
	case models.AudienceSpecific, models.AudienceIndividual, models.AudienceManual:
		phones := make([]string, 0, len(config.Phones))
		for _, p := range config.Phones {
			if clean := nonDigitRe.ReplaceAllString(p, ""); clean != "" {
				phones = append(phones, clean)
			}
		}
		return phones
	default:
		leads, err := e.store.ListLeads()
		if err != nil {
			slog.Error("failed to resolve audience", "flowID", flow.ID, "error", err)
			return nil
		}
		return leadPhones(leads)
	}
}

func leadPhones(leads []models.Lead) []string {
	phones := make([]string, 0, len(leads))
	for _, l := range leads {
		if l.Phone != "" {
			phones = append(phones, l.Phone)
		}
	}
	return phones
}

// executeScheduledBulkMessage sends a due bulk message to each recipient in
// turn and marks it with a terminal status. The message is failed only when
// every recipient failed.
func (e *Engine) executeScheduledBulkMessage(ctx context.Context, msg *models.ScheduledBulkMessage, now time.Time) {
	slog.Info("executing scheduled bulk message", "bulkID", msg.ID, "recipients", len(msg.Recipients))

	sent, failed := 0, 0
	for i, phone := range msg.Recipients {
		text := msg.Message
		if msg.Personalize {
			text = e.personalizeBulk(text, phone)
		}

		if err := e.sender.SendPayload(ctx, phone, models.TextPayload(text)); err != nil {
			failed++
			slog.Error("bulk message send failed", "bulkID", msg.ID, "phone", phone, "error", err)
		} else {
			sent++
		}

		if msg.AddDelay && i < len(msg.Recipients)-1 {
			if err := e.sleep(ctx, bulkSendDelay); err != nil {
				slog.Warn("bulk message interrupted", "bulkID", msg.ID, "error", err)
				break
			}
		}
	}

	msg.Status = models.BulkStatusSent
	if len(msg.Recipients) > 0 && failed == len(msg.Recipients) {
		msg.Status = models.BulkStatusFailed
	}
	msg.ExecutedAt = &now
	if err := e.store.SaveBulkMessage(*msg); err != nil {
		slog.Error("failed to save bulk message status", "bulkID", msg.ID, "error", err)
		return
	}
	slog.Info("bulk message complete", "bulkID", msg.ID, "sent", sent, "failed", failed)
}

// personalizeBulk substitutes the small placeholder set bulk messages
// support, with friendly fallbacks when the lead record is incomplete.
func (e *Engine) personalizeBulk(text, phone string) string {
	name, date, slot := "there", "your requested date", "your requested time"

	lead, err := e.store.GetLead(phone)
	if err != nil {
		slog.Error("failed to fetch lead for bulk personalization", "phone", phone, "error", err)
	} else if lead != nil && lead.Name != "" {
		name = lead.Name
		if lead.PreferredDate != "" {
			date = lead.PreferredDate
		}
		if lead.PreferredTime != "" {
			slot = lead.PreferredTime
		}
	}

	text = strings.ReplaceAll(text, "{name}", name)
	text = strings.ReplaceAll(text, "{preferred_date}", date)
	text = strings.ReplaceAll(text, "{preferred_time}", slot)
	return text
}
