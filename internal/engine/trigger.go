package engine

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/FlowForge/FlowForge/internal/models"
)

// findMatchingFlow returns the first flow whose trigger matches the message,
// in the order the flows are given, or nil. Exact triggers compare the
// trimmed lowercased message; contains and keyword triggers look for a
// substring; regex triggers compile case-insensitively against the raw
// message. A flow with an invalid regex is skipped.
func findMatchingFlow(flows []models.FlowDefinition, message string) *models.FlowDefinition {
	msgLower := strings.ToLower(strings.TrimSpace(message))

	for i := range flows {
		flow := &flows[i]
		trigger := strings.ToLower(flow.Trigger)

		switch flow.TriggerType {
		case models.TriggerTypeExact:
			if msgLower == trigger {
				return flow
			}
		case models.TriggerTypeContains, models.TriggerTypeKeyword:
			if strings.Contains(msgLower, trigger) {
				return flow
			}
		case models.TriggerTypeRegex:
			re, err := regexp.Compile("(?i)" + flow.Trigger)
			if err != nil {
				slog.Error("invalid trigger regex in flow", "flowID", flow.ID, "error", err)
				continue
			}
			if re.MatchString(message) {
				return flow
			}
		}
	}
	return nil
}
