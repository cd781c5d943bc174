package engine

import (
	"strings"

	"github.com/FlowForge/FlowForge/internal/models"
)

// findNextNode resolves the node the flow should advance to from
// currentNodeID. For condition nodes it evaluates the condition against the
// session variable and follows the "true" or "false" branch. Otherwise it
// picks the first outgoing connection, preferring one whose label or source
// handle matches the message when a message is given.
func findNextNode(flow *models.FlowDefinition, currentNodeID, message string, session *models.Session) *models.Node {
	current := flow.NodeByID(currentNodeID)
	if current == nil {
		return nil
	}

	if current.Type == models.NodeTypeCondition {
		variable := current.Data.Variable
		if variable == "" {
			variable = models.VarLastResponse
		}
		valueToTest := ""
		if session != nil {
			valueToTest = session.Variables[variable]
		}
		if valueToTest == "" {
			valueToTest = message
		}

		condType := current.Data.Condition
		if condType == "" {
			condType = "equals"
		}
		rule := condType + ":" + current.Data.Value

		handle := "false"
		if evaluateCondition(rule, valueToTest) {
			handle = "true"
		}
		for _, c := range flow.Connections {
			if c.Source == currentNodeID &&
				(c.SourceHandle == handle || strings.ToLower(c.Label) == handle) {
				return flow.NodeByID(c.Target)
			}
		}
	}

	for _, c := range flow.Connections {
		if c.Source != currentNodeID {
			continue
		}
		if message == "" {
			return flow.NodeByID(c.Target)
		}
		if ciEqual(c.Label, message) || c.SourceHandle == message {
			return flow.NodeByID(c.Target)
		}
	}
	return nil
}

// evaluateCondition tests value against a condition rule. Rules of the form
// "contains:<x>" and "equals:<x>" match a substring or the whole trimmed
// lowercased value; any other rule is compared for raw equality. An empty
// rule or value is false.
func evaluateCondition(condition, value string) bool {
	if condition == "" || value == "" {
		return false
	}

	valLower := strings.ToLower(strings.TrimSpace(value))
	condLower := strings.ToLower(strings.TrimSpace(condition))

	if rest, ok := strings.CutPrefix(condLower, "contains:"); ok {
		return strings.Contains(valLower, strings.TrimSpace(rest))
	}
	if rest, ok := strings.CutPrefix(condLower, "equals:"); ok {
		return valLower == strings.TrimSpace(rest)
	}
	return valLower == condLower
}

// ciEqual compares two strings case-insensitively after trimming whitespace.
func ciEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
