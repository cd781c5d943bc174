package engine

import (
	"github.com/FlowForge/FlowForge/internal/models"
)

// truncatedButtonLen is the display limit transports impose on button
// titles; replies to a long button carry only its first 20 characters.
const truncatedButtonLen = 20

// branchMatch is a resolved interactive selection: the stable branch id,
// the human text of the choice, and the optional canned feedback attached
// to it.
type branchMatch struct {
	id       string
	text     string
	feedback string
}

// matchButton resolves an inbound message against the buttons of a buttons
// or cta node. It tries the stable button id first, then a case-insensitive
// text comparison, then the transport-truncated prefix of long titles.
func matchButton(buttons []models.Button, message string) *branchMatch {
	for i := range buttons {
		b := &buttons[i]
		if message == b.ID && b.ID != "" {
			return buttonBranch(b)
		}
		if ciEqual(message, b.Text) {
			return buttonBranch(b)
		}
		if runes := []rune(b.Text); len(runes) > truncatedButtonLen && message == string(runes[:truncatedButtonLen]) {
			return buttonBranch(b)
		}
	}
	return nil
}

func buttonBranch(b *models.Button) *branchMatch {
	feedback := b.Reply
	if feedback == "" {
		feedback = b.Value
	}
	return &branchMatch{id: b.ID, text: b.Text, feedback: feedback}
}

// matchListRow resolves an inbound message against every row of a list
// node, flattening sections and the legacy flat item list. It tries the row
// id first, then a case-insensitive title comparison.
func matchListRow(data *models.NodeData, message string) *branchMatch {
	rows := make([]models.ListRow, 0, len(data.ListItems))
	for _, s := range data.Sections {
		rows = append(rows, s.Rows...)
	}
	rows = append(rows, data.ListItems...)

	for i := range rows {
		r := &rows[i]
		if message == r.ID && r.ID != "" {
			return &branchMatch{id: r.ID, text: r.Title}
		}
		if ciEqual(message, r.Title) {
			return &branchMatch{id: r.ID, text: r.Title}
		}
	}
	return nil
}

// findBranchTarget resolves the node an interactive selection leads to:
// first the connection whose source handle carries the branch id, then one
// whose label matches the choice text, then the generic outgoing-edge
// search keyed on the response value.
func findBranchTarget(flow *models.FlowDefinition, nodeID string, match *branchMatch, session *models.Session) *models.Node {
	for _, c := range flow.Connections {
		if c.Source == nodeID && match.id != "" && c.SourceHandle == match.id {
			return flow.NodeByID(c.Target)
		}
	}
	for _, c := range flow.Connections {
		if c.Source == nodeID && c.Label != "" && ciEqual(c.Label, match.text) {
			return flow.NodeByID(c.Target)
		}
	}
	return findNextNode(flow, nodeID, match.text, session)
}
