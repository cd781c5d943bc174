// Package models defines session state for in-progress flow executions.
package models

import "time"

// Session is the per-user execution context over a specific flow. Exactly
// one session exists per user identity at a time; it lives in process
// memory and is lost on restart.
type Session struct {
	FlowID        string            `json:"flow_id"`
	CurrentNodeID string            `json:"current_node_id"`
	Variables     map[string]string `json:"variables"`
	// NodeHistory is the append-only sequence of visited node ids, kept
	// for loop diagnostics only.
	NodeHistory []string  `json:"node_history"`
	StartedAt   time.Time `json:"started_at"`
}

// NewSession creates a session parked at the given node.
func NewSession(flowID, startNodeID string) *Session {
	return &Session{
		FlowID:        flowID,
		CurrentNodeID: startNodeID,
		Variables:     make(map[string]string),
		NodeHistory:   []string{startNodeID},
		StartedAt:     time.Now(),
	}
}

// Visit moves the session to the given node and records it in the history.
func (s *Session) Visit(nodeID string) {
	s.CurrentNodeID = nodeID
	s.NodeHistory = append(s.NodeHistory, nodeID)
}

// Session variable keys written by the engine.
const (
	VarLastResponse     = "lastResponse"
	VarLastButtonClick  = "lastButtonClicked"
	VarLastListSelected = "lastListItemSelected"
)
