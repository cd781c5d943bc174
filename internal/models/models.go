// Package models defines the core data structures for FlowForge.
//
// It includes the flow-graph definition types, leads, scheduled bulk
// messages, and delivery/read receipts shared across modules.
package models

import (
	"errors"
	"time"
)

// NodeType identifies the behavior of a flow graph node.
type NodeType string

const (
	// NodeTypeStart marks the entry point of a flow; it never emits output.
	NodeTypeStart NodeType = "start"
	// NodeTypeMessage sends a plain text message.
	NodeTypeMessage NodeType = "message"
	// NodeTypeButtons sends an interactive reply-button prompt.
	NodeTypeButtons NodeType = "buttons"
	// NodeTypeList sends an interactive list prompt.
	NodeTypeList NodeType = "list"
	// NodeTypeCTA sends a single call-to-action (URL or phone) button.
	NodeTypeCTA NodeType = "cta"
	// NodeTypeImage sends an image with an optional caption.
	NodeTypeImage NodeType = "image"
	// NodeTypeVideo sends a video with an optional caption.
	NodeTypeVideo NodeType = "video"
	// NodeTypeAudio sends an audio clip.
	NodeTypeAudio NodeType = "audio"
	// NodeTypeDocument sends a document attachment.
	NodeTypeDocument NodeType = "document"
	// NodeTypeDelay pauses the flow without producing visible output.
	NodeTypeDelay NodeType = "delay"
	// NodeTypeCondition branches on a session variable without emitting output.
	NodeTypeCondition NodeType = "condition"
)

// TriggerType defines how a flow's trigger string is matched against
// inbound messages.
type TriggerType string

const (
	TriggerTypeExact     TriggerType = "exact"
	TriggerTypeContains  TriggerType = "contains"
	TriggerTypeKeyword   TriggerType = "keyword"
	TriggerTypeRegex     TriggerType = "regex"
	TriggerTypeScheduled TriggerType = "scheduled"
)

// RepeatInterval defines the cadence of a scheduled flow.
type RepeatInterval string

const (
	RepeatOnce    RepeatInterval = "once"
	RepeatDaily   RepeatInterval = "daily"
	RepeatWeekly  RepeatInterval = "weekly"
	RepeatMonthly RepeatInterval = "monthly"
)

// AudienceType selects how a scheduled flow resolves its recipient set.
type AudienceType string

const (
	AudienceAll        AudienceType = "all"
	AudienceTags       AudienceType = "tags"
	AudienceSpecific   AudienceType = "specific"
	AudienceIndividual AudienceType = "individual"
	AudienceManual     AudienceType = "manual"
)

// StatMetric names a counter on FlowStats.
type StatMetric string

const (
	StatSent      StatMetric = "sent"
	StatDelivered StatMetric = "delivered"
	StatRead      StatMetric = "read"
	StatClicked   StatMetric = "clicked"
	StatErrors    StatMetric = "errors"
)

// IsValidStatMetric checks if the given metric is a known counter.
func IsValidStatMetric(m StatMetric) bool {
	switch m {
	case StatSent, StatDelivered, StatRead, StatClicked, StatErrors:
		return true
	default:
		return false
	}
}

// Error variables for flow definition validation.
var (
	ErrMissingFlowName    = errors.New("flow name is required")
	ErrMissingTrigger     = errors.New("flow trigger is required")
	ErrNoStartNode        = errors.New("flow has no start node")
	ErrMultipleStartNodes = errors.New("flow has more than one start node")
	ErrDanglingConnection = errors.New("connection references a missing node")
	ErrDuplicateNodeID    = errors.New("duplicate node id in flow")
)

// Button is a selectable option on a buttons or cta node.
// Kind is one of "reply", "url", "call".
type Button struct {
	ID    string `json:"id,omitempty"`
	Text  string `json:"text"`
	Reply string `json:"reply,omitempty"`
	Kind  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
}

// ListRow is one selectable row in a list section.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups list rows under a title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// NodeData carries the type-dependent payload of a Node. The field set is a
// union across all node types; each executor reads only the fields relevant
// to its node type. Field names are wire-stable with existing flow JSON.
type NodeData struct {
	// message, buttons, list, cta
	Text string `json:"text,omitempty"`

	// buttons
	Buttons []Button `json:"buttons,omitempty"`

	// list (sections is current, listItems is the legacy flat form)
	Header    string        `json:"header,omitempty"`
	Sections  []ListSection `json:"sections,omitempty"`
	ListItems []ListRow     `json:"listItems,omitempty"`

	// media (url is current, mediaUrl is the legacy name)
	URL      string `json:"url,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`

	// delay
	DelaySeconds int `json:"delay,omitempty"`

	// condition
	Condition string `json:"condition,omitempty"`
	Variable  string `json:"variable,omitempty"`
	Value     string `json:"value,omitempty"`

	// cta
	ButtonText  string `json:"buttonText,omitempty"`
	CTAType     string `json:"ctaType,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Footer      string `json:"footer,omitempty"`
}

// Node is one step in a flow graph.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// Connection is a directed edge between two nodes. SourceHandle carries a
// stable branch key (a button id or "true"/"false"); Label is a human text
// fallback match key.
type Connection struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Label        string `json:"label,omitempty"`
}

// Schedule holds the delivery cadence of a scheduled flow.
type Schedule struct {
	Time    *time.Time     `json:"time,omitempty"`
	Repeat  RepeatInterval `json:"repeat,omitempty"`
	LastRun *time.Time     `json:"lastRun,omitempty"`
	NextRun *time.Time     `json:"nextRun,omitempty"`
}

// RecipientConfig targets the audience of a scheduled flow.
type RecipientConfig struct {
	AudienceType AudienceType `json:"audienceType,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Phones       []string     `json:"phones,omitempty"`
}

// FlowStats holds best-effort delivery counters. Lost updates under
// concurrent access are tolerated; the counters are informational.
type FlowStats struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Clicked   int `json:"clicked"`
	Errors    int `json:"errors"`
}

// FlowDefinition is a directed graph automation definition. It is treated as
// an immutable snapshot once loaded for an execution step; only stats and
// schedule bookkeeping mutate it in place.
type FlowDefinition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Trigger         string          `json:"trigger"`
	TriggerType     TriggerType     `json:"triggerType"`
	Active          bool            `json:"active"`
	Nodes           []Node          `json:"nodes"`
	Connections     []Connection    `json:"connections"`
	Schedule        Schedule        `json:"schedule,omitempty"`
	RecipientConfig RecipientConfig `json:"recipientConfig,omitempty"`
	Stats           FlowStats       `json:"stats"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at,omitempty"`
}

// StartNode returns the flow's single start node, or nil if absent.
func (f *FlowDefinition) StartNode() *Node {
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeTypeStart {
			return &f.Nodes[i]
		}
	}
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (f *FlowDefinition) NodeByID(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// Validate checks the structural invariants of a flow definition: exactly one
// start node, unique node ids, and connections that reference existing nodes.
func (f *FlowDefinition) Validate() error {
	if f.Name == "" {
		return ErrMissingFlowName
	}
	if f.Trigger == "" && f.TriggerType != TriggerTypeScheduled {
		return ErrMissingTrigger
	}

	ids := make(map[string]bool, len(f.Nodes))
	starts := 0
	for _, n := range f.Nodes {
		if ids[n.ID] {
			return ErrDuplicateNodeID
		}
		ids[n.ID] = true
		if n.Type == NodeTypeStart {
			starts++
		}
	}
	if starts == 0 {
		return ErrNoStartNode
	}
	if starts > 1 {
		return ErrMultipleStartNodes
	}

	for _, c := range f.Connections {
		if !ids[c.Source] || !ids[c.Target] {
			return ErrDanglingConnection
		}
	}
	return nil
}

// Lead is a captured contact record used by personalization and audience
// resolution.
type Lead struct {
	Phone         string    `json:"phone"`
	Name          string    `json:"name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Age           string    `json:"age,omitempty"`
	Weight        string    `json:"weight,omitempty"`
	Height        string    `json:"height,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	Place         string    `json:"place,omitempty"`
	HealthIssues  string    `json:"health_issues,omitempty"`
	Remarks       string    `json:"remarks,omitempty"`
	PreferredDate string    `json:"preferred_date,omitempty"`
	PreferredTime string    `json:"preferred_time,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Completed     bool      `json:"completed"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// BulkMessageStatus is the lifecycle status of a scheduled bulk message.
type BulkMessageStatus string

const (
	BulkStatusPending BulkMessageStatus = "pending"
	BulkStatusSent    BulkMessageStatus = "sent"
	BulkStatusFailed  BulkMessageStatus = "failed"
)

// ScheduledBulkMessage is a one-shot broadcast consumed by the scheduler.
// It is mutated to a terminal status exactly once.
type ScheduledBulkMessage struct {
	ID            string            `json:"id"`
	Message       string            `json:"message"`
	Recipients    []string          `json:"recipients"`
	ScheduledTime time.Time         `json:"scheduledTime"`
	Personalize   bool              `json:"personalize"`
	AddDelay      bool              `json:"addDelay"`
	Status        BulkMessageStatus `json:"status"`
	ExecutedAt    *time.Time        `json:"executedAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt,omitempty"`
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt is a delivery status event reported by a messaging transport.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response is an incoming message event from an end user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for API replies.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
