package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// maxConditionDepth bounds chained condition traversal in one execution
// step. Past it the flow is assumed to be looping and execution stops with
// a diagnostic message.
const maxConditionDepth = 20

// loopDetectedText is sent to the user when condition traversal exceeds
// maxConditionDepth.
const loopDetectedText = "This conversation step is looping; please contact support. (System Loop Detected)"

// burstable reports whether a node type auto-advances inside a burst
// without waiting for user input.
func burstable(t models.NodeType) bool {
	switch t {
	case models.NodeTypeMessage, models.NodeTypeImage, models.NodeTypeVideo,
		models.NodeTypeDocument, models.NodeTypeAudio, models.NodeTypeDelay:
		return true
	default:
		return false
	}
}

// executeNode runs a single node for the session stored under key and
// returns the payload it produces, or nil for node types that emit nothing.
// depth counts chained condition hops within this execution step.
func (e *Engine) executeNode(ctx context.Context, key string, flow *models.FlowDefinition, node *models.Node, depth int) (*models.Payload, error) {
	if depth > maxConditionDepth {
		slog.Error("flow loop detected", "sessionKey", key, "flowID", flow.ID, "nodeID", node.ID, "depth", depth)
		return models.TextPayload(loopDetectedText), nil
	}

	session := e.sessions.Get(key)
	if session == nil {
		slog.Error("session missing during node execution", "sessionKey", key, "flowID", flow.ID, "nodeID", node.ID)
		return nil, nil
	}
	session.Visit(node.ID)

	switch node.Type {
	case models.NodeTypeMessage:
		return e.executeMessageNode(ctx, key, flow, node, session)
	case models.NodeTypeButtons:
		return e.executeButtonsNode(key, flow, node, session)
	case models.NodeTypeList:
		return e.executeListNode(key, flow, node, session)
	case models.NodeTypeCTA:
		return e.executeCTANode(key, flow, node, session)
	case models.NodeTypeImage, models.NodeTypeVideo, models.NodeTypeDocument, models.NodeTypeAudio:
		return e.executeMediaNode(key, flow, node, session)
	case models.NodeTypeDelay:
		return e.executeDelayNode(ctx, node)
	case models.NodeTypeCondition:
		return e.executeConditionNode(ctx, key, flow, node, session, depth+1)
	default:
		slog.Warn("unknown node type", "flowID", flow.ID, "nodeID", node.ID, "type", node.Type)
		return nil, nil
	}
}

func (e *Engine) executeMessageNode(ctx context.Context, key string, flow *models.FlowDefinition, node *models.Node, session *models.Session) (*models.Payload, error) {
	text := e.personalize(node.Data.Text, key, session)

	// A delay node wired directly after a message holds the message back
	// for its duration instead of producing a separate step.
	if next := findNextNode(flow, node.ID, "", session); next != nil && next.Type == models.NodeTypeDelay {
		if _, err := e.executeDelayNode(ctx, next); err != nil {
			return nil, err
		}
	}

	e.bumpStat(flow.ID, models.StatDelivered)
	return models.TextPayload(text), nil
}

func (e *Engine) executeButtonsNode(key string, flow *models.FlowDefinition, node *models.Node, session *models.Session) (*models.Payload, error) {
	e.bumpStat(flow.ID, models.StatDelivered)
	return &models.Payload{
		Type:    models.PayloadButtons,
		Content: e.personalize(node.Data.Text, key, session),
		Buttons: node.Data.Buttons,
	}, nil
}

func (e *Engine) executeCTANode(key string, flow *models.FlowDefinition, node *models.Node, session *models.Session) (*models.Payload, error) {
	kind, value := "url", node.Data.URL
	if node.Data.CTAType == "phone" {
		kind, value = "call", node.Data.PhoneNumber
	}
	text := node.Data.ButtonText
	if text == "" {
		text = "Click Here"
	}

	e.bumpStat(flow.ID, models.StatDelivered)
	return &models.Payload{
		Type:    models.PayloadButtons,
		Content: e.personalize(node.Data.Text, key, session),
		Buttons: []models.Button{{Text: text, Kind: kind, Value: value}},
	}, nil
}

func (e *Engine) executeListNode(key string, flow *models.FlowDefinition, node *models.Node, session *models.Session) (*models.Payload, error) {
	e.bumpStat(flow.ID, models.StatDelivered)
	return &models.Payload{
		Type:       models.PayloadList,
		Content:    e.personalize(node.Data.Text, key, session),
		ButtonText: node.Data.ButtonText,
		Sections:   node.Data.Sections,
		Items:      node.Data.ListItems,
	}, nil
}

func (e *Engine) executeMediaNode(key string, flow *models.FlowDefinition, node *models.Node, session *models.Session) (*models.Payload, error) {
	url := node.Data.URL
	if url == "" {
		url = node.Data.MediaURL
	}

	payload := &models.Payload{URL: url}
	switch node.Type {
	case models.NodeTypeImage:
		payload.Type = models.PayloadImage
		payload.Caption = e.personalize(node.Data.Caption, key, session)
	case models.NodeTypeVideo:
		payload.Type = models.PayloadVideo
		payload.Caption = e.personalize(node.Data.Caption, key, session)
	case models.NodeTypeDocument:
		payload.Type = models.PayloadDocument
		payload.Caption = e.personalize(node.Data.Caption, key, session)
		payload.Filename = node.Data.Filename
		if payload.Filename == "" {
			payload.Filename = "document.pdf"
		}
	case models.NodeTypeAudio:
		payload.Type = models.PayloadAudio
	}

	e.bumpStat(flow.ID, models.StatDelivered)
	return payload, nil
}

func (e *Engine) executeDelayNode(ctx context.Context, node *models.Node) (*models.Payload, error) {
	seconds := node.Data.DelaySeconds
	if seconds <= 0 {
		seconds = 1
	}
	slog.Debug("delay node sleeping", "nodeID", node.ID, "seconds", seconds)
	if err := e.sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
		return nil, err
	}
	return models.NoReplyPayload(), nil
}

func (e *Engine) executeConditionNode(ctx context.Context, key string, flow *models.FlowDefinition, node *models.Node, session *models.Session, depth int) (*models.Payload, error) {
	next := findNextNode(flow, node.ID, session.Variables[models.VarLastResponse], session)
	if next == nil {
		return nil, nil
	}
	return e.executeNode(ctx, key, flow, next, depth)
}

// awaitsInput reports whether a node type sends a prompt and then parks the
// flow until the user answers.
func awaitsInput(t models.NodeType) bool {
	switch t {
	case models.NodeTypeButtons, models.NodeTypeList, models.NodeTypeCTA:
		return true
	default:
		return false
	}
}

// executeNodeWithBurst runs firstNode and keeps advancing while the current
// node is a simple content node, sending each intermediate payload directly
// through the transport with a short settle pause between sends. The burst
// steps into a trailing interactive prompt so its question reaches the user
// in the same turn and the session parks on it; a condition lookahead stops
// the burst outright. The final payload is returned to the caller.
func (e *Engine) executeNodeWithBurst(ctx context.Context, key string, flow *models.FlowDefinition, firstNode *models.Node) (*models.Payload, error) {
	session := e.sessions.Get(key)
	if session == nil {
		return nil, nil
	}

	result, err := e.executeNode(ctx, key, flow, firstNode, 0)
	if err != nil {
		return nil, err
	}
	last := firstNode

	for result != nil && burstable(last.Type) {
		next := findNextNode(flow, last.ID, "", session)
		if next == nil || (!burstable(next.Type) && !awaitsInput(next.Type)) {
			break
		}

		if result.IsVisible() {
			slog.Debug("burst sending intermediate payload", "sessionKey", key, "nodeID", last.ID, "type", result.Type)
			if err := e.sender.SendPayload(ctx, key, result); err != nil {
				return nil, err
			}
		}
		if err := e.sleep(ctx, e.settle); err != nil {
			return nil, err
		}

		result, err = e.executeNode(ctx, key, flow, next, 0)
		if err != nil {
			return nil, err
		}
		last = next
	}

	return result, nil
}
