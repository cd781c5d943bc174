// Package engine implements the conversational flow engine: trigger
// matching, per-user resumable sessions, node execution with burst
// auto-advance, interactive button and list resolution, personalization,
// and scheduled flow and bulk message dispatch.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/store"
)

// tempFlowIDPrefix marks flow ids whose definitions live in the temp
// registry rather than the store. Temp flows are excluded from stats.
const tempFlowIDPrefix = "temp"

// defaultSettleDelay is the pause between consecutive sends inside a burst.
const defaultSettleDelay = 400 * time.Millisecond

// Sender delivers an outbound payload to a recipient. Messaging transports
// implement it.
type Sender interface {
	SendPayload(ctx context.Context, to string, payload *models.Payload) error
}

// Opts holds configuration options for the engine.
type Opts struct {
	// Sessions overrides the session store; defaults to an in-memory one.
	Sessions SessionStore
	// SettleDelay overrides the pause between burst sends.
	SettleDelay time.Duration
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithSessionStore sets the session store backing the engine.
func WithSessionStore(s SessionStore) Option {
	return func(o *Opts) {
		o.Sessions = s
	}
}

// WithSettleDelay sets the pause between consecutive sends inside a burst.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Opts) {
		o.SettleDelay = d
	}
}

// Engine drives flow executions. One execution step runs at a time per
// session key; steps for different users proceed concurrently.
type Engine struct {
	store    store.Store
	sender   Sender
	sessions SessionStore
	temps    *tempFlowRegistry
	settle   time.Duration

	// sleep is the interruptible pause used for delay nodes and pacing;
	// tests replace it.
	sleep func(ctx context.Context, d time.Duration) error

	locks sync.Map // session key -> *sync.Mutex
}

// NewEngine creates a flow engine over the given store and transport.
func NewEngine(st store.Store, sender Sender, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewInMemorySessionStore()
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return &Engine{
		store:    st,
		sender:   sender,
		sessions: cfg.Sessions,
		temps:    newTempFlowRegistry(),
		settle:   cfg.SettleDelay,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lockKey serializes execution steps per session key.
func (e *Engine) lockKey(key string) func() {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ProcessMessage runs one execution step for an inbound message: it resumes
// the user's session if one exists, otherwise matches the message against
// active flow triggers and starts the matched flow. It returns the payload
// to reply with, or nil when no flow handled the message.
func (e *Engine) ProcessMessage(ctx context.Context, phone, message string) (*models.Payload, error) {
	slog.Debug("Engine.ProcessMessage invoked", "phone", phone, "sessions", e.sessions.Len())

	key, session := e.sessions.Resolve(phone)
	unlock := e.lockKey(key)
	defer unlock()

	// Resolve again under the lock; the session may have ended meanwhile.
	if session != nil {
		session = e.sessions.Get(key)
	}

	if session != nil {
		slog.Debug("resuming session", "phone", phone, "sessionKey", key, "flowID", session.FlowID)
		return e.continueFlow(ctx, key, session, message)
	}

	flows, err := e.store.ListActiveFlows()
	if err != nil {
		slog.Error("failed to list active flows", "error", err)
		return nil, err
	}
	matched := findMatchingFlow(flows, message)
	if matched == nil {
		slog.Debug("no flow matched message", "phone", phone)
		return nil, nil
	}

	slog.Info("flow triggered", "phone", phone, "flowID", matched.ID, "flowName", matched.Name)
	return e.startFlow(ctx, key, matched)
}

// StartFlow begins a flow for a user outside trigger matching, as the
// scheduler and flow test runs do. It returns the first payload the flow
// produces, or nil when the start node leads nowhere.
func (e *Engine) StartFlow(ctx context.Context, phone string, flow *models.FlowDefinition) (*models.Payload, error) {
	key, _ := e.sessions.Resolve(phone)
	unlock := e.lockKey(key)
	defer unlock()
	return e.startFlow(ctx, key, flow)
}

func (e *Engine) startFlow(ctx context.Context, key string, flow *models.FlowDefinition) (*models.Payload, error) {
	slog.Debug("starting flow", "sessionKey", key, "flowID", flow.ID, "flowName", flow.Name)

	start := flow.StartNode()
	if start == nil {
		slog.Error("flow has no start node", "flowID", flow.ID)
		return models.TextPayload("Flow configuration error."), nil
	}

	e.sessions.Put(key, models.NewSession(flow.ID, start.ID))
	e.bumpStat(flow.ID, models.StatSent)

	next := findNextNode(flow, start.ID, "", e.sessions.Get(key))
	if next == nil {
		slog.Debug("flow has no node after start", "flowID", flow.ID)
		e.sessions.Delete(key)
		return nil, nil
	}

	return e.executeNodeWithBurst(ctx, key, flow, next)
}

// continueFlow advances an existing session with the user's message. A nil
// payload means the flow ended or the session was stale; the caller falls
// through to the next responder.
func (e *Engine) continueFlow(ctx context.Context, key string, session *models.Session, message string) (*models.Payload, error) {
	flow := e.lookupFlow(session.FlowID)
	if flow == nil {
		slog.Warn("session flow no longer exists, ending session", "sessionKey", key, "flowID", session.FlowID)
		e.sessions.Delete(key)
		return nil, nil
	}

	current := flow.NodeByID(session.CurrentNodeID)
	if current == nil {
		e.sessions.Delete(key)
		return nil, nil
	}

	if current.Type == models.NodeTypeButtons || current.Type == models.NodeTypeCTA || current.Type == models.NodeTypeList {
		if payload, ok, err := e.resolveInteractive(ctx, key, session, flow, current, message); ok || err != nil {
			return payload, err
		}
		slog.Debug("no interactive match, falling through to edge search", "sessionKey", key, "nodeID", current.ID)
	}

	session.Variables[models.VarLastResponse] = message

	next := findNextNode(flow, current.ID, message, session)
	if next == nil {
		slog.Debug("flow ended, no next node", "sessionKey", key, "nodeID", current.ID)
		e.sessions.Delete(key)
		return nil, nil
	}

	return e.executeNode(ctx, key, flow, next, 0)
}

// resolveInteractive matches the message against the options of the current
// buttons, cta, or list node. On a match it records the selection, bumps the
// clicked counter, and advances; a selection with no outgoing edge ends the
// session and replies with the option's feedback text. ok is false when
// nothing matched.
func (e *Engine) resolveInteractive(ctx context.Context, key string, session *models.Session, flow *models.FlowDefinition, current *models.Node, message string) (*models.Payload, bool, error) {
	var match *branchMatch
	switch current.Type {
	case models.NodeTypeButtons, models.NodeTypeCTA:
		if match = matchButton(current.Data.Buttons, message); match != nil {
			session.Variables[models.VarLastButtonClick] = match.text
		}
	case models.NodeTypeList:
		if match = matchListRow(&current.Data, message); match != nil {
			session.Variables[models.VarLastListSelected] = match.text
		}
	}
	if match == nil {
		return nil, false, nil
	}

	slog.Debug("interactive option matched", "sessionKey", key, "nodeID", current.ID, "choice", match.text)
	session.Variables[models.VarLastResponse] = match.text
	e.bumpStat(flow.ID, models.StatClicked)

	if next := findBranchTarget(flow, current.ID, match, session); next != nil {
		payload, err := e.executeNodeWithBurst(ctx, key, flow, next)
		return payload, true, err
	}

	feedback := match.feedback
	if feedback == "" {
		feedback = match.text
	}
	text := e.personalize(feedback, key, session)
	e.sessions.Delete(key)
	return models.TextPayload(text), true, nil
}

// lookupFlow loads a flow definition by id, consulting the temp registry
// for temp-prefixed ids and the store otherwise.
func (e *Engine) lookupFlow(id string) *models.FlowDefinition {
	if strings.HasPrefix(id, tempFlowIDPrefix) {
		return e.temps.get(id)
	}
	flow, err := e.store.GetFlow(id)
	if err != nil {
		slog.Error("failed to load flow", "flowID", id, "error", err)
		return nil
	}
	return flow
}

// RegisterTempFlow makes an unsaved flow definition resolvable for test
// runs. The registration expires after an hour.
func (e *Engine) RegisterTempFlow(flow models.FlowDefinition) {
	e.temps.register(flow)
}

// Session returns the live session for a phone number, resolved fuzzily,
// or nil.
func (e *Engine) Session(phone string) *models.Session {
	_, session := e.sessions.Resolve(phone)
	return session
}

// ClearSession ends the live session for a phone number, resolved fuzzily.
func (e *Engine) ClearSession(phone string) {
	key, session := e.sessions.Resolve(phone)
	if session != nil {
		e.sessions.Delete(key)
	}
}

// bumpStat increments a flow stat counter. Failures are logged and never
// interrupt message delivery; temp flows carry no stats.
func (e *Engine) bumpStat(flowID string, metric models.StatMetric) {
	if strings.HasPrefix(flowID, tempFlowIDPrefix) {
		return
	}
	if err := e.store.IncrementFlowStat(flowID, metric); err != nil {
		slog.Warn("failed to update flow stats", "flowID", flowID, "metric", metric, "error", err)
	}
}
