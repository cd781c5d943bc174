package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/FlowForge/FlowForge/internal/models"
)

// Default replies used by the response chain.
const (
	defaultAckMessage   = "📝 Your message has been recorded. Thank you for your response!"
	processingErrorText = "⚠️ We encountered an issue processing your response. Please try again or contact support."
)

// ResponderFunc attempts to answer one inbound message. It returns the
// outbound payload (nil when the responder produced nothing to send) and
// whether the message was handled. An unhandled message falls through to the
// next responder in the chain.
type ResponderFunc func(ctx context.Context, from, body string, timestamp int64) (*models.Payload, bool, error)

type responder struct {
	name string
	fn   ResponderFunc
}

// ResponseHandler routes inbound responses through an ordered responder
// chain, sending whatever payload the first handling responder produces.
// When nothing handles a message a default acknowledgement is sent.
type ResponseHandler struct {
	msgService Service

	mu             sync.RWMutex
	chain          []responder
	defaultMessage string
}

// NewResponseHandler creates a ResponseHandler sending through the given service.
func NewResponseHandler(msgService Service) *ResponseHandler {
	return &ResponseHandler{
		msgService:     msgService,
		defaultMessage: defaultAckMessage,
	}
}

// AddResponder appends a named responder to the end of the chain.
func (rh *ResponseHandler) AddResponder(name string, fn ResponderFunc) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.chain = append(rh.chain, responder{name: name, fn: fn})
	slog.Debug("ResponseHandler responder added", "name", name, "position", len(rh.chain))
}

// SetDefaultMessage sets the acknowledgement sent when no responder handles
// a message.
func (rh *ResponseHandler) SetDefaultMessage(message string) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	rh.defaultMessage = message
}

// Run consumes the service's response channel until the context is cancelled
// or the channel closes.
func (rh *ResponseHandler) Run(ctx context.Context) {
	slog.Info("ResponseHandler starting")
	for {
		select {
		case <-ctx.Done():
			slog.Info("ResponseHandler stopping", "reason", ctx.Err())
			return
		case response, ok := <-rh.msgService.Responses():
			if !ok {
				slog.Info("ResponseHandler response channel closed")
				return
			}
			if err := rh.ProcessResponse(ctx, response); err != nil {
				slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
			}
		}
	}
}

// ProcessResponse walks the responder chain for one inbound message.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler sender validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	slog.Debug("ResponseHandler processing response", "from", canonicalFrom, "body_length", len(response.Body))

	rh.mu.RLock()
	chain := rh.chain
	defaultMessage := rh.defaultMessage
	rh.mu.RUnlock()

	for _, r := range chain {
		payload, handled, err := r.fn(ctx, canonicalFrom, response.Body, response.Time)
		if err != nil {
			slog.Error("ResponseHandler responder failed", "error", err, "responder", r.name, "from", canonicalFrom)
			if sendErr := rh.msgService.SendMessage(ctx, canonicalFrom, processingErrorText); sendErr != nil {
				slog.Error("ResponseHandler failed to send error message", "error", sendErr, "from", canonicalFrom)
			}
			return fmt.Errorf("responder %s failed: %w", r.name, err)
		}
		if !handled {
			continue
		}

		slog.Info("ResponseHandler response handled", "responder", r.name, "from", canonicalFrom)
		if payload.IsVisible() {
			if err := rh.msgService.SendPayload(ctx, canonicalFrom, payload); err != nil {
				return fmt.Errorf("failed to send reply from %s: %w", r.name, err)
			}
		}
		return nil
	}

	slog.Debug("ResponseHandler sending default acknowledgement", "from", canonicalFrom)
	if err := rh.msgService.SendMessage(ctx, canonicalFrom, defaultMessage); err != nil {
		return fmt.Errorf("failed to send default response: %w", err)
	}
	return nil
}
