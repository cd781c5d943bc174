// Package genai provides the LLM-backed fallback responder using the OpenAI API.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/FlowForge/FlowForge/internal/models"
)

// FallbackReply is returned whenever the model cannot produce a usable answer.
const FallbackReply = "Sorry, I couldn't help with that."

const persona = `You are a WhatsApp chatbot for BodyfyStudio.

STRICT RULES:
- DO NOT explain your thinking or reasoning.
- DO NOT use one-word answers. Always reply in friendly, complete sentences.
- DO NOT mention prices, plans, payments, refunds, or policies unless explicitly provided.
- Keep replies conversational and short, like a real person texting.
- When asked what you know about the user, you MUST use the user information provided below to answer.
- When the user gives you the date and time, it is just for the appointment with Bodyfystudio's executive, not for anything else.
- If you are unsure, reply: "Sorry, I couldn't help with that."

Use this info to answer:
- We offer personalized online fitness coaching.
- We create custom workout and meal plans.
- We have certified trainers who provide 1-on-1 support.
- We focus on sustainable results and building healthy habits.
- IMPORTANT: If the user information below contains a Name, do NOT ask for their name again. Refer to them by name.`

// chatService defines the minimal chat-completion surface, for test injection.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

var _ chatService = (*openai.ChatCompletionService)(nil)

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service for generating replies.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is given.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model}, nil
}

// Reply generates a conversational answer to the user's message. The persona
// is enriched with everything known about the lead so the model can answer
// questions about them.
func (c *Client) Reply(ctx context.Context, message string, lead *models.Lead) (string, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(buildPersona(lead)),
			openai.UserMessage(message),
		},
	})
	if err != nil {
		slog.Error("GenAI chat completion failed", "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildPersona prepends and appends lead context to the base persona.
func buildPersona(lead *models.Lead) string {
	if lead == nil {
		return persona
	}

	var b strings.Builder
	if lead.Name != "" {
		fmt.Fprintf(&b, "User's Name: %s\n", lead.Name)
	}
	b.WriteString(persona)

	b.WriteString("\n\nHere is the FULL information about the user you are talking to:")
	if lead.Name != "" {
		fmt.Fprintf(&b, "\n- Name: %s (ALREADY KNOWN, DO NOT ASK)", lead.Name)
	}
	if lead.Age != "" {
		fmt.Fprintf(&b, "\n- Age: %s", lead.Age)
	}
	if lead.Weight != "" {
		fmt.Fprintf(&b, "\n- Weight: %s kg", lead.Weight)
	}
	if lead.Height != "" {
		fmt.Fprintf(&b, "\n- Height: %s cm", lead.Height)
	}
	if lead.Gender != "" {
		fmt.Fprintf(&b, "\n- Gender: %s", lead.Gender)
	}
	if lead.Place != "" {
		fmt.Fprintf(&b, "\n- Place: %s", lead.Place)
	}
	if lead.HealthIssues != "" {
		fmt.Fprintf(&b, "\n- Health Issues: %s", lead.HealthIssues)
	}
	if lead.PreferredDate != "" {
		fmt.Fprintf(&b, "\n- Preferred Date: %s", lead.PreferredDate)
	}
	if lead.PreferredTime != "" {
		fmt.Fprintf(&b, "\n- Preferred Time: %s", lead.PreferredTime)
	}
	return b.String()
}
