package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// Meta Cloud API limits for interactive messages.
const (
	defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

	maxReplyButtons   = 3
	maxListRows       = 10
	buttonTitleLimit  = 20
	sectionTitleLimit = 24
	rowTitleLimit     = 24
	rowDescLimit      = 72
)

var filenameSanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// CloudAPIOpts holds configuration for CloudAPIService.
type CloudAPIOpts struct {
	BaseURL       string
	PublicBaseURL string
	VerifyToken   string
	HTTPClient    *http.Client
}

// CloudAPIOption configures a CloudAPIService.
type CloudAPIOption func(*CloudAPIOpts)

// WithGraphBaseURL overrides the Graph API base URL (useful for tests).
func WithGraphBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithPublicBaseURL sets the base URL prepended to relative CTA links.
func WithPublicBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PublicBaseURL = strings.TrimRight(url, "/") }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.VerifyToken = token }
}

// WithHTTPClient overrides the HTTP client used for Graph API calls.
func WithHTTPClient(client *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = client }
}

// CloudAPIService implements the Service interface against the WhatsApp
// Business Cloud API (Graph API).
type CloudAPIService struct {
	token         string
	phoneNumberID string
	baseURL       string
	publicBaseURL string
	verifyToken   string
	httpClient    *http.Client

	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

// NewCloudAPIService creates a CloudAPIService for the given access token and
// phone number id.
func NewCloudAPIService(token, phoneNumberID string, opts ...CloudAPIOption) *CloudAPIService {
	var cfg CloudAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &CloudAPIService{
		token:         token,
		phoneNumberID: phoneNumberID,
		baseURL:       cfg.BaseURL,
		publicBaseURL: cfg.PublicBaseURL,
		verifyToken:   cfg.VerifyToken,
		httpClient:    cfg.HTTPClient,
		receipts:      make(chan models.Receipt, DefaultChannelBufferSize),
		responses:     make(chan models.Response, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by stripping non-digits.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizeRecipient(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("CloudAPIService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; inbound traffic arrives via WebhookHandler.
func (s *CloudAPIService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *CloudAPIService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()

	return nil
}

// Receipts returns the channel for delivery status events.
func (s *CloudAPIService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel for incoming messages.
func (s *CloudAPIService) Responses() <-chan models.Response {
	return s.responses
}

// SendMessage sends a plain text message.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
	return s.SendPayload(ctx, to, models.TextPayload(body))
}

// SendPayload translates an abstract payload into the Cloud API message shape
// and posts it. NoReply payloads send nothing.
func (s *CloudAPIService) SendPayload(ctx context.Context, to string, payload *models.Payload) error {
	if !payload.IsVisible() {
		return nil
	}

	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService SendPayload validation error", "error", err, "to", to)
		return err
	}

	msg, err := s.buildMessage(canonicalTo, payload)
	if err != nil {
		return err
	}
	if err := s.postMessage(ctx, msg); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Graph API request shapes.

type cloudMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *cloudText        `json:"text,omitempty"`
	Interactive      *cloudInteractive `json:"interactive,omitempty"`
	Image            *cloudMedia       `json:"image,omitempty"`
	Video            *cloudMedia       `json:"video,omitempty"`
	Audio            *cloudMedia       `json:"audio,omitempty"`
	Document         *cloudMedia       `json:"document,omitempty"`
}

type cloudText struct {
	Body string `json:"body"`
}

type cloudInteractive struct {
	Type   string       `json:"type"`
	Body   *cloudText   `json:"body,omitempty"`
	Action *cloudAction `json:"action,omitempty"`
}

type cloudAction struct {
	Buttons    []cloudButton   `json:"buttons,omitempty"`
	Name       string          `json:"name,omitempty"`
	Parameters *cloudCTAParams `json:"parameters,omitempty"`
	Button     string          `json:"button,omitempty"`
	Sections   []cloudSection  `json:"sections,omitempty"`
}

type cloudButton struct {
	Type  string     `json:"type"`
	Reply cloudReply `json:"reply"`
}

type cloudReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type cloudCTAParams struct {
	DisplayText string `json:"display_text"`
	URL         string `json:"url"`
}

type cloudSection struct {
	Title string     `json:"title,omitempty"`
	Rows  []cloudRow `json:"rows"`
}

type cloudRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type cloudMedia struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

func (s *CloudAPIService) buildMessage(to string, payload *models.Payload) (*cloudMessage, error) {
	msg := &cloudMessage{MessagingProduct: "whatsapp", To: to}

	switch payload.Type {
	case models.PayloadText:
		msg.Type = "text"
		msg.Text = &cloudText{Body: payload.Content}

	case models.PayloadButtons:
		if cta := firstCTAButton(payload.Buttons); cta != nil {
			return s.buildCTAMessage(msg, payload, cta)
		}
		msg.Type = "interactive"
		msg.Interactive = &cloudInteractive{
			Type:   "button",
			Body:   &cloudText{Body: payload.Content},
			Action: &cloudAction{Buttons: buildReplyButtons(payload.Buttons)},
		}

	case models.PayloadList:
		msg.Type = "interactive"
		msg.Interactive = &cloudInteractive{
			Type:   "list",
			Body:   &cloudText{Body: payload.Content},
			Action: buildListAction(payload),
		}

	case models.PayloadImage:
		msg.Type = "image"
		msg.Image = mediaAttachment(payload, false)
	case models.PayloadVideo:
		msg.Type = "video"
		msg.Video = mediaAttachment(payload, false)
	case models.PayloadAudio:
		msg.Type = "audio"
		msg.Audio = &cloudMedia{Link: payload.URL}
	case models.PayloadDocument:
		msg.Type = "document"
		msg.Document = mediaAttachment(payload, true)

	default:
		return nil, fmt.Errorf("unsupported payload type %q", payload.Type)
	}

	return msg, nil
}

// firstCTAButton returns the first url-kind button, if any. A payload carrying
// one is rendered as a cta_url interactive message instead of reply buttons.
func firstCTAButton(buttons []models.Button) *models.Button {
	for i := range buttons {
		if buttons[i].Kind == "url" {
			return &buttons[i]
		}
	}
	return nil
}

func (s *CloudAPIService) buildCTAMessage(msg *cloudMessage, payload *models.Payload, cta *models.Button) (*cloudMessage, error) {
	url := cta.Value
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = s.publicBaseURL + "/" + strings.TrimLeft(url, "/")
	}
	if url == "" {
		return nil, fmt.Errorf("cta button %q has no url", cta.Text)
	}

	msg.Type = "interactive"
	msg.Interactive = &cloudInteractive{
		Type: "cta_url",
		Body: &cloudText{Body: payload.Content},
		Action: &cloudAction{
			Name:       "cta_url",
			Parameters: &cloudCTAParams{DisplayText: cta.Text, URL: url},
		},
	}
	return msg, nil
}

func buildReplyButtons(buttons []models.Button) []cloudButton {
	out := make([]cloudButton, 0, maxReplyButtons)
	for _, b := range buttons {
		if b.Kind == "call" {
			// No native call button on the Cloud API; the number is
			// carried in the button title so it stays actionable.
			b.Text = b.Text + " " + b.Value
		}
		title := truncateRunes(b.Text, buttonTitleLimit)
		id := b.ID
		if id == "" {
			id = title
		}
		out = append(out, cloudButton{Type: "reply", Reply: cloudReply{ID: id, Title: title}})
		if len(out) == maxReplyButtons {
			break
		}
	}
	return out
}

func buildListAction(payload *models.Payload) *cloudAction {
	button := payload.ButtonText
	if button == "" {
		button = "View Menu"
	}

	sections := payload.Sections
	if len(sections) == 0 && len(payload.Items) > 0 {
		sections = []models.ListSection{{Title: "Options", Rows: payload.Items}}
	}

	total := 0
	out := make([]cloudSection, 0, len(sections))
	for _, section := range sections {
		cs := cloudSection{Title: truncateRunes(section.Title, sectionTitleLimit)}
		for _, row := range section.Rows {
			if total == maxListRows {
				break
			}
			cs.Rows = append(cs.Rows, cloudRow{
				ID:          row.ID,
				Title:       truncateRunes(row.Title, rowTitleLimit),
				Description: truncateRunes(row.Description, rowDescLimit),
			})
			total++
		}
		if len(cs.Rows) > 0 {
			out = append(out, cs)
		}
	}

	return &cloudAction{Button: button, Sections: out}
}

func mediaAttachment(payload *models.Payload, document bool) *cloudMedia {
	media := &cloudMedia{Link: payload.URL, Caption: strings.TrimSpace(payload.Caption)}
	if document {
		media.Filename = sanitizeFilename(payload.Filename)
	}
	return media
}

// sanitizeFilename normalizes a document filename for the Cloud API: spaces
// become underscores, everything outside [a-zA-Z0-9._-] is dropped, and a
// missing extension defaults to .pdf.
func sanitizeFilename(name string) string {
	name = whitespaceRe.ReplaceAllString(strings.TrimSpace(name), "_")
	name = filenameSanitizeRe.ReplaceAllString(name, "")
	if name == "" {
		return "document.pdf"
	}
	if !strings.Contains(name, ".") {
		name += ".pdf"
	}
	return name
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func (s *CloudAPIService) postMessage(ctx context.Context, msg *cloudMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloud api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("CloudAPIService send failed", "status", resp.StatusCode, "to", msg.To, "body", string(detail))
		return fmt.Errorf("cloud api returned status %d: %s", resp.StatusCode, string(detail))
	}

	slog.Debug("CloudAPIService message sent", "to", msg.To, "type", msg.Type)
	return nil
}

// Webhook envelope shapes for inbound Cloud API events.

type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
				Statuses []webhookStatus  `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From        string `json:"from"`
	Timestamp   string `json:"timestamp"`
	Type        string `json:"type"`
	Text        *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type webhookStatus struct {
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// WebhookHandler serves the Cloud API webhook endpoint: GET handles the
// Meta subscription handshake, POST delivers message and status events.
func (s *CloudAPIService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerification(w, r)
	case http.MethodPost:
		s.handleEvents(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *CloudAPIService) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == s.verifyToken {
		slog.Info("CloudAPIService webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}
	slog.Warn("CloudAPIService webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (s *CloudAPIService) handleEvents(w http.ResponseWriter, r *http.Request) {
	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		slog.Error("CloudAPIService failed to decode webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				body := extractMessageBody(&msg)
				if body == "" {
					slog.Debug("CloudAPIService skipping webhook message with no usable body", "type", msg.Type)
					continue
				}
				slog.Info("Inbound WhatsApp message", "from", msg.From, "type", msg.Type)
				s.safeEmitResponse(models.Response{
					From: msg.From,
					Body: body,
					Time: parseWebhookTimestamp(msg.Timestamp),
				})
			}
			for _, status := range change.Value.Statuses {
				s.safeEmitReceipt(models.Receipt{
					To:     status.RecipientID,
					Status: models.MessageStatus(status.Status),
					Time:   parseWebhookTimestamp(status.Timestamp),
				})
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// extractMessageBody flattens an inbound message to the single string the
// flow engine consumes. Interactive replies deliver the selection id so
// button matching stays stable across title edits.
func extractMessageBody(msg *webhookMessage) string {
	if msg.Text != nil && msg.Text.Body != "" {
		return msg.Text.Body
	}
	if msg.Interactive != nil {
		if msg.Interactive.ButtonReply != nil {
			return msg.Interactive.ButtonReply.ID
		}
		if msg.Interactive.ListReply != nil {
			return msg.Interactive.ListReply.ID
		}
	}
	return ""
}

func parseWebhookTimestamp(ts string) int64 {
	if v, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return v
	}
	return time.Now().Unix()
}

func (s *CloudAPIService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("CloudAPIService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (s *CloudAPIService) safeEmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("CloudAPIService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("CloudAPIService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("CloudAPIService responses channel blocked, dropping message", "from", response.From)
	}
}
