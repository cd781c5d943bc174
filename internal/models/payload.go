// Package models defines the abstract outbound payload shapes produced by
// the flow engine and consumed by messaging transports.
package models

// PayloadType discriminates the outbound payload union. The string values
// are wire-stable with existing flow JSON and transport adapters.
type PayloadType string

const (
	PayloadText     PayloadType = "text"
	PayloadButtons  PayloadType = "buttons"
	PayloadList     PayloadType = "list"
	PayloadImage    PayloadType = "image"
	PayloadVideo    PayloadType = "video"
	PayloadAudio    PayloadType = "audio"
	PayloadDocument PayloadType = "document"
	// PayloadNoReply means "send nothing"; delay nodes emit it.
	PayloadNoReply PayloadType = "no_reply"
)

// Payload is the abstract message produced by node execution. Only the
// fields relevant to Type are populated.
type Payload struct {
	Type    PayloadType `json:"type"`
	Content string      `json:"content,omitempty"`

	// buttons
	Buttons []Button `json:"buttons,omitempty"`

	// list
	ButtonText string        `json:"buttonText,omitempty"`
	Sections   []ListSection `json:"sections,omitempty"`
	Items      []ListRow     `json:"items,omitempty"`

	// media
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// IsVisible reports whether the payload produces user-visible output when
// sent. NoReply payloads are silent markers.
func (p *Payload) IsVisible() bool {
	return p != nil && p.Type != PayloadNoReply
}

// TextPayload builds a plain text payload.
func TextPayload(content string) *Payload {
	return &Payload{Type: PayloadText, Content: content}
}

// NoReplyPayload builds the silent marker payload.
func NoReplyPayload() *Payload {
	return &Payload{Type: PayloadNoReply}
}
