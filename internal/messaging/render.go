package messaging

import (
	"fmt"
	"strings"

	"github.com/FlowForge/FlowForge/internal/models"
)

// renderPayloadText flattens a structured payload into plain text for
// transports without interactive elements. Buttons and list rows become a
// numbered menu so the user can still answer with the option text.
func renderPayloadText(payload *models.Payload) string {
	if payload == nil {
		return ""
	}
	switch payload.Type {
	case models.PayloadButtons:
		var b strings.Builder
		b.WriteString(payload.Content)
		for i, btn := range payload.Buttons {
			switch btn.Kind {
			case "url", "call":
				fmt.Fprintf(&b, "\n%s: %s", btn.Text, btn.Value)
			default:
				fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Text)
			}
		}
		return b.String()
	case models.PayloadList:
		var b strings.Builder
		b.WriteString(payload.Content)
		n := 0
		for _, section := range payload.Sections {
			if strings.TrimSpace(section.Title) != "" {
				fmt.Fprintf(&b, "\n*%s*", section.Title)
			}
			for _, row := range section.Rows {
				n++
				fmt.Fprintf(&b, "\n%d. %s", n, row.Title)
			}
		}
		for _, row := range payload.Items {
			n++
			fmt.Fprintf(&b, "\n%d. %s", n, row.Title)
		}
		return b.String()
	case models.PayloadImage, models.PayloadVideo, models.PayloadDocument, models.PayloadAudio:
		if payload.Caption != "" {
			return payload.Caption + "\n" + payload.URL
		}
		return payload.URL
	default:
		return payload.Content
	}
}
