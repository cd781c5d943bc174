package engine

import (
	"log/slog"
	"regexp"

	"github.com/FlowForge/FlowForge/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// personalize substitutes {placeholder} tokens in text. Substitutions come
// from the recipient's phone, the lead record fields, and the session
// variables, with session variables taking precedence over lead fields of
// the same name. Unknown placeholders are left literal, as is every lead
// placeholder when the lead lookup fails.
func (e *Engine) personalize(text, phone string, session *models.Session) string {
	if text == "" {
		return text
	}

	values := map[string]string{"phone": phone}

	lead, err := e.store.GetLead(phone)
	if err != nil {
		slog.Error("failed to fetch lead for personalization", "phone", phone, "error", err)
	} else if lead != nil {
		for k, v := range leadFields(lead) {
			values[k] = v
		}
	}

	if session != nil {
		for k, v := range session.Variables {
			values[k] = v
		}
	}

	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return token
	})
}

// leadFields maps a lead's personalizable fields to their placeholder names.
func leadFields(lead *models.Lead) map[string]string {
	return map[string]string{
		"name":           lead.Name,
		"email":          lead.Email,
		"age":            lead.Age,
		"weight":         lead.Weight,
		"height":         lead.Height,
		"gender":         lead.Gender,
		"place":          lead.Place,
		"health_issues":  lead.HealthIssues,
		"preferred_date": lead.PreferredDate,
		"preferred_time": lead.PreferredTime,
	}
}
