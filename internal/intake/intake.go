// Package intake implements the lead-capture question wizard.
//
// The wizard walks a new contact through a fixed sequence of questions,
// normalizes interactive replies back to their display titles, validates the
// scheduling answers, and persists the completed lead.
package intake

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/store"
)

// question is one step of the wizard. The key doubles as the lead field name.
type question struct {
	key  string
	text string
}

var questions = []question{
	{key: "name", text: "😊 Great! What's your *name*?"},
	{key: "age", text: "🎂 How old are you?"},
	{key: "weight", text: "⚖️ What is your current *weight* (in kg)?"},
	{key: "height", text: "📏 What is your *height* (in cm)?"},
	{key: "gender", text: "🚻 What is your *gender*? (Male / Female / Other)"},
	{key: "place", text: "📍 Please mention your *place* or *locality*."},
	{key: "health_issues", text: "🏥 Do you have any *health issues*? Please mention if any."},
	{key: "preferred_date", text: "📅 Please tell us your *preferred date* to call you."},
	{key: "preferred_time", text: "⏰ What's your *preferred time* to call you?"},
}

var timeSlots = []models.ListRow{
	{ID: "slot_10_11", Title: "10:00 AM - 11:00 AM"},
	{ID: "slot_11_12", Title: "11:00 AM - 12:00 PM"},
	{ID: "slot_12_01", Title: "12:00 PM - 01:00 PM"},
	{ID: "slot_01_02", Title: "01:00 PM - 02:00 PM"},
	{ID: "slot_02_03", Title: "02:00 PM - 03:00 PM"},
	{ID: "slot_03_04", Title: "03:00 PM - 04:00 PM"},
	{ID: "slot_04_05", Title: "04:00 PM - 05:00 PM"},
	{ID: "slot_05_06", Title: "05:00 PM - 06:00 PM"},
	{ID: "slot_06_07", Title: "06:00 PM - 07:00 PM"},
	{ID: "slot_07_08", Title: "07:00 PM - 08:00 PM"},
}

var genderOptions = []models.Button{
	{ID: "gender_male", Text: "Male"},
	{ID: "gender_female", Text: "Female"},
	{ID: "gender_other", Text: "Other"},
}

const completedText = "✅ Thanks! Your details have already been saved. How can I help you further?"

var timeRe = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})\s?(AM|PM|am|pm)?$`)

// wizardState tracks one contact's progress through the questions.
type wizardState struct {
	step int
	data map[string]string
}

// Wizard runs the intake conversation. States live in process memory keyed
// by phone number.
type Wizard struct {
	store store.Store
	now   func() time.Time

	mu     sync.Mutex
	states map[string]*wizardState
}

// NewWizard creates a Wizard persisting completed leads to the given store.
func NewWizard(st store.Store) *Wizard {
	return &Wizard{
		store:  st,
		now:    time.Now,
		states: make(map[string]*wizardState),
	}
}

// HasCompletedLead reports whether the phone already belongs to a finished lead.
func (w *Wizard) HasCompletedLead(phone string) bool {
	lead, err := w.store.GetLead(phone)
	if err != nil {
		slog.Error("Intake lead lookup failed", "error", err, "phone", phone)
		return false
	}
	return lead != nil && lead.Completed
}

// InProgress reports whether the phone has an active wizard session.
func (w *Wizard) InProgress(phone string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.states[phone]
	return ok
}

// Start begins the wizard for a phone and returns the first question.
func (w *Wizard) Start(phone string) *models.Payload {
	w.mu.Lock()
	w.states[phone] = &wizardState{data: make(map[string]string)}
	w.mu.Unlock()
	return models.TextPayload(questions[0].text)
}

// HandleMessage records the answer to the current question and returns the
// next prompt. Invalid answers repeat the current step. When the last answer
// lands the lead is saved and the wizard session removed.
func (w *Wizard) HandleMessage(phone, message string) (*models.Payload, error) {
	w.mu.Lock()
	state, ok := w.states[phone]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no intake session for %s", phone)
	}

	key := questions[state.step].key
	message = normalizeAnswer(key, message)

	if errText := validateAnswer(key, message); errText != "" {
		return models.TextPayload(errText), nil
	}

	state.data[key] = message
	state.step++

	if state.step >= len(questions) {
		if err := w.saveLead(phone, state.data); err != nil {
			slog.Error("Intake failed to save lead", "error", err, "phone", phone)
			return nil, err
		}
		w.mu.Lock()
		delete(w.states, phone)
		w.mu.Unlock()
		return models.TextPayload(completedText), nil
	}

	return w.prompt(questions[state.step]), nil
}

// prompt builds the payload for a question: interactive pickers for gender,
// date and time, plain text otherwise.
func (w *Wizard) prompt(q question) *models.Payload {
	switch q.key {
	case "gender":
		return &models.Payload{
			Type:    models.PayloadButtons,
			Content: q.text,
			Buttons: genderOptions,
		}
	case "preferred_date":
		return &models.Payload{
			Type:    models.PayloadList,
			Content: q.text,
			Items:   w.dateRows(),
		}
	case "preferred_time":
		rows := make([]models.ListRow, len(timeSlots))
		copy(rows, timeSlots)
		for i := range rows {
			rows[i].Description = "Select this slot"
		}
		return &models.Payload{
			Type:    models.PayloadList,
			Content: q.text,
			Items:   rows,
		}
	default:
		return models.TextPayload(q.text)
	}
}

// dateRows offers the next seven days. Row ids are YYYY-MM-DD so a picked id
// is already a storable date.
func (w *Wizard) dateRows() []models.ListRow {
	today := w.now()
	rows := make([]models.ListRow, 0, 7)
	for i := 0; i < 7; i++ {
		d := today.AddDate(0, 0, i)
		title := d.Format("Mon Jan 2")
		switch i {
		case 0:
			title = "Today"
		case 1:
			title = "Tomorrow"
		}
		rows = append(rows, models.ListRow{
			ID:          d.Format("2006-01-02"),
			Title:       title,
			Description: d.Format("Mon Jan 02 2006"),
		})
	}
	return rows
}

func (w *Wizard) saveLead(phone string, data map[string]string) error {
	now := w.now()
	lead := models.Lead{
		Phone:         phone,
		Name:          data["name"],
		Age:           data["age"],
		Weight:        data["weight"],
		Height:        data["height"],
		Gender:        data["gender"],
		Place:         data["place"],
		HealthIssues:  data["health_issues"],
		PreferredDate: data["preferred_date"],
		PreferredTime: data["preferred_time"],
		Completed:     true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing, err := w.store.GetLead(phone); err == nil && existing != nil {
		lead.Tags = existing.Tags
		lead.Email = existing.Email
		lead.Remarks = existing.Remarks
		lead.CreatedAt = existing.CreatedAt
	}
	return w.store.SaveLead(lead)
}

// normalizeAnswer maps interactive reply ids back to their display titles.
func normalizeAnswer(key, message string) string {
	switch key {
	case "preferred_time":
		for _, slot := range timeSlots {
			if slot.ID == message {
				return slot.Title
			}
		}
	case "gender":
		for _, g := range genderOptions {
			if g.ID == message {
				return g.Text
			}
		}
	}
	return message
}

// validateAnswer returns a retry message when the answer is unacceptable,
// empty when it passes.
func validateAnswer(key, message string) string {
	switch key {
	case "preferred_date":
		if !isValidDate(message) {
			return "⚠️ That doesn't look like a valid date. Please select a date from the list or type it in format YYYY-MM-DD."
		}
	case "preferred_time":
		if !isValidTime(message) {
			return "⚠️ Please select a valid time range from the list OR type a time between 10:00 AM and 08:00 PM."
		}
	case "gender":
		if !isValidGender(message) {
			return "⚠️ Please select a valid gender from the list (Male, Female, Other)."
		}
	}
	return ""
}

func isValidDate(s string) bool {
	lower := strings.ToLower(s)
	if strings.Contains(lower, "today") || strings.Contains(lower, "tomorrow") {
		return true
	}
	for _, layout := range []string{"2006-01-02", "Mon Jan 02 2006", "Jan 2 2006", "02/01/2006", "2 Jan 2006"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// isValidTime accepts one of the offered slots or a clock time between
// 10:00 AM and 08:00 PM.
func isValidTime(input string) bool {
	timeStr := strings.TrimSpace(input)

	for _, slot := range timeSlots {
		if slot.Title == timeStr {
			return true
		}
	}

	match := timeRe.FindStringSubmatch(timeStr)
	if match == nil {
		return false
	}

	hours, _ := strconv.Atoi(match[1])
	minutes, _ := strconv.Atoi(match[2])
	if minutes < 0 || minutes > 59 {
		return false
	}
	if period := strings.ToUpper(match[3]); period != "" {
		if period == "PM" && hours != 12 {
			hours += 12
		}
		if period == "AM" && hours == 12 {
			hours = 0
		}
	}

	total := hours*60 + minutes
	return total >= 600 && total <= 1200
}

func isValidGender(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "male", "female", "other":
		return true
	}
	return false
}
