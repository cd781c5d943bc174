package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/FlowForge/FlowForge/internal/models"
)

// statColumns maps metrics to their backing column. Indirection keeps metric
// names out of SQL string building.
var statColumns = map[models.StatMetric]string{
	models.StatSent:      "stat_sent",
	models.StatDelivered: "stat_delivered",
	models.StatRead:      "stat_read",
	models.StatClicked:   "stat_clicked",
	models.StatErrors:    "stat_errors",
}

// flowScanner abstracts sql.Row and sql.Rows for shared scanning.
type flowScanner interface {
	Scan(dest ...interface{}) error
}

// scanFlow decodes one flows row. The graph lives in the definition JSON
// column; queryable fields and stats counters live in dedicated columns and
// take precedence over whatever the JSON snapshot carried.
func scanFlow(sc flowScanner) (models.FlowDefinition, error) {
	var def models.FlowDefinition
	var id, definition string
	var active bool
	var triggerType string
	var nextRun sql.NullTime
	var sent, delivered, read, clicked, errCount int

	err := sc.Scan(&id, &definition, &active, &triggerType, &nextRun,
		&sent, &delivered, &read, &clicked, &errCount)
	if err != nil {
		return def, err
	}
	if err := json.Unmarshal([]byte(definition), &def); err != nil {
		return def, fmt.Errorf("failed to decode flow definition %s: %w", id, err)
	}
	def.ID = id
	def.Active = active
	def.TriggerType = models.TriggerType(triggerType)
	if nextRun.Valid {
		t := nextRun.Time
		def.Schedule.NextRun = &t
	} else {
		def.Schedule.NextRun = nil
	}
	def.Stats = models.FlowStats{Sent: sent, Delivered: delivered, Read: read, Clicked: clicked, Errors: errCount}
	return def, nil
}

// flowRow flattens a definition into its column values for insertion.
func flowRow(def models.FlowDefinition) (definition string, nextRun interface{}, err error) {
	raw, err := json.Marshal(def)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode flow definition %s: %w", def.ID, err)
	}
	if def.Schedule.NextRun != nil {
		return string(raw), *def.Schedule.NextRun, nil
	}
	return string(raw), nil, nil
}

const leadColumns = `phone, name, email, age, weight, height, gender, place,
	health_issues, remarks, preferred_date, preferred_time, tags, completed`

// scanLead decodes one leads row.
func scanLead(sc flowScanner) (models.Lead, error) {
	var l models.Lead
	var name, email, age, weight, height, gender, place sql.NullString
	var healthIssues, remarks, prefDate, prefTime, tags sql.NullString
	err := sc.Scan(&l.Phone, &name, &email, &age, &weight, &height, &gender, &place,
		&healthIssues, &remarks, &prefDate, &prefTime, &tags, &l.Completed)
	if err != nil {
		return l, err
	}
	l.Name = name.String
	l.Email = email.String
	l.Age = age.String
	l.Weight = weight.String
	l.Height = height.String
	l.Gender = gender.String
	l.Place = place.String
	l.HealthIssues = healthIssues.String
	l.Remarks = remarks.String
	l.PreferredDate = prefDate.String
	l.PreferredTime = prefTime.String
	if tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &l.Tags); err != nil {
			return l, fmt.Errorf("failed to decode tags for lead %s: %w", l.Phone, err)
		}
	}
	return l, nil
}

// leadRow returns the tags column value for a lead.
func leadTags(l models.Lead) (interface{}, error) {
	if len(l.Tags) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(l.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags for lead %s: %w", l.Phone, err)
	}
	return string(raw), nil
}

// filterLeadsByTags keeps leads carrying at least one of the wanted tags.
// Tag membership is resolved in Go so SQLite and Postgres share one schema
// without array column types.
func filterLeadsByTags(leads []models.Lead, tags []string) []models.Lead {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []models.Lead
	for _, l := range leads {
		for _, t := range l.Tags {
			if want[t] {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// scanBulkMessage decodes one bulk_messages row.
func scanBulkMessage(sc flowScanner) (models.ScheduledBulkMessage, error) {
	var m models.ScheduledBulkMessage
	var recipients string
	var executedAt sql.NullTime
	err := sc.Scan(&m.ID, &m.Message, &recipients, &m.ScheduledTime,
		&m.Personalize, &m.AddDelay, &m.Status, &executedAt)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(recipients), &m.Recipients); err != nil {
		return m, fmt.Errorf("failed to decode recipients for bulk message %s: %w", m.ID, err)
	}
	if executedAt.Valid {
		t := executedAt.Time
		m.ExecutedAt = &t
	}
	return m, nil
}

// bulkRow flattens a bulk message into column values.
func bulkRow(m models.ScheduledBulkMessage) (recipients string, executedAt interface{}, err error) {
	raw, err := json.Marshal(m.Recipients)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode recipients for bulk message %s: %w", m.ID, err)
	}
	if m.ExecutedAt != nil {
		return string(raw), *m.ExecutedAt, nil
	}
	return string(raw), nil, nil
}
