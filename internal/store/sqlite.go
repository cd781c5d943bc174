// Package store provides storage backends for FlowForge.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/FlowForge/FlowForge/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the permissions for created database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path
// to the database file). The parent directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteFlowColumns = `id, definition, active, trigger_type, next_run,
	stat_sent, stat_delivered, stat_read, stat_clicked, stat_errors`

func (s *SQLiteStore) ListFlows() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + sqliteFlowColumns + ` FROM flows ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *SQLiteStore) ListActiveFlows() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + sqliteFlowColumns + ` FROM flows WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListActiveFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query active flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *SQLiteStore) ListDueScheduledFlows(now time.Time) ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT `+sqliteFlowColumns+` FROM flows
		WHERE active = 1 AND trigger_type = ? AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY created_at`, string(models.TriggerTypeScheduled), now)
	if err != nil {
		slog.Error("SQLiteStore ListDueScheduledFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query due scheduled flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *SQLiteStore) GetFlow(id string) (*models.FlowDefinition, error) {
	row := s.db.QueryRow(`SELECT `+sqliteFlowColumns+` FROM flows WHERE id = ?`, id)
	def, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return &def, nil
}

func (s *SQLiteStore) SaveFlow(def models.FlowDefinition) error {
	definition, nextRun, err := flowRow(def)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow encode failed", "error", err, "id", def.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO flows
		(id, definition, active, trigger_type, next_run,
		 stat_sent, stat_delivered, stat_read, stat_clicked, stat_errors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
		 definition = excluded.definition,
		 active = excluded.active,
		 trigger_type = excluded.trigger_type,
		 next_run = excluded.next_run,
		 stat_sent = excluded.stat_sent,
		 stat_delivered = excluded.stat_delivered,
		 stat_read = excluded.stat_read,
		 stat_clicked = excluded.stat_clicked,
		 stat_errors = excluded.stat_errors,
		 updated_at = CURRENT_TIMESTAMP`,
		def.ID, definition, def.Active, string(def.TriggerType), nextRun,
		def.Stats.Sent, def.Stats.Delivered, def.Stats.Read, def.Stats.Clicked, def.Stats.Errors)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "id", def.ID)
		return fmt.Errorf("failed to save flow %s: %w", def.ID, err)
	}
	slog.Debug("SQLiteStore SaveFlow succeeded", "id", def.ID)
	return nil
}

func (s *SQLiteStore) DeleteFlow(id string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementFlowStat(id string, metric models.StatMetric) error {
	if err := validateMetric(metric); err != nil {
		return err
	}
	col := statColumns[metric]
	_, err := s.db.Exec(`UPDATE flows SET `+col+` = `+col+` + 1 WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore IncrementFlowStat failed", "error", err, "id", id, "metric", metric)
		return fmt.Errorf("failed to increment %s for flow %s: %w", metric, id, err)
	}
	return nil
}

func (s *SQLiteStore) GetLead(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE phone = ?`, phone)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLead failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get lead %s: %w", phone, err)
	}
	return &l, nil
}

func (s *SQLiteStore) SaveLead(lead models.Lead) error {
	tags, err := leadTags(lead)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO leads
		(phone, name, email, age, weight, height, gender, place,
		 health_issues, remarks, preferred_date, preferred_time, tags, completed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(phone) DO UPDATE SET
		 name = excluded.name, email = excluded.email, age = excluded.age,
		 weight = excluded.weight, height = excluded.height, gender = excluded.gender,
		 place = excluded.place, health_issues = excluded.health_issues,
		 remarks = excluded.remarks, preferred_date = excluded.preferred_date,
		 preferred_time = excluded.preferred_time, tags = excluded.tags,
		 completed = excluded.completed, updated_at = CURRENT_TIMESTAMP`,
		lead.Phone, lead.Name, lead.Email, lead.Age, lead.Weight, lead.Height,
		lead.Gender, lead.Place, lead.HealthIssues, lead.Remarks,
		lead.PreferredDate, lead.PreferredTime, tags, lead.Completed)
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "phone", lead.Phone)
		return fmt.Errorf("failed to save lead %s: %w", lead.Phone, err)
	}
	return nil
}

func (s *SQLiteStore) ListLeads() ([]models.Lead, error) {
	rows, err := s.db.Query(`SELECT ` + leadColumns + ` FROM leads`)
	if err != nil {
		slog.Error("SQLiteStore ListLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *SQLiteStore) ListLeadsByTags(tags []string) ([]models.Lead, error) {
	leads, err := s.ListLeads()
	if err != nil {
		return nil, err
	}
	return filterLeadsByTags(leads, tags), nil
}

func (s *SQLiteStore) ListBulkMessages() ([]models.ScheduledBulkMessage, error) {
	rows, err := s.db.Query(`SELECT id, message, recipients, scheduled_time, personalize, add_delay, status, executed_at
		FROM bulk_messages ORDER BY scheduled_time`)
	if err != nil {
		slog.Error("SQLiteStore ListBulkMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query bulk messages: %w", err)
	}
	defer rows.Close()
	return collectBulkMessages(rows)
}

func (s *SQLiteStore) ListDueBulkMessages(now time.Time) ([]models.ScheduledBulkMessage, error) {
	rows, err := s.db.Query(`SELECT id, message, recipients, scheduled_time, personalize, add_delay, status, executed_at
		FROM bulk_messages WHERE status = ? AND scheduled_time <= ?`,
		string(models.BulkStatusPending), now)
	if err != nil {
		slog.Error("SQLiteStore ListDueBulkMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query due bulk messages: %w", err)
	}
	defer rows.Close()
	return collectBulkMessages(rows)
}

func (s *SQLiteStore) SaveBulkMessage(msg models.ScheduledBulkMessage) error {
	recipients, executedAt, err := bulkRow(msg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO bulk_messages
		(id, message, recipients, scheduled_time, personalize, add_delay, status, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 message = excluded.message, recipients = excluded.recipients,
		 scheduled_time = excluded.scheduled_time, personalize = excluded.personalize,
		 add_delay = excluded.add_delay, status = excluded.status,
		 executed_at = excluded.executed_at`,
		msg.ID, msg.Message, recipients, msg.ScheduledTime,
		msg.Personalize, msg.AddDelay, string(msg.Status), executedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveBulkMessage failed", "error", err, "id", msg.ID)
		return fmt.Errorf("failed to save bulk message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// collectFlows drains a flows result set.
func collectFlows(rows *sql.Rows) ([]models.FlowDefinition, error) {
	var out []models.FlowDefinition
	for rows.Next() {
		def, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	return out, nil
}

// collectLeads drains a leads result set.
func collectLeads(rows *sql.Rows) ([]models.Lead, error) {
	var out []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return out, nil
}

// collectBulkMessages drains a bulk_messages result set.
func collectBulkMessages(rows *sql.Rows) ([]models.ScheduledBulkMessage, error) {
	var out []models.ScheduledBulkMessage
	for rows.Next() {
		m, err := scanBulkMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bulk message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bulk message rows: %w", err)
	}
	return out, nil
}
