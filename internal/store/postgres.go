// Package store provides storage backends for FlowForge.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/FlowForge/FlowForge/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

const pgFlowColumns = `id, definition, active, trigger_type, next_run,
	stat_sent, stat_delivered, stat_read, stat_clicked, stat_errors`

func (s *PostgresStore) ListFlows() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + pgFlowColumns + ` FROM flows ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *PostgresStore) ListActiveFlows() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + pgFlowColumns + ` FROM flows WHERE active ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListActiveFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query active flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *PostgresStore) ListDueScheduledFlows(now time.Time) ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT `+pgFlowColumns+` FROM flows
		WHERE active AND trigger_type = $1 AND next_run IS NOT NULL AND next_run <= $2
		ORDER BY created_at`, string(models.TriggerTypeScheduled), now)
	if err != nil {
		slog.Error("PostgresStore ListDueScheduledFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query due scheduled flows: %w", err)
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *PostgresStore) GetFlow(id string) (*models.FlowDefinition, error) {
	row := s.db.QueryRow(`SELECT `+pgFlowColumns+` FROM flows WHERE id = $1`, id)
	def, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get flow %s: %w", id, err)
	}
	return &def, nil
}

func (s *PostgresStore) SaveFlow(def models.FlowDefinition) error {
	definition, nextRun, err := flowRow(def)
	if err != nil {
		slog.Error("PostgresStore SaveFlow encode failed", "error", err, "id", def.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO flows
		(id, definition, active, trigger_type, next_run,
		 stat_sent, stat_delivered, stat_read, stat_clicked, stat_errors, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
		 definition = EXCLUDED.definition,
		 active = EXCLUDED.active,
		 trigger_type = EXCLUDED.trigger_type,
		 next_run = EXCLUDED.next_run,
		 stat_sent = EXCLUDED.stat_sent,
		 stat_delivered = EXCLUDED.stat_delivered,
		 stat_read = EXCLUDED.stat_read,
		 stat_clicked = EXCLUDED.stat_clicked,
		 stat_errors = EXCLUDED.stat_errors,
		 updated_at = NOW()`,
		def.ID, definition, def.Active, string(def.TriggerType), nextRun,
		def.Stats.Sent, def.Stats.Delivered, def.Stats.Read, def.Stats.Clicked, def.Stats.Errors)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "id", def.ID)
		return fmt.Errorf("failed to save flow %s: %w", def.ID, err)
	}
	slog.Debug("PostgresStore SaveFlow succeeded", "id", def.ID)
	return nil
}

func (s *PostgresStore) DeleteFlow(id string) error {
	_, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) IncrementFlowStat(id string, metric models.StatMetric) error {
	if err := validateMetric(metric); err != nil {
		return err
	}
	col := statColumns[metric]
	_, err := s.db.Exec(`UPDATE flows SET `+col+` = `+col+` + 1 WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore IncrementFlowStat failed", "error", err, "id", id, "metric", metric)
		return fmt.Errorf("failed to increment %s for flow %s: %w", metric, id, err)
	}
	return nil
}

func (s *PostgresStore) GetLead(phone string) (*models.Lead, error) {
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE phone = $1`, phone)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get lead %s: %w", phone, err)
	}
	return &l, nil
}

func (s *PostgresStore) SaveLead(lead models.Lead) error {
	tags, err := leadTags(lead)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO leads
		(phone, name, email, age, weight, height, gender, place,
		 health_issues, remarks, preferred_date, preferred_time, tags, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (phone) DO UPDATE SET
		 name = EXCLUDED.name, email = EXCLUDED.email, age = EXCLUDED.age,
		 weight = EXCLUDED.weight, height = EXCLUDED.height, gender = EXCLUDED.gender,
		 place = EXCLUDED.place, health_issues = EXCLUDED.health_issues,
		 remarks = EXCLUDED.remarks, preferred_date = EXCLUDED.preferred_date,
		 preferred_time = EXCLUDED.preferred_time, tags = EXCLUDED.tags,
		 completed = EXCLUDED.completed, updated_at = NOW()`,
		lead.Phone, lead.Name, lead.Email, lead.Age, lead.Weight, lead.Height,
		lead.Gender, lead.Place, lead.HealthIssues, lead.Remarks,
		lead.PreferredDate, lead.PreferredTime, tags, lead.Completed)
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "phone", lead.Phone)
		return fmt.Errorf("failed to save lead %s: %w", lead.Phone, err)
	}
	return nil
}

func (s *PostgresStore) ListLeads() ([]models.Lead, error) {
	rows, err := s.db.Query(`SELECT ` + leadColumns + ` FROM leads`)
	if err != nil {
		slog.Error("PostgresStore ListLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	return collectLeads(rows)
}

func (s *PostgresStore) ListLeadsByTags(tags []string) ([]models.Lead, error) {
	leads, err := s.ListLeads()
	if err != nil {
		return nil, err
	}
	return filterLeadsByTags(leads, tags), nil
}

func (s *PostgresStore) ListBulkMessages() ([]models.ScheduledBulkMessage, error) {
	rows, err := s.db.Query(`SELECT id, message, recipients, scheduled_time, personalize, add_delay, status, executed_at
		FROM bulk_messages ORDER BY scheduled_time`)
	if err != nil {
		slog.Error("PostgresStore ListBulkMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query bulk messages: %w", err)
	}
	defer rows.Close()
	return collectBulkMessages(rows)
}

func (s *PostgresStore) ListDueBulkMessages(now time.Time) ([]models.ScheduledBulkMessage, error) {
	rows, err := s.db.Query(`SELECT id, message, recipients, scheduled_time, personalize, add_delay, status, executed_at
		FROM bulk_messages WHERE status = $1 AND scheduled_time <= $2`,
		string(models.BulkStatusPending), now)
	if err != nil {
		slog.Error("PostgresStore ListDueBulkMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query due bulk messages: %w", err)
	}
	defer rows.Close()
	return collectBulkMessages(rows)
}

func (s *PostgresStore) SaveBulkMessage(msg models.ScheduledBulkMessage) error {
	recipients, executedAt, err := bulkRow(msg)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO bulk_messages
		(id, message, recipients, scheduled_time, personalize, add_delay, status, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		 message = EXCLUDED.message, recipients = EXCLUDED.recipients,
		 scheduled_time = EXCLUDED.scheduled_time, personalize = EXCLUDED.personalize,
		 add_delay = EXCLUDED.add_delay, status = EXCLUDED.status,
		 executed_at = EXCLUDED.executed_at`,
		msg.ID, msg.Message, recipients, msg.ScheduledTime,
		msg.Personalize, msg.AddDelay, string(msg.Status), executedAt)
	if err != nil {
		slog.Error("PostgresStore SaveBulkMessage failed", "error", err, "id", msg.ID)
		return fmt.Errorf("failed to save bulk message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
