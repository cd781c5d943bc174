// Package store provides storage backends for FlowForge.
//
// It persists flow definitions, leads, and scheduled bulk messages, and
// exposes the narrow query surface the engine and scheduler need. SQLite and
// PostgreSQL backends share one schema; an in-memory backend serves tests
// and development.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/FlowForge/FlowForge/internal/models"
)

// Store is the persistence contract consumed by the engine and scheduler.
type Store interface {
	// ListFlows returns every flow definition.
	ListFlows() ([]models.FlowDefinition, error)
	// ListActiveFlows returns all active flow definitions for trigger matching.
	ListActiveFlows() ([]models.FlowDefinition, error)
	// ListDueScheduledFlows returns active scheduled flows whose nextRun is
	// at or before now.
	ListDueScheduledFlows(now time.Time) ([]models.FlowDefinition, error)
	// GetFlow returns the flow with the given id, or nil if absent.
	GetFlow(id string) (*models.FlowDefinition, error)
	// SaveFlow inserts or replaces a flow definition.
	SaveFlow(def models.FlowDefinition) error
	// DeleteFlow removes a flow definition. Deleting a missing flow is not
	// an error.
	DeleteFlow(id string) error
	// IncrementFlowStat bumps one stats counter on a flow. Best effort; the
	// engine never blocks message delivery on it.
	IncrementFlowStat(id string, metric models.StatMetric) error

	// GetLead returns the lead with the given phone, or nil if absent.
	GetLead(phone string) (*models.Lead, error)
	// SaveLead inserts or replaces a lead keyed by phone.
	SaveLead(lead models.Lead) error
	// ListLeads returns every lead.
	ListLeads() ([]models.Lead, error)
	// ListLeadsByTags returns leads carrying any of the given tags.
	ListLeadsByTags(tags []string) ([]models.Lead, error)

	// ListBulkMessages returns every scheduled bulk message.
	ListBulkMessages() ([]models.ScheduledBulkMessage, error)
	// ListDueBulkMessages returns pending bulk messages scheduled at or
	// before now.
	ListDueBulkMessages(now time.Time) ([]models.ScheduledBulkMessage, error)
	// SaveBulkMessage inserts or replaces a scheduled bulk message.
	SaveBulkMessage(msg models.ScheduledBulkMessage) error

	Close() error
}

// Opts holds configuration options for store constructors.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" otherwise (file paths are treated as SQLite databases).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// validateMetric rejects unknown stat counters before they reach SQL.
func validateMetric(metric models.StatMetric) error {
	if !models.IsValidStatMetric(metric) {
		return fmt.Errorf("unknown stat metric %q", metric)
	}
	return nil
}
