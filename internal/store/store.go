// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"tradeflow/internal/models"
)

// EventStore persists the workflow event log.
type EventStore interface {
	// InsertEvents appends events, ignoring ids already stored. It returns the
	// number of rows actually inserted.
	InsertEvents(ctx context.Context, workspaceID string, events []models.Envelope) (int, error)
	ListChildEvents(ctx context.Context, workspaceID string, eventType models.EventType, parentEventID string) ([]models.Envelope, error)
	ListAnalysisEvents(ctx context.Context, workspaceID string, eventType models.EventType, analysisID string) ([]models.Envelope, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]models.Envelope, error)
}

// PacketStore persists decision packets and their aliases.
type PacketStore interface {
	ResolveAlias(ctx context.Context, workspaceID, aliasID string) (string, error)
	GetPacket(ctx context.Context, workspaceID, packetID string) (*models.DecisionPacket, error)
	FindPacketByFingerprint(ctx context.Context, workspaceID, fingerprint string) (*models.DecisionPacket, error)
	UpsertPacket(ctx context.Context, p *models.DecisionPacket) error
	UpsertAlias(ctx context.Context, workspaceID, aliasID, packetID string) error
	ListRecentPackets(ctx context.Context, workspaceID string, statuses []models.PacketStatus, limit int) ([]models.DecisionPacket, error)
	ListAliases(ctx context.Context, workspaceID, packetID string) ([]string, error)
}

// AlertStore persists rows of the shared alerts table.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *models.Alert) error
	ListActiveSmartAlerts(ctx context.Context, workspaceID, symbol string) ([]models.Alert, error)
	CountAutoAlertsSince(ctx context.Context, workspaceID string, since time.Time) (int, error)
}

// JournalStore persists trading journal rows.
type JournalStore interface {
	InsertJournalEntry(ctx context.Context, e *models.JournalEntry) error
	UpdateJournalNotes(ctx context.Context, workspaceID, id, notes string, updatedAt time.Time) error
	GetJournal(ctx context.Context, filter JournalFilter) ([]models.JournalEntry, error)
}

// OperatorStore persists the per-workspace operator state.
type OperatorStore interface {
	GetOperatorState(ctx context.Context, workspaceID string) (*models.OperatorState, error)
	UpsertOperatorState(ctx context.Context, s *models.OperatorState) error
}

// Tx is the full repository surface, bound either to the database or to an
// open transaction.
type Tx interface {
	EventStore
	PacketStore
	AlertStore
	JournalStore
	OperatorStore

	// LockWorkspace serializes transactions of one workspace until the
	// enclosing transaction ends.
	LockWorkspace(ctx context.Context, workspaceID string) error
}

// DataStore is a Tx that can also open transactions and manage its schema.
type DataStore interface {
	Tx

	// WithTx runs fn in a transaction, committing on nil error and rolling
	// back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) ([]MigrationState, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventFilter represents filters for querying events.
type EventFilter struct {
	WorkspaceID string
	WorkflowID  string
	EventType   models.EventType
	Limit       int
}

// JournalFilter represents filters for querying journal entries.
type JournalFilter struct {
	WorkspaceID  string
	Symbol       string
	Tag          string
	// NotesContain matches entries whose notes contain the text literally.
	NotesContain string
	IsOpen       *bool
	Limit        int
}
