package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoTransaction is returned by Save when the context does not carry an
// active business transaction under the configured TxKey. Appending an outbox
// record outside the mutation's transaction would break the atomicity the
// whole pattern exists for, so this is fatal to the calling operation.
var ErrNoTransaction = errors.New("no active transaction in context")

// TxKey is the context key under which callers place their open transaction.
type TxKey any

// Event contains high level information about a domain event and should be
// provided by the clients.
type Event struct {
	AggregateId string // the business entity identifier (broker partition key)
	EventType   string // the event type tag (e.g. "StockAdjusted")
	Payload     []byte // encoded event payload
}

// Record contains all the information stored in the underlying outbox
// table and is used internally.
type Record struct {
	Id          uuid.UUID
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt sql.NullTime // invalid = still pending
}

// Store manages outbox records persistent operations. This interface is
// the only one the clients need to interact with the module.
//
// Rows are never deleted here: MarkProcessed flips processed_at exactly once
// and retention of processed rows is somebody else's job.
type Store interface {

	// Save persists an outbox record in the configured external storage.
	// This operation must be called inside an existing business transaction
	// provided in the context; it fails with ErrNoTransaction otherwise.
	// Returns the generated event id.
	Save(ctx context.Context, e *Event) (uuid.UUID, error)

	// FindUnprocessed returns the pending records (processed_at is null),
	// oldest first, capped at limit.
	FindUnprocessed(limit int) ([]*Record, error)

	// MarkProcessed stamps processed_at on the record. Marking an already
	// processed record is a no-op, not an error.
	MarkProcessed(id uuid.UUID) error

	// CountUnprocessed returns the current backlog depth.
	CountUnprocessed() (int64, error)
}
