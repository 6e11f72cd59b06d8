package gorm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/store"
	"gorm.io/gorm"
)

const (
	insertOutboxSql     = "INSERT INTO outbox (id, aggregate_id, event_type, payload) VALUES (?, ?, ?, ?)"
	findUnprocessedSql  = "SELECT id, aggregate_id, event_type, payload, created_at, processed_at FROM outbox WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT ?"
	markProcessedSql    = "UPDATE outbox SET processed_at=NOW() WHERE id=? AND processed_at IS NULL"
	countUnprocessedSql = "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL"
)

type Store struct {
	txKey  store.TxKey
	db     *gorm.DB
	logger logger.Logger
}

var _ logger.Loggable = (*Store)(nil)
var _ store.Store = (*Store)(nil)

func New(txKey store.TxKey, db *gorm.DB) *Store {
	if txKey == nil {
		panic("txKey is mandatory")
	}
	if db == nil {
		panic("db is mandatory")
	}
	return &Store{
		txKey:  txKey,
		db:     db,
		logger: &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (s *Store) SetLogger(l logger.Logger) {
	s.logger = l
}

// Save persists an outbox entry in the same provided business transaction
// that should be present in the context. The expected transaction should
// be a pointer to an instance of gorm.DB.
func (s *Store) Save(ctx context.Context, e *store.Event) (uuid.UUID, error) {
	tx, ok := ctx.Value(s.txKey).(*gorm.DB)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: a *gorm.DB transaction was expected", store.ErrNoTransaction)
	}
	id := uuid.New()
	err := tx.Exec(insertOutboxSql, id, e.AggregateId, e.EventType, e.Payload).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("could not persist the outbox record: %w", err)
	}

	return id, nil
}

// FindUnprocessed retrieves the oldest pending outbox entries up to limit.
func (s *Store) FindUnprocessed(limit int) ([]*store.Record, error) {
	rows, err := s.db.Raw(findUnprocessedSql, limit).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ors []*store.Record
	for rows.Next() {
		var or store.Record
		err := rows.Scan(&or.Id, &or.AggregateId, &or.EventType, &or.Payload, &or.CreatedAt, &or.ProcessedAt)
		if err != nil {
			return nil, err
		}
		ors = append(ors, &or)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ors, nil
}

// MarkProcessed stamps processed_at on a pending record. Already processed
// rows match nothing, which keeps the transition one-way.
func (s *Store) MarkProcessed(id uuid.UUID) error {
	err := s.db.Exec(markProcessedSql, id).Error
	if err != nil {
		return fmt.Errorf("could not mark outbox record %s as processed: %w", id, err)
	}
	return nil
}

// CountUnprocessed returns the backlog depth.
func (s *Store) CountUnprocessed() (int64, error) {
	var count int64
	err := s.db.Raw(countUnprocessedSql).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
