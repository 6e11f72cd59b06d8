package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/store"
)

const (
	insertOutboxSql     = "INSERT INTO outbox (id, aggregate_id, event_type, payload) VALUES (?, ?, ?, ?)"
	findUnprocessedSql  = "SELECT id, aggregate_id, event_type, payload, created_at, processed_at FROM outbox WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT ?"
	markProcessedSql    = "UPDATE outbox SET processed_at=NOW() WHERE id=? AND processed_at IS NULL"
	countUnprocessedSql = "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL"
)

type Store struct {
	txKey   store.TxKey
	db      *sql.DB
	logger  logger.Logger
	insert  string
	find    string
	mark    string
	countQ  string
}

var _ logger.Loggable = (*Store)(nil)
var _ store.Store = (*Store)(nil)

func New(txKey store.TxKey, db *sql.DB, useDollar bool) *Store {
	if txKey == nil {
		panic("txKey is mandatory")
	}
	if db == nil {
		panic("db is mandatory")
	}

	s := &Store{
		txKey:  txKey,
		db:     db,
		logger: &logger.NopLogger{},
		insert: insertOutboxSql,
		find:   findUnprocessedSql,
		mark:   markProcessedSql,
		countQ: countUnprocessedSql,
	}
	if useDollar {
		s.insert = convertToDollarPlaceholder(s.insert)
		s.find = convertToDollarPlaceholder(s.find)
		s.mark = convertToDollarPlaceholder(s.mark)
	}

	return s
}

// SetLogger sets an optional logger.
func (s *Store) SetLogger(l logger.Logger) {
	s.logger = l
}

// Save persists an outbox entry in the same provided business transaction
// that should be present in the context. The expected transaction should
// be a pointer to an instance of sql.Tx.
func (s *Store) Save(ctx context.Context, e *store.Event) (uuid.UUID, error) {
	tx, ok := ctx.Value(s.txKey).(*sql.Tx)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: an *sql.Tx transaction was expected", store.ErrNoTransaction)
	}
	id := uuid.New()
	_, err := tx.ExecContext(ctx, s.insert, id, e.AggregateId, e.EventType, e.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("could not persist the outbox record: %w", err)
	}

	return id, nil
}

// FindUnprocessed retrieves the oldest pending outbox entries up to limit.
func (s *Store) FindUnprocessed(limit int) ([]*store.Record, error) {
	rows, err := s.db.Query(s.find, limit)
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

// MarkProcessed stamps processed_at on a pending record. The WHERE clause
// keeps the transition one-way: an already processed row matches nothing and
// that is fine.
func (s *Store) MarkProcessed(id uuid.UUID) error {
	_, err := s.db.Exec(s.mark, id)
	if err != nil {
		return fmt.Errorf("could not mark outbox record %s as processed: %w", id, err)
	}
	return nil
}

// CountUnprocessed returns the backlog depth.
func (s *Store) CountUnprocessed() (int64, error) {
	var count int64
	err := s.db.QueryRow(s.countQ).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func convertToDollarPlaceholder(query string) string {
	count := 0
	for strings.Contains(query, "?") {
		count++
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", count), 1)
	}
	return query
}
