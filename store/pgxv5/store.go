package pgxv5

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/relaygate/relaygate/logger"
	"github.com/relaygate/relaygate/store"
)

const (
	insertOutboxSql     = "INSERT INTO outbox (id, aggregate_id, event_type, payload) VALUES ($1, $2, $3, $4)"
	findUnprocessedSql  = "SELECT id, aggregate_id, event_type, payload, created_at, processed_at FROM outbox WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT $1"
	markProcessedSql    = "UPDATE outbox SET processed_at=NOW() WHERE id=$1 AND processed_at IS NULL"
	countUnprocessedSql = "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL"
)

// dbpool is a helper interface to work with pgxpool.Pool.
type dbpool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Store struct {
	txKey  store.TxKey
	db     dbpool
	logger logger.Logger
}

var _ logger.Loggable = (*Store)(nil)
var _ store.Store = (*Store)(nil)

func New(txKey store.TxKey, pool dbpool) *Store {
	if txKey == nil {
		panic("txKey is mandatory")
	}
	if pool == nil || reflect.ValueOf(pool).IsNil() {
		panic("pool is mandatory")
	}
	return &Store{
		txKey:  txKey,
		db:     pool,
		logger: &logger.NopLogger{},
	}
}

// SetLogger sets an optional logger.
func (s *Store) SetLogger(l logger.Logger) {
	s.logger = l
}

// Save persists an outbox entry in the same provided business transaction
// that should be present in the context. The expected transaction should
// implement pgx.Tx interface.
func (s *Store) Save(ctx context.Context, e *store.Event) (uuid.UUID, error) {
	tx, ok := ctx.Value(s.txKey).(pgx.Tx)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: a pgx.Tx transaction was expected", store.ErrNoTransaction)
	}
	id := uuid.New()
	_, err := tx.Exec(ctx, insertOutboxSql, id, e.AggregateId, e.EventType, e.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("could not persist the outbox record: %w", err)
	}

	return id, nil
}

// FindUnprocessed retrieves the oldest pending outbox entries up to limit.
func (s *Store) FindUnprocessed(limit int) ([]*store.Record, error) {
	ctx := context.Background()
	rows, err := s.db.Query(ctx, findUnprocessedSql, limit)
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
	ctx := context.Background()
	_, err := s.db.Exec(ctx, markProcessedSql, id)
	if err != nil {
		return fmt.Errorf("could not mark outbox record %s as processed: %w", id, err)
	}
	return nil
}

// CountUnprocessed returns the backlog depth.
func (s *Store) CountUnprocessed() (int64, error) {
	ctx := context.Background()
	var count int64
	err := s.db.QueryRow(ctx, countUnprocessedSql).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
