package sql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/relaygate/relaygate/store"
	"github.com/relaygate/relaygate/test"
	"github.com/stretchr/testify/assert"
)

func newMockedStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(test.DefaultCtxKey, db, false), mock
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	type args struct {
		txKey store.TxKey
		db    *sql.DB
	}
	testcases := []struct {
		name      string
		args      args
		wantPanic bool
	}{
		{
			name: "valid txKey and valid db",
			args: args{
				txKey: test.DefaultCtxKey,
				db:    db,
			},
			wantPanic: false,
		},
		{
			name: "txKey is nil",
			args: args{
				txKey: nil,
				db:    db,
			},
			wantPanic: true,
		},
		{
			name: "db is nil",
			args: args{
				txKey: test.DefaultCtxKey,
				db:    nil,
			},
			wantPanic: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.wantPanic {
				assert.Panics(t, func() {
					New(tc.args.txKey, tc.args.db, false)
				})
			} else {
				assert.NotPanics(t, func() {
					New(tc.args.txKey, tc.args.db, false)
				})
			}
		})
	}
}

func TestNew_dollarPlaceholders(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	s := New(test.DefaultCtxKey, db, true)
	assert.Equal(t, "INSERT INTO outbox (id, aggregate_id, event_type, payload) VALUES ($1, $2, $3, $4)", s.insert)
	assert.NotContains(t, s.find, "?")
	assert.NotContains(t, s.mark, "?")
}

func TestSave(t *testing.T) {
	testcases := []struct {
		name             string
		buildCtx         func(db *sql.DB, mock sqlmock.Sqlmock) context.Context
		wantErr          bool
		wantNoTx         bool
		wantErrMsgPrefix string
	}{
		{
			name: "valid context and valid event",
			buildCtx: func(db *sql.DB, mock sqlmock.Sqlmock) context.Context {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO outbox.+").
					WithArgs(test.GenerateAnyArgsSlice(4)...).
					WillReturnResult(sqlmock.NewResult(0, 1))
				tx, _ := db.Begin()
				return context.WithValue(context.Background(), test.DefaultCtxKey, tx)
			},
			wantErr: false,
		},
		{
			name: "context without an existing transaction",
			buildCtx: func(db *sql.DB, mock sqlmock.Sqlmock) context.Context {
				return context.Background()
			},
			wantErr:  true,
			wantNoTx: true,
		},
		{
			name: "simulate error when saving",
			buildCtx: func(db *sql.DB, mock sqlmock.Sqlmock) context.Context {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO outbox.+").
					WithArgs(test.GenerateAnyArgsSlice(4)...).
					WillReturnError(errors.New("error#1"))
				tx, _ := db.Begin()
				return context.WithValue(context.Background(), test.DefaultCtxKey, tx)
			},
			wantErr:          true,
			wantErrMsgPrefix: "could not persist the outbox record",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMockedStore(t)
			ctx := tc.buildCtx(s.db, mock)

			id, err := s.Save(ctx, &store.Event{
				AggregateId: "SKU1",
				EventType:   "StockAdjusted",
				Payload:     []byte(`{"qty":5}`),
			})

			if !tc.wantErr {
				assert.NoError(t, err)
				assert.NotEqual(t, uuid.Nil, id)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, uuid.Nil, id)
			if tc.wantNoTx {
				assert.ErrorIs(t, err, store.ErrNoTransaction)
			}
			if tc.wantErrMsgPrefix != "" {
				assert.Contains(t, err.Error(), tc.wantErrMsgPrefix)
			}
		})
	}
}

func TestFindUnprocessed(t *testing.T) {
	s, mock := newMockedStore(t)

	id1 := uuid.New()
	id2 := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "event_type", "payload", "created_at", "processed_at"}).
		AddRow(id1, "SKU1", "StockAdjusted", []byte("p1"), time.Now().Add(-time.Minute), nil).
		AddRow(id2, "SKU2", "StockAdjusted", []byte("p2"), time.Now(), nil)
	mock.ExpectQuery("SELECT id, aggregate_id, event_type, payload, created_at, processed_at FROM outbox WHERE processed_at IS NULL.+").
		WithArgs(10).
		WillReturnRows(rows)

	got, err := s.FindUnprocessed(10)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, id1, got[0].Id)
	assert.Equal(t, id2, got[1].Id)
	assert.False(t, got[0].ProcessedAt.Valid)
	assert.Equal(t, []byte("p1"), got[0].Payload)
}

func TestFindUnprocessed_error(t *testing.T) {
	s, mock := newMockedStore(t)
	mock.ExpectQuery("SELECT id, aggregate_id.+").WillReturnError(errors.New("error#1"))

	got, err := s.FindUnprocessed(10)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestMarkProcessed(t *testing.T) {
	testcases := []struct {
		name         string
		rowsAffected int64
		execErr      error
		wantErr      bool
	}{
		{
			name:         "pending record is stamped",
			rowsAffected: 1,
			wantErr:      false,
		},
		{
			name:         "already processed record is a no-op",
			rowsAffected: 0,
			wantErr:      false,
		},
		{
			name:    "database error",
			execErr: errors.New("error#1"),
			wantErr: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			s, mock := newMockedStore(t)
			exp := mock.ExpectExec("UPDATE outbox SET processed_at=NOW\\(\\) WHERE id=. AND processed_at IS NULL").
				WithArgs(test.GenerateAnyArgsSlice(1)...)
			if tc.execErr != nil {
				exp.WillReturnError(tc.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tc.rowsAffected))
			}

			err := s.MarkProcessed(uuid.New())
			test.AssertError(t, err, tc.wantErr)
		})
	}
}

func TestCountUnprocessed(t *testing.T) {
	s, mock := newMockedStore(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM outbox WHERE processed_at IS NULL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.CountUnprocessed()
	assert.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func Test_convertToDollarPlaceholder(t *testing.T) {
	got := convertToDollarPlaceholder("INSERT INTO t (a, b) VALUES (?, ?)")
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2)", got)
}
