package core

// journal.go records one row per delivery attempt in PostgreSQL.
//
// The journal is bookkeeping for operators: which schedules ran, where they
// went and how they failed. The pipeline never reads it back, and a run is
// not failed because its journal entry could not be written.

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/sheetdrop/internal/transfer"
)

// DBTX is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Delivery is one journal row.
type Delivery struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Username   string    `json:"username"`
	RemotePath string    `json:"remote_path"`
	Sheets     int       `json:"sheets"`
	Bytes      int64     `json:"bytes"`
	OK         bool      `json:"ok"`
	Stage      Stage     `json:"stage,omitempty"`
	Kind       Kind      `json:"kind,omitempty"`
	Message    string    `json:"message"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewDelivery builds the journal row for a finished run.
func NewDelivery(in DestinationInput, res Result, elapsed time.Duration) Delivery {
	d := Delivery{
		RunID:      res.RunID,
		Host:       in.Host,
		Username:   in.Username,
		RemotePath: in.Filename,
		Bytes:      res.Transfer.Bytes,
		OK:         res.OK,
		Stage:      res.Stage,
		Kind:       res.Kind,
		Message:    res.Message,
		DurationMS: elapsed.Milliseconds(),
	}
	if port, err := transfer.ParsePort(in.Port); err == nil {
		d.Port = port
	}
	if res.Artifact != nil {
		d.Sheets = len(res.Artifact.Sheets)
	}
	return d
}

// Journal stores delivery records.
type Journal interface {
	Record(ctx context.Context, d Delivery) error
	Recent(ctx context.Context, limit int) ([]Delivery, error)
}

// NopJournal discards everything. Used when no database is configured.
type NopJournal struct{}

func (NopJournal) Record(context.Context, Delivery) error { return nil }

func (NopJournal) Recent(context.Context, int) ([]Delivery, error) { return nil, nil }

// PgJournal writes to the delivery_log table.
type PgJournal struct {
	db DBTX
}

func NewPgJournal(db DBTX) *PgJournal {
	return &PgJournal{db: db}
}

const createDeliveryLog = `
CREATE TABLE IF NOT EXISTS delivery_log (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT        NOT NULL DEFAULT '',
	host        TEXT        NOT NULL,
	port        INTEGER     NOT NULL DEFAULT 0,
	username    TEXT        NOT NULL,
	remote_path TEXT        NOT NULL,
	sheets      INTEGER     NOT NULL DEFAULT 0,
	bytes       BIGINT      NOT NULL DEFAULT 0,
	ok          BOOLEAN     NOT NULL,
	stage       TEXT        NOT NULL DEFAULT '',
	kind        TEXT        NOT NULL DEFAULT '',
	message     TEXT        NOT NULL DEFAULT '',
	duration_ms BIGINT      NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS delivery_log_created_at_idx ON delivery_log (created_at DESC);
`

// EnsureSchema creates the delivery_log table if it does not exist.
func (j *PgJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, createDeliveryLog); err != nil {
		return fmt.Errorf("create delivery_log: %w", err)
	}
	return nil
}

const insertDelivery = `
INSERT INTO delivery_log
	(run_id, host, port, username, remote_path, sheets, bytes, ok, stage, kind, message, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (j *PgJournal) Record(ctx context.Context, d Delivery) error {
	_, err := j.db.Exec(ctx, insertDelivery,
		d.RunID, d.Host, d.Port, d.Username, d.RemotePath,
		d.Sheets, d.Bytes, d.OK, string(d.Stage), string(d.Kind), d.Message, d.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert delivery_log: %w", err)
	}
	return nil
}

const selectRecentDeliveries = `
SELECT id, run_id, host, port, username, remote_path, sheets, bytes, ok, stage, kind, message, duration_ms, created_at
FROM delivery_log
ORDER BY created_at DESC, id DESC
LIMIT $1`

// Recent returns the newest deliveries first. limit <= 0 means 50.
func (j *PgJournal) Recent(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(ctx, selectRecentDeliveries, limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery_log: %w", err)
	}

	deliveries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Delivery, error) {
		var (
			d           Delivery
			stage, kind string
		)
		err := row.Scan(&d.ID, &d.RunID, &d.Host, &d.Port, &d.Username, &d.RemotePath,
			&d.Sheets, &d.Bytes, &d.OK, &stage, &kind, &d.Message, &d.DurationMS, &d.CreatedAt)
		d.Stage = Stage(stage)
		d.Kind = Kind(kind)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan delivery_log: %w", err)
	}
	return deliveries, nil
}
