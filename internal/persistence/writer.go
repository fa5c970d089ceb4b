package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"PerpVault/internal/event"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes committed envelopes to vault_log.events using
// multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in vault_log.events.
type EventRow struct {
	Sequence   int64
	EventID    uuid.UUID
	Operation  string
	Caller     string
	EventTypes []string
	Payload    []byte // JSON array of {"type","data"} records
	StateHash  []byte
	PrevHash   []byte
	Timestamp  time.Time
}

const eventColumns = 9

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowFromEnvelope flattens an envelope into its event log row.
func RowFromEnvelope(env *event.Envelope) (EventRow, error) {
	payload, err := env.Payload()
	if err != nil {
		return EventRow{}, fmt.Errorf("encode seq=%d payload: %w", env.Sequence, err)
	}
	types := env.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return EventRow{
		Sequence:   env.Sequence,
		EventID:    env.EventID,
		Operation:  env.Operation,
		Caller:     env.Caller.String(),
		EventTypes: names,
		Payload:    payload,
		StateHash:  env.StateHash[:],
		PrevHash:   env.PrevHash[:],
		Timestamp:  env.Timestamp.UTC(),
	}, nil
}

// WriteEventBatch inserts rows through ex. Rows already present by
// sequence are skipped so a retried batch is harmless.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := buildEventInsert(rows)
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

func buildEventInsert(rows []EventRow) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO vault_log.events
		(sequence, event_id, operation, caller, event_types, payload, state_hash, prev_hash, ts)
		VALUES `)

	args := make([]any, 0, len(rows)*eventColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * eventColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args,
			r.Sequence, r.EventID, r.Operation, r.Caller, pq.Array(r.EventTypes),
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}
	b.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	return b.String(), args
}

// LoadEventsFrom returns up to limit rows with sequence >= from, in order.
func (w *EventLogWriter) LoadEventsFrom(ctx context.Context, from int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_id, operation, caller, event_types, payload,
		       state_hash, prev_hash, ts
		FROM vault_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.Operation, &e.Caller, pq.Array(&e.EventTypes),
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, 0 when
// empty.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM vault_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// StateHashAt returns the post-state hash logged for sequence.
func (w *EventLogWriter) StateHashAt(ctx context.Context, sequence int64) ([]byte, bool, error) {
	var hash []byte
	err := w.db.QueryRowContext(ctx,
		`SELECT state_hash FROM vault_log.events WHERE sequence = $1`, sequence,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return hash, true, nil
}
