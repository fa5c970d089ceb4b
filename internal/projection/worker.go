package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/observability"
	"PerpVault/internal/persistence"
	"PerpVault/internal/registry"

	"github.com/rs/zerolog"
)

const (
	workerID = "position_history"
	// MaxHistoryPage bounds one History read.
	MaxHistoryPage = 500
)

// EventSource reads the persisted event log in sequence order.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, from int64, limit int) ([]persistence.EventRow, error)
}

// ProjectionWorker tails the event log and maintains
// projections.position_history. It lags the vault and can always be
// rebuilt from the log, so failures are logged and retried.
type ProjectionWorker struct {
	db        *sql.DB
	source    EventSource
	batchSize int
	interval  time.Duration
	metrics   *observability.Metrics
	log       zerolog.Logger

	lastSeq int64
}

func NewProjectionWorker(db *sql.DB, source EventSource, batchSize int, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ProjectionWorker{
		db:        db,
		source:    source,
		batchSize: batchSize,
		interval:  interval,
		metrics:   metrics,
		log:       logger,
	}
}

// Run polls the event log every interval until ctx is cancelled.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := pw.watermark(ctx)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()
	for {
		if _, err := pw.CatchUp(ctx); err != nil && ctx.Err() == nil {
			pw.log.Warn().Err(err).Int64("seq", pw.lastSeq).Msg("projection update failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CatchUp applies every logged operation past the watermark and returns
// how many it applied.
func (pw *ProjectionWorker) CatchUp(ctx context.Context) (int, error) {
	applied := 0
	for {
		rows, err := pw.source.LoadEventsFrom(ctx, pw.lastSeq+1, pw.batchSize)
		if err != nil {
			return applied, err
		}
		if len(rows) == 0 {
			return applied, nil
		}
		if err := pw.apply(ctx, rows); err != nil {
			return applied, err
		}
		applied += len(rows)
		if len(rows) < pw.batchSize {
			return applied, nil
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, rows []persistence.EventRow) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range rows {
		entries, err := EntriesFromRow(row)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := insertEntry(ctx, tx, e); err != nil {
				return fmt.Errorf("insert seq=%d: %w", e.Sequence, err)
			}
		}
	}

	last := rows[len(rows)-1].Sequence
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, last); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.lastSeq = last
	if pw.metrics != nil {
		pw.metrics.ProjectionLastSequence.Set(float64(last))
	}
	return nil
}

func (pw *ProjectionWorker) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	var pnl sql.NullString
	if e.RealisedPnL != nil {
		pnl = sql.NullString{String: e.RealisedPnL.String(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.position_history
			(sequence, idx, kind, owner, collateral, index_asset, is_long,
			 size_delta_usd, collateral_delta_usd, price, fee_usd, realised_pnl, closed, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (sequence, idx) DO NOTHING
	`, e.Sequence, e.Idx, e.Kind.String(), e.Owner.String(), string(e.Collateral), string(e.Index), e.IsLong,
		e.SizeDelta.String(), e.CollateralDelta.String(), e.Price.String(), e.Fee.String(), pnl, e.Closed, e.Timestamp)
	return err
}

// Store reads the position history projection.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// History returns owner's most recent entries, newest first.
func (s *Store) History(ctx context.Context, owner auth.Identity, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxHistoryPage {
		limit = MaxHistoryPage
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, idx, kind, owner, collateral, index_asset, is_long,
		       size_delta_usd::TEXT, collateral_delta_usd::TEXT, price::TEXT, fee_usd::TEXT,
		       realised_pnl::TEXT, closed, ts
		FROM projections.position_history
		WHERE owner = $1
		ORDER BY sequence DESC, idx DESC
		LIMIT $2
	`, owner.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                           Entry
			kind, ownerStr, coll, index string
			size, collDelta, price, fee string
			pnl                         sql.NullString
		)
		if err := rows.Scan(&e.Sequence, &e.Idx, &kind, &ownerStr, &coll, &index, &e.IsLong,
			&size, &collDelta, &price, &fee, &pnl, &e.Closed, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.Owner, err = auth.ParseIdentity(ownerStr); err != nil {
			return nil, err
		}
		e.Kind = kindOf(kind)
		e.Collateral, e.Index = registry.Asset(coll), registry.Asset(index)
		fields := []struct {
			dst *fpmath.Uint
			src string
		}{{&e.SizeDelta, size}, {&e.CollateralDelta, collDelta}, {&e.Price, price}, {&e.Fee, fee}}
		for _, f := range fields {
			if *f.dst, err = fpmath.UintFromString(f.src); err != nil {
				return nil, fmt.Errorf("seq=%d: %w", e.Sequence, err)
			}
		}
		if pnl.Valid {
			v, err := parseInt(pnl.String)
			if err != nil {
				return nil, fmt.Errorf("seq=%d realised_pnl: %w", e.Sequence, err)
			}
			e.RealisedPnL = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rebuild drops the projection. The worker repopulates it from the event
// log on its next poll after a restart.
func Rebuild(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		`TRUNCATE projections.position_history`,
		`DELETE FROM projections.watermark WHERE worker_id = '` + workerID + `'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.Fields(stmt)[0], err)
		}
	}
	return nil
}

// TruncateAfter drops projected entries past sequence and pulls the
// watermark back to it, following a truncation of the event log.
func TruncateAfter(ctx context.Context, db *sql.DB, sequence int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM projections.position_history WHERE sequence > $1`, sequence,
	); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark
		SET last_sequence = $2, updated_at = NOW()
		WHERE worker_id = $1 AND last_sequence > $2
	`, workerID, sequence); err != nil {
		return fmt.Errorf("watermark rewind: %w", err)
	}
	return tx.Commit()
}

func kindOf(name string) event.EventType {
	for _, t := range []event.EventType{
		event.EventTypeIncreasePosition,
		event.EventTypeDecreasePosition,
		event.EventTypeLiquidatePosition,
	} {
		if t.String() == name {
			return t
		}
	}
	return event.EventTypeUnknown
}
