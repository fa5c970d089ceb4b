package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PerpVault/internal/observability"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotFormatVersion tags the encoding of the data column: v1 is a
// JSON-encoded vault.SnapshotState.
const SnapshotFormatVersion = 1

var ErrSnapshotMismatch = errors.New("snapshot state hash does not match event log")

// Snapshotter is the part of the vault a snapshot is taken from.
type Snapshotter interface {
	Sequence() int64
	CreateSnapshotState() *vault.SnapshotState
}

// SnapshotManager saves and loads whole-vault snapshots. Custody balances
// are not included; on restore they must already match.
type SnapshotManager struct {
	db      *sql.DB
	events  *EventLogWriter
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) *SnapshotManager {
	return &SnapshotManager{
		db:      db,
		events:  NewEventLogWriter(db),
		metrics: metrics,
		log:     logger,
		now:     time.Now,
	}
}

// EncodeSnapshot returns the stored form of snap.
func EncodeSnapshot(snap *vault.SnapshotState) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (*vault.SnapshotState, error) {
	var snap vault.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot persists snap, replacing any earlier snapshot at the same
// sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *vault.SnapshotState) error {
	start := time.Now()
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], SnapshotFormatVersion, len(data), sm.now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot seq=%d: %w", snap.Sequence, err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
		sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	sm.log.Info().Int64("sequence", snap.Sequence).Int("bytes", len(data)).Msg("snapshot saved")
	return nil
}

// Verify checks the snapshot at sequence against the event log row with
// the same sequence and marks it verified. Snapshot 0 is the empty vault
// and has no row.
func (sm *SnapshotManager) Verify(ctx context.Context, sequence int64) error {
	var stored []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT state_hash FROM vault_log.snapshots WHERE sequence = $1`, sequence,
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("load snapshot hash seq=%d: %w", sequence, err)
	}

	if sequence > 0 {
		logged, ok, err := sm.events.StateHashAt(ctx, sequence)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: seq=%d not in event log", ErrSnapshotMismatch, sequence)
		}
		if !bytes.Equal(stored, logged) {
			return fmt.Errorf("%w: seq=%d", ErrSnapshotMismatch, sequence)
		}
	}

	_, err = sm.db.ExecContext(ctx,
		`UPDATE vault_log.snapshots SET verified = TRUE WHERE sequence = $1`, sequence)
	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*vault.SnapshotState, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM vault_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// Take captures, saves and verifies one snapshot. The vault sequence must
// already be in the event log, so callers run it after the persistence
// worker has caught up.
func (sm *SnapshotManager) Take(ctx context.Context, src Snapshotter) (*vault.SnapshotState, error) {
	snap := src.CreateSnapshotState()
	if err := sm.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if err := sm.Verify(ctx, snap.Sequence); err != nil {
		return nil, err
	}
	return snap, nil
}

// RunPeriodic takes a snapshot every interval once the vault has moved on
// from the last one. Failures are logged and retried at the next tick.
func (sm *SnapshotManager) RunPeriodic(ctx context.Context, src Snapshotter, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if src.Sequence() == last {
				continue
			}
			snap, err := sm.Take(ctx, src)
			if err != nil {
				sm.log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = snap.Sequence
		}
	}
}

// TruncateToSnapshot discards logged operations after the latest verified
// snapshot, and any snapshots past it, so recovery can start from that
// snapshot again. It returns the snapshot sequence (0 when none is
// verified) and how many operations were removed.
func (sm *SnapshotManager) TruncateToSnapshot(ctx context.Context) (snapSeq, removed int64, err error) {
	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM vault_log.snapshots WHERE verified = TRUE`,
	).Scan(&seq); err != nil {
		return 0, 0, fmt.Errorf("latest verified snapshot: %w", err)
	}
	snapSeq = seq.Int64

	res, err := tx.ExecContext(ctx, `DELETE FROM vault_log.events WHERE sequence > $1`, snapSeq)
	if err != nil {
		return 0, 0, fmt.Errorf("truncate events: %w", err)
	}
	if removed, err = res.RowsAffected(); err != nil {
		return 0, 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vault_log.snapshots WHERE sequence > $1`, snapSeq); err != nil {
		return 0, 0, fmt.Errorf("truncate snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	sm.log.Warn().Int64("snapshot_seq", snapSeq).Int64("removed", removed).Msg("event log truncated to snapshot")
	return snapSeq, removed, nil
}
