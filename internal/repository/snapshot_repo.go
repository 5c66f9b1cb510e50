package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wallbox_control/internal/models"
)

type SnapshotSQLite struct {
	db *sql.DB
}

func NewSnapshotSQLite(db *sql.DB) *SnapshotSQLite {
	return &SnapshotSQLite{db: db}
}

const (
	snapshotRowID = 1

	upsertSnapshotSQL = `
		INSERT INTO wallbox_snapshot (id, status, mode, last_action, mutated, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			mode=excluded.mode,
			last_action=excluded.last_action,
			mutated=excluded.mutated,
			updated_at=excluded.updated_at
	`

	selectSnapshotSQL = `
		SELECT id, status, mode, last_action, mutated, updated_at
		FROM wallbox_snapshot WHERE id=?
	`
)

// Save upserts the wallbox_snapshot row (id always 1).
func (r *SnapshotSQLite) Save(ctx context.Context, s models.Snapshot) error {
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	} else {
		ts = ts.UTC()
	}

	_, err := r.db.ExecContext(ctx, upsertSnapshotSQL,
		snapshotRowID,
		string(s.Status),
		string(s.Mode),
		string(s.LastAction),
		s.Mutated,
		ts,
	)
	return err
}

// Load fetches the single wallbox_snapshot row (id=1). A zero Snapshot
// with ID 0 means no observation has been recorded yet.
func (r *SnapshotSQLite) Load(ctx context.Context) (models.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, selectSnapshotSQL, snapshotRowID)

	var (
		s          models.Snapshot
		status     string
		mode       string
		lastAction string
	)
	if err := row.Scan(&s.ID, &status, &mode, &lastAction, &s.Mutated, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Snapshot{}, nil
		}
		return models.Snapshot{}, err
	}
	s.Status = models.DeviceState(status)
	s.Mode = models.ChargeMode(mode)
	s.LastAction = models.ActionKind(lastAction)
	s.UpdatedAt = s.UpdatedAt.UTC()

	return s, nil
}
