package repository

import (
	"context"
	"database/sql"
	"time"

	"wallbox_control/internal/models"
)

// SnapshotRepo persists the last observed panel state (single row).
type SnapshotRepo interface {
	Save(ctx context.Context, s models.Snapshot) error
	Load(ctx context.Context) (models.Snapshot, error)
}

// EventRepo is the append-only audit log of dispatched actions.
type EventRepo interface {
	Append(ctx context.Context, e models.WallboxEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.WallboxEvent, error)
}

type Repository struct {
	Snapshots SnapshotRepo
	Events    EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Snapshots: NewSnapshotSQLite(db),
		Events:    NewEventSQLite(db),
	}
}
