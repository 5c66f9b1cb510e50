package service

import (
	"context"
	"time"

	"wallbox_control/internal/models"
	"wallbox_control/internal/repository"
)

type MonitoringService struct {
	snapshots repository.SnapshotRepo
}

func NewMonitoringService(snapshots repository.SnapshotRepo) *MonitoringService {
	return &MonitoringService{snapshots: snapshots}
}

// Snapshot returns the last persisted observation of the panel. If
// nothing has been observed yet, a baseline Unknown snapshot is
// returned. This is reporting data only; decisions re-read the device.
func (s *MonitoringService) Snapshot(ctx context.Context) (models.Snapshot, error) {
	snap, err := s.snapshots.Load(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	if snap.ID == 0 {
		return baselineSnapshot(), nil
	}
	snap.UpdatedAt = toUTC(snap.UpdatedAt)
	return snap, nil
}

// baselineSnapshot is the default before any action has observed the panel.
func baselineSnapshot() models.Snapshot {
	return models.Snapshot{
		ID:        1, // DB schema enforces single-row snapshot with id=1
		Status:    models.StateUnknown,
		UpdatedAt: time.Now().UTC(),
	}
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
