package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallbox_control/internal/models"
)

type fakeSnapshotRepo struct {
	snap    models.Snapshot
	loadErr error
	saved   []models.Snapshot
}

func (f *fakeSnapshotRepo) Save(ctx context.Context, s models.Snapshot) error {
	f.saved = append(f.saved, s)
	f.snap = s
	return nil
}

func (f *fakeSnapshotRepo) Load(ctx context.Context) (models.Snapshot, error) {
	return f.snap, f.loadErr
}

func TestSnapshot_ReturnsStored(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	repo := &fakeSnapshotRepo{snap: models.Snapshot{
		ID:         1,
		Status:     models.StateCharging,
		Mode:       models.ModeSolar,
		LastAction: models.ActionStart,
		Mutated:    true,
		UpdatedAt:  time.Date(2026, 8, 20, 12, 30, 0, 0, loc),
	}}
	svc := NewMonitoringService(repo)

	got, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.StateCharging || got.Mode != models.ModeSolar {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.UpdatedAt.Location() != time.UTC {
		t.Fatalf("timestamp not normalized to UTC: %v", got.UpdatedAt)
	}
}

func TestSnapshot_BaselineWhenEmpty(t *testing.T) {
	svc := NewMonitoringService(&fakeSnapshotRepo{})

	got, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.StateUnknown {
		t.Fatalf("baseline status = %q, want unknown", got.Status)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("baseline snapshot must carry a timestamp")
	}
}

func TestSnapshot_RepoError(t *testing.T) {
	want := errors.New("db closed")
	svc := NewMonitoringService(&fakeSnapshotRepo{loadErr: want})

	if _, err := svc.Snapshot(context.Background()); !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}
