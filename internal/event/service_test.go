package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trafficlens/trafficlens/internal/database"
	"github.com/trafficlens/trafficlens/internal/geometry"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := database.Open(database.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return NewService(db, nil)
}

func sampleEvent(trackID int64, side string) *PassageEvent {
	return &PassageEvent{
		Side:          side,
		Lane:          1,
		Direction:     "toward_camera",
		VehicleType:   "car",
		Color:         "White",
		MakeModel:     "Unknown - Vehicle",
		MakeModelConf: 0.2,
		PlateNumber:   "XXXXX",
		BBox:          geometry.Box{X1: 100, Y1: 200, X2: 180, Y2: 300},
		TrackID:       trackID,
		SourceMeta:    []byte(`{"confidence":0.9}`),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	ev := sampleEvent(1, "left")
	if err := s.Create(ctx, ev); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("Create did not assign an id")
	}

	got, err := s.Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.Side != "left" || got.Lane != 1 || got.VehicleType != "car" {
		t.Errorf("Get = %+v, want side=left lane=1 type=car", got)
	}
	if got.BBox != ev.BBox {
		t.Errorf("BBox = %v, want %v", got.BBox, ev.BBox)
	}
	if got.TrackID != 1 {
		t.Errorf("TrackID = %d, want 1", got.TrackID)
	}
	if string(got.SourceMeta) != `{"confidence":0.9}` {
		t.Errorf("SourceMeta = %s", got.SourceMeta)
	}
}

func TestGetMissingEvent(t *testing.T) {
	s := newTestService(t)

	_, err := s.Get(context.Background(), "no-such-id")
	if err == nil {
		t.Fatal("Get returned nil error for a missing event")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	old := sampleEvent(1, "left")
	old.TS = time.Now().UTC().Add(-2 * time.Hour)
	old.SnapshotPath = "/snapshots/snapshot_1_100.jpg"
	old.PlateSnapshotPath = "/snapshots/plate_1_100.jpg"
	if err := s.Create(ctx, old); err != nil {
		t.Fatal(err)
	}

	recent := sampleEvent(2, "right")
	if err := s.Create(ctx, recent); err != nil {
		t.Fatal(err)
	}

	deleted, paths, err := s.DeleteOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v, want both snapshot paths", paths)
	}

	if _, err := s.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired event still retrievable, err = %v", err)
	}
	if _, err := s.Get(ctx, recent.ID); err != nil {
		t.Errorf("recent event was deleted: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i, side := range []string{"left", "left", "right"} {
		ev := sampleEvent(int64(i+1), side)
		if side == "right" {
			ev.VehicleType = "truck"
		}
		if err := s.Create(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	events, total, err := s.List(ctx, ListOptions{Side: "left"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Errorf("List(side=left) total=%d len=%d, want 2/2", total, len(events))
	}

	events, total, err = s.List(ctx, ListOptions{VehicleType: "truck"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Errorf("List(type=truck) total=%d len=%d, want 1/1", total, len(events))
	}

	events, total, err = s.List(ctx, ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 || len(events) != 1 {
		t.Errorf("List(limit=1) total=%d len=%d, want 3/1", total, len(events))
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := newTestService(t)

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	if err := s.Create(context.Background(), sampleEvent(7, "right")); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if ev.TrackID != 7 {
			t.Errorf("subscriber got track %d, want 7", ev.TrackID)
		}
	case <-time.After(time.Second):
		t.Error("subscriber did not receive the event")
	}
}

func TestStats(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, sampleEvent(int64(i+1), "left")); err != nil {
			t.Fatal(err)
		}
	}
	ev := sampleEvent(4, "right")
	ev.Lane = 2
	if err := s.Create(ctx, ev); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.BySide["left"] != 3 || stats.BySide["right"] != 1 {
		t.Errorf("BySide = %v", stats.BySide)
	}
	if stats.ByLane[2] != 1 {
		t.Errorf("ByLane = %v", stats.ByLane)
	}
	if stats.ByClass["car"] != 4 {
		t.Errorf("ByClass = %v", stats.ByClass)
	}
}
