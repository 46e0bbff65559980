package transferlog_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"renderqueue/internal/testsupport"
	"renderqueue/internal/transferlog"
)

func openStore(t *testing.T) *transferlog.Store {
	t.Helper()
	store, err := transferlog.Open(testsupport.NewConfig(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBeginFinishRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	rec, err := store.Begin(ctx, transferlog.Record{
		Direction: transferlog.DirectionReceive,
		Peer:      "10.0.0.5:4242",
		Name:      "shot.blend",
		Size:      1024,
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if rec.ID == "" || rec.Status != transferlog.StatusActive || rec.StartedAt.IsZero() {
		t.Fatalf("Begin did not fill defaults: %+v", rec)
	}

	if err := store.Finish(ctx, rec.ID, transferlog.StatusSuccess, "/inbox/shot.blend", nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("Get: %+v %v", got, err)
	}
	if got.Status != transferlog.StatusSuccess || got.Path != "/inbox/shot.blend" || got.Size != 1024 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.FinishedAt.IsZero() || got.Error != "" {
		t.Fatalf("expected finished timestamp without error: %+v", got)
	}
}

func TestFinishKeepsPathWhenEmptyAndRecordsError(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec, err := store.Begin(ctx, transferlog.Record{Direction: transferlog.DirectionSend, Path: "/src/a.blend", Size: 10})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.Finish(ctx, rec.ID, transferlog.StatusFailure, "", errors.New("peer closed")); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, _ := store.Get(ctx, rec.ID)
	if got.Path != "/src/a.blend" || got.Error != "peer closed" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if err := store.Finish(ctx, "missing", transferlog.StatusSuccess, "", nil); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestRecentNewestFirstAndMarkInterrupted(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		if _, err := store.Begin(ctx, transferlog.Record{
			Direction: transferlog.DirectionReceive,
			Name:      name,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Begin %s: %v", name, err)
		}
	}

	recent, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Name != "c" || recent[1].Name != "b" {
		t.Fatalf("unexpected order: %+v", recent)
	}

	n, err := store.MarkInterrupted(ctx)
	if err != nil || n != 3 {
		t.Fatalf("MarkInterrupted: n=%d err=%v", n, err)
	}
	all, _ := store.Recent(ctx, 0)
	for _, rec := range all {
		if rec.Status != transferlog.StatusFailure || rec.Error != "interrupted" {
			t.Fatalf("expected interrupted failure, got %+v", rec)
		}
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transfers.db")
	store, err := transferlog.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := store.Begin(context.Background(), transferlog.Record{Direction: transferlog.DirectionSend}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_ = store.Close()

	reopened, err := transferlog.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	records, err := reopened.Recent(context.Background(), 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected 1 record after reopen, got %d (%v)", len(records), err)
	}
}
