package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := crawler.Run{ID: "run-1", Task: "nightly", Status: crawler.RunStatusQueued}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Fatal("expected duplicate run error")
	}
	if err := store.UpdateRun(ctx, run.ID, crawler.RunStatusRunning, "", crawler.Summary{}); err != nil {
		t.Fatalf("UpdateRun running error = %v", err)
	}
	mid, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if mid.Started == nil || mid.Finished != nil {
		t.Fatalf("expected only start timestamp, got %+v", mid)
	}

	summary := crawler.Summary{Created: 3, Skipped: 1}
	if err := store.UpdateRun(ctx, run.ID, crawler.RunStatusSucceeded, "", summary); err != nil {
		t.Fatalf("UpdateRun succeeded error = %v", err)
	}
	final, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if final.Status != crawler.RunStatusSucceeded || final.Finished == nil {
		t.Fatalf("expected finished run, got %+v", final)
	}
	if final.Summary != summary {
		t.Fatalf("expected summary to persist, got %+v", final.Summary)
	}
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	err := store.UpdateRun(context.Background(), "missing", crawler.RunStatusFailed, "x", crawler.Summary{})
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
