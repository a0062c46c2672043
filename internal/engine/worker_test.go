package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestWorkerReassesses(t *testing.T) {
	src := NewStaticSource()
	ctx := context.Background()
	if err := src.RecordMetrics(ctx, "acme", uniformMetrics(0.3)); err != nil {
		t.Fatal(err)
	}
	if err := src.RecordMetrics(ctx, "globex", uniformMetrics(0.9)); err != nil {
		t.Fatal(err)
	}
	e, _ := newTestEngine(t, WithDataSource(src))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	worker := NewWorker(e, 50*time.Millisecond, logger)

	wctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	go worker.Start(wctx)

	time.Sleep(180 * time.Millisecond)
	worker.Stop()

	history, err := e.History(ctx, "acme", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected trend points for acme")
	}

	active, err := e.AlertStore().ListActive(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) == 0 {
		t.Error("expected active alerts for a weak entity")
	}

	active, err = e.AlertStore().ListActive(ctx, "globex")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("expected no alerts for a healthy entity, got %d", len(active))
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	e, _ := newTestEngine(t, WithDataSource(NewStaticSource()))
	worker := NewWorker(e, time.Hour, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerStop(t *testing.T) {
	e, _ := newTestEngine(t, WithDataSource(NewStaticSource()))

	t.Run("stops a running loop", func(t *testing.T) {
		worker := NewWorker(e, time.Hour, slog.Default())
		done := make(chan struct{})
		go func() {
			worker.Start(context.Background())
			close(done)
		}()
		worker.Stop()
		worker.Stop()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("worker did not stop")
		}
	})

	t.Run("stop before start", func(t *testing.T) {
		worker := NewWorker(e, time.Hour, slog.Default())
		worker.Stop()

		done := make(chan struct{})
		go func() {
			worker.Start(context.Background())
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Start should return immediately after Stop")
		}
	})
}
