package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManager_ReverseOrder(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())

	var order []string
	for _, name := range []string{"scheduler", "worker", "http"} {
		name := name
		m.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if !m.IsAcceptingJobs() {
		t.Fatal("expected to accept jobs before shutdown")
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	want := []string{"http", "worker", "scheduler"}
	if len(order) != len(want) {
		t.Fatalf("stopped %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stopped %v, want %v", order, want)
		}
	}

	status := m.GetStatus()
	if status.State != StateComplete || status.Stopped != 3 || status.AcceptingNewJobs {
		t.Errorf("unexpected status %+v", status)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done() should be closed")
	}
}

func TestManager_ErrorsAreJoined(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())
	boom := errors.New("boom")
	called := false
	m.Register("ok", func(context.Context) error { called = true; return nil })
	m.Register("bad", func(context.Context) error { return boom })

	err := m.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !called {
		t.Error("components after a failure must still be stopped")
	}
	if m.GetStatus().Stopped != 1 {
		t.Errorf("expected 1 stopped, got %d", m.GetStatus().Stopped)
	}

	// Second call returns the first result without stopping again.
	called = false
	if err := m.Shutdown(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected cached error, got %v", err)
	}
	if called {
		t.Error("components must only be stopped once")
	}
}

func TestManager_RegisterWorkerTimeout(t *testing.T) {
	m := NewManager(Config{Timeout: 50 * time.Millisecond}, zerolog.Nop())

	m.RegisterWorker("quick", func() context.Context {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	})
	m.RegisterWorker("stuck", func() context.Context {
		return context.Background()
	})

	start := time.Now()
	err := m.Shutdown(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("shutdown should be bounded by the timeout")
	}
	if m.GetStatus().Stopped != 1 {
		t.Errorf("expected the quick worker to stop, got %d", m.GetStatus().Stopped)
	}
}

func TestManager_RegisterAfterShutdown(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Register("late", func(context.Context) error { return nil })
	if m.GetStatus().Components != 0 {
		t.Error("late registration should be ignored")
	}
}
