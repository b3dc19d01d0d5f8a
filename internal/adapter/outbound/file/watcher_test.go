package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeFile(t, "policy.csv", "p, alice, data1, read\n")

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(context.Background(), path, 20*time.Millisecond, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer func() { _ = w.Close() }()

	// Saves go through rename, exercising the directory watch.
	a := NewAdapter(path, WithLogger(testLogger()))
	if err := a.AddPolicy("p", "p", []string{"bob", "data2", "write"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("onChange not called after policy save")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeFile(t, "policy.csv", "")

	var calls atomic.Int32
	w, err := NewWatcher(context.Background(), path, 10*time.Millisecond, func() {
		calls.Add(1)
	}, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	other := filepath.Join(filepath.Dir(path), "unrelated.txt")
	if err := os.WriteFile(other, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := w.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("onChange called %d times for an unrelated file", n)
	}
}

func TestWatcher_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWatcher(ctx, writeFile(t, "policy.csv", ""), 0, func() {}, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	cancel()

	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher goroutine did not exit after cancel")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
