package filelock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestAcquireCreatesParentDirectory(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "fragility", "radius1.25", "sub-01", "x.lock")

	lock := NewFileLock(lockPath)
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
}

func TestAcquireWaitsForHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	holder := NewFileLock(lockPath)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := NewFileLock(lockPath).Acquire(ctx); err == nil {
		t.Error("Acquire should fail when the context expires")
	}

	if err := holder.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	next := NewFileLock(lockPath)
	if err := next.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	next.Unlock()
}

func TestWithLockReturnsCallbackError(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	want := errors.New("analysis failed")

	err := WithLock(context.Background(), lockPath, func() error { return want })
	if !errors.Is(err, want) {
		t.Errorf("WithLock error = %v, want %v", err, want)
	}
	if err := WithLock(context.Background(), lockPath, func() error { return nil }); err != nil {
		t.Errorf("lock not released after failing callback: %v", err)
	}
}

func TestWithLockSerializesWork(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "counter.lock")
	counterPath := filepath.Join(dir, "counter.txt")
	if err := os.WriteFile(counterPath, []byte("0"), 0644); err != nil {
		t.Fatal(err)
	}

	const goroutines = 4
	const iterations = 5

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				err := WithLock(context.Background(), lockPath, func() error {
					data, err := os.ReadFile(counterPath)
					if err != nil {
						return err
					}
					n, _ := strconv.Atoi(string(data))
					return AtomicWrite(counterPath, []byte(strconv.Itoa(n+1)))
				})
				if err != nil {
					t.Errorf("WithLock error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(counterPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(goroutines*iterations) {
		t.Errorf("counter = %s, want %d", data, goroutines*iterations)
	}
}

func TestAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sub-01_desc-statematrix_eeg.npy")

	if err := AtomicWrite(path, []byte("first")); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if err := AtomicWrite(path, []byte("second")); err != nil {
		t.Fatalf("AtomicWrite overwrite failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}
