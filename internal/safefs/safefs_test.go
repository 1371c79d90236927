package safefs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestStatCompletesOnHealthyFilesystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql.gz")
	if err := os.WriteFile(path, []byte("data"), 0o640); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	info, err := Stat(context.Background(), path, time.Second)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 4 {
		t.Fatalf("Stat() size = %d, want 4", info.Size())
	}
}

func TestStatTimesOutOnHungMount(t *testing.T) {
	prev := statFn
	defer func() { statFn = prev }()
	statFn = func(string) (os.FileInfo, error) {
		select {}
	}

	start := time.Now()
	_, err := Stat(context.Background(), "/mnt/dead", 25*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Stat() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("Stat() took %s, should bail out quickly", elapsed)
	}

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Stat() error type = %T, want *TimeoutError", err)
	}
	if timeoutErr.Op != "stat" || timeoutErr.Path != "/mnt/dead" {
		t.Fatalf("unexpected timeout details: %+v", timeoutErr)
	}
}

func TestReadDirTimesOutOnHungMount(t *testing.T) {
	prev := readDirFn
	defer func() { readDirFn = prev }()
	readDirFn = func(string) ([]os.DirEntry, error) {
		select {}
	}

	_, err := ReadDir(context.Background(), "/mnt/dead", 25*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadDir() error = %v, want ErrTimeout", err)
	}
}

func TestStatfsTimesOutOnHungMount(t *testing.T) {
	prev := statfsFn
	defer func() { statfsFn = prev }()
	statfsFn = func(string, *syscall.Statfs_t) error {
		select {}
	}

	_, err := Statfs(context.Background(), "/mnt/dead", 25*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Statfs() error = %v, want ErrTimeout", err)
	}
}

func TestStatPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Stat(ctx, "/does/not/matter", 50*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stat() error = %v, want context.Canceled", err)
	}
}

func TestZeroTimeoutRunsUnprotected(t *testing.T) {
	dir := t.TempDir()
	entries, err := ReadDir(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ReadDir() returned %d entries, want 0", len(entries))
	}
}

func TestTimeoutClampedToContextDeadline(t *testing.T) {
	prev := statFn
	defer func() { statFn = prev }()
	statFn = func(string) (os.FileInfo, error) {
		select {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Stat(ctx, "/mnt/dead", time.Hour)
	if err == nil {
		t.Fatal("expected an error")
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("Stat() waited %s, deadline should cap the timeout", elapsed)
	}
}
