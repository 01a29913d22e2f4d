package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor("/tmp", 1024*1024*1024)
	if got := sm.GetLimit(); got != 1024*1024*1024 {
		t.Errorf("GetLimit() = %d, want %d", got, 1024*1024*1024)
	}
}

func TestStorageMonitor_GetUsage(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir, 1024*1024*1024)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if usage < 9 {
		t.Errorf("GetUsage() = %d, want at least 9", usage)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(tmpDir, 1024*1024*1024)

	usage1, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	usage2, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if usage1 != usage2 {
		t.Errorf("Cached values differ: %d != %d", usage1, usage2)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345", 1024*1024*1024)
	_, err := sm.GetUsage()
	if err == nil {
		t.Error("GetUsage() should return error for nonexistent directory")
	}
}

func TestStorageMonitor_Usage(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "window.csv"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	usage, err := NewStorageMonitor(tmpDir, 1).Usage()
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if !usage.Exceeded {
		t.Errorf("Usage() = %+v, want exceeded", usage)
	}

	usage, err = NewStorageMonitor(filepath.Join(tmpDir, "missing"), 1024).Usage()
	if err != nil {
		t.Fatalf("Usage() on missing dir error = %v", err)
	}
	if usage.UsedBytes != 0 || usage.Exceeded {
		t.Errorf("Usage() on missing dir = %+v, want zero", usage)
	}
}

func TestStorageMonitor_CheckLimit(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "window.csv"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if err := NewStorageMonitor(tmpDir, 1).CheckLimit(); !errors.Is(err, ErrStorageLimitExceeded) {
		t.Errorf("CheckLimit() = %v, want ErrStorageLimitExceeded", err)
	}
	if err := NewStorageMonitor(tmpDir, 1<<30).CheckLimit(); err != nil {
		t.Errorf("CheckLimit() under limit = %v", err)
	}
	if err := NewStorageMonitor(tmpDir, 0).CheckLimit(); err != nil {
		t.Errorf("CheckLimit() with no limit = %v", err)
	}
}
