package fsmeta

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFixture(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("failed to create fixture file: %v", err)
	}
	// umask may have stripped bits; force the exact mode.
	if err := os.Chmod(path, perm); err != nil {
		t.Fatalf("failed to chmod fixture file: %v", err)
	}
}

func TestPreserveFileCriticalMetadata(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	writeFixture(t, src, "source", 0604)
	writeFixture(t, dst, "destination", 0600)

	past := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(src, past, past); err != nil {
		t.Fatalf("failed to set source times: %v", err)
	}

	p := New(1)
	if err := p.PreserveFile(src, dst); err != nil {
		t.Fatalf("PreserveFile failed: %v", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("failed to stat destination: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0604 {
		t.Errorf("perm = %o, want 604", perm)
	}
	if delta := info.ModTime().Sub(past); delta < -2*time.Second || delta > 2*time.Second {
		t.Errorf("modtime differs by %v, want within 2s", delta)
	}
}

func TestPreserveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst.txt")
	writeFixture(t, dst, "destination", 0644)

	p := New(1)
	if err := p.PreserveFile(filepath.Join(dir, "gone.txt"), dst); err == nil {
		t.Fatal("PreserveFile must fail when the source is missing")
	}
}

func TestPreserveEntrySkipsMissingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	writeFixture(t, src, "source", 0644)

	// Must not panic or log an error-level event; the destination may have
	// been replaced by a concurrent worker.
	p := New(1)
	p.PreserveEntry(src, filepath.Join(dir, "missing.txt"))
}

func TestPreserveTreeAppliesToNestedEntries(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "src")
	dstRoot := filepath.Join(dir, "dst")

	writeFixture(t, filepath.Join(srcRoot, "a", "deep", "file.txt"), "x", 0640)
	writeFixture(t, filepath.Join(dstRoot, "a", "deep", "file.txt"), "x", 0600)

	past := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(filepath.Join(srcRoot, "a", "deep", "file.txt"), past, past); err != nil {
		t.Fatalf("failed to set source times: %v", err)
	}

	p := New(4)
	if err := p.PreserveTree(context.Background(), srcRoot, dstRoot); err != nil {
		t.Fatalf("PreserveTree failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dstRoot, "a", "deep", "file.txt"))
	if err != nil {
		t.Fatalf("failed to stat destination file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0640 {
		t.Errorf("perm = %o, want 640", perm)
	}
	if delta := info.ModTime().Sub(past); delta < -2*time.Second || delta > 2*time.Second {
		t.Errorf("modtime differs by %v, want within 2s", delta)
	}
}

func TestPreserveTreeToleratesSparseDestination(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "src")
	dstRoot := filepath.Join(dir, "dst")

	writeFixture(t, filepath.Join(srcRoot, "kept.txt"), "x", 0644)
	writeFixture(t, filepath.Join(srcRoot, "skipped.txt"), "x", 0644)
	writeFixture(t, filepath.Join(dstRoot, "kept.txt"), "x", 0644)
	// skipped.txt deliberately absent on the destination side.

	p := New(2)
	if err := p.PreserveTree(context.Background(), srcRoot, dstRoot); err != nil {
		t.Fatalf("PreserveTree must tolerate missing destination entries: %v", err)
	}
}

func TestPreserveTreeHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "src")
	writeFixture(t, filepath.Join(srcRoot, "file.txt"), "x", 0644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(1)
	if err := p.PreserveTree(ctx, srcRoot, srcRoot); err == nil {
		t.Fatal("PreserveTree must report a cancelled context")
	}
}
