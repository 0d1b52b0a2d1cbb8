package fsatomic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/macg4dave/duopane/pkg/fsop"
)

const testBufferSize = 64 * 1024

// writeFixture creates a file with the given content, creating parents as
// needed.
func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create fixture file: %v", err)
	}
}

// listTempArtifacts returns every leftover temporary artifact under dir.
func listTempArtifacts(t *testing.T, dir string) []string {
	t.Helper()
	var leftovers []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), TempPrefix) {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to scan for temp artifacts: %v", err)
	}
	return leftovers
}

// renameFault fails the commit rename of any path matching the predicate.
type renameFault struct {
	match func(src, dst string) bool
	err   error
}

func (f renameFault) BeforeRename(src, dst string) error {
	if f.match(src, dst) {
		return f.err
	}
	return nil
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	writeFixture(t, target, "old content")

	p := New(nil, nil, testBufferSize)
	if err := p.WriteFile(target, []byte("new content")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("failed to read target: %v", err)
	}
	if string(got) != "new content" {
		t.Errorf("target content = %q, want %q", got, "new content")
	}
	if leftovers := listTempArtifacts(t, dir); len(leftovers) != 0 {
		t.Errorf("temp artifacts left behind: %v", leftovers)
	}
}

func TestInterruptedWriteLeavesDestinationUntouched(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	writeFixture(t, target, "old content")

	fault := renameFault{
		match: func(src, dst string) bool { return true },
		err:   errors.New("injected rename failure"),
	}
	p := New(nil, fault, testBufferSize)

	if err := p.WriteFile(target, []byte("new content")); err == nil {
		t.Fatal("WriteFile must fail when the commit rename fails")
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("failed to read target: %v", err)
	}
	if string(got) != "old content" {
		t.Errorf("interrupted write must not touch the destination, got %q", got)
	}
	if leftovers := listTempArtifacts(t, dir); len(leftovers) != 0 {
		t.Errorf("failed write must clean up its artifact, found: %v", leftovers)
	}
}

func TestCopyFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "data.bin")
	dst := filepath.Join(dir, "dst", "data.bin")
	content := strings.Repeat("payload-", 4096)
	writeFixture(t, src, content)

	p := New(nil, nil, testBufferSize)
	written, err := p.CopyFile(src, dst)
	if err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}
	if written != int64(len(content)) {
		t.Errorf("written = %d, want %d", written, len(content))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read destination: %v", err)
	}
	if string(got) != content {
		t.Error("destination content differs from source")
	}
	if leftovers := listTempArtifacts(t, dir); len(leftovers) != 0 {
		t.Errorf("temp artifacts left behind: %v", leftovers)
	}
}

func TestWriteFromStreamsThroughTemp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "streamed.txt")
	payload := bytes.Repeat([]byte("abc"), 10000)

	p := New(nil, nil, testBufferSize)
	written, err := p.WriteFrom(target, bytes.NewReader(payload), 0640)
	if err != nil {
		t.Fatalf("WriteFrom failed: %v", err)
	}
	if written != int64(len(payload)) {
		t.Errorf("written = %d, want %d", written, len(payload))
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("failed to stat target: %v", err)
	}
	// The user-write bit is always forced on.
	if perm := info.Mode().Perm(); perm != 0640 {
		t.Errorf("perm = %o, want 640", perm)
	}
}

func TestCreateFileFailsWhenOccupied(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "taken.txt")
	writeFixture(t, target, "occupied")

	p := New(nil, nil, testBufferSize)
	err := p.CreateFile(target)
	if !errors.Is(err, fsop.ErrAlreadyExists) {
		t.Fatalf("CreateFile on occupied path: err = %v, want ErrAlreadyExists", err)
	}

	got, _ := os.ReadFile(target)
	if string(got) != "occupied" {
		t.Error("failed create must not modify the existing file")
	}
}

func TestCreateDirFailsWhenOccupied(t *testing.T) {
	dir := t.TempDir()
	p := New(nil, nil, testBufferSize)

	target := filepath.Join(dir, "newdir")
	if err := p.CreateDir(target); err != nil {
		t.Fatalf("CreateDir failed: %v", err)
	}
	if err := p.CreateDir(target); !errors.Is(err, fsop.ErrAlreadyExists) {
		t.Fatalf("CreateDir on occupied path: err = %v, want ErrAlreadyExists", err)
	}
}

func TestRenameOrCopyFallsBackToCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a", "rnm_force.txt")
	dst := filepath.Join(dir, "b", "rnm_force.txt")
	writeFixture(t, src, "forced fallback")
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		t.Fatalf("failed to create destination dir: %v", err)
	}

	// Fail only the direct rename, the way a cross-device move would. The
	// commit rename of the fallback copy stays within one directory and
	// must go through.
	fault := renameFault{
		match: func(src, dst string) bool {
			return !strings.HasPrefix(filepath.Base(src), TempPrefix)
		},
		err: errors.New("injected EXDEV"),
	}
	p := New(nil, fault, testBufferSize)

	if err := p.RenameOrCopy(context.Background(), src, dst); err != nil {
		t.Fatalf("RenameOrCopy must fall back on rename failure: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read destination: %v", err)
	}
	if string(got) != "forced fallback" {
		t.Errorf("destination content = %q", got)
	}
	if _, err := os.Lstat(src); !os.IsNotExist(err) {
		t.Error("source must be removed after a successful fallback copy")
	}
	if leftovers := listTempArtifacts(t, dir); len(leftovers) != 0 {
		t.Errorf("temp artifacts left behind: %v", leftovers)
	}
}

func TestConcurrentCopiesLeaveNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	dstDir := filepath.Join(dir, "dst")

	const fileCount = 64
	for i := 0; i < fileCount; i++ {
		writeFixture(t, filepath.Join(srcDir, fmt.Sprintf("file-%02d.txt", i)),
			fmt.Sprintf("content of file %d", i))
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		t.Fatalf("failed to create destination dir: %v", err)
	}

	p := New(nil, nil, testBufferSize)

	var wg sync.WaitGroup
	errCh := make(chan error, fileCount)
	for i := 0; i < fileCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("file-%02d.txt", i)
			if _, err := p.CopyFile(filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent copy failed: %v", err)
	}

	for i := 0; i < fileCount; i++ {
		name := fmt.Sprintf("file-%02d.txt", i)
		got, err := os.ReadFile(filepath.Join(dstDir, name))
		if err != nil {
			t.Fatalf("missing destination file %s: %v", name, err)
		}
		if want := fmt.Sprintf("content of file %d", i); string(got) != want {
			t.Errorf("%s: content = %q, want %q", name, got, want)
		}
	}
	if leftovers := listTempArtifacts(t, dir); len(leftovers) != 0 {
		t.Errorf("temp artifacts left behind: %v", leftovers)
	}
}
