package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/macg4dave/duopane/pkg/fsatomic"
	"github.com/macg4dave/duopane/pkg/fsmeta"
)

func newTestArchiver(t *testing.T) *Archiver {
	t.Helper()
	prims := fsatomic.New(fsmeta.New(2), nil, 64*1024)
	return New(prims, TarGz, Default, 2, 64*1024, 1<<20, nil)
}

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create fixture file: %v", err)
	}
}

func buildPackSources(t *testing.T, root string) []string {
	t.Helper()
	writeFixture(t, filepath.Join(root, "loose.txt"), "loose file")
	writeFixture(t, filepath.Join(root, "tree", "a.txt"), "content a")
	writeFixture(t, filepath.Join(root, "tree", "sub", "b.txt"), "content b")
	return []string{
		filepath.Join(root, "loose.txt"),
		filepath.Join(root, "tree"),
	}
}

func TestPackExtractRoundTrip(t *testing.T) {
	for _, ext := range []string{".tar.gz", ".tar.zst"} {
		t.Run(ext, func(t *testing.T) {
			dir := t.TempDir()
			sources := buildPackSources(t, filepath.Join(dir, "src"))
			archivePath := filepath.Join(dir, "out"+ext)
			destDir := filepath.Join(dir, "unpacked")

			a := newTestArchiver(t)
			if err := a.Pack(context.Background(), sources, archivePath); err != nil {
				t.Fatalf("Pack failed: %v", err)
			}
			if err := a.Extract(context.Background(), archivePath, destDir); err != nil {
				t.Fatalf("Extract failed: %v", err)
			}

			for rel, want := range map[string]string{
				"loose.txt":      "loose file",
				"tree/a.txt":     "content a",
				"tree/sub/b.txt": "content b",
			} {
				got, err := os.ReadFile(filepath.Join(destDir, filepath.FromSlash(rel)))
				if err != nil {
					t.Fatalf("missing extracted file %s: %v", rel, err)
				}
				if string(got) != want {
					t.Errorf("%s: content = %q, want %q", rel, got, want)
				}
			}
		})
	}
}

func TestPackDefaultFormatWhenExtensionMissing(t *testing.T) {
	for _, format := range []Format{TarGz, TarZst} {
		t.Run(format.String(), func(t *testing.T) {
			dir := t.TempDir()
			sources := buildPackSources(t, filepath.Join(dir, "src"))
			prims := fsatomic.New(fsmeta.New(2), nil, 64*1024)
			a := New(prims, format, Default, 2, 64*1024, 1<<20, nil)

			if err := a.Pack(context.Background(), sources, filepath.Join(dir, "bundle")); err != nil {
				t.Fatalf("Pack failed: %v", err)
			}

			archivePath := filepath.Join(dir, "bundle"+format.Ext())
			if _, err := os.Lstat(archivePath); err != nil {
				t.Fatalf("archive missing its canonical extension: %v", err)
			}

			destDir := filepath.Join(dir, "unpacked")
			if err := a.Extract(context.Background(), archivePath, destDir); err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if _, err := os.Lstat(filepath.Join(destDir, "tree", "sub", "b.txt")); err != nil {
				t.Errorf("extracted content incomplete: %v", err)
			}
		})
	}
}

func TestExtractRestoresReadOnlyMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "frozen.txt")
	writeFixture(t, src, "immutable")
	if err := os.Chmod(src, 0444); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(dir, "out.tar.gz")
	destDir := filepath.Join(dir, "unpacked")

	a := newTestArchiver(t)
	if err := a.Pack(context.Background(), []string{src}, archivePath); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if err := a.Extract(context.Background(), archivePath, destDir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(destDir, "frozen.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0444 {
		t.Errorf("extracted perm = %o, want 444", perm)
	}
}

func TestPackLeavesNoTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.tar.gz")

	a := newTestArchiver(t)
	err := a.Pack(context.Background(), []string{filepath.Join(dir, "does-not-exist")}, archivePath)
	if err == nil {
		t.Fatal("Pack with a missing source must fail")
	}

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), fsatomic.TempPrefix) {
			t.Errorf("temp artifact left behind: %s", e.Name())
		}
	}
	if _, err := os.Lstat(archivePath); !os.IsNotExist(err) {
		t.Error("failed pack must not produce the final archive")
	}
}

func TestExtractRefusesPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar.gz")

	// Craft an archive with an escaping entry by hand.
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	payload := []byte("escaped")
	if err := tw.WriteHeader(&tar.Header{
		Name: "../escaped.txt",
		Mode: 0644,
		Size: int64(len(payload)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(dir, "sandbox")
	a := newTestArchiver(t)
	if err := a.Extract(context.Background(), archivePath, destDir); err == nil {
		t.Fatal("Extract must reject entries that escape the destination")
	}
	if _, err := os.Lstat(filepath.Join(dir, "escaped.txt")); !os.IsNotExist(err) {
		t.Error("escaping entry was written outside the destination")
	}
}

func TestExtractPreservesEntryMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "script.sh")
	writeFixture(t, src, "#!/bin/sh\n")
	if err := os.Chmod(src, 0755); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(dir, "out.tar.gz")
	destDir := filepath.Join(dir, "unpacked")

	a := newTestArchiver(t)
	if err := a.Pack(context.Background(), []string{src}, archivePath); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if err := a.Extract(context.Background(), archivePath, destDir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(destDir, "script.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0755 {
		t.Errorf("extracted perm = %o, want 755", perm)
	}
}

func TestFormatForPath(t *testing.T) {
	cases := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"backup.tar.gz", TarGz, false},
		{"backup.tgz", TarGz, false},
		{"backup.tar.zst", TarZst, false},
		{"backup.TAR.ZST", TarZst, false},
		{"backup.zip", TarGz, true},
	}
	for _, c := range cases {
		got, err := FormatForPath(c.path)
		if c.wantErr {
			if err == nil {
				t.Errorf("FormatForPath(%q) must fail", c.path)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("FormatForPath(%q) = %v, %v; want %v", c.path, got, err, c.want)
		}
	}
}

func TestExtractCancelledEarly(t *testing.T) {
	dir := t.TempDir()
	sources := buildPackSources(t, filepath.Join(dir, "src"))
	archivePath := filepath.Join(dir, "out.tar.gz")

	a := newTestArchiver(t)
	if err := a.Pack(context.Background(), sources, archivePath); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Extract(ctx, archivePath, filepath.Join(dir, "unpacked")); err == nil {
		t.Fatal("Extract must stop on a cancelled context")
	}
}
