package panel

import (
	"os"
	"path/filepath"
	"testing"
)

func buildListingDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"zeta.txt", "alpha.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"music", "docs"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestListOrderAndSyntheticRows(t *testing.T) {
	dir := buildListingDir(t)

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	wantKinds := []Kind{KindHeader, KindParent, KindDir, KindDir, KindFile, KindFile}
	wantNames := []string{dir, "..", "docs", "music", "alpha.txt", "zeta.txt"}
	if len(entries) != len(wantKinds) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(wantKinds), entries)
	}
	for i := range entries {
		if entries[i].Kind != wantKinds[i] || entries[i].Name != wantNames[i] {
			t.Errorf("entry %d = {%q, kind %d}, want {%q, kind %d}",
				i, entries[i].Name, entries[i].Kind, wantNames[i], wantKinds[i])
		}
	}
}

func TestListClassifiesSymlinkByTarget(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "real"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, e := range entries {
		if e.Name == "link" && e.Kind != KindDir {
			t.Errorf("symlink to directory listed as kind %d, want KindDir", e.Kind)
		}
	}
}

func TestPanelRefreshRebuildsWholesale(t *testing.T) {
	dir := buildListingDir(t)
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	before := len(p.Entries())

	if err := os.WriteFile(filepath.Join(dir, "added.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "zeta.txt")); err != nil {
		t.Fatal(err)
	}
	if err := p.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	after := p.Entries()
	if len(after) != before {
		t.Errorf("listing length = %d, want %d (one added, one removed)", len(after), before)
	}
	names := make(map[string]bool, len(after))
	for _, e := range after {
		names[e.Name] = true
	}
	if !names["added.txt"] || names["zeta.txt"] {
		t.Errorf("refresh did not rebuild the listing: %v", names)
	}
}

func TestSelectionClampsOnShrink(t *testing.T) {
	dir := buildListingDir(t)
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	p.MoveSelection(100)
	if p.Selected() != len(p.Entries())-1 {
		t.Fatalf("selection not clamped to last entry: %d", p.Selected())
	}

	for _, name := range []string{"zeta.txt", "alpha.txt"} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if p.Selected() >= len(p.Entries()) {
		t.Errorf("selection %d outside listing of %d entries", p.Selected(), len(p.Entries()))
	}
	if _, ok := p.SelectedEntry(); !ok {
		t.Error("SelectedEntry must still resolve after shrink")
	}
}

func TestSetCwdNavigates(t *testing.T) {
	dir := buildListingDir(t)
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sub := filepath.Join(dir, "docs")
	if err := p.SetCwd(sub); err != nil {
		t.Fatalf("SetCwd failed: %v", err)
	}
	if p.Cwd() != sub {
		t.Errorf("Cwd = %q, want %q", p.Cwd(), sub)
	}
	if p.Selected() != 0 {
		t.Errorf("selection must reset on navigation, got %d", p.Selected())
	}
}
