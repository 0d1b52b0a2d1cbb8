// Package panel maintains the entry listing behind one file pane. Listings
// are rebuilt wholesale on refresh; there is no incremental patching, so a
// listing can never drift from the directory it shows.
package panel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/macg4dave/duopane/pkg/plog"
)

// Kind classifies a listing entry.
type Kind int

const (
	// KindHeader is the synthetic first row naming the directory itself.
	KindHeader Kind = iota
	// KindParent is the synthetic ".." row, present except at the root.
	KindParent
	KindDir
	KindFile
)

// Entry is one row of a panel listing. ModTime is the zero time when the
// entry's metadata could not be read; the row still shows.
type Entry struct {
	Name    string
	Path    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// List builds the full listing for dir: the header row, the parent row when
// dir has a parent, then directories and files sorted by name within their
// group. Symlinks are classified by what they point at; dangling links list
// as files.
func List(dir string) ([]Entry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("could not resolve panel directory %s: %w", dir, err)
	}

	entries := []Entry{{Name: abs, Path: abs, Kind: KindHeader}}
	if parent := filepath.Dir(abs); parent != abs {
		entries = append(entries, Entry{Name: "..", Path: parent, Kind: KindParent})
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("could not read panel directory %s: %w", abs, err)
	}

	var dirs, files []Entry
	for _, d := range dirents {
		e := Entry{
			Name: d.Name(),
			Path: filepath.Join(abs, d.Name()),
			Kind: KindFile,
		}

		isDir := d.IsDir()
		if d.Type()&os.ModeSymlink != 0 {
			if target, statErr := os.Stat(e.Path); statErr == nil {
				isDir = target.IsDir()
			}
		}
		if isDir {
			e.Kind = KindDir
		}

		if info, infoErr := d.Info(); infoErr == nil {
			e.ModTime = info.ModTime()
			if e.Kind == KindFile {
				e.Size = info.Size()
			}
		} else {
			plog.Debug("Listing entry without metadata", "path", e.Path, "error", infoErr)
		}

		if e.Kind == KindDir {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	entries = append(entries, dirs...)
	entries = append(entries, files...)
	return entries, nil
}

// Panel is one pane: a working directory, its listing and a selection
// cursor. Safe for concurrent use; refreshes of the same directory are
// deduplicated so a burst of change notifications costs one ReadDir.
type Panel struct {
	mu       sync.Mutex
	cwd      string
	entries  []Entry
	selected int

	sf singleflight.Group
}

// New creates a panel rooted at dir and loads its first listing.
func New(dir string) (*Panel, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("could not resolve panel directory %s: %w", dir, err)
	}
	p := &Panel{cwd: abs}
	if err := p.Refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// Cwd returns the panel's current directory.
func (p *Panel) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// Entries returns a copy of the current listing.
func (p *Panel) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Refresh rebuilds the listing from disk. Concurrent refreshes of the same
// directory collapse into one; all callers get the same result.
func (p *Panel) Refresh() error {
	p.mu.Lock()
	cwd := p.cwd
	p.mu.Unlock()

	listing, err, _ := p.sf.Do(cwd, func() (interface{}, error) {
		return List(cwd)
	})
	if err != nil {
		return err
	}
	entries := listing.([]Entry)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cwd != cwd {
		// The panel navigated away while we listed; drop the stale result.
		return nil
	}
	p.entries = entries
	p.clampSelectionLocked()
	return nil
}

// SetCwd navigates the panel to dir and reloads the listing. The selection
// resets to the top.
func (p *Panel) SetCwd(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("could not resolve panel directory %s: %w", dir, err)
	}

	p.mu.Lock()
	p.cwd = abs
	p.selected = 0
	p.mu.Unlock()

	return p.Refresh()
}

// Selected returns the cursor index.
func (p *Panel) Selected() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// SelectedEntry returns the entry under the cursor, if any.
func (p *Panel) SelectedEntry() (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected < 0 || p.selected >= len(p.entries) {
		return Entry{}, false
	}
	return p.entries[p.selected], true
}

// MoveSelection shifts the cursor by delta, clamped to the listing bounds.
func (p *Panel) MoveSelection(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected += delta
	p.clampSelectionLocked()
}

func (p *Panel) clampSelectionLocked() {
	if p.selected >= len(p.entries) {
		p.selected = len(p.entries) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}
}
