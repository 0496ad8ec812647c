package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when another process holds a document's artifact directory.
var ErrBusy = errors.New("artifact directory in use")

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Workspace hands out per-document artifact directories under a root.
type Workspace struct {
	root string
}

// NewWorkspace builds a Workspace rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root}
}

// Dir is one locked artifact directory.
type Dir struct {
	Path string
	lock *flock.Flock
}

// Acquire creates and locks the artifact directory for documentID.
func (w *Workspace) Acquire(documentID string) (*Dir, error) {
	name := unsafeName.ReplaceAllString(documentID, "_")
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid document id %q", documentID)
	}
	path := filepath.Join(w.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	lock := flock.New(filepath.Join(w.root, name+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock artifact dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrBusy)
	}
	return &Dir{Path: path, lock: lock}, nil
}

// Release unlocks the directory and removes the lock file.
func (d *Dir) Release() error {
	if d == nil || d.lock == nil {
		return nil
	}
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock artifact dir: %w", err)
	}
	if err := os.Remove(d.lock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Purge deletes the directory contents. The lock stays held until Release.
func (d *Dir) Purge() error {
	if d == nil {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return fmt.Errorf("purge artifact dir: %w", err)
	}
	return nil
}
