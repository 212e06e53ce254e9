// Package workdir provides the scoped temporary directory each operation
// uses as scratch space, and the Signal Guard that keeps an interrupt from
// tearing down the process mid-cleanup (§4.6).
package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WorktreePruner is the external revision-control collaborator invoked on
// close when autoprune is enabled. It is out of scope for the core; callers
// wire in whatever actually shells out to prune stale worktrees.
type WorktreePruner interface {
	PruneWorktrees() error
}

// Dir is a scoped temporary directory, recursively removed on Close. Close
// is idempotent and safe to call more than once (e.g. from both a deferred
// cleanup and an explicit call on the success path).
type Dir struct {
	path      string
	autoprune bool
	pruner    WorktreePruner

	closed bool
}

// New creates a fresh temporary directory under root ("" uses the OS
// default). pruner may be nil even when autoprune is true; in that case
// autoprune is a no-op rather than an error.
func New(root string, autoprune bool, pruner WorktreePruner) (*Dir, error) {
	path, err := os.MkdirTemp(root, "nixos-ship-*")
	if err != nil {
		return nil, fmt.Errorf("workdir: creating temporary directory: %w", err)
	}

	return &Dir{path: path, autoprune: autoprune, pruner: pruner}, nil
}

// Path returns the directory's root.
func (d *Dir) Path() string { return d.path }

// Join is a convenience for building a path inside the workdir.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Close masks SIGINT, recursively removes the directory, optionally prunes
// stale worktrees, then restores the previous interrupt disposition. A
// removal error or a pruning error is returned; when both fail, the two
// errors are returned joined.
func (d *Dir) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true

	guard := holdSignalGuard()
	defer guard.release()

	removeErr := os.RemoveAll(d.path)

	if d.autoprune && d.pruner != nil {
		if pruneErr := d.pruner.PruneWorktrees(); pruneErr != nil {
			if removeErr != nil {
				return errors.Join(
					fmt.Errorf("workdir: removing %s: %w", d.path, removeErr),
					fmt.Errorf("workdir: pruning worktrees: %w", pruneErr),
				)
			}

			return fmt.Errorf("workdir: pruning worktrees: %w", pruneErr)
		}
	}

	if removeErr != nil {
		return fmt.Errorf("workdir: removing %s: %w", d.path, removeErr)
	}

	return nil
}
