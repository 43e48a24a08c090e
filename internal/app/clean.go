package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Clean deletes all fingerprints and stored results, forcing the next run
// to re-execute everything. The store lock is held so a concurrent run
// cannot observe a half-cleaned store.
func (a *App) Clean(ctx context.Context) error {
	if err := os.MkdirAll(a.opts.StorePath, 0o755); err != nil {
		return fmt.Errorf("failed to open store %s: %w", a.opts.StorePath, err)
	}
	lock := flock.New(filepath.Join(a.opts.StorePath, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock store %s: %w", a.opts.StorePath, err)
	}
	if !locked {
		return fmt.Errorf("store %s is locked by another run", a.opts.StorePath)
	}
	defer lock.Unlock()

	for _, sub := range []string{"fingerprints", "results"} {
		dir := filepath.Join(a.opts.StorePath, sub)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clean %s: %w", dir, err)
		}
	}
	a.logger.Info("Store cleaned.", "store", a.opts.StorePath)
	return nil
}
