// Package backup manages consistent SQLite backups written with VACUUM INTO
// to a local directory, with retention-based pruning.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Info describes a single backup file.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Backuper produces a consistent database copy at the given path.
type Backuper interface {
	Backup(ctx context.Context, destPath string) error
}

// Runner writes timestamped backups to a directory and prunes old ones.
type Runner struct {
	store     Backuper
	dir       string
	retention int
}

// NewRunner creates a Runner. The directory is created if missing.
func NewRunner(store Backuper, dir string, retention int) (*Runner, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Runner{store: store, dir: dir, retention: retention}, nil
}

// Run writes one backup and prunes beyond the retention count.
func (r *Runner) Run(ctx context.Context) error {
	name := fmt.Sprintf("backup-%s.db", time.Now().UTC().Format("20060102-150405"))
	dest := filepath.Join(r.dir, name)

	// VACUUM INTO refuses to overwrite an existing file.
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target already exists: %s", dest)
	}

	start := time.Now()
	if err := r.store.Backup(ctx, dest); err != nil {
		return fmt.Errorf("backup to %s: %w", dest, err)
	}
	slog.Info("backup completed", "path", dest, "duration", time.Since(start).String())

	deleted, err := Prune(r.dir, r.retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		slog.Info("pruned old backups", "deleted", deleted)
	}
	return nil
}

// List returns backups in the directory, newest first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var backups []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "backup-") || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		backups = append(backups, Info{
			Path:    filepath.Join(dir, e.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime.After(backups[j].ModTime)
	})
	return backups, nil
}

// Prune deletes backups beyond the retention count.
// Returns the number of backups deleted.
func Prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	backups, err := List(dir)
	if err != nil {
		return 0, fmt.Errorf("list backups for pruning: %w", err)
	}
	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			return deleted, fmt.Errorf("delete backup %s: %w", b.Path, err)
		}
		deleted++
	}
	return deleted, nil
}
