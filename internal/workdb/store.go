package workdb

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store stages the AIrsenal working database between its durable location
// and the local path the external process operates on. It performs plain
// file copies; exclusivity is guaranteed by the single-worker queue, not by
// file locking.
type Store struct {
	// PersistentPath is the durable copy, LocalPath the per-run working copy.
	PersistentPath string
	LocalPath      string
}

// Hydrate copies the durable database to the local working path. A missing
// durable copy is not an error; the run starts from a fresh database.
// It reports whether a durable copy was found.
func (s Store) Hydrate() (bool, error) {
	if _, err := os.Stat(s.PersistentPath); err != nil {
		if os.IsNotExist(err) {
			// first run, nothing to stage
			_ = os.Remove(s.LocalPath)
			return false, nil
		}
		return false, fmt.Errorf("stat persistent database: %w", err)
	}

	if err := copyFile(s.PersistentPath, s.LocalPath); err != nil {
		return false, fmt.Errorf("hydrate working database: %w", err)
	}
	return true, nil
}

// Persist copies the local working database back to the durable location,
// atomically via a temp file, fsync and rename. Call only after a successful
// run; a failed run must not overwrite the durable copy.
func (s Store) Persist() error {
	if _, err := os.Stat(s.LocalPath); err != nil {
		if os.IsNotExist(err) {
			// the command produced no database, keep the durable copy
			return nil
		}
		return fmt.Errorf("stat working database: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.PersistentPath), 0o755); err != nil {
		return fmt.Errorf("create durable directory: %w", err)
	}

	tmp := s.PersistentPath + ".tmp"
	if err := copyFile(s.LocalPath, tmp); err != nil {
		return fmt.Errorf("persist working database: %w", err)
	}
	if err := os.Rename(tmp, s.PersistentPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace durable database: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
