package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoRecord is returned when no deployment has been recorded yet.
var ErrNoRecord = errors.New("no deployment record found")

const latestFile = "last-deploy.json"

// Store keeps records under a local directory: the most recent run in
// last-deploy.json plus one timestamped file per run under history/.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = ".slipway"
	}
	return &Store{dir: dir}
}

// Write persists the record as the latest and appends it to history.
func (s *Store) Write(rec *Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal deployment record: %w", err)
	}

	historyDir := filepath.Join(s.dir, "history")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	name := rec.RecordedAt.UTC().Format("20060102T150405Z") + ".json"
	if err := os.WriteFile(filepath.Join(historyDir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write history record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, latestFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write latest record: %w", err)
	}
	return nil
}

// ReadLatest loads the most recent record.
func (s *Store) ReadLatest() (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("failed to read deployment record: %w", err)
	}
	rec, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse deployment record: %w", err)
	}
	return rec, nil
}

// staleLockAge is how old a lock file may get before it is presumed
// abandoned by a crashed run.
const staleLockAge = 10 * time.Minute

// Lock guards against two concurrent runs from the same working
// directory. It is advisory; the engine itself stays safe without it
// because provisioning is idempotent.
type Lock struct {
	path string
}

func (s *Store) Lock() (*Lock, error) {
	lockPath := filepath.Join(s.dir, "deploy.lock")
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		} else {
			return nil, fmt.Errorf("another deployment is in progress (lock file: %s); "+
				"remove it manually if that run crashed", lockPath)
		}
	}

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	return &Lock{path: lockPath}, nil
}

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
