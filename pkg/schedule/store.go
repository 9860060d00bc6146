package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/dotsetgreg/recite/pkg/logger"
)

// Store is a durable, crash-safe collection of MemoryStates keyed by
// concept ID. Commits go through a temp-write + atomic-rename so a
// crash mid-write never leaves a half-written file visible, and a
// flock-based advisory lock guards load/commit pairs against two
// processes grading at once.
type Store struct {
	path      string
	backupDir string
	retain    int
	lock      *flock.Flock
	closed    bool
}

// Open prepares a store at path with backups under backupDir, keeping
// the most recent retain backups. The schedule file itself is created
// lazily on first commit.
func Open(path, backupDir string, retain int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create schedule dir: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Store{
		path:      path,
		backupDir: backupDir,
		retain:    retain,
		lock:      flock.New(path + ".lock"),
	}, nil
}

// Close releases the advisory lock if held.
func (s *Store) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}

// Acquire takes the advisory lock. Returns ErrLocked without blocking
// when another process holds it; callers may retry.
func (s *Store) Acquire() error {
	if s.closed {
		return ErrStoreClosed
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire schedule lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Release drops the advisory lock.
func (s *Store) Release() error {
	if s.closed {
		return nil
	}
	return s.lock.Unlock()
}

// Load reads the persisted collection. A missing file yields an empty
// collection. A file that fails to parse triggers recovery from the
// most recent readable backup, with a logged warning; when no backup
// can be read either, Load fails with ErrStoreCorrupted.
func (s *Store) Load() (map[string]MemoryState, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]MemoryState{}, nil
		}
		return nil, fmt.Errorf("read schedule: %w", err)
	}

	states, err := decodeScheduleFile(data)
	if err == nil {
		return states, nil
	}
	logger.WarnCF("schedule", "Schedule file unreadable, attempting backup recovery", map[string]any{
		"path":  s.path,
		"error": err.Error(),
	})
	return s.recoverFromBackups(err)
}

func decodeScheduleFile(data []byte) (map[string]MemoryState, error) {
	var file scheduleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadSchema, file.SchemaVersion)
	}
	if file.Concepts == nil {
		file.Concepts = map[string]MemoryState{}
	}
	return file.Concepts, nil
}

func (s *Store) recoverFromBackups(cause error) (map[string]MemoryState, error) {
	backups, err := s.listBackups()
	if err != nil {
		return nil, fmt.Errorf("%w: %v (backup listing failed: %v)", ErrStoreCorrupted, cause, err)
	}
	// Newest first.
	for i := len(backups) - 1; i >= 0; i-- {
		data, err := os.ReadFile(backups[i])
		if err != nil {
			continue
		}
		states, err := decodeScheduleFile(data)
		if err != nil {
			continue
		}
		logger.WarnCF("schedule", "Recovered schedule from backup", map[string]any{
			"backup":   backups[i],
			"concepts": len(states),
		})
		// Replace the corrupt file right away; otherwise every Load
		// until the next grade re-runs recovery.
		if err := s.Commit(states); err != nil {
			logger.WarnCF("schedule", "Failed to persist recovered schedule", map[string]any{
				"error": err.Error(),
			})
		}
		return states, nil
	}
	return nil, fmt.Errorf("%w: %v (no readable backup)", ErrStoreCorrupted, cause)
}

// Commit atomically replaces the persisted collection: the new file is
// written beside the old one and swapped in with a single rename, so
// readers see either the previous state or the full new one.
func (s *Store) Commit(states map[string]MemoryState) error {
	if s.closed {
		return ErrStoreClosed
	}
	file := scheduleFile{
		SchemaVersion: schemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Concepts:      states,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".schedule-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp schedule: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp schedule: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp schedule: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp schedule: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("swap schedule: %w", err)
	}
	return nil
}

// Backup copies the current schedule file to a timestamped file under
// the backup directory and prunes backups beyond the retention count.
// Returns the backup path, or "" when there is nothing to back up yet.
func (s *Store) Backup() (string, error) {
	if s.closed {
		return "", ErrStoreClosed
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read schedule for backup: %w", err)
	}

	// Zero-padded UTC stamp keeps lexicographic order chronological.
	stamp := time.Now().UTC().Format("20060102T150405.000")
	dest, err := writeBackup(s.backupDir, stamp, data)
	if err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	if err := s.pruneBackups(); err != nil {
		logger.WarnCF("schedule", "Backup pruning failed", map[string]any{"error": err.Error()})
	}
	return dest, nil
}

// writeBackup creates the backup file exclusively so two backups taken
// within the same millisecond never overwrite each other; later calls
// get a numeric suffix, which still sorts after the unsuffixed name.
func writeBackup(dir, stamp string, data []byte) (string, error) {
	for i := 0; ; i++ {
		name := fmt.Sprintf("schedule-%s.json", stamp)
		if i > 0 {
			name = fmt.Sprintf("schedule-%s_%d.json", stamp, i)
		}
		dest := filepath.Join(dir, name)
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(dest)
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return dest, nil
	}
}

func (s *Store) listBackups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "schedule-") && strings.HasSuffix(e.Name(), ".json") {
			backups = append(backups, filepath.Join(s.backupDir, e.Name()))
		}
	}
	sort.Strings(backups) // oldest first
	return backups, nil
}

func (s *Store) pruneBackups() error {
	backups, err := s.listBackups()
	if err != nil {
		return err
	}
	for len(backups) > s.retain {
		if err := os.Remove(backups[0]); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
