package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/recite/pkg/fsrs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "schedule.json"), filepath.Join(dir, "backups"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleStates(now time.Time) map[string]MemoryState {
	reviewed := now.Add(-48 * time.Hour)
	return map[string]MemoryState{
		"math/derivatives": {
			ConceptID:      "math/derivatives",
			Difficulty:     5.2,
			Stability:      3.7,
			DueAt:          now.Add(24 * time.Hour),
			LastReviewedAt: &reviewed,
			ReviewCount:    4,
			LapseCount:     1,
			State:          fsrs.Review,
		},
		"go/interfaces": {
			ConceptID:  "go/interfaces",
			Difficulty: 4.0,
			Stability:  0.5,
			DueAt:      now.Add(-time.Hour),
			State:      fsrs.New,
		},
	}
}

func TestLoadEmptyStore(t *testing.T) {
	s := newTestStore(t)
	states, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, states)
}

func TestCommitLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	want := sampleStates(now)

	require.NoError(t, s.Commit(want))
	got, err := s.Load()
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for id, w := range want {
		g, ok := got[id]
		require.True(t, ok, "missing %s", id)
		require.Equal(t, w.Difficulty, g.Difficulty)
		require.Equal(t, w.Stability, g.Stability)
		require.True(t, w.DueAt.Equal(g.DueAt))
		require.Equal(t, w.ReviewCount, g.ReviewCount)
		require.Equal(t, w.LapseCount, g.LapseCount)
		require.Equal(t, w.State, g.State)
		if w.LastReviewedAt == nil {
			require.Nil(t, g.LastReviewedAt)
		} else {
			require.True(t, w.LastReviewedAt.Equal(*g.LastReviewedAt))
		}
	}
}

func TestCommitLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Commit(sampleStates(time.Now())))

	entries, err := os.ReadDir(filepath.Dir(s.path))
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}
}

func TestCorruptionRecoversFromBackup(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Commit(sampleStates(now)))

	backup, err := s.Backup()
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	// Clobber the live file.
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	states, err := s.Load()
	require.NoError(t, err)
	require.Len(t, states, 2)
}

func TestCorruptionRecoveryRewritesScheduleFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Commit(sampleStates(time.Now().UTC())))
	_, err := s.Backup()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	states, err := s.Load()
	require.NoError(t, err)
	require.Len(t, states, 2)

	// Recovery replaces the corrupt file, so the on-disk bytes decode
	// directly and later loads never touch the backups again.
	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	decoded, err := decodeScheduleFile(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
}

func TestCorruptionWithoutBackupFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	_, err := s.Load()
	require.ErrorIs(t, err, ErrStoreCorrupted)
}

func TestUnknownSchemaVersionRejected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte(`{"schema_version":99,"concepts":{}}`), 0o644))

	_, err := s.Load()
	require.ErrorIs(t, err, ErrStoreCorrupted)
}

func TestBackupRotation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Commit(sampleStates(time.Now())))

	for i := 0; i < 5; i++ {
		_, err := s.Backup()
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	backups, err := s.listBackups()
	require.NoError(t, err)
	require.Len(t, backups, 3, "retention count is 3")
}

func TestBackupSameStampKeepsBothFiles(t *testing.T) {
	dir := t.TempDir()
	first, err := writeBackup(dir, "20260301T090000.000", []byte("one"))
	require.NoError(t, err)
	second, err := writeBackup(dir, "20260301T090000.000", []byte("two"))
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Greater(t, second, first, "suffixed name must sort after the original")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Equal(t, "one", string(a))
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.Equal(t, "two", string(b))
}

func TestBackupWithoutScheduleIsNoop(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Backup()
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.json")
	a, err := Open(path, filepath.Join(dir, "backups"), 3)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, filepath.Join(dir, "backups"), 3)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Acquire())
	require.ErrorIs(t, b.Acquire(), ErrLocked)

	require.NoError(t, a.Release())
	require.NoError(t, b.Acquire())
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Load()
	require.ErrorIs(t, err, ErrStoreClosed)
	require.ErrorIs(t, s.Commit(nil), ErrStoreClosed)
	require.ErrorIs(t, s.Acquire(), ErrStoreClosed)
}
