package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/webpage2pdf/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain pdf", "example_com_1700000000.pdf", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"parent", "..", false},
		{"traversal", "../etc/passwd", false},
		{"embedded parent", "a..b", false},
		{"forward slash", "a/b.pdf", false},
		{"backslash", `a\b.pdf`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidName(tt.in))
		})
	}
}

func TestStore_WriteOpenRemove(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Write("doc.pdf", []byte("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "doc.pdf"), path)
	assert.True(t, s.Exists("doc.pdf"))

	f, err := s.Open("doc.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	require.NoError(t, s.Remove("doc.pdf"))
	assert.False(t, s.Exists("doc.pdf"))

	// Removing twice is fine
	require.NoError(t, s.Remove("doc.pdf"))
}

func TestStore_WriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("a.pdf", []byte("a"))
	require.NoError(t, err)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Name())
}

func TestStore_OpenMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Open("missing.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("../escape.pdf", []byte("x"))
	assert.True(t, errors.Is(err, ErrInvalidName))

	_, err = s.Open("../escape.pdf")
	assert.True(t, errors.Is(err, ErrInvalidName))

	assert.False(t, s.Exists("../escape.pdf"))
}

func TestStore_Older(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("old.pdf", []byte("old"))
	require.NoError(t, err)
	_, err = s.Write("new.pdf", []byte("new"))
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "old.pdf"), past, past))

	names, err := s.Older(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old.pdf"}, names)
}

func TestReaper_RunsAfterDelay(t *testing.T) {
	r := NewReaper(logger.Discard())
	var ran atomic.Int32

	r.Schedule("k", 10*time.Millisecond, func() error {
		ran.Add(1)
		return nil
	})
	assert.True(t, r.Pending("k"))

	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Pending("k"))
}

func TestReaper_CancelPreventsRun(t *testing.T) {
	r := NewReaper(logger.Discard())
	var ran atomic.Int32

	r.Schedule("k", 20*time.Millisecond, func() error {
		ran.Add(1)
		return nil
	})
	assert.True(t, r.Cancel("k"))
	assert.False(t, r.Cancel("k"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestReaper_RescheduleReplaces(t *testing.T) {
	r := NewReaper(logger.Discard())
	var first, second atomic.Int32

	r.Schedule("k", 20*time.Millisecond, func() error {
		first.Add(1)
		return nil
	})
	r.Schedule("k", 30*time.Millisecond, func() error {
		second.Add(1)
		return nil
	})

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestReaper_FlushRunsPending(t *testing.T) {
	r := NewReaper(logger.Discard())
	var ran atomic.Int32

	r.Schedule("a", time.Hour, func() error {
		ran.Add(1)
		return nil
	})
	r.Schedule("b", time.Hour, func() error {
		ran.Add(1)
		return errors.New("already gone")
	})

	r.Flush()
	assert.Equal(t, int32(2), ran.Load())

	// Nothing is accepted after a flush
	r.Schedule("c", time.Millisecond, func() error {
		ran.Add(1)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), ran.Load())
}

func TestJanitor_Sweep(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("stale.pdf", []byte("x"))
	require.NoError(t, err)
	_, err = s.Write("fresh.pdf", []byte("y"))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.Root(), "stale.pdf"), past, past))

	var removed []string
	j := NewJanitor(s, time.Hour, func(name string) { removed = append(removed, name) }, logger.Discard())

	assert.Equal(t, 1, j.Sweep(time.Now()))
	assert.Equal(t, []string{"stale.pdf"}, removed)
	assert.False(t, s.Exists("stale.pdf"))
	assert.True(t, s.Exists("fresh.pdf"))
}

func TestJanitor_DisabledWithZeroRetention(t *testing.T) {
	j := NewJanitor(newTestStore(t), 0, nil, logger.Discard())
	require.NoError(t, j.Start("@every 1h"))
	j.Stop()
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	j := NewJanitor(newTestStore(t), time.Hour, nil, logger.Discard())
	assert.Error(t, j.Start("not a schedule"))
}
