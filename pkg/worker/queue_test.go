package worker

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
}

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restore.queue")
	q, err := NewQueue(path)
	require.NoError(t, err)
	return q, path
}

func TestQueue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)

	require.NoError(t, q.Queue("ds/a.txt", false))
	require.NoError(t, q.Queue("ds/b.txt", true))

	first, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "ds/a.txt", first.ID)
	assert.False(t, first.Recache)

	second, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "ds/b.txt", second.ID)
	assert.True(t, second.Recache)

	_, err = q.Pop()
	assert.ErrorIs(t, err, types.ErrQueueEmpty)
}

func TestQueue_VersionSplitsIntoOwnField(t *testing.T) {
	q, _ := newTestQueue(t)

	require.NoError(t, q.Queue("mds2-2119/trial1.json#1.0.2", false))
	entry, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "mds2-2119/trial1.json", entry.ID)
	assert.Equal(t, "1.0.2", entry.Version)
}

func TestQueue_PersistsAcrossReopen(t *testing.T) {
	q, path := newTestQueue(t)

	require.NoError(t, q.Queue("ds/x", false))
	require.NoError(t, q.Queue("ds/y", false))
	require.NoError(t, q.Queue("ds/z", false))

	// the in-process item is dropped at pop time: a crash after the
	// pop leaves only the remaining work
	popped, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "ds/x", popped.ID)

	reopened, err := NewQueue(path)
	require.NoError(t, err)
	entries, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ds/y", entries[0].ID)
	assert.Equal(t, "ds/z", entries[1].ID)
}

func TestQueue_SaveLoadIdentity(t *testing.T) {
	q, _ := newTestQueue(t)

	in := []types.QueueEntry{
		{ID: "ds1", Recache: false},
		{ID: "ds2/f.txt", Recache: true, Version: "2"},
		{ID: "ds3/deep/path.dat", Recache: false, Version: "1.0.0"},
	}
	for _, e := range in {
		require.NoError(t, q.Queue(entryID(e), e.Recache))
	}

	out, err := q.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestQueue_IsQueuedAndHasPending(t *testing.T) {
	q, _ := newTestQueue(t)

	pending, err := q.HasPending()
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, q.Queue("ds/f.txt#3", false))

	queued, err := q.IsQueued("ds/f.txt#3")
	require.NoError(t, err)
	assert.True(t, queued)

	queued, err = q.IsQueued("ds/f.txt")
	require.NoError(t, err)
	assert.False(t, queued, "version-tagged entry must not match the untagged id")

	pending, err = q.HasPending()
	require.NoError(t, err)
	assert.True(t, pending)
}
