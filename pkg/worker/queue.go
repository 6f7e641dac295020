package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/midden-io/midden/pkg/metrics"
	"github.com/midden-io/midden/pkg/types"
)

// Queue is the cacher's persistent FIFO of restore requests. Entries
// are one per line, tab-separated: AIPID, recache flag (0 or 1), and
// an optional version. Appends sync before returning and rewrites go
// through a temp file and rename, so a crash never loses acknowledged
// work or tears the file.
type Queue struct {
	path string
	mu   sync.Mutex
}

// NewQueue opens (creating if necessary) the queue file at path.
func NewQueue(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	q := &Queue{path: path}
	entries, err := q.Load()
	if err != nil {
		return nil, err
	}
	metrics.QueueDepth.Set(float64(len(entries)))
	return q, nil
}

// entryID reassembles the full AIP-ID of an entry.
func entryID(e types.QueueEntry) string {
	if e.Version == "" {
		return e.ID
	}
	return e.ID + "#" + e.Version
}

// encodeEntry renders one queue line (without the newline).
func encodeEntry(e types.QueueEntry) string {
	flag := "0"
	if e.Recache {
		flag = "1"
	}
	if e.Version == "" {
		return e.ID + "\t" + flag
	}
	return e.ID + "\t" + flag + "\t" + e.Version
}

// parseEntry decodes one queue line.
func parseEntry(line string) (types.QueueEntry, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return types.QueueEntry{}, fmt.Errorf("malformed queue entry: %q", line)
	}
	e := types.QueueEntry{ID: parts[0], Recache: parts[1] == "1"}
	if len(parts) > 2 {
		e.Version = parts[2]
	}
	return e, nil
}

// Queue appends one request. The version tag, if any, is split off
// the identifier and stored in its own field.
func (q *Queue) Queue(id string, recache bool) error {
	aip := types.ParseAIPID(id)
	base := aip.DSID
	if aip.FilePath != "" {
		base += "/" + aip.FilePath
	}
	e := types.QueueEntry{ID: base, Recache: recache, Version: aip.Version}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening queue file: %w", err)
	}
	if _, err := f.WriteString(encodeEntry(e) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("appending to queue: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing queue: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing queue: %w", err)
	}

	metrics.QueueDepth.Inc()
	return nil
}

// Load reads the pending entries in order.
func (q *Queue) Load() ([]types.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) load() ([]types.QueueEntry, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading queue file: %w", err)
	}
	var entries []types.QueueEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (q *Queue) save(entries []types.QueueEntry) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(encodeEntry(e))
		b.WriteString("\n")
	}
	tmp := filepath.Join(filepath.Dir(q.path), ".queue-"+uuid.NewString())
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing queue file: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing queue file: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest entry. The shortened queue is
// persisted before the entry is returned, so an entry being worked on
// is not re-attempted after a crash. Returns ErrQueueEmpty when there
// is nothing pending.
func (q *Queue) Pop() (*types.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, types.ErrQueueEmpty
	}
	head := entries[0]
	if err := q.save(entries[1:]); err != nil {
		return nil, err
	}
	metrics.QueueDepth.Set(float64(len(entries) - 1))
	return &head, nil
}

// HasPending reports whether any entries are waiting.
func (q *Queue) HasPending() (bool, error) {
	entries, err := q.Load()
	return len(entries) > 0, err
}

// IsQueued reports whether an entry for the full identifier is
// already pending.
func (q *Queue) IsQueued(id string) (bool, error) {
	entries, err := q.Load()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if entryID(e) == id {
			return true, nil
		}
	}
	return false, nil
}
