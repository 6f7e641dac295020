package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/midden-io/midden/pkg/types"
)

// fakePlacement records cache requests and can fail selected ids.
type fakePlacement struct {
	mu       sync.Mutex
	files    []string
	datasets []string
	failing  map[string]bool
}

func (p *fakePlacement) Cache(ctx context.Context, id string, recache bool, prefs int) (*types.CacheObject, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing[id] {
		return nil, errors.New("archive unavailable")
	}
	p.files = append(p.files, id)
	return &types.CacheObject{ID: id, Name: id}, nil
}

func (p *fakePlacement) CacheDataset(ctx context.Context, dsid, version string, recache bool, prefs int, target string) (map[string]struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing[dsid] {
		return nil, errors.New("archive unavailable")
	}
	p.datasets = append(p.datasets, dsid)
	return map[string]struct{}{dsid + "/a": {}}, nil
}

func (p *fakePlacement) snapshot() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...), append([]string(nil), p.datasets...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCacher_DrainsQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	p := &fakePlacement{}
	c := NewCacher(q, p)
	c.PollInterval = 5 * time.Millisecond

	// a bare dataset id caches the whole dataset, a file id just the file
	if err := q.Queue("mds2-2119", false); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if err := q.Queue("mds2-2119/data/readme.txt", false); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, func() bool {
		files, datasets := p.snapshot()
		return len(files) == 1 && len(datasets) == 1
	})
	files, datasets := p.snapshot()
	if files[0] != "mds2-2119/data/readme.txt" {
		t.Errorf("file request = %q", files[0])
	}
	if datasets[0] != "mds2-2119" {
		t.Errorf("dataset request = %q", datasets[0])
	}
	if pending, _ := q.HasPending(); pending {
		t.Error("queue not drained")
	}
}

func TestCacher_ErrorDoesNotAbortQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	p := &fakePlacement{failing: map[string]bool{"bad/f.txt": true}}
	c := NewCacher(q, p)
	c.PollInterval = 5 * time.Millisecond

	for _, id := range []string{"ok1/f.txt", "bad/f.txt", "ok2/f.txt"} {
		if err := q.Queue(id, false); err != nil {
			t.Fatalf("Queue() error = %v", err)
		}
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	waitFor(t, func() bool {
		files, _ := p.snapshot()
		return len(files) == 2
	})
	files, _ := p.snapshot()
	if files[0] != "ok1/f.txt" || files[1] != "ok2/f.txt" {
		t.Errorf("processed %v; the failing entry should be skipped, not fatal", files)
	}
}

func TestCacher_RefusesConcurrentSelf(t *testing.T) {
	q, _ := newTestQueue(t)
	c := NewCacher(q, &fakePlacement{})
	c.PollInterval = 5 * time.Millisecond

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); err == nil {
		t.Error("second Start() succeeded, want refusal while running")
	}
	c.Stop()

	// a stopped worker is replaced by a fresh one
	if err := c.Start(); err != nil {
		t.Errorf("Start() after Stop() error = %v", err)
	}
	c.Stop()
}

func TestCacher_StopsAtItemBoundary(t *testing.T) {
	q, _ := newTestQueue(t)
	p := &fakePlacement{}
	c := NewCacher(q, p)
	c.PollInterval = 5 * time.Millisecond

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop()
	if c.Running() {
		t.Error("worker still running after Stop()")
	}
}
