package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/metrics"
	"github.com/midden-io/midden/pkg/types"
	"github.com/rs/zerolog"
)

// Placement is the cache-manager capability the workers need: the
// ability to bring objects and datasets into the cache. Workers
// receive this interface, never the manager itself.
type Placement interface {
	Cache(ctx context.Context, id string, recache bool, prefs int) (*types.CacheObject, error)
	CacheDataset(ctx context.Context, dsid, version string, recache bool, prefs int, target string) (map[string]struct{}, error)
}

// Cacher drains the persistent restore queue, caching each requested
// file or dataset in turn. An error on one entry is logged and the
// worker advances; only a stop request or an unexpected runtime error
// ends the loop.
type Cacher struct {
	queue *Queue
	cache Placement

	// PollInterval is how long the worker sleeps when the queue is
	// empty.
	PollInterval time.Duration

	running atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
	logger  zerolog.Logger
}

// NewCacher creates a cacher worker over the given queue and
// placement capability.
func NewCacher(queue *Queue, cache Placement) *Cacher {
	return &Cacher{
		queue:        queue,
		cache:        cache,
		PollInterval: time.Second,
		logger:       log.WithComponent("cacher"),
	}
}

// Start launches the worker. A cacher refuses to run concurrently
// with itself; a worker that has exited may be started again, which
// replaces it with a fresh loop.
func (c *Cacher) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("cacher is already running")
	}
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.run()
	return nil
}

// Stop requests a cooperative exit at the next item boundary and
// waits for the loop to finish.
func (c *Cacher) Stop() {
	if c.stopCh == nil {
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	<-c.done
}

// Running reports whether the worker loop is live.
func (c *Cacher) Running() bool {
	return c.running.Load()
}

func (c *Cacher) run() {
	defer func() {
		c.running.Store(false)
		close(c.done)
	}()
	c.logger.Info().Msg("Cacher started")

	for {
		select {
		case <-c.stopCh:
			c.logger.Info().Msg("Cacher stopped")
			return
		default:
		}

		entry, err := c.queue.Pop()
		if errors.Is(err, types.ErrQueueEmpty) {
			select {
			case <-time.After(c.PollInterval):
			case <-c.stopCh:
				c.logger.Info().Msg("Cacher stopped")
				return
			}
			continue
		}
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to pop restore queue")
			select {
			case <-time.After(c.PollInterval):
			case <-c.stopCh:
				return
			}
			continue
		}

		c.process(entry)
		metrics.QueueItemsProcessed.Inc()
	}
}

// process caches one queue entry: a bare dataset id caches the whole
// dataset, anything with a file path caches the single file.
func (c *Cacher) process(entry *types.QueueEntry) {
	ctx := context.Background()
	aip := types.ParseAIPID(entryID(*entry))

	var err error
	if aip.IsDataset() {
		_, err = c.cache.CacheDataset(ctx, aip.DSID, aip.Version, entry.Recache, 0, "")
	} else {
		_, err = c.cache.Cache(ctx, entryID(*entry), entry.Recache, 0)
	}
	if err != nil {
		// Expected failure kinds do not kill the worker; log and
		// move to the next entry.
		c.logger.Error().
			Err(err).
			Str("aipid", entryID(*entry)).
			Bool("recache", entry.Recache).
			Msg("Failed to cache queued request")
		return
	}
	c.logger.Info().
		Str("aipid", entryID(*entry)).
		Msg("Cached queued request")
}
