package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/midden-io/midden/pkg/events"
	"github.com/midden-io/midden/pkg/inventory"
	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/metrics"
	"github.com/midden-io/midden/pkg/restorer"
	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/volume"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Queuer is the slice of the restore queue OptimallyCache uses to
// schedule work without blocking.
type Queuer interface {
	Queue(id string, recache bool) error
	IsQueued(id string) (bool, error)
}

// Config wires a BasicCache together.
type Config struct {
	Inventory inventory.Store
	Volumes   map[string]volume.CacheVolume
	Restorer  restorer.Restorer

	// Naming and Preferences default to policies delegating to the
	// restorer.
	Naming      NamingPolicy
	Preferences PreferencePolicy

	// Queue enables OptimallyCache; optional.
	Queue Queuer

	// Events receives lifecycle events; optional.
	Events *events.Notifier
}

// BasicCache coordinates restoration, placement across volumes, and
// inventory updates. It is safe for concurrent use; restorations for
// the same id are single-flighted so late arrivals share the first
// caller's result.
type BasicCache struct {
	inv     inventory.Store
	vols    map[string]volume.CacheVolume
	rest    restorer.Restorer
	naming  NamingPolicy
	prefs   PreferencePolicy
	planner *DeletionPlanner
	queue   Queuer
	broker  *events.Notifier
	logger  zerolog.Logger

	flight singleflight.Group

	// reserved tracks bytes promised to in-flight restorations per
	// volume so concurrent placements do not oversubscribe.
	resMu    sync.Mutex
	reserved map[string]int64
}

// New creates a cache manager from the given wiring.
func New(cfg Config) (*BasicCache, error) {
	if cfg.Inventory == nil || cfg.Restorer == nil || len(cfg.Volumes) == 0 {
		return nil, fmt.Errorf("cache requires an inventory, a restorer, and at least one volume")
	}
	naming := cfg.Naming
	if naming == nil {
		naming = restorerNaming{rest: cfg.Restorer}
	}
	prefs := cfg.Preferences
	if prefs == nil {
		prefs = restorerPreferences{rest: cfg.Restorer}
	}
	return &BasicCache{
		inv:      cfg.Inventory,
		vols:     cfg.Volumes,
		rest:     cfg.Restorer,
		naming:   naming,
		prefs:    prefs,
		planner:  NewDeletionPlanner(cfg.Inventory),
		queue:    cfg.Queue,
		broker:   cfg.Events,
		logger:   log.WithComponent("cache"),
		reserved: make(map[string]int64),
	}, nil
}

// Cache ensures at least one live copy of id exists and returns its
// descriptor. With recache, any existing copies are replaced.
func (c *BasicCache) Cache(ctx context.Context, id string, recache bool, prefs int) (*types.CacheObject, error) {
	return c.cacheTo(ctx, id, recache, prefs, "")
}

// cacheTo is Cache with an optional pinned target volume. It also
// satisfies restorer.FileCacher for whole-dataset restorations.
func (c *BasicCache) cacheTo(ctx context.Context, id string, recache bool, prefs int, target string) (*types.CacheObject, error) {
	if !recache {
		if obj, err := c.findUsable(id); err != nil {
			return nil, err
		} else if obj != nil {
			metrics.CacheHits.Inc()
			return obj, nil
		}
	}

	v, err, _ := c.flight.Do(id, func() (any, error) {
		return c.restoreAndPlace(ctx, id, recache, prefs, target)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.CacheObject), nil
}

// restoreAndPlace runs under the per-id single-flight lock.
func (c *BasicCache) restoreAndPlace(ctx context.Context, id string, recache bool, prefs int, target string) (*types.CacheObject, error) {
	// A caller that queued behind an identical request finds the
	// object already present.
	if !recache {
		if obj, err := c.findUsable(id); err != nil {
			return nil, err
		} else if obj != nil {
			return obj, nil
		}
	}

	if missing, err := c.rest.DoesNotExist(ctx, id); err != nil {
		return nil, err
	} else if missing {
		return nil, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}

	if recache {
		if err := c.Uncache(id); err != nil {
			return nil, err
		}
	}

	size, err := c.rest.SizeOf(ctx, id)
	if err != nil {
		return nil, err
	}
	if prefs == 0 {
		prefs = c.prefs.PreferencesFor(id, size)
	}

	candidates, err := c.candidateVolumes(prefs, target)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no volume eligible for %s: %w", id, types.ErrNoVolumeAvailable)
	}

	metrics.CacheMisses.Inc()

	var lastErr error
	volRetried := false
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obj, err := c.placeInto(ctx, id, size, cand)
		if err == nil {
			return obj, nil
		}
		lastErr = err

		var sve *types.StorageVolumeError
		switch {
		case errors.Is(err, types.ErrNoVolumeAvailable):
			// This volume cannot make room; the next may.
			continue
		case errors.As(err, &sve) && !volRetried:
			// Transient volume I/O gets one retry on an alternative.
			volRetried = true
			c.logger.Warn().Err(err).Str("aipid", id).
				Msg("Volume error during restore, retrying on alternative volume")
			continue
		default:
			metrics.RestoreFailures.Inc()
			return nil, err
		}
	}
	metrics.RestoreFailures.Inc()
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("caching %s: %w", id, types.ErrNoVolumeAvailable)
}

// placeInto tries to restore id into one candidate volume, evicting
// as needed.
func (c *BasicCache) placeInto(ctx context.Context, id string, size int64, cand *types.VolumeInfo) (*types.CacheObject, error) {
	totals, err := c.inv.GetVolumeTotals(cand.Name)
	if err != nil {
		return nil, err
	}

	free := cand.Capacity - totals.TotalSize - c.reservedOn(cand.Name)
	if size > 0 && free < size {
		victims, err := c.planner.Plan(cand.Name, size-free)
		if err != nil {
			return nil, err
		}
		for _, victim := range victims {
			if err := c.evict(victim); err != nil {
				return nil, err
			}
		}
	}

	if size > 0 {
		c.reserve(cand.Name, size)
		defer c.release(cand.Name, size)
	}

	vol := c.vols[cand.Name]
	if vol == nil {
		return nil, &types.VolumeNotFoundError{Volume: cand.Name}
	}
	name := c.naming.NameFor(id, cand.Roles)

	timer := prometheus.NewTimer(metrics.RestoreDuration)
	restored, err := c.rest.RestoreObject(ctx, id, vol, name)
	if err != nil {
		// The restorer removes its own partial writes; make sure.
		vol.Remove(name)
		return nil, err
	}
	timer.ObserveDuration()

	obj, err := c.inv.AddObject(id, cand.Name, name, restored.Metadata)
	if err != nil {
		vol.Remove(name)
		return nil, err
	}

	metrics.ObjectsCached.Inc()
	c.updateVolumeGauges(cand.Name)
	c.publish(events.EventObjectCached, id, cand.Name, "")
	c.logger.Info().
		Str("aipid", id).
		Str("volume", cand.Name).
		Int64("size", obj.Size).
		Msg("Object cached")
	return obj, nil
}

// GetObject opens the cached bytes of id, caching it first if absent.
func (c *BasicCache) GetObject(ctx context.Context, id string) (io.ReadCloser, *types.CacheObject, error) {
	obj, err := c.Cache(ctx, id, false, 0)
	if err != nil {
		return nil, nil, err
	}
	vol := c.vols[obj.Volume]
	if vol == nil {
		return nil, nil, &types.VolumeNotFoundError{Volume: obj.Volume}
	}
	rc, err := vol.Get(obj.Name)
	if err != nil {
		return nil, nil, err
	}
	return rc, obj, nil
}

// IsCached reports whether a usable copy of id exists.
func (c *BasicCache) IsCached(id string) (bool, error) {
	obj, err := c.findUsable(id)
	return obj != nil, err
}

// Uncache removes all live copies of id from the volumes and the
// inventory.
func (c *BasicCache) Uncache(id string) error {
	rows, err := c.inv.FindObject(id)
	if err != nil {
		return err
	}
	var errs []error
	for _, row := range rows {
		if vol := c.vols[row.Volume]; vol != nil {
			if err := vol.Remove(row.Name); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := c.inv.RemoveObject(row.Volume, row.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.ObjectsUncached.Inc()
		c.updateVolumeGauges(row.Volume)
		c.publish(events.EventObjectUncached, id, row.Volume, "")
	}
	return errors.Join(errs...)
}

// CacheDataset caches every file belonging to the dataset and returns
// the set of in-volume names written or confirmed present.
func (c *BasicCache) CacheDataset(ctx context.Context, dsid, version string, recache bool, prefs int, target string) (map[string]struct{}, error) {
	names, err := c.rest.CacheDataset(ctx, dsid, version, restorer.FileCacherFunc(c.cacheTo), recache, prefs, target)
	if err != nil {
		return names, err
	}
	c.publish(events.EventDatasetCached, dsid, target, fmt.Sprintf("%d files", len(names)))
	return names, nil
}

// OptimallyCache schedules caching without blocking: a dataset with no
// cached files is queued whole; an individual file not in the cache is
// queued alone; anything already cached is left as is.
func (c *BasicCache) OptimallyCache(id string, prefs int) error {
	if c.queue == nil {
		return fmt.Errorf("no restore queue configured")
	}
	aip := types.ParseAIPID(id)

	sum, err := c.inv.SummarizeDataset(aip.DSID)
	if err != nil {
		return err
	}
	if sum.FileCount == 0 {
		dsid := aip.DSID
		if aip.Version != "" {
			dsid += "#" + aip.Version
		}
		return c.enqueueOnce(dsid)
	}
	if aip.IsDataset() {
		return nil
	}
	obj, err := c.findUsable(id)
	if err != nil {
		return err
	}
	if obj != nil {
		return nil
	}
	return c.enqueueOnce(id)
}

func (c *BasicCache) enqueueOnce(id string) error {
	queued, err := c.queue.IsQueued(id)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	return c.queue.Queue(id, false)
}

// DefaultPreferencesFor delegates preference derivation to the
// restorer.
func (c *BasicCache) DefaultPreferencesFor(id string, size int64) int {
	return c.rest.PreferencesFor(id, size, 0)
}

// Summarize returns per-dataset summaries over the whole cache.
func (c *BasicCache) Summarize() ([]*types.DatasetSummary, error) {
	return c.inv.SummarizeContents("")
}

// findUsable returns a copy of id living in a volume readable for
// bytes (status FOR_GET or better), or nil.
func (c *BasicCache) findUsable(id string) (*types.CacheObject, error) {
	rows, err := c.inv.FindObject(id)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		info, err := c.inv.GetVolumeInfo(row.Volume)
		if err != nil {
			continue
		}
		if info.Status >= types.VolumeForGet {
			return row, nil
		}
	}
	return nil, nil
}

// candidateVolumes returns the mutable volumes eligible for an object
// with the given preferences, in registration priority order. A
// non-empty target pins placement to that one volume.
func (c *BasicCache) candidateVolumes(prefs int, target string) ([]*types.VolumeInfo, error) {
	names, err := c.inv.VolumeNames()
	if err != nil {
		return nil, err
	}
	var out []*types.VolumeInfo
	for _, name := range names {
		if target != "" && name != target {
			continue
		}
		info, err := c.inv.GetVolumeInfo(name)
		if err != nil {
			return nil, err
		}
		if info.Status != types.VolumeForUpdate {
			continue
		}
		if target == "" && info.Roles != 0 && prefs != 0 && info.Roles&prefs == 0 {
			continue
		}
		if c.vols[name] == nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// evict removes one planned victim.
func (c *BasicCache) evict(victim *types.CacheObject) error {
	if vol := c.vols[victim.Volume]; vol != nil {
		if err := vol.Remove(victim.Name); err != nil {
			return err
		}
	}
	if err := c.inv.RemoveObject(victim.Volume, victim.Name); err != nil {
		return err
	}
	metrics.ObjectsEvicted.Inc()
	c.publish(events.EventObjectEvicted, victim.ID, victim.Volume, "")
	c.logger.Info().
		Str("aipid", victim.ID).
		Str("volume", victim.Volume).
		Int64("size", victim.Size).
		Msg("Object evicted")
	return nil
}

func (c *BasicCache) reserve(volume string, n int64) {
	c.resMu.Lock()
	c.reserved[volume] += n
	c.resMu.Unlock()
}

func (c *BasicCache) release(volume string, n int64) {
	c.resMu.Lock()
	c.reserved[volume] -= n
	if c.reserved[volume] <= 0 {
		delete(c.reserved, volume)
	}
	c.resMu.Unlock()
}

func (c *BasicCache) reservedOn(volume string) int64 {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	return c.reserved[volume]
}

func (c *BasicCache) updateVolumeGauges(volume string) {
	totals, err := c.inv.GetVolumeTotals(volume)
	if err != nil {
		return
	}
	metrics.VolumeUsedBytes.WithLabelValues(volume).Set(float64(totals.TotalSize))
	metrics.VolumeFileCount.WithLabelValues(volume).Set(float64(totals.FileCount))
}

func (c *BasicCache) publish(t events.EventType, id, volume, msg string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(events.Event{Type: t, ObjectID: id, Volume: volume, Message: msg})
}
