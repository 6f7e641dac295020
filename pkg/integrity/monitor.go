package integrity

import (
	"sort"
	"time"

	"github.com/midden-io/midden/pkg/inventory"
	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/metrics"
	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/volume"
	"github.com/rs/zerolog"
)

// Monitor applies a list of checks to cached objects that are due for
// re-verification and deletes the ones that fail.
type Monitor struct {
	inv    inventory.Store
	vols   map[string]volume.CacheVolume
	checks []Check
	logger zerolog.Logger
}

// NewMonitor creates a monitor over the given volumes. Only objects
// recorded in those volumes are examined.
func NewMonitor(inv inventory.Store, vols map[string]volume.CacheVolume, checks []Check) *Monitor {
	return &Monitor{
		inv:    inv,
		vols:   vols,
		checks: checks,
		logger: log.WithComponent("integrity"),
	}
}

// FindCorruptedObjects runs one batch: it selects up to maxobjs
// objects due for a check, runs each check in order (stopping at the
// first failure), deletes failures from both the volume and the
// inventory, and appends their IDs to deleted. When updateStatus is
// true, passing objects get their checked timestamp advanced. It
// returns the number of objects examined.
func (m *Monitor) FindCorruptedObjects(maxobjs int, deleted *[]string, updateStatus bool) (int, error) {
	names := make([]string, 0, len(m.vols))
	for name := range m.vols {
		names = append(names, name)
	}
	sort.Strings(names)

	examined := 0
	for _, volName := range names {
		if examined >= maxobjs {
			break
		}
		due, err := m.inv.SelectDueForCheck(volName, maxobjs-examined)
		if err != nil {
			return examined, err
		}
		vol := m.vols[volName]
		for _, obj := range due {
			examined++
			if err := m.runChecks(obj, vol); err != nil {
				m.logger.Warn().
					Str("aipid", obj.ID).
					Str("volume", obj.Volume).
					Err(err).
					Msg("Cached object failed integrity check, deleting")
				metrics.ObjectsCorrupted.Inc()
				if rerr := vol.Remove(obj.Name); rerr != nil {
					m.logger.Error().Err(rerr).Str("aipid", obj.ID).
						Msg("Failed to remove corrupted object from volume")
				}
				if rerr := m.inv.RemoveObject(obj.Volume, obj.Name); rerr != nil {
					m.logger.Error().Err(rerr).Str("aipid", obj.ID).
						Msg("Failed to remove corrupted object from inventory")
				}
				if deleted != nil {
					*deleted = append(*deleted, obj.ID)
				}
				continue
			}
			if updateStatus {
				if err := m.inv.SetChecked(obj.Volume, obj.Name, time.Now().UnixMilli()); err != nil {
					return examined, err
				}
			}
		}
	}
	return examined, nil
}

// runChecks applies each check in order, stopping at the first
// failure.
func (m *Monitor) runChecks(obj *types.CacheObject, vol volume.CacheVolume) error {
	for _, chk := range m.checks {
		if err := chk.Check(obj, vol); err != nil {
			return err
		}
	}
	return nil
}
