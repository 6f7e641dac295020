package inventory

import (
	"time"

	"github.com/midden-io/midden/pkg/types"
)

// Reader answers placement, eviction, and status queries against the
// storage inventory. Background workers that only need to look at the
// cache receive this interface rather than the full store.
type Reader interface {
	// FindObject returns all live copies of id, optionally filtered
	// to the named volumes.
	FindObject(id string, volumes ...string) ([]*types.CacheObject, error)

	// SelectObjectsLikeID returns live objects whose ID matches the
	// pattern, restricted to volumes whose status is at least
	// minStatus. A trailing '%' in the pattern matches any suffix.
	SelectObjectsLikeID(pattern string, minStatus types.VolumeStatus) ([]*types.CacheObject, error)

	// GetVolumeInfo returns the registration record for a volume.
	GetVolumeInfo(name string) (*types.VolumeInfo, error)

	// GetVolumeTotals aggregates the live rows of one volume.
	GetVolumeTotals(name string) (*types.VolumeTotals, error)

	// VolumeNames lists the registered volumes in priority order.
	VolumeNames() ([]string, error)

	// SummarizeDataset aggregates the live rows of one dataset.
	SummarizeDataset(dsid string) (*types.DatasetSummary, error)

	// SummarizeContents returns a per-dataset summary of the live
	// rows, over one volume or (with an empty name) the whole cache.
	SummarizeContents(volume string) ([]*types.DatasetSummary, error)

	// SelectObjectsToPurge returns eviction candidates from a volume,
	// ordered most-expendable first, accumulated until their total
	// size reaches need. Protected objects are excluded. The returned
	// set may total less than need if the volume cannot yield enough.
	SelectObjectsToPurge(volume string, need int64) ([]*types.CacheObject, error)

	// SelectDueForCheck returns up to max objects whose last
	// integrity check is older than the grace period, oldest first.
	// An empty volume name selects across all volumes.
	SelectDueForCheck(volume string, max int) ([]*types.CacheObject, error)
}

// Mutator applies writes to the storage inventory.
type Mutator interface {
	// AddObject records a new live copy at (volume, name). Any prior
	// rows at that coordinate are removed first; the new row gets
	// since = now and checked = 0. Select metadata keys (size,
	// priority, checksum, checksumAlgorithm, refcount, ediid, pdrid)
	// are lifted into first-class fields.
	AddObject(id, volume, name string, metadata map[string]any) (*types.CacheObject, error)

	// RemoveObject deletes the row(s) at (volume, name). It fails if
	// the volume is not registered.
	RemoveObject(volume, name string) error

	// RegisterAlgorithm makes a checksum algorithm name known; it is
	// a no-op if the name is already registered.
	RegisterAlgorithm(name string) error

	// RegisterVolume creates or updates a volume registration. The
	// metadata may carry priority, status, and roles.
	RegisterVolume(name string, capacity int64, metadata map[string]any) error

	// SetChecked advances the last-check timestamp of (volume, name).
	SetChecked(volume, name string, when int64) error

	// SetCheckGracePeriod sets the minimum age since last check
	// before an object becomes due for re-checking.
	SetCheckGracePeriod(d time.Duration)
}

// Store is the full storage inventory: the sole persistent state of
// the cache.
type Store interface {
	Reader
	Mutator
	Close() error
}
