package restorer

import (
	"context"

	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/volume"
)

// Restored reports the outcome of a single object restoration.
type Restored struct {
	// Bytes is the number of bytes streamed into the volume.
	Bytes int64

	// Checksum is the hex sha256 of the restored bytes.
	Checksum string

	// Metadata is the object's descriptive metadata, ready for the
	// inventory (size, checksum, checksumAlgorithm, ediid, pdrid).
	Metadata map[string]any
}

// FileCacher is the slice of the cache manager a restorer drives while
// caching a whole dataset. The target, when non-empty, pins placement
// to one volume.
type FileCacher interface {
	Cache(ctx context.Context, id string, recache bool, prefs int, target string) (*types.CacheObject, error)
}

// FileCacherFunc adapts a function to the FileCacher interface.
type FileCacherFunc func(ctx context.Context, id string, recache bool, prefs int, target string) (*types.CacheObject, error)

func (f FileCacherFunc) Cache(ctx context.Context, id string, recache bool, prefs int, target string) (*types.CacheObject, error) {
	return f(ctx, id, recache, prefs, target)
}

// Restorer knows how to pull objects identified by AIP-ID out of
// long-term archival storage and stream them into a cache volume.
type Restorer interface {
	// DoesNotExist reports positively that id has no backing in the
	// archive.
	DoesNotExist(ctx context.Context, id string) (bool, error)

	// NameForObject maps an AIP-ID to the name the object should be
	// stored under in a volume with the given roles.
	NameForObject(id string, roles int) string

	// PreferencesFor derives placement preference bits for an object
	// from its identifier and size, folding in the given defaults.
	PreferencesFor(id string, size int64, defaults int) int

	// SizeOf reports the object's archived size in bytes.
	SizeOf(ctx context.Context, id string) (int64, error)

	// RestoreObject streams the archived object into vol under name.
	RestoreObject(ctx context.Context, id string, vol volume.CacheVolume, name string) (*Restored, error)

	// CacheDataset restores every file belonging to the dataset
	// through the given cacher, returning the set of in-volume names
	// written or confirmed present.
	CacheDataset(ctx context.Context, dsid, version string, cache FileCacher, recache bool, prefs int, target string) (map[string]struct{}, error)
}
