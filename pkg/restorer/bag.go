package restorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/midden-io/midden/pkg/integrity"
	"github.com/midden-io/midden/pkg/inventory"
	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/volume"
	"github.com/rs/zerolog"
)

// DefaultLargeObjectThreshold is the size at which an object prefers
// volumes with the large-objects role.
const DefaultLargeObjectThreshold = 100 * 1000 * 1000

// BagRestorer restores objects from a bag archive. Head-bag manifests
// are cached in their own staging volume, kept apart from the primary
// data cache, so enumerating a dataset does not hit the archive twice.
type BagRestorer struct {
	store    BagStore
	headbags volume.CacheVolume
	inv      inventory.Store
	logger   zerolog.Logger

	// LargeObjectThreshold overrides the size at which objects
	// prefer large-object volumes.
	LargeObjectThreshold int64
}

// NewBagRestorer creates a restorer over the given archive. The
// headbags volume holds cached manifests; it must be registered in the
// inventory by the caller. inv may be nil, in which case manifests are
// cached without inventory records and no integrity monitor is
// available for them.
func NewBagRestorer(store BagStore, headbags volume.CacheVolume, inv inventory.Store) *BagRestorer {
	return &BagRestorer{
		store:                store,
		headbags:             headbags,
		inv:                  inv,
		logger:               log.WithComponent("restorer"),
		LargeObjectThreshold: DefaultLargeObjectThreshold,
	}
}

// IntegrityMonitorFor returns a monitor bound to the restorer's
// head-bag staging volume.
func (r *BagRestorer) IntegrityMonitorFor(checks []integrity.Check) (*integrity.Monitor, error) {
	if r.inv == nil {
		return nil, fmt.Errorf("restorer has no inventory; head-bag cache cannot be monitored")
	}
	vols := map[string]volume.CacheVolume{r.headbags.Name(): r.headbags}
	return integrity.NewMonitor(r.inv, vols, checks), nil
}

// retrying wraps an archive read with bounded exponential backoff.
// Missing objects are permanent; everything else is assumed transient.
func retrying(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && errors.Is(err, types.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// resolveVersion maps an empty version request onto the dataset's
// latest archived version.
func (r *BagRestorer) resolveVersion(ctx context.Context, dsid, version string) (string, error) {
	if version != "" {
		return version, nil
	}
	var versions []string
	err := retrying(ctx, func() error {
		var err error
		versions, err = r.store.Versions(ctx, dsid)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("dataset %s: %w", dsid, types.ErrNotFound)
	}
	return versions[len(versions)-1], nil
}

// manifestName is the in-volume name a cached head manifest is stored
// under.
func manifestName(dsid, version string) string {
	return strings.ReplaceAll(dsid, "/", "_") + "-" + version + ".manifest.json"
}

// manifest returns the head manifest of a dataset version, consulting
// the head-bag cache before the archive. It also returns the resolved
// version.
func (r *BagRestorer) manifest(ctx context.Context, dsid, version string) (*Manifest, string, error) {
	ver, err := r.resolveVersion(ctx, dsid, version)
	if err != nil {
		return nil, "", err
	}

	name := manifestName(dsid, ver)
	if ok, err := r.headbags.Exists(name); err == nil && ok {
		rc, err := r.headbags.Get(name)
		if err == nil {
			defer rc.Close()
			var m Manifest
			if err := json.NewDecoder(rc).Decode(&m); err == nil {
				return &m, ver, nil
			}
			// A damaged cached manifest falls through to a re-fetch.
			r.logger.Warn().Str("aipid", dsid).Str("version", ver).
				Msg("Cached head manifest is unreadable, re-fetching")
		}
	}

	var data []byte
	err = retrying(ctx, func() error {
		rc, err := r.store.OpenManifest(ctx, dsid, ver)
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", fmt.Errorf("decoding manifest for %s#%s: %w", dsid, ver, err)
	}

	n, sum, err := r.headbags.Save(name, strings.NewReader(string(data)))
	if err != nil {
		// The fetch succeeded; a staging failure only costs us the cache.
		r.logger.Warn().Err(err).Str("aipid", dsid).
			Msg("Failed to stage head manifest")
		return &m, ver, nil
	}
	if r.inv != nil {
		meta := map[string]any{
			"size": n, "checksum": sum, "checksumAlgorithm": "sha256",
			"priority": 2,
		}
		if _, err := r.inv.AddObject(dsid+"#"+ver, r.headbags.Name(), name, meta); err != nil {
			r.logger.Warn().Err(err).Str("aipid", dsid).
				Msg("Failed to record head manifest in inventory")
		}
	}
	return &m, ver, nil
}

// DoesNotExist reports positively that id has no backing in the
// archive.
func (r *BagRestorer) DoesNotExist(ctx context.Context, id string) (bool, error) {
	aip := types.ParseAIPID(id)
	var versions []string
	err := retrying(ctx, func() error {
		var err error
		versions, err = r.store.Versions(ctx, aip.DSID)
		return err
	})
	if err != nil {
		return false, err
	}
	if len(versions) == 0 {
		return true, nil
	}
	if aip.Version != "" {
		found := false
		for _, v := range versions {
			if v == aip.Version {
				found = true
				break
			}
		}
		if !found {
			return true, nil
		}
	}
	if aip.FilePath == "" {
		return false, nil
	}
	m, _, err := r.manifest(ctx, aip.DSID, aip.Version)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	_, ok := m.File(aip.FilePath)
	return !ok, nil
}

// NameForObject maps an AIP-ID onto its in-volume name. Volumes
// holding old versions keep the version tag in the name so multiple
// versions can coexist; elsewhere the version is dropped so a recache
// replaces the previous copy.
func (r *BagRestorer) NameForObject(id string, roles int) string {
	aip := types.ParseAIPID(id)
	name := aip.DSID
	if aip.FilePath != "" {
		name += "/" + aip.FilePath
	}
	if roles&types.RoleOldVersions != 0 && aip.Version != "" {
		name += "#" + aip.Version
	}
	return name
}

// PreferencesFor derives placement preference bits for an object.
func (r *BagRestorer) PreferencesFor(id string, size int64, defaults int) int {
	prefs := defaults
	aip := types.ParseAIPID(id)
	if aip.Version != "" {
		prefs |= types.RoleOldVersions
	}
	if size >= 0 {
		threshold := r.LargeObjectThreshold
		if threshold <= 0 {
			threshold = DefaultLargeObjectThreshold
		}
		if size >= threshold {
			prefs |= types.RoleLargeObjects
		} else {
			prefs |= types.RoleSmallObjects
		}
	}
	if prefs == 0 {
		prefs = types.RoleGeneralPurpose
	}
	return prefs
}

// SizeOf reports the object's archived size from its manifest.
func (r *BagRestorer) SizeOf(ctx context.Context, id string) (int64, error) {
	aip := types.ParseAIPID(id)
	if aip.FilePath == "" {
		return -1, fmt.Errorf("%s names a dataset, not a file", id)
	}
	m, _, err := r.manifest(ctx, aip.DSID, aip.Version)
	if err != nil {
		return -1, err
	}
	mf, ok := m.File(aip.FilePath)
	if !ok {
		return -1, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}
	return mf.Size, nil
}

// RestoreObject streams the archived object into vol under name,
// verifying its checksum against the manifest. A partial or
// mismatched write is removed before the error is surfaced.
func (r *BagRestorer) RestoreObject(ctx context.Context, id string, vol volume.CacheVolume, name string) (*Restored, error) {
	aip := types.ParseAIPID(id)
	if aip.FilePath == "" {
		return nil, fmt.Errorf("%s names a dataset, not a file", id)
	}
	m, ver, err := r.manifest(ctx, aip.DSID, aip.Version)
	if err != nil {
		return nil, err
	}
	mf, ok := m.File(aip.FilePath)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, types.ErrNotFound)
	}

	var n int64
	var sum string
	err = retrying(ctx, func() error {
		rc, err := r.store.Open(ctx, aip.DSID, ver, aip.FilePath)
		if err != nil {
			return err
		}
		defer rc.Close()
		n, sum, err = vol.Save(name, rc)
		return err
	})
	if err != nil {
		vol.Remove(name)
		return nil, err
	}

	if mf.Size >= 0 && n != mf.Size {
		vol.Remove(name)
		return nil, &types.RestorationError{
			ID:     id,
			Reason: fmt.Sprintf("archive stream ended early: %d of %d bytes", n, mf.Size),
		}
	}
	if mf.Checksum != "" && !strings.EqualFold(sum, mf.Checksum) {
		vol.Remove(name)
		return nil, &types.RestorationError{ID: id, Reason: "checksum mismatch"}
	}

	meta := map[string]any{
		"size":              n,
		"checksum":          sum,
		"checksumAlgorithm": "sha256",
	}
	if m.EDIID != "" {
		meta["ediid"] = m.EDIID
	}
	if m.PDRID != "" {
		meta["pdrid"] = m.PDRID
	}
	return &Restored{Bytes: n, Checksum: sum, Metadata: meta}, nil
}

// CacheDataset restores every member of a dataset version through the
// given cacher, returning the set of in-volume names written or
// confirmed present.
func (r *BagRestorer) CacheDataset(ctx context.Context, dsid, version string, cache FileCacher, recache bool, prefs int, target string) (map[string]struct{}, error) {
	m, _, err := r.manifest(ctx, dsid, version)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return names, err
		}
		id := dsid + "/" + f.Path
		if version != "" {
			id += "#" + version
		}
		obj, err := cache.Cache(ctx, id, recache, prefs, target)
		if err != nil {
			return names, fmt.Errorf("caching %s: %w", id, err)
		}
		names[obj.Name] = struct{}{}
	}
	return names, nil
}
