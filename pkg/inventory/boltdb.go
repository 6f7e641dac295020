package inventory

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/midden-io/midden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAlgorithms = []byte("algorithms")
	bucketVolumes    = []byte("volumes")
	bucketObjects    = []byte("objects")
)

const (
	// DefaultCheckGracePeriod is the minimum age since last check
	// before an object is due for re-checking.
	DefaultCheckGracePeriod = 24 * time.Hour

	// DefaultProtectTTL is how long a referenced object (nonzero
	// refcount) stays excluded from eviction planning.
	DefaultProtectTTL = 24 * time.Hour
)

// algorithmRecord is the stored form of a checksum algorithm
// registration.
type algorithmRecord struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// volumeRecord is the stored form of a volume registration.
type volumeRecord struct {
	ID       uint64             `json:"id"`
	Name     string             `json:"name"`
	Priority int                `json:"priority"`
	Capacity int64              `json:"capacity"`
	Status   types.VolumeStatus `json:"status"`
	Roles    int                `json:"roles"`
	Metadata map[string]any     `json:"metadata,omitempty"`
}

// objectRow is the stored form of one live cached copy. Rows live in a
// per-volume sub-bucket keyed by the in-volume name, which makes
// (volume, name) structurally unique.
type objectRow struct {
	ObjID    string         `json:"objid"`
	Size     int64          `json:"size"`
	Checksum string         `json:"checksum,omitempty"`
	AlgID    uint64         `json:"algorithm,omitempty"`
	Priority int            `json:"priority"`
	Since    int64          `json:"since"`
	Checked  int64          `json:"checked"`
	RefCount int            `json:"refcount,omitempty"`
	EDIID    string         `json:"ediid,omitempty"`
	PDRID    string         `json:"pdrid,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BoltInventory implements Store using BoltDB. All operations
// serialize through bolt's transaction machinery; the in-memory
// algorithm and volume maps are reloaded on every write.
type BoltInventory struct {
	db *bolt.DB

	mu         sync.RWMutex
	algsByName map[string]uint64
	algsByID   map[uint64]string
	volumes    map[string]*volumeRecord

	grace      time.Duration
	protectTTL time.Duration
}

// NewBoltInventory opens (creating if necessary) the inventory
// database under dataDir.
func NewBoltInventory(dataDir string) (*BoltInventory, error) {
	dbPath := filepath.Join(dataDir, "inventory.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketAlgorithms, bucketVolumes, bucketObjects}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	inv := &BoltInventory{
		db:         db,
		grace:      DefaultCheckGracePeriod,
		protectTTL: DefaultProtectTTL,
	}
	if err := inv.reloadMaps(); err != nil {
		db.Close()
		return nil, err
	}

	// sha256 is always known
	if err := inv.RegisterAlgorithm("sha256"); err != nil {
		db.Close()
		return nil, err
	}
	return inv, nil
}

// Close closes the database.
func (s *BoltInventory) Close() error {
	return s.db.Close()
}

// SetCheckGracePeriod sets the minimum age since last check before an
// object becomes due again. Non-positive values restore the default.
func (s *BoltInventory) SetCheckGracePeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		d = DefaultCheckGracePeriod
	}
	s.grace = d
}

// SetProtectTTL sets how long referenced objects stay protected from
// eviction planning.
func (s *BoltInventory) SetProtectTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		d = DefaultProtectTTL
	}
	s.protectTTL = d
}

// reloadMaps rebuilds the in-memory name/id maps from the database.
// Called after every write so readers never see stale registrations.
func (s *BoltInventory) reloadMaps() error {
	algsByName := make(map[string]uint64)
	algsByID := make(map[uint64]string)
	volumes := make(map[string]*volumeRecord)

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAlgorithms).ForEach(func(k, v []byte) error {
			var rec algorithmRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			algsByName[rec.Name] = rec.ID
			algsByID[rec.ID] = rec.Name
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var rec volumeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			volumes[rec.Name] = &rec
			return nil
		})
	})
	if err != nil {
		return &types.InventoryError{Op: "reload registrations", Err: err}
	}

	s.mu.Lock()
	s.algsByName = algsByName
	s.algsByID = algsByID
	s.volumes = volumes
	s.mu.Unlock()
	return nil
}

// RegisterAlgorithm makes a checksum algorithm known; no-op if present.
func (s *BoltInventory) RegisterAlgorithm(name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAlgorithms)
		if b.Get([]byte(name)) != nil {
			return nil
		}
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(algorithmRecord{ID: id, Name: name})
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return &types.InventoryError{Op: fmt.Sprintf("register algorithm %s", name), Err: err}
	}
	return s.reloadMaps()
}

// RegisterVolume creates or updates a volume registration, preserving
// the volume's id across updates.
func (s *BoltInventory) RegisterVolume(name string, capacity int64, metadata map[string]any) error {
	rec := volumeRecord{
		Name:     name,
		Capacity: capacity,
		Priority: types.DefaultPriority,
		Status:   types.VolumeForUpdate,
		Metadata: metadata,
	}
	if v, ok := toInt64(metadata["priority"]); ok {
		rec.Priority = int(v)
	}
	if v, ok := toInt64(metadata["status"]); ok {
		rec.Status = types.VolumeStatus(v)
	} else if sname, ok := metadata["status"].(string); ok {
		if st, ok := types.ParseVolumeStatus(sname); ok {
			rec.Status = st
		}
	}
	if v, ok := toInt64(metadata["roles"]); ok {
		rec.Roles = int(v)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		if prev := b.Get([]byte(name)); prev != nil {
			var old volumeRecord
			if err := json.Unmarshal(prev, &old); err != nil {
				return err
			}
			rec.ID = old.ID
		} else {
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			rec.ID = id
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(name), data); err != nil {
			return err
		}
		// Make sure the volume's object sub-bucket exists so later
		// scans need not special-case it.
		_, err = tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return &types.InventoryError{Op: fmt.Sprintf("register volume %s", name), Err: err}
	}
	return s.reloadMaps()
}

// GetVolumeInfo returns the registration record for a volume.
func (s *BoltInventory) GetVolumeInfo(name string) (*types.VolumeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.volumes[name]
	if !ok {
		return nil, &types.VolumeNotFoundError{Volume: name}
	}
	return &types.VolumeInfo{
		Name:     rec.Name,
		Capacity: rec.Capacity,
		Priority: rec.Priority,
		Status:   rec.Status,
		Roles:    rec.Roles,
		Metadata: rec.Metadata,
	}, nil
}

// VolumeNames lists the registered volumes ordered by ascending volume
// priority number, then name.
func (s *BoltInventory) VolumeNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*volumeRecord, 0, len(s.volumes))
	for _, rec := range s.volumes {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		return recs[i].Name < recs[j].Name
	})
	names := make([]string, len(recs))
	for i, rec := range recs {
		names[i] = rec.Name
	}
	return names, nil
}

// AddObject records a new live copy at (volume, name), replacing any
// prior rows at that coordinate.
func (s *BoltInventory) AddObject(id, volume, name string, metadata map[string]any) (*types.CacheObject, error) {
	s.mu.RLock()
	_, registered := s.volumes[volume]
	s.mu.RUnlock()
	if !registered {
		return nil, &types.VolumeNotFoundError{Volume: volume}
	}

	row := objectRow{
		ObjID:    id,
		Size:     -1,
		Priority: types.DefaultPriority,
		Since:    time.Now().UnixMilli(),
		Checked:  0,
		Metadata: metadata,
	}
	if v, ok := toInt64(metadata["size"]); ok {
		row.Size = v
	}
	if v, ok := toInt64(metadata["priority"]); ok {
		row.Priority = int(v)
	}
	if v, ok := metadata["checksum"].(string); ok {
		row.Checksum = v
	}
	if v, ok := toInt64(metadata["refcount"]); ok {
		row.RefCount = int(v)
	}
	if v, ok := metadata["ediid"].(string); ok {
		row.EDIID = v
	}
	if v, ok := metadata["pdrid"].(string); ok {
		row.PDRID = v
	}

	algName := "sha256"
	if v, ok := metadata["checksumAlgorithm"].(string); ok && v != "" {
		algName = v
	}
	// Algorithm names are added lazily when first referenced.
	if err := s.RegisterAlgorithm(algName); err != nil {
		return nil, err
	}
	s.mu.RLock()
	row.AlgID = s.algsByName[algName]
	s.mu.RUnlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketObjects).CreateBucketIfNotExists([]byte(volume))
		if err != nil {
			return err
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		// Put replaces any prior row at this (volume, name).
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return nil, &types.InventoryError{Op: fmt.Sprintf("add object %s", id), Err: err}
	}
	if err := s.reloadMaps(); err != nil {
		return nil, err
	}
	return s.toCacheObject(volume, name, &row), nil
}

// RemoveObject deletes the row at (volume, name).
func (s *BoltInventory) RemoveObject(volume, name string) error {
	s.mu.RLock()
	_, registered := s.volumes[volume]
	s.mu.RUnlock()
	if !registered {
		return &types.VolumeNotFoundError{Volume: volume}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects).Bucket([]byte(volume))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
	if err != nil {
		return &types.InventoryError{Op: fmt.Sprintf("remove object %s/%s", volume, name), Err: err}
	}
	return s.reloadMaps()
}

// SetChecked advances the last-check timestamp of (volume, name).
func (s *BoltInventory) SetChecked(volume, name string, when int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects).Bucket([]byte(volume))
		if b == nil {
			return fmt.Errorf("no objects recorded for volume %s", volume)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("no row at %s/%s", volume, name)
		}
		var row objectRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		row.Checked = when
		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), out)
	})
	if err != nil {
		return &types.InventoryError{Op: fmt.Sprintf("set checked %s/%s", volume, name), Err: err}
	}
	return nil
}

// FindObject returns all live copies of id, optionally filtered to
// the named volumes.
func (s *BoltInventory) FindObject(id string, volumes ...string) ([]*types.CacheObject, error) {
	want := map[string]bool{}
	for _, v := range volumes {
		want[v] = true
	}
	var out []*types.CacheObject
	err := s.forEachRow(func(volume, name string, row *objectRow) error {
		if row.ObjID != id {
			return nil
		}
		if len(want) > 0 && !want[volume] {
			return nil
		}
		out = append(out, s.toCacheObject(volume, name, row))
		return nil
	})
	if err != nil {
		return nil, &types.InventoryError{Op: fmt.Sprintf("find object %s", id), Err: err}
	}
	return out, nil
}

// SelectObjectsLikeID returns live objects matching the pattern,
// restricted to volumes whose status is at least minStatus. A trailing
// '%' matches any suffix; otherwise the match is exact.
func (s *BoltInventory) SelectObjectsLikeID(pattern string, minStatus types.VolumeStatus) ([]*types.CacheObject, error) {
	match := func(id string) bool { return id == pattern }
	if strings.HasSuffix(pattern, "%") {
		prefix := strings.TrimSuffix(pattern, "%")
		match = func(id string) bool { return strings.HasPrefix(id, prefix) }
	}

	var out []*types.CacheObject
	err := s.forEachRow(func(volume, name string, row *objectRow) error {
		if !match(row.ObjID) {
			return nil
		}
		s.mu.RLock()
		rec, ok := s.volumes[volume]
		s.mu.RUnlock()
		if !ok || rec.Status < minStatus {
			return nil
		}
		out = append(out, s.toCacheObject(volume, name, row))
		return nil
	})
	if err != nil {
		return nil, &types.InventoryError{Op: fmt.Sprintf("select objects like %s", pattern), Err: err}
	}
	return out, nil
}

// GetVolumeTotals aggregates the live rows of one volume.
func (s *BoltInventory) GetVolumeTotals(name string) (*types.VolumeTotals, error) {
	s.mu.RLock()
	_, registered := s.volumes[name]
	s.mu.RUnlock()
	if !registered {
		return nil, &types.VolumeNotFoundError{Volume: name}
	}

	totals := &types.VolumeTotals{}
	var oldestChecked int64 = -1
	err := s.forEachVolumeRow(name, func(rowName string, row *objectRow) error {
		totals.FileCount++
		if row.Size > 0 {
			totals.TotalSize += row.Size
		}
		if row.Since > totals.Since {
			totals.Since = row.Since
		}
		if oldestChecked < 0 || row.Checked < oldestChecked {
			oldestChecked = row.Checked
		}
		return nil
	})
	if err != nil {
		return nil, &types.InventoryError{Op: fmt.Sprintf("totals for %s", name), Err: err}
	}
	if oldestChecked > 0 {
		totals.Checked = oldestChecked
	}
	if totals.Since > 0 {
		totals.SinceDate = epochDate(totals.Since)
	}
	if totals.Checked > 0 {
		totals.CheckedDate = epochDate(totals.Checked)
	}
	return totals, nil
}

// SummarizeDataset aggregates the live rows whose ID names a file of
// dsid. Rows for the bare dataset ID (such as head manifests) are not
// counted.
func (s *BoltInventory) SummarizeDataset(dsid string) (*types.DatasetSummary, error) {
	sum := &types.DatasetSummary{DSID: dsid}
	var oldestChecked int64 = -1
	err := s.forEachRow(func(volume, name string, row *objectRow) error {
		if aip := types.ParseAIPID(row.ObjID); aip.DSID != dsid || aip.FilePath == "" {
			return nil
		}
		sum.FileCount++
		if row.Size > 0 {
			sum.TotalSize += row.Size
		}
		if row.Since > sum.Since {
			sum.Since = row.Since
		}
		if oldestChecked < 0 || row.Checked < oldestChecked {
			oldestChecked = row.Checked
		}
		if sum.EDIID == "" {
			sum.EDIID = row.EDIID
		}
		if sum.PDRID == "" {
			sum.PDRID = row.PDRID
		}
		return nil
	})
	if err != nil {
		return nil, &types.InventoryError{Op: fmt.Sprintf("summarize dataset %s", dsid), Err: err}
	}
	if oldestChecked > 0 {
		sum.Checked = oldestChecked
	}
	return sum, nil
}

// SummarizeContents returns a per-dataset summary over one volume, or
// the whole cache when volume is empty.
func (s *BoltInventory) SummarizeContents(volume string) ([]*types.DatasetSummary, error) {
	byDS := map[string]*types.DatasetSummary{}
	walk := func(vol, name string, row *objectRow) error {
		aip := types.ParseAIPID(row.ObjID)
		if aip.FilePath == "" {
			return nil
		}
		dsid := aip.DSID
		sum, ok := byDS[dsid]
		if !ok {
			sum = &types.DatasetSummary{DSID: dsid}
			byDS[dsid] = sum
		}
		sum.FileCount++
		if row.Size > 0 {
			sum.TotalSize += row.Size
		}
		if row.Since > sum.Since {
			sum.Since = row.Since
		}
		if sum.Checked == 0 || (row.Checked > 0 && row.Checked < sum.Checked) {
			sum.Checked = row.Checked
		}
		if sum.EDIID == "" {
			sum.EDIID = row.EDIID
		}
		if sum.PDRID == "" {
			sum.PDRID = row.PDRID
		}
		return nil
	}

	var err error
	if volume != "" {
		s.mu.RLock()
		_, registered := s.volumes[volume]
		s.mu.RUnlock()
		if !registered {
			return nil, &types.VolumeNotFoundError{Volume: volume}
		}
		err = s.forEachVolumeRow(volume, func(name string, row *objectRow) error {
			return walk(volume, name, row)
		})
	} else {
		err = s.forEachRow(walk)
	}
	if err != nil {
		return nil, &types.InventoryError{Op: "summarize contents", Err: err}
	}

	out := make([]*types.DatasetSummary, 0, len(byDS))
	for _, sum := range byDS {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DSID < out[j].DSID })
	return out, nil
}

// SelectObjectsToPurge returns eviction candidates from a volume:
// higher priority number first (less important), then oldest since,
// breaking ties on size descending. Objects with a live reference
// (nonzero refcount within the protection TTL) are excluded. The
// candidates are accumulated until their total size reaches need; if
// the volume cannot yield enough, the whole eligible set is returned.
func (s *BoltInventory) SelectObjectsToPurge(volume string, need int64) ([]*types.CacheObject, error) {
	s.mu.RLock()
	_, registered := s.volumes[volume]
	ttl := s.protectTTL
	s.mu.RUnlock()
	if !registered {
		return nil, &types.VolumeNotFoundError{Volume: volume}
	}

	now := time.Now().UnixMilli()
	type candidate struct {
		name string
		row  *objectRow
	}
	var cands []candidate
	err := s.forEachVolumeRow(volume, func(name string, row *objectRow) error {
		if row.RefCount > 0 && now-row.Since < ttl.Milliseconds() {
			return nil
		}
		cands = append(cands, candidate{name: name, row: row})
		return nil
	})
	if err != nil {
		return nil, &types.InventoryError{Op: fmt.Sprintf("select purge candidates in %s", volume), Err: err}
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i].row, cands[j].row
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Since != b.Since {
			return a.Since < b.Since
		}
		return a.Size > b.Size
	})

	var out []*types.CacheObject
	var total int64
	for _, c := range cands {
		if total >= need {
			break
		}
		out = append(out, s.toCacheObject(volume, c.name, c.row))
		if c.row.Size > 0 {
			total += c.row.Size
		}
	}
	return out, nil
}

// SelectDueForCheck returns up to max objects whose last check is at
// least the grace period old, oldest first. An empty volume name
// selects across all volumes.
func (s *BoltInventory) SelectDueForCheck(volume string, max int) ([]*types.CacheObject, error) {
	s.mu.RLock()
	grace := s.grace
	s.mu.RUnlock()

	cutoff := time.Now().Add(-grace).UnixMilli()
	var due []*types.CacheObject
	walk := func(vol, name string, row *objectRow) error {
		if row.Checked > cutoff {
			return nil
		}
		due = append(due, s.toCacheObject(vol, name, row))
		return nil
	}

	var err error
	if volume != "" {
		s.mu.RLock()
		_, registered := s.volumes[volume]
		s.mu.RUnlock()
		if !registered {
			return nil, &types.VolumeNotFoundError{Volume: volume}
		}
		err = s.forEachVolumeRow(volume, func(name string, row *objectRow) error {
			return walk(volume, name, row)
		})
	} else {
		err = s.forEachRow(walk)
	}
	if err != nil {
		return nil, &types.InventoryError{Op: "select due for check", Err: err}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].Checked < due[j].Checked })
	if max > 0 && len(due) > max {
		due = due[:max]
	}
	return due, nil
}

// forEachRow walks every live row across all volume sub-buckets.
func (s *BoltInventory) forEachRow(fn func(volume, name string, row *objectRow) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		return objects.ForEachBucket(func(volKey []byte) error {
			volume := string(volKey)
			b := objects.Bucket(volKey)
			return b.ForEach(func(k, v []byte) error {
				var row objectRow
				if err := json.Unmarshal(v, &row); err != nil {
					return err
				}
				return fn(volume, string(k), &row)
			})
		})
	})
}

// forEachVolumeRow walks the live rows of one volume.
func (s *BoltInventory) forEachVolumeRow(volume string, fn func(name string, row *objectRow) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects).Bucket([]byte(volume))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var row objectRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			return fn(string(k), &row)
		})
	})
}

// toCacheObject converts a stored row into the exported descriptor.
func (s *BoltInventory) toCacheObject(volume, name string, row *objectRow) *types.CacheObject {
	s.mu.RLock()
	alg := s.algsByID[row.AlgID]
	s.mu.RUnlock()
	return &types.CacheObject{
		ID:        row.ObjID,
		Name:      name,
		Volume:    volume,
		Size:      row.Size,
		Checksum:  row.Checksum,
		Algorithm: alg,
		Priority:  row.Priority,
		Since:     row.Since,
		Checked:   row.Checked,
		Metadata:  row.Metadata,
	}
}

// epochDate renders an epoch-ms timestamp as ISO-8601 UTC.
func epochDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// toInt64 coerces the numeric shapes JSON decoding can produce.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
