package restorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/midden-io/midden/pkg/types"
)

// Manifest is the head-bag record enumerating one archived version of
// a dataset.
type Manifest struct {
	DSID    string         `json:"aipid"`
	Version string         `json:"version"`
	EDIID   string         `json:"ediid,omitempty"`
	PDRID   string         `json:"pdrid,omitempty"`
	Files   []ManifestFile `json:"files"`
}

// ManifestFile describes one member file of an archived dataset.
type ManifestFile struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

// File looks up a member by its dataset-relative path.
func (m *Manifest) File(path string) (*ManifestFile, bool) {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i], true
		}
	}
	return nil, false
}

// BagStore is the archival backend the restorer reads from. Bags are
// organized per dataset version; the head manifest enumerates the
// version's member files.
type BagStore interface {
	// Versions lists the archived versions of a dataset, oldest
	// first. A dataset with no archived versions yields an empty
	// list, not an error.
	Versions(ctx context.Context, dsid string) ([]string, error)

	// OpenManifest streams the head manifest of one dataset version.
	OpenManifest(ctx context.Context, dsid, version string) (io.ReadCloser, error)

	// Open streams one archived member file.
	Open(ctx context.Context, dsid, version, path string) (io.ReadCloser, error)
}

// FSBagStore implements BagStore on a local directory, laid out as
// <root>/<dsid>/<version>/manifest.json plus member files under
// <root>/<dsid>/<version>/data/.
type FSBagStore struct {
	root string
}

// NewFSBagStore opens a filesystem bag archive rooted at dir.
func NewFSBagStore(dir string) (*FSBagStore, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("bag archive root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("bag archive root %s is not a directory", dir)
	}
	return &FSBagStore{root: dir}, nil
}

// Versions lists the archived versions of a dataset, oldest first.
func (s *FSBagStore) Versions(ctx context.Context, dsid string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dsid))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", dsid, err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) < 0
	})
	return versions, nil
}

// OpenManifest streams the head manifest of one dataset version.
func (s *FSBagStore) OpenManifest(ctx context.Context, dsid, version string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, dsid, version, "manifest.json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("manifest for %s#%s: %w", dsid, version, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening manifest for %s#%s: %w", dsid, version, err)
	}
	return f, nil
}

// Open streams one archived member file.
func (s *FSBagStore) Open(ctx context.Context, dsid, version, path string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("illegal member path: %s", path)
	}
	f, err := os.Open(filepath.Join(s.root, dsid, version, "data", clean))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s/%s#%s: %w", dsid, path, version, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s/%s#%s: %w", dsid, path, version, err)
	}
	return f, nil
}

// WriteManifest records a manifest into the archive. Used by tooling
// and tests that assemble archives.
func (s *FSBagStore) WriteManifest(m *Manifest) error {
	dir := filepath.Join(s.root, m.DSID, m.Version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0644)
}

// WriteMember records a member file into the archive. Used by tooling
// and tests that assemble archives.
func (s *FSBagStore) WriteMember(dsid, version, path string, data []byte) error {
	dest := filepath.Join(s.root, dsid, version, "data", filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

// compareVersions orders dotted version strings numerically where the
// segments are numeric, falling back to string order.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if as[i] != bs[i] {
			return strings.Compare(as[i], bs[i])
		}
	}
	return len(as) - len(bs)
}
