package volume

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/midden-io/midden/pkg/types"
)

// LocalVolume implements CacheVolume on a local filesystem directory.
// Object names may contain slashes; they map to paths under the root.
// Saves write to a temp file and rename into place so readers never
// observe a partial object.
type LocalVolume struct {
	name string
	root string
	mu   sync.Mutex
}

// NewLocalVolume creates a filesystem-backed cache volume rooted at
// dir, creating the directory if needed.
func NewLocalVolume(name, dir string) (*LocalVolume, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volume directory: %w", err)
	}
	return &LocalVolume{name: name, root: dir}, nil
}

// Name returns the volume's registered name.
func (v *LocalVolume) Name() string { return v.name }

// pathFor maps an object name to its on-disk path, rejecting names
// that would escape the volume root.
func (v *LocalVolume) pathFor(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("illegal object name: %s", name)
	}
	return filepath.Join(v.root, clean), nil
}

// Save streams r into the volume under name, computing the sha256 of
// the bytes en route.
func (v *LocalVolume) Save(name string, r io.Reader) (int64, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	dest, err := v.pathFor(name)
	if err != nil {
		return 0, "", &types.StorageVolumeError{Volume: v.name, Op: "save", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, "", &types.StorageVolumeError{Volume: v.name, Op: "save", Err: err}
	}

	tmp := filepath.Join(v.root, ".incoming-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return 0, "", &types.StorageVolumeError{Volume: v.name, Op: "save", Err: err}
	}

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hash), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return n, "", &types.StorageVolumeError{Volume: v.name, Op: "save", Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return n, "", &types.StorageVolumeError{Volume: v.name, Op: "save", Err: err}
	}
	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

// Get opens the stored bytes for reading.
func (v *LocalVolume) Get(name string) (io.ReadCloser, error) {
	path, err := v.pathFor(name)
	if err != nil {
		return nil, &types.StorageVolumeError{Volume: v.name, Op: "get", Err: err}
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s in volume %s: %w", name, v.name, types.ErrNotFound)
	}
	if err != nil {
		return nil, &types.StorageVolumeError{Volume: v.name, Op: "get", Err: err}
	}
	return f, nil
}

// Remove deletes the stored object; absent names are not an error.
func (v *LocalVolume) Remove(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	path, err := v.pathFor(name)
	if err != nil {
		return &types.StorageVolumeError{Volume: v.name, Op: "remove", Err: err}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &types.StorageVolumeError{Volume: v.name, Op: "remove", Err: err}
	}
	return nil
}

// Exists reports whether an object is stored under name.
func (v *LocalVolume) Exists(name string) (bool, error) {
	path, err := v.pathFor(name)
	if err != nil {
		return false, &types.StorageVolumeError{Volume: v.name, Op: "exists", Err: err}
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &types.StorageVolumeError{Volume: v.name, Op: "exists", Err: err}
	}
	return true, nil
}

// Describe returns the stored object's size, modification time, and a
// freshly computed checksum.
func (v *LocalVolume) Describe(name string) (*ObjectInfo, error) {
	path, err := v.pathFor(name)
	if err != nil {
		return nil, &types.StorageVolumeError{Volume: v.name, Op: "describe", Err: err}
	}
	st, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s in volume %s: %w", name, v.name, types.ErrNotFound)
	}
	if err != nil {
		return nil, &types.StorageVolumeError{Volume: v.name, Op: "describe", Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &types.StorageVolumeError{Volume: v.name, Op: "describe", Err: err}
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, &types.StorageVolumeError{Volume: v.name, Op: "describe", Err: err}
	}

	return &ObjectInfo{
		Name:     name,
		Size:     st.Size(),
		Checksum: hex.EncodeToString(hash.Sum(nil)),
		Modified: st.ModTime(),
	}, nil
}
