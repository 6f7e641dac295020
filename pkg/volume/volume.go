package volume

import (
	"io"
	"time"
)

// ObjectInfo describes a stored object as the volume sees it.
type ObjectInfo struct {
	Name     string
	Size     int64
	Checksum string
	Modified time.Time
}

// CacheVolume is an abstract byte store holding cached copies under
// flat names. Implementations must allow arbitrary concurrent readers;
// writers serialize per volume.
type CacheVolume interface {
	// Name returns the volume's registered name.
	Name() string

	// Save streams r into the volume under name, replacing any prior
	// content. It returns the byte count and the hex sha256 of what
	// was written.
	Save(name string, r io.Reader) (int64, string, error)

	// Get opens the stored bytes for reading.
	Get(name string) (io.ReadCloser, error)

	// Remove deletes the stored object. Removing a name that does
	// not exist is not an error.
	Remove(name string) error

	// Exists reports whether an object is stored under name.
	Exists(name string) (bool, error)

	// Describe returns the stored object's size and checksum.
	Describe(name string) (*ObjectInfo, error)
}
