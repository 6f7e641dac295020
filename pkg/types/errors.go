package types

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that an identifier has no backing in the archive
// or the inventory. It is surfaced to the caller and never retried.
var ErrNotFound = errors.New("object not found")

// ErrNoVolumeAvailable reports that no registered volume could
// accommodate an object, even after deletion planning.
var ErrNoVolumeAvailable = errors.New("no cache volume available")

// ErrQueueEmpty reports a pop from an empty restore queue.
var ErrQueueEmpty = errors.New("restore queue is empty")

// VolumeNotFoundError reports a reference to an unregistered volume.
type VolumeNotFoundError struct {
	Volume string
}

func (e *VolumeNotFoundError) Error() string {
	return fmt.Sprintf("volume not registered: %s", e.Volume)
}

// StorageVolumeError reports a transient I/O failure against a cache
// volume. The cache manager retries the operation once on an
// alternative volume before surfacing it.
type StorageVolumeError struct {
	Volume string
	Op     string
	Err    error
}

func (e *StorageVolumeError) Error() string {
	return fmt.Sprintf("volume %s: %s: %v", e.Volume, e.Op, e.Err)
}

func (e *StorageVolumeError) Unwrap() error { return e.Err }

// InventoryError reports a persistence failure in the storage
// inventory. It is always surfaced and never recovered locally.
type InventoryError struct {
	Op  string
	Err error
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("inventory: %s: %v", e.Op, e.Err)
}

func (e *InventoryError) Unwrap() error { return e.Err }

// RestorationError reports that an archive stream ended early or the
// restored bytes did not match their expected checksum. The partial
// object is removed before the error is surfaced.
type RestorationError struct {
	ID     string
	Reason string
}

func (e *RestorationError) Error() string {
	return fmt.Sprintf("restoring %s: %s", e.ID, e.Reason)
}

// IntegrityError reports that a cached object failed one of its
// integrity checks. It is handled locally by deleting the object.
type IntegrityError struct {
	ID     string
	Volume string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("object %s in volume %s failed integrity check: %s", e.ID, e.Volume, e.Reason)
}
