package integrity

import (
	"fmt"
	"io"
	"strings"

	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/volume"
)

// Check examines one cached object against the bytes its volume
// actually holds. A nil return means the object passed.
type Check interface {
	// Name identifies the check in logs.
	Name() string

	// Check reads the stored object and returns an IntegrityError if
	// it fails, nil if it passes.
	Check(obj *types.CacheObject, vol volume.CacheVolume) error
}

// ChecksumCheck verifies that the stored bytes still hash to the
// checksum recorded in the inventory.
type ChecksumCheck struct{}

func (ChecksumCheck) Name() string { return "checksum" }

func (ChecksumCheck) Check(obj *types.CacheObject, vol volume.CacheVolume) error {
	info, err := vol.Describe(obj.Name)
	if err != nil {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: fmt.Sprintf("unreadable: %v", err),
		}
	}
	if obj.Size >= 0 && info.Size != obj.Size {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: fmt.Sprintf("size changed: %d != %d", info.Size, obj.Size),
		}
	}
	if obj.Checksum != "" && !strings.EqualFold(info.Checksum, obj.Checksum) {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: "checksum mismatch",
		}
	}
	return nil
}

// SizeCheck verifies only that the object is present and its size
// matches the inventory. It reads the object through to count its
// bytes but computes no digest, so it is cheaper than ChecksumCheck;
// placed ahead of it, obviously-damaged objects fail before any hashing.
type SizeCheck struct{}

func (SizeCheck) Name() string { return "size" }

func (SizeCheck) Check(obj *types.CacheObject, vol volume.CacheVolume) error {
	ok, err := vol.Exists(obj.Name)
	if err != nil {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: fmt.Sprintf("unreadable: %v", err),
		}
	}
	if !ok {
		return &types.IntegrityError{ID: obj.ID, Volume: obj.Volume, Reason: "missing from volume"}
	}
	if obj.Size < 0 {
		return nil
	}
	r, err := vol.Get(obj.Name)
	if err != nil {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: fmt.Sprintf("unreadable: %v", err),
		}
	}
	defer r.Close()
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: fmt.Sprintf("unreadable: %v", err),
		}
	}
	if n != obj.Size {
		return &types.IntegrityError{
			ID:     obj.ID,
			Volume: obj.Volume,
			Reason: fmt.Sprintf("size changed: %d != %d", n, obj.Size),
		}
	}
	return nil
}
