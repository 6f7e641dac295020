package cache

import (
	"fmt"

	"github.com/midden-io/midden/pkg/inventory"
	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/types"
	"github.com/rs/zerolog"
)

// DeletionPlanner selects eviction victims when a volume cannot fit a
// new object.
type DeletionPlanner struct {
	inv    inventory.Reader
	logger zerolog.Logger
}

// NewDeletionPlanner creates a planner over the given inventory.
func NewDeletionPlanner(inv inventory.Reader) *DeletionPlanner {
	return &DeletionPlanner{
		inv:    inv,
		logger: log.WithComponent("planner"),
	}
}

// Plan returns a victim set from the volume whose total size is at
// least need. Victims come back most-expendable first: higher priority
// number, then oldest, then largest. If the volume cannot yield enough
// eligible bytes, an error is returned and nothing is selected.
func (p *DeletionPlanner) Plan(volume string, need int64) ([]*types.CacheObject, error) {
	if need <= 0 {
		return nil, nil
	}
	victims, err := p.inv.SelectObjectsToPurge(volume, need)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, v := range victims {
		if v.Size > 0 {
			total += v.Size
		}
	}
	if total < need {
		return nil, fmt.Errorf("volume %s cannot free %d bytes (%d evictable): %w",
			volume, need, total, types.ErrNoVolumeAvailable)
	}
	p.logger.Debug().
		Str("volume", volume).
		Int64("need", need).
		Int("victims", len(victims)).
		Msg("Planned eviction")
	return victims, nil
}
