package main

import (
	"fmt"
	"os"

	"github.com/midden-io/midden/pkg/cache"
	"github.com/midden-io/midden/pkg/config"
	"github.com/midden-io/midden/pkg/events"
	"github.com/midden-io/midden/pkg/inventory"
	"github.com/midden-io/midden/pkg/restorer"
	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/volume"
	"github.com/midden-io/midden/pkg/worker"
	"github.com/spf13/cobra"
)

// headbagVolumeName is the staging volume head manifests live in. It
// is registered in the inventory but kept out of data placement.
const headbagVolumeName = "headbags"

// stack is the wired-up cache: everything a command needs.
type stack struct {
	cfg      *config.Config
	inv      *inventory.BoltInventory
	vols     map[string]volume.CacheVolume
	headbags volume.CacheVolume
	rest     *restorer.BagRestorer
	queue    *worker.Queue
	cache    *cache.BasicCache
	broker   *events.Notifier
}

func (s *stack) close() {
	s.broker.Close()
	s.inv.Close()
}

// buildStack assembles the cache from configuration.
func buildStack(cmd *cobra.Command) (*stack, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	inv, err := inventory.NewBoltInventory(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	inv.SetCheckGracePeriod(cfg.Monitor.GracePeriod)

	vols := make(map[string]volume.CacheVolume, len(cfg.Volumes))
	for _, vc := range cfg.Volumes {
		capacity, err := vc.CapacityBytes()
		if err != nil {
			inv.Close()
			return nil, err
		}
		status, err := vc.VolumeStatus()
		if err != nil {
			inv.Close()
			return nil, err
		}
		roles, err := vc.RolesMask()
		if err != nil {
			inv.Close()
			return nil, err
		}
		lv, err := volume.NewLocalVolume(vc.Name, vc.Path)
		if err != nil {
			inv.Close()
			return nil, err
		}
		meta := map[string]any{
			"priority": vc.Priority,
			"status":   int(status),
			"roles":    roles,
		}
		if err := inv.RegisterVolume(vc.Name, capacity, meta); err != nil {
			inv.Close()
			return nil, err
		}
		vols[vc.Name] = lv
	}

	headbags, err := volume.NewLocalVolume(headbagVolumeName, cfg.HeadbagDir)
	if err != nil {
		inv.Close()
		return nil, err
	}
	if err := inv.RegisterVolume(headbagVolumeName, 1<<30, map[string]any{
		"priority": 1,
		"status":   int(types.VolumeForUpdate),
	}); err != nil {
		inv.Close()
		return nil, err
	}

	bags, err := restorer.NewFSBagStore(cfg.ArchiveDir)
	if err != nil {
		inv.Close()
		return nil, err
	}
	rest := restorer.NewBagRestorer(bags, headbags, inv)

	queue, err := worker.NewQueue(cfg.QueueFile)
	if err != nil {
		inv.Close()
		return nil, err
	}

	broker := events.NewNotifier()

	basic, err := cache.New(cache.Config{
		Inventory: inv,
		Volumes:   vols,
		Restorer:  rest,
		Queue:     queue,
		Events:    broker,
	})
	if err != nil {
		broker.Close()
		inv.Close()
		return nil, err
	}

	return &stack{
		cfg:      cfg,
		inv:      inv,
		vols:     vols,
		headbags: headbags,
		rest:     rest,
		queue:    queue,
		cache:    basic,
		broker:   broker,
	}, nil
}
