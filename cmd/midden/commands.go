package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/midden-io/midden/pkg/integrity"
	"github.com/midden-io/midden/pkg/log"
	"github.com/midden-io/midden/pkg/types"
	"github.com/midden-io/midden/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache with its background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		logger := log.WithComponent("serve")

		checks := []integrity.Check{integrity.ChecksumCheck{}}
		dataMon := integrity.NewMonitor(s.inv, s.vols, checks)
		headMon, err := s.rest.IntegrityMonitorFor(checks)
		if err != nil {
			return err
		}

		monitor := worker.NewMonitorWorker(dataMon, headMon, s.cfg.StatusFile)
		if s.cfg.Monitor.DutyCycle > 0 {
			monitor.DutyCycle = s.cfg.Monitor.DutyCycle
		}
		monitor.StartOffset = s.cfg.Monitor.StartOffset
		if err := monitor.Start(); err != nil {
			return err
		}

		cacher := worker.NewCacher(s.queue, s.cache)
		if err := cacher.Start(); err != nil {
			monitor.Stop()
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().
			Str("metrics", s.cfg.MetricsAddr).
			Int("volumes", len(s.vols)).
			Msg("Cache is up")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		cacher.Stop()
		monitor.Stop()
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache <aipid>",
	Short: "Cache a file or a whole dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		recache, _ := cmd.Flags().GetBool("recache")
		id := args[0]
		aip := types.ParseAIPID(id)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if aip.IsDataset() {
			names, err := s.cache.CacheDataset(ctx, aip.DSID, aip.Version, recache, 0, "")
			if err != nil {
				return err
			}
			fmt.Printf("Cached %d files of %s\n", len(names), aip.DSID)
			return nil
		}
		obj, err := s.cache.Cache(ctx, id, recache, 0)
		if err != nil {
			return err
		}
		fmt.Printf("Cached %s in volume %s (%d bytes)\n", obj.ID, obj.Volume, obj.Size)
		return nil
	},
}

var uncacheCmd = &cobra.Command{
	Use:   "uncache <aipid>",
	Short: "Remove all cached copies of an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.cache.Uncache(args[0]); err != nil {
			return err
		}
		fmt.Printf("Uncached %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache contents and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		summaries, err := s.cache.Summarize()
		if err != nil {
			return err
		}
		fmt.Printf("%-28s %10s %14s\n", "DATASET", "FILES", "BYTES")
		for _, sum := range summaries {
			fmt.Printf("%-28s %10d %14d\n", sum.DSID, sum.FileCount, sum.TotalSize)
		}

		entries, err := s.queue.Load()
		if err != nil {
			return err
		}
		fmt.Printf("\nPending restore requests: %d\n", len(entries))
		for _, e := range entries {
			fmt.Printf("  %s (recache=%v)\n", e.ID, e.Recache)
		}
		return nil
	},
}

var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "Show per-volume occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		names, err := s.inv.VolumeNames()
		if err != nil {
			return err
		}
		sort.Strings(names)
		fmt.Printf("%-16s %-12s %10s %14s %14s\n", "VOLUME", "STATUS", "FILES", "USED", "CAPACITY")
		for _, name := range names {
			info, err := s.inv.GetVolumeInfo(name)
			if err != nil {
				return err
			}
			totals, err := s.inv.GetVolumeTotals(name)
			if err != nil {
				return err
			}
			fmt.Printf("%-16s %-12s %10d %14d %14d\n",
				name, info.Status, totals.FileCount, totals.TotalSize, info.Capacity)
		}
		return nil
	},
}

func init() {
	cacheCmd.Flags().Bool("recache", false, "Replace existing cached copies")
}
