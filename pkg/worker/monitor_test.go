package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/midden-io/midden/pkg/integrity"
	"github.com/midden-io/midden/pkg/inventory"
	"github.com/midden-io/midden/pkg/volume"
)

func monitorFixture(t *testing.T) (*integrity.Monitor, *inventory.BoltInventory, *volume.LocalVolume, string) {
	t.Helper()
	inv, err := inventory.NewBoltInventory(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltInventory() error = %v", err)
	}
	t.Cleanup(func() { inv.Close() })
	dir := t.TempDir()
	vol, err := volume.NewLocalVolume("cv0", dir)
	if err != nil {
		t.Fatalf("NewLocalVolume() error = %v", err)
	}
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	mon := integrity.NewMonitor(inv, map[string]volume.CacheVolume{"cv0": vol}, []integrity.Check{integrity.ChecksumCheck{}})
	return mon, inv, vol, dir
}

func seed(t *testing.T, inv *inventory.BoltInventory, vol *volume.LocalVolume, id, content string) {
	t.Helper()
	n, sum, err := vol.Save(id, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	meta := map[string]any{"size": n, "checksum": sum, "checksumAlgorithm": "sha256"}
	if _, err := inv.AddObject(id, "cv0", id, meta); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
}

func TestMonitorWorker_NextCycleStart(t *testing.T) {
	w := NewMonitorWorker(nil, nil, filepath.Join(t.TempDir(), "status.json"))
	w.DutyCycle = 30 * time.Minute

	now := time.Date(2026, 3, 14, 10, 12, 0, 0, time.UTC)
	next := w.nextCycleStart(now)
	want := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextCycleStart(%v) = %v, want %v", now, next, want)
	}

	// a start offset shifts the anchor away from midnight
	w.StartOffset = 10 * time.Minute
	next = w.nextCycleStart(now)
	want = time.Date(2026, 3, 14, 10, 40, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("with offset: nextCycleStart(%v) = %v, want %v", now, next, want)
	}

	// a zero duty cycle must not wedge the scheduler
	w.DutyCycle = 0
	w.StartOffset = 0
	next = w.nextCycleStart(now)
	if !next.After(now) {
		t.Errorf("guarded nextCycleStart(%v) = %v, want a future time", now, next)
	}
}

func TestMonitorWorker_CycleWritesStatus(t *testing.T) {
	mon, inv, vol, dir := monitorFixture(t)
	seed(t, inv, vol, "ds/good", "fine")
	seed(t, inv, vol, "ds/bad", "was fine")
	if err := os.WriteFile(filepath.Join(dir, "ds", "bad"), []byte("corrupted"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	statusPath := filepath.Join(t.TempDir(), "status.json")
	w := NewMonitorWorker(mon, nil, statusPath)

	if err := w.RunCycle(); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	status, err := w.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.FileCount != 2 {
		t.Errorf("filecount = %d, want 2", status.FileCount)
	}
	if len(status.Deleted) != 1 || status.Deleted[0] != "ds/bad" {
		t.Errorf("deleted = %v, want [ds/bad]", status.Deleted)
	}
	if status.LastRan == 0 || status.LastRanDate == "" {
		t.Errorf("lastRan not recorded: %+v", status)
	}
	if status.Running {
		t.Error("running = true outside a sweep")
	}

	// every selected object was either deleted or freshly checked
	rows, _ := inv.FindObject("ds/good")
	if len(rows) != 1 || rows[0].Checked < status.LastRan {
		t.Errorf("surviving object not re-checked: %+v", rows)
	}
	rows, _ = inv.FindObject("ds/bad")
	if len(rows) != 0 {
		t.Error("corrupted object survived the cycle")
	}
}

func TestMonitorWorker_SecondCycleIdles(t *testing.T) {
	mon, inv, vol, _ := monitorFixture(t)
	seed(t, inv, vol, "ds/a", "content")

	statusPath := filepath.Join(t.TempDir(), "status.json")
	w := NewMonitorWorker(mon, nil, statusPath)

	if err := w.RunCycle(); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	// everything was just checked; within the grace period the next
	// cycle finds nothing due
	if err := w.RunCycle(); err != nil {
		t.Fatalf("RunCycle() second error = %v", err)
	}
	status, err := w.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.FileCount != 0 {
		t.Errorf("second cycle examined %d objects, want 0", status.FileCount)
	}
}

func TestMonitorWorker_StopAtSleepBoundary(t *testing.T) {
	mon, _, _, _ := monitorFixture(t)
	w := NewMonitorWorker(mon, nil, filepath.Join(t.TempDir(), "status.json"))
	w.DutyCycle = time.Hour

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return w.State() == MonitorSleeping })

	w.Stop()
	if got := w.State(); got != MonitorExited {
		t.Errorf("state after Stop() = %v, want exited", got)
	}

	// an exited worker can be replaced by a fresh one
	if err := w.Start(); err != nil {
		t.Errorf("Start() after exit error = %v", err)
	}
	w.Stop()
}
