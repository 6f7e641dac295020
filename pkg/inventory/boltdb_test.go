package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/midden-io/midden/pkg/types"
)

func newTestInventory(t *testing.T) *BoltInventory {
	t.Helper()
	inv, err := NewBoltInventory(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltInventory() error = %v", err)
	}
	t.Cleanup(func() { inv.Close() })
	return inv
}

func TestRegisterAlgorithm_Idempotent(t *testing.T) {
	inv := newTestInventory(t)

	if err := inv.RegisterAlgorithm("md5"); err != nil {
		t.Fatalf("RegisterAlgorithm() error = %v", err)
	}
	id := inv.algsByName["md5"]
	if err := inv.RegisterAlgorithm("md5"); err != nil {
		t.Fatalf("RegisterAlgorithm() second call error = %v", err)
	}
	if got := inv.algsByName["md5"]; got != id {
		t.Errorf("algorithm id changed on re-register: %d -> %d", id, got)
	}

	// sha256 is registered at open time
	if _, ok := inv.algsByName["sha256"]; !ok {
		t.Error("sha256 not registered by default")
	}
}

func TestRegisterVolume_Upsert(t *testing.T) {
	inv := newTestInventory(t)

	if err := inv.RegisterVolume("cv0", 1000, map[string]any{"priority": 2}); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	info, err := inv.GetVolumeInfo("cv0")
	if err != nil {
		t.Fatalf("GetVolumeInfo() error = %v", err)
	}
	firstID := inv.volumes["cv0"].ID
	if info.Capacity != 1000 || info.Priority != 2 {
		t.Errorf("got capacity=%d priority=%d, want 1000, 2", info.Capacity, info.Priority)
	}

	// re-register with new capacity and metadata
	if err := inv.RegisterVolume("cv0", 5000, map[string]any{"priority": 4, "status": "FOR_GET"}); err != nil {
		t.Fatalf("RegisterVolume() upsert error = %v", err)
	}
	info, err = inv.GetVolumeInfo("cv0")
	if err != nil {
		t.Fatalf("GetVolumeInfo() after upsert error = %v", err)
	}
	if info.Capacity != 5000 || info.Priority != 4 || info.Status != types.VolumeForGet {
		t.Errorf("upsert not applied: %+v", info)
	}
	if inv.volumes["cv0"].ID != firstID {
		t.Errorf("volume id changed on upsert: %d -> %d", firstID, inv.volumes["cv0"].ID)
	}
}

func TestGetVolumeInfo_Unregistered(t *testing.T) {
	inv := newTestInventory(t)
	_, err := inv.GetVolumeInfo("nope")
	var vnf *types.VolumeNotFoundError
	if !errors.As(err, &vnf) {
		t.Errorf("GetVolumeInfo() error = %v, want VolumeNotFoundError", err)
	}
}

func TestAddObject_ReplacesAtCoordinate(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}

	first, err := inv.AddObject("mds2-2119/a.txt", "cv0", "mds2-2119/a.txt", map[string]any{
		"size": 40, "priority": 5,
	})
	if err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if first.Size != 40 || first.Priority != 5 || first.Checked != 0 {
		t.Errorf("lifted fields wrong: %+v", first)
	}

	time.Sleep(2 * time.Millisecond)
	second, err := inv.AddObject("mds2-2119/a.txt", "cv0", "mds2-2119/a.txt", map[string]any{
		"size": 60,
	})
	if err != nil {
		t.Fatalf("AddObject() replace error = %v", err)
	}
	if second.Since <= first.Since {
		t.Errorf("since did not advance: %d -> %d", first.Since, second.Since)
	}

	rows, err := inv.FindObject("mds2-2119/a.txt")
	if err != nil {
		t.Fatalf("FindObject() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows at coordinate, want 1", len(rows))
	}
	if rows[0].Size != 60 {
		t.Errorf("row not replaced: size = %d, want 60", rows[0].Size)
	}
}

func TestAddObject_UnregisteredVolume(t *testing.T) {
	inv := newTestInventory(t)
	_, err := inv.AddObject("id", "nope", "id", nil)
	var vnf *types.VolumeNotFoundError
	if !errors.As(err, &vnf) {
		t.Errorf("AddObject() error = %v, want VolumeNotFoundError", err)
	}
}

func TestAddObject_LazyAlgorithmRegistration(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	obj, err := inv.AddObject("x", "cv0", "x", map[string]any{
		"checksum": "abc", "checksumAlgorithm": "sha512",
	})
	if err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if obj.Algorithm != "sha512" {
		t.Errorf("algorithm = %q, want sha512", obj.Algorithm)
	}
	if _, ok := inv.algsByName["sha512"]; !ok {
		t.Error("sha512 was not registered lazily")
	}
}

func TestFindObject_VolumeFilter(t *testing.T) {
	inv := newTestInventory(t)
	for _, v := range []string{"cv0", "cv1"} {
		if err := inv.RegisterVolume(v, 1000, nil); err != nil {
			t.Fatalf("RegisterVolume(%s) error = %v", v, err)
		}
	}
	for _, v := range []string{"cv0", "cv1"} {
		if _, err := inv.AddObject("ds/f.txt", v, "ds/f.txt", nil); err != nil {
			t.Fatalf("AddObject() error = %v", err)
		}
	}

	all, err := inv.FindObject("ds/f.txt")
	if err != nil {
		t.Fatalf("FindObject() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d copies, want 2", len(all))
	}

	one, err := inv.FindObject("ds/f.txt", "cv1")
	if err != nil {
		t.Fatalf("FindObject(volume) error = %v", err)
	}
	if len(one) != 1 || one[0].Volume != "cv1" {
		t.Errorf("volume filter failed: %+v", one)
	}
}

func TestRemoveObject(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	if _, err := inv.AddObject("ds/f", "cv0", "ds/f", nil); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if err := inv.RemoveObject("cv0", "ds/f"); err != nil {
		t.Fatalf("RemoveObject() error = %v", err)
	}
	rows, _ := inv.FindObject("ds/f")
	if len(rows) != 0 {
		t.Errorf("row still live after remove: %+v", rows)
	}

	var vnf *types.VolumeNotFoundError
	if err := inv.RemoveObject("nope", "ds/f"); !errors.As(err, &vnf) {
		t.Errorf("RemoveObject(unregistered) error = %v, want VolumeNotFoundError", err)
	}
}

func TestGetVolumeTotals(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	if _, err := inv.AddObject("ds/a", "cv0", "ds/a", map[string]any{"size": 30}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if _, err := inv.AddObject("ds/b", "cv0", "ds/b", map[string]any{"size": 50}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}

	totals, err := inv.GetVolumeTotals("cv0")
	if err != nil {
		t.Fatalf("GetVolumeTotals() error = %v", err)
	}
	if totals.FileCount != 2 || totals.TotalSize != 80 {
		t.Errorf("totals = %+v, want filecount=2 totalsize=80", totals)
	}
	if totals.Since == 0 || totals.SinceDate == "" {
		t.Errorf("since not populated: %+v", totals)
	}
	if totals.Checked != 0 {
		t.Errorf("checked = %d for never-checked rows, want 0", totals.Checked)
	}
}

func TestSelectObjectsLikeID_StatusFilter(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("pub", 1000, map[string]any{"status": "FOR_UPDATE"}); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	if err := inv.RegisterVolume("cold", 1000, map[string]any{"status": "FOR_INFO"}); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	if _, err := inv.AddObject("mds2-2119/a", "pub", "mds2-2119/a", nil); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if _, err := inv.AddObject("mds2-2119/b", "cold", "mds2-2119/b", nil); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}

	got, err := inv.SelectObjectsLikeID("mds2-2119/%", types.VolumeForGet)
	if err != nil {
		t.Fatalf("SelectObjectsLikeID() error = %v", err)
	}
	if len(got) != 1 || got[0].Volume != "pub" {
		t.Errorf("status filter failed: %+v", got)
	}

	got, err = inv.SelectObjectsLikeID("mds2-2119/%", types.VolumeForInfo)
	if err != nil {
		t.Fatalf("SelectObjectsLikeID() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d objects at FOR_INFO, want 2", len(got))
	}
}

func TestSelectObjectsToPurge_Ordering(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 100, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	// one object of size 80 priority 10, one of size 20 priority 5
	if _, err := inv.AddObject("ds/big", "cv0", "ds/big", map[string]any{"size": 80, "priority": 10}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if _, err := inv.AddObject("ds/small", "cv0", "ds/small", map[string]any{"size": 20, "priority": 5}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}

	// need 30 bytes: the priority-10 object alone satisfies it
	victims, err := inv.SelectObjectsToPurge("cv0", 30)
	if err != nil {
		t.Fatalf("SelectObjectsToPurge() error = %v", err)
	}
	if len(victims) != 1 || victims[0].ID != "ds/big" {
		t.Errorf("victims = %+v, want just ds/big", victims)
	}
}

func TestSelectObjectsToPurge_RefcountProtection(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 100, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	if _, err := inv.AddObject("ds/pinned", "cv0", "ds/pinned", map[string]any{"size": 80, "refcount": 1}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if _, err := inv.AddObject("ds/loose", "cv0", "ds/loose", map[string]any{"size": 20}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}

	victims, err := inv.SelectObjectsToPurge("cv0", 10)
	if err != nil {
		t.Fatalf("SelectObjectsToPurge() error = %v", err)
	}
	for _, v := range victims {
		if v.ID == "ds/pinned" {
			t.Error("referenced object selected for eviction")
		}
	}
}

func TestSelectDueForCheck(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	if _, err := inv.AddObject("ds/a", "cv0", "ds/a", nil); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}
	if _, err := inv.AddObject("ds/b", "cv0", "ds/b", nil); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}

	// never-checked objects are always due
	due, err := inv.SelectDueForCheck("cv0", 10)
	if err != nil {
		t.Fatalf("SelectDueForCheck() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due, want 2", len(due))
	}

	// freshly checked objects fall out of the due set
	if err := inv.SetChecked("cv0", "ds/a", time.Now().UnixMilli()); err != nil {
		t.Fatalf("SetChecked() error = %v", err)
	}
	due, err = inv.SelectDueForCheck("cv0", 10)
	if err != nil {
		t.Fatalf("SelectDueForCheck() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "ds/b" {
		t.Errorf("due = %+v, want just ds/b", due)
	}

	// a tiny grace period makes everything due again
	inv.SetCheckGracePeriod(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	due, err = inv.SelectDueForCheck("cv0", 1)
	if err != nil {
		t.Fatalf("SelectDueForCheck() error = %v", err)
	}
	if len(due) != 1 {
		t.Errorf("max not honored: got %d due", len(due))
	}
}

func TestSummarizeDataset(t *testing.T) {
	inv := newTestInventory(t)
	if err := inv.RegisterVolume("cv0", 1000, nil); err != nil {
		t.Fatalf("RegisterVolume() error = %v", err)
	}
	meta := map[string]any{"size": 10, "ediid": "ark:/88434/mds2-2119"}
	for _, f := range []string{"a", "b", "c"} {
		if _, err := inv.AddObject("mds2-2119/"+f, "cv0", "mds2-2119/"+f, meta); err != nil {
			t.Fatalf("AddObject() error = %v", err)
		}
	}
	if _, err := inv.AddObject("other-ds/x", "cv0", "other-ds/x", map[string]any{"size": 99}); err != nil {
		t.Fatalf("AddObject() error = %v", err)
	}

	sum, err := inv.SummarizeDataset("mds2-2119")
	if err != nil {
		t.Fatalf("SummarizeDataset() error = %v", err)
	}
	if sum.FileCount != 3 || sum.TotalSize != 30 {
		t.Errorf("summary = %+v, want filecount=3 totalsize=30", sum)
	}
	if sum.EDIID != "ark:/88434/mds2-2119" {
		t.Errorf("ediid not lifted: %q", sum.EDIID)
	}

	contents, err := inv.SummarizeContents("")
	if err != nil {
		t.Fatalf("SummarizeContents() error = %v", err)
	}
	if len(contents) != 2 {
		t.Errorf("got %d dataset summaries, want 2", len(contents))
	}
}
