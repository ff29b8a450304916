package devices

import (
	"context"
	"errors"
	"testing"

	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/runner/runnertest"
)

const sampleReport = `{
   "blockdevices": [
      {"name":"nvme0n1", "rm":false, "size":512110190592, "model":"Samsung SSD 980", "type":"disk", "mountpoint":null},
      {"name":"sdb", "rm":true, "size":15938355200, "model":"Cruzer Blade    ", "type":"disk", "mountpoint":null},
      {"name":"sr0", "rm":true, "size":1073741312, "model":"DVD-RW", "type":"rom", "mountpoint":null},
      {"name":"sdc", "rm":"1", "size":"31914983424", "model":null, "type":"disk", "mountpoint":null},
      {"name":"sdd", "rm":true, "size":8000000000, "model":"Boot", "type":"disk", "mountpoint":"/"},
      {"name":"mmcblk0", "rm":1, "size":62537072640, "model":"SD", "type":"disk", "mountpoint":null}
   ]
}`

func newTestEnumerator(report string, mounts MountTable) (*Enumerator, *runnertest.Fake) {
	fake := runnertest.New()
	fake.Respond("lsblk", report)
	return NewEnumerator(fake, mounts, nil), fake
}

func names(devs []Device) []string {
	var out []string
	for _, d := range devs {
		out = append(out, d.Name)
	}
	return out
}

func TestListFiltersRemovableDisks(t *testing.T) {
	e, fake := newTestEnumerator(sampleReport, nil)

	devs := e.List(context.Background(), 16)

	want := []string{"sdb", "sdc", "mmcblk0"}
	got := names(devs)
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Device %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if devs[0].Model != "Cruzer Blade" {
		t.Errorf("Expected trimmed model, got %q", devs[0].Model)
	}
	if devs[1].Size != 31914983424 {
		t.Errorf("Expected string size to be parsed, got %d", devs[1].Size)
	}
	if devs[2].PartitionPath != "/dev/mmcblk0p1" {
		t.Errorf("Expected /dev/mmcblk0p1, got %s", devs[2].PartitionPath)
	}

	if fake.Commands()[0] != "lsblk -J -b -d -o NAME,RM,SIZE,MODEL,TYPE,MOUNTPOINT" {
		t.Errorf("Unexpected lsblk invocation: %s", fake.Commands()[0])
	}
}

func TestListHonorsLimit(t *testing.T) {
	e, _ := newTestEnumerator(sampleReport, nil)

	devs := e.List(context.Background(), 2)
	if len(devs) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devs))
	}
	if devs[0].Name != "sdb" || devs[1].Name != "sdc" {
		t.Errorf("Expected report order to be kept, got %v", names(devs))
	}
}

func TestListExcludesDisksWithMountedSystemPartitions(t *testing.T) {
	mounts := StaticMountTable{
		{Source: "/dev/sdc2", Target: "/boot"},
		{Source: "/dev/sdb1", Target: "/media/usb"},
	}
	e, _ := newTestEnumerator(sampleReport, mounts)

	got := names(e.List(context.Background(), 16))
	for _, name := range got {
		if name == "sdc" {
			t.Errorf("Expected sdc to be excluded, got %v", got)
		}
	}
	if len(got) != 2 {
		t.Errorf("Expected sdb and mmcblk0, got %v", got)
	}
}

func TestListEmptyOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*runnertest.Fake)
	}{
		{"lsblk fails", func(f *runnertest.Fake) { f.Fail("lsblk", 32) }},
		{"malformed report", func(f *runnertest.Fake) { f.Respond("lsblk", `{"blockdevices": [`) }},
		{"empty report", func(f *runnertest.Fake) { f.Respond("lsblk", "") }},
		{"wrong shape", func(f *runnertest.Fake) { f.Respond("lsblk", `{"blockdevices": [{"name": 7}]}`) }},
		{"no devices", func(f *runnertest.Fake) { f.Respond("lsblk", `{"blockdevices": []}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runnertest.New()
			tt.setup(fake)
			e := NewEnumerator(fake, nil, nil)
			if devs := e.List(context.Background(), 16); len(devs) != 0 {
				t.Errorf("Expected no devices, got %v", names(devs))
			}
		})
	}
}

func TestFind(t *testing.T) {
	e, _ := newTestEnumerator(sampleReport, nil)
	ctx := context.Background()

	dev, err := e.Find(ctx, "sdb")
	if err != nil {
		t.Fatalf("Find(sdb) error = %v", err)
	}
	if dev.Path != "/dev/sdb" || dev.PartitionPath != "/dev/sdb1" {
		t.Errorf("Unexpected device: %+v", dev)
	}

	dev, err = e.Find(ctx, "/dev/sdc")
	if err != nil {
		t.Fatalf("Find(/dev/sdc) error = %v", err)
	}
	if dev.Name != "sdc" {
		t.Errorf("Expected sdc, got %s", dev.Name)
	}
}

func TestFindNotFound(t *testing.T) {
	e, _ := newTestEnumerator(sampleReport, nil)

	for _, id := range []string{"nvme0n1", "sdd", "sr0", "sdz", "/dev/sd"} {
		_, err := e.Find(context.Background(), id)
		if !errors.Is(err, failure.ErrNotFound) {
			t.Errorf("Find(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestMountsOf(t *testing.T) {
	dev, _ := NewDevice("sdb")
	table := StaticMountTable{
		{Source: "/dev/sdb1", Target: "/media/a"},
		{Source: "/dev/sdb2", Target: "/media/b"},
		{Source: "/dev/sdba1", Target: "/media/c"},
		{Source: "/dev/sda1", Target: "/"},
	}

	mounts, err := MountsOf(table, dev)
	if err != nil {
		t.Fatalf("MountsOf() error = %v", err)
	}
	if len(mounts) != 2 {
		t.Fatalf("Expected 2 mounts, got %v", mounts)
	}
	if mounts[0].Target != "/media/a" || mounts[1].Target != "/media/b" {
		t.Errorf("Unexpected mounts: %v", mounts)
	}
}
