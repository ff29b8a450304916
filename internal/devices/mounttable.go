package devices

import (
	"github.com/shirou/gopsutil/v3/disk"
)

type Mount struct {
	Source string
	Target string
}

// MountTable lists the filesystems currently mounted on the host.
type MountTable interface {
	Mounts() ([]Mount, error)
}

// SystemMountTable reads the live mount table.
type SystemMountTable struct{}

func (SystemMountTable) Mounts() ([]Mount, error) {
	partitions, err := disk.Partitions(true)
	if err != nil {
		return nil, err
	}
	mounts := make([]Mount, 0, len(partitions))
	for _, p := range partitions {
		mounts = append(mounts, Mount{Source: p.Device, Target: p.Mountpoint})
	}
	return mounts, nil
}

// MountsOf returns the mounts whose source is the device itself or one of
// its partitions.
func MountsOf(table MountTable, dev Device) ([]Mount, error) {
	mounts, err := table.Mounts()
	if err != nil {
		return nil, err
	}
	var owned []Mount
	for _, m := range mounts {
		if m.Source == dev.Path || dev.Owns(m.Source) {
			owned = append(owned, m)
		}
	}
	return owned, nil
}

// StaticMountTable is a fixed MountTable.
type StaticMountTable []Mount

func (t StaticMountTable) Mounts() ([]Mount, error) {
	return t, nil
}
