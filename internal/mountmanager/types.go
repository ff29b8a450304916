package mountmanager

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/runner"
)

// Partition is an entry of a device's existing partition table.
type Partition struct {
	Device string
	Number int
	Size   string
	Type   string
}

type SfdiskPartition struct {
	Node  string `json:"node"`
	Start int64  `json:"start"`
	Size  int64  `json:"size"`
	Type  string `json:"type"`
}

type SfdiskPartitionTable struct {
	Label      string            `json:"label"`
	ID         string            `json:"id"`
	Device     string            `json:"device"`
	Unit       string            `json:"unit"`
	SectorSize int64             `json:"sectorsize"`
	Partitions []SfdiskPartition `json:"partitions"`
}

type SfdiskOutput struct {
	PartitionTable SfdiskPartitionTable `json:"partitiontable"`
}

// MountManager mounts images and target partitions on private mount points
// and releases them again.
type MountManager struct {
	runner runner.Runner
	table  devices.MountTable
	fs     afero.Fs
	logger *logrus.Entry
}
