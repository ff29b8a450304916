// Package layout inspects the partition table written to a boot drive.
package layout

import (
	"errors"
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/gpt"
)

var ErrUnexpectedLayout = errors.New("unexpected partition layout")

// Report describes what was found on the device.
type Report struct {
	TableType  string
	Partitions int
	ESP        bool
	Start      int64
	Size       int64
	FAT32      bool
}

func (r Report) String() string {
	return fmt.Sprintf("%s table, %d partition(s), esp=%t, start=%d, size=%d, fat32=%t",
		r.TableType, r.Partitions, r.ESP, r.Start, r.Size, r.FAT32)
}

// Inspect opens devicePath read-only and describes its partition table.
func Inspect(devicePath string) (Report, error) {
	var report Report

	d, err := diskfs.Open(devicePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return report, fmt.Errorf("failed to open %s: %w", devicePath, err)
	}
	defer d.Close()

	table, err := d.GetPartitionTable()
	if err != nil {
		return report, fmt.Errorf("failed to read partition table of %s: %w", devicePath, err)
	}
	report.TableType = table.Type()

	gptTable, ok := table.(*gpt.Table)
	if !ok {
		return report, nil
	}

	var esp *gpt.Partition
	for _, p := range gptTable.Partitions {
		if p == nil || p.Type == gpt.Unused {
			continue
		}
		report.Partitions++
		if esp == nil && p.Type == gpt.EFISystemPartition {
			esp = p
		}
	}
	if esp != nil {
		report.ESP = true
		report.Start = int64(esp.Start) * int64(gptTable.LogicalSectorSize)
		report.Size = int64(esp.End-esp.Start+1) * int64(gptTable.LogicalSectorSize)
	}

	if fs, err := d.GetFilesystem(1); err == nil {
		report.FAT32 = fs.Type() == filesystem.TypeFat32
	}

	return report, nil
}

// Verify checks that devicePath carries a GPT with a single EFI System
// partition.
func Verify(devicePath string) (Report, error) {
	report, err := Inspect(devicePath)
	if err != nil {
		return report, err
	}
	switch {
	case report.TableType != "gpt":
		return report, fmt.Errorf("%w: %s has a %q partition table", ErrUnexpectedLayout, devicePath, report.TableType)
	case report.Partitions != 1:
		return report, fmt.Errorf("%w: %s has %d partitions", ErrUnexpectedLayout, devicePath, report.Partitions)
	case !report.ESP:
		return report, fmt.Errorf("%w: %s has no EFI System partition", ErrUnexpectedLayout, devicePath)
	}
	return report, nil
}
