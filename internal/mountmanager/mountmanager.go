package mountmanager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/runner"
)

func New(r runner.Runner, table devices.MountTable, fs afero.Fs, logger *logrus.Logger) *MountManager {
	if logger == nil {
		logger = logrus.New()
	}
	if table == nil {
		table = devices.SystemMountTable{}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &MountManager{
		runner: r,
		table:  table,
		fs:     fs,
		logger: logger.WithField("component", "mountmanager"),
	}
}

func (mm *MountManager) ensureDir(dir string) error {
	if err := mm.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mount point %s: %w", dir, err)
	}
	return nil
}

// MountImage loop-mounts an image file read-only at dir.
func (mm *MountManager) MountImage(ctx context.Context, image, dir string) error {
	if err := mm.ensureDir(dir); err != nil {
		return fmt.Errorf("%w: %w", failure.ErrMountFailed, err)
	}
	if err := runner.Checked(ctx, mm.runner, mm.logger, "mount", "-o", "loop,ro", image, dir); err != nil {
		return fmt.Errorf("%w: %s on %s: %w", failure.ErrMountFailed, image, dir, err)
	}
	mm.logger.WithFields(logrus.Fields{"source": image, "target": dir}).Info("mounted image")
	return nil
}

// MountDevice mounts a partition read-write at dir.
func (mm *MountManager) MountDevice(ctx context.Context, partition, dir string) error {
	if err := mm.ensureDir(dir); err != nil {
		return fmt.Errorf("%w: %w", failure.ErrMountFailed, err)
	}
	if err := runner.Checked(ctx, mm.runner, mm.logger, "mount", partition, dir); err != nil {
		return fmt.Errorf("%w: %s on %s: %w", failure.ErrMountFailed, partition, dir, err)
	}
	mm.logger.WithFields(logrus.Fields{"source": partition, "target": dir}).Info("mounted device")
	return nil
}

func (mm *MountManager) Unmount(ctx context.Context, dir string) error {
	if err := runner.Checked(ctx, mm.runner, mm.logger, "umount", dir); err != nil {
		return err
	}
	mm.logger.WithField("target", dir).Info("unmounted")
	return nil
}

// Release unmounts dir if anything is mounted there. A failure usually
// means nothing was, so it is ignored.
func (mm *MountManager) Release(ctx context.Context, dir string) {
	outcome := mm.runner.Run(ctx, "umount", dir)
	if !outcome.OK() {
		mm.logger.WithFields(logrus.Fields{
			"target":  dir,
			"outcome": outcome.String(),
		}).Debug("nothing to release")
	}
}

// ReleaseDevice unmounts every filesystem currently mounted from dev or one
// of its partitions, such as those picked up by a desktop automounter.
func (mm *MountManager) ReleaseDevice(ctx context.Context, dev devices.Device) {
	mounts, err := devices.MountsOf(mm.table, dev)
	if err != nil {
		mm.logger.WithError(err).Warn("failed to read mount table")
		return
	}
	for _, m := range mounts {
		mm.logger.WithFields(logrus.Fields{"source": m.Source, "target": m.Target}).Info("releasing mount on target device")
		mm.Release(ctx, m.Target)
	}
}

// Partitions lists the partition table currently on devicePath. A device
// without a partition table has no partitions.
func (mm *MountManager) Partitions(ctx context.Context, devicePath string) ([]Partition, error) {
	// sfdisk exits 1 both for a blank device and for one it cannot open,
	// so make sure the node is there before trusting an empty answer
	if _, err := mm.fs.Stat(devicePath); err != nil {
		return nil, fmt.Errorf("failed to list partitions on %s: %w: %w", devicePath, failure.ErrNotFound, err)
	}

	args := []string{"-J", devicePath}
	output, outcome := mm.runner.Output(ctx, "sfdisk", args...)
	if !outcome.OK() {
		if outcome.Status == runner.Failure {
			mm.logger.WithFields(logrus.Fields{
				"device":  devicePath,
				"outcome": outcome.String(),
			}).Debug("sfdisk reported no partition table")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list partitions: %w", runner.Error("sfdisk", args, outcome))
	}
	return parseSfdisk(output)
}

func parseSfdisk(output []byte) ([]Partition, error) {
	var sfdiskData SfdiskOutput
	if err := json.Unmarshal(output, &sfdiskData); err != nil {
		return nil, fmt.Errorf("failed to parse sfdisk output: %w", err)
	}

	sectorSize := sfdiskData.PartitionTable.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}

	var partitions []Partition
	for i, part := range sfdiskData.PartitionTable.Partitions {
		partitions = append(partitions, Partition{
			Device: part.Node,
			Number: i + 1,
			Size:   devices.HumanSize(uint64(part.Size * sectorSize)),
			Type:   part.Type,
		})
	}
	return partitions, nil
}
