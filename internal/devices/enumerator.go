// Package devices discovers removable disks that can be turned into boot
// drives.
package devices

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/runner"
)

// LsblkArgs is the report requested from lsblk: disk rows only, sizes in
// bytes.
var LsblkArgs = []string{"-J", "-b", "-d", "-o", "NAME,RM,SIZE,MODEL,TYPE,MOUNTPOINT"}

type Enumerator struct {
	runner runner.Runner
	mounts MountTable
	logger *logrus.Entry
}

// NewEnumerator creates an Enumerator. mounts may be nil, in which case only
// the mountpoint column of the report is used to recognise system disks.
func NewEnumerator(r runner.Runner, mounts MountTable, logger *logrus.Logger) *Enumerator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Enumerator{
		runner: r,
		mounts: mounts,
		logger: logger.WithField("component", "devices"),
	}
}

// List returns at most limit removable disks in report order. Failures to
// produce or parse the report yield an empty list.
func (e *Enumerator) List(ctx context.Context, limit int) []Device {
	output, outcome := e.runner.Output(ctx, "lsblk", LsblkArgs...)
	if !outcome.OK() {
		e.logger.WithField("outcome", outcome.String()).Warn("lsblk failed")
		return nil
	}

	entries := ParseReport(output)
	systemMounts := e.systemMounts()

	var found []Device
	for _, entry := range entries {
		if len(found) >= limit {
			break
		}
		if !entry.candidate() {
			continue
		}

		dev, err := NewDevice(entry.Name)
		if err != nil {
			e.logger.WithError(err).Warn("skipping device with unusable name")
			continue
		}
		dev.Size = uint64(entry.Size)
		dev.Model = entry.model()

		if hostsSystem(dev, systemMounts) {
			e.logger.WithField("device", dev.Path).Debug("skipping disk hosting a system mount")
			continue
		}

		found = append(found, dev)
	}

	e.logger.Debugf("discovered %d removable devices", len(found))
	return found
}

// Find re-enumerates and returns the device whose name or path matches
// identifier.
func (e *Enumerator) Find(ctx context.Context, identifier string) (Device, error) {
	for _, dev := range e.List(ctx, maxFindCandidates) {
		if dev.Name == identifier || dev.Path == identifier {
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("removable device %q: %w", identifier, failure.ErrNotFound)
}

const maxFindCandidates = 64

func (e *Enumerator) systemMounts() []Mount {
	if e.mounts == nil {
		return nil
	}
	mounts, err := e.mounts.Mounts()
	if err != nil {
		e.logger.WithError(err).Warn("failed to read mount table")
		return nil
	}
	var system []Mount
	for _, m := range mounts {
		if isSystemMountpoint(m.Target) {
			system = append(system, m)
		}
	}
	return system
}

func hostsSystem(dev Device, systemMounts []Mount) bool {
	for _, m := range systemMounts {
		if m.Source == dev.Path || dev.Owns(m.Source) {
			return true
		}
	}
	return false
}
