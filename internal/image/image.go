// Package image classifies installer images by probing their contents.
package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/runner"
)

type Family int

const (
	Unknown Family = iota
	Windows
	Linux
)

func (f Family) String() string {
	switch f {
	case Windows:
		return "windows"
	case Linux:
		return "linux"
	default:
		return "unknown"
	}
}

// Descriptor is an image whose family has been established by mounting it.
type Descriptor struct {
	Path   string
	Family Family
	Size   int64
	FSType string
	Label  string
}

var (
	windowsMarkers = []string{
		"sources/install.wim",
		"sources/install.esd",
	}
	linuxMarkers = []string{
		"casper",
		"live",
		"arch",
		"LiveOS",
		"isolinux",
		"syslinux",
		"boot/grub",
		"boot",
	}
)

// Mounter is the part of the mount manager the classifier needs.
type Mounter interface {
	MountImage(ctx context.Context, image, dir string) error
	Unmount(ctx context.Context, dir string) error
}

type Classifier struct {
	runner   runner.Runner
	mounter  Mounter
	fs       afero.Fs
	mountDir string
	logger   *logrus.Entry
}

func NewClassifier(r runner.Runner, m Mounter, fs afero.Fs, mountDir string, logger *logrus.Logger) *Classifier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Classifier{
		runner:   r,
		mounter:  m,
		fs:       fs,
		mountDir: mountDir,
		logger:   logger.WithField("component", "image"),
	}
}

// Validate checks that path is a mountable installer image and determines
// its family. The image is never left mounted.
func (c *Classifier) Validate(ctx context.Context, path string) (Descriptor, error) {
	desc := Descriptor{Path: path}
	log := c.logger.WithField("image", path)

	info, err := c.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return desc, fmt.Errorf("image %s: %w", path, failure.ErrNotFound)
		}
		return desc, fmt.Errorf("image %s: %w: %w", path, failure.ErrNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return desc, fmt.Errorf("image %s is not a regular file: %w", path, failure.ErrInvalidImage)
	}
	desc.Size = info.Size()

	fstype, err := c.probe(ctx, path)
	if err != nil {
		return desc, err
	}
	desc.FSType = fstype
	log = log.WithField("fstype", fstype)

	// a mount killed after the kernel attached the loop device would be
	// left behind, so neither half of the mount/unmount pair is cancellable
	cmdCtx := context.WithoutCancel(ctx)
	if err := c.mounter.MountImage(cmdCtx, path, c.mountDir); err != nil {
		return desc, err
	}

	family, markerErr := c.detect()

	if err := c.mounter.Unmount(cmdCtx, c.mountDir); err != nil {
		log.WithError(err).Error("failed to unmount image after inspection")
		return desc, fmt.Errorf("%w: image %s left mounted at %s: %w", failure.ErrMountFailed, path, c.mountDir, err)
	}
	if markerErr != nil {
		return desc, fmt.Errorf("%w: inspect %s: %w", failure.ErrInvalidImage, path, markerErr)
	}
	if family == Unknown {
		return desc, fmt.Errorf("image %s has no recognised installer layout: %w", path, failure.ErrInvalidImage)
	}
	desc.Family = family

	if label, err := c.label(path); err != nil {
		log.WithError(err).Debug("no ISO 9660 volume label")
	} else {
		desc.Label = label
	}

	log.WithFields(logrus.Fields{"family": family.String(), "label": desc.Label}).Info("classified image")
	return desc, nil
}

func (c *Classifier) probe(ctx context.Context, path string) (string, error) {
	args := []string{"-o", "value", "-s", "TYPE", path}
	output, outcome := c.runner.Output(ctx, "blkid", args...)
	if !outcome.OK() {
		return "", fmt.Errorf("%w: no filesystem signature on %s: %w",
			failure.ErrInvalidImage, path, runner.Error("blkid", args, outcome))
	}
	fstype := strings.TrimSpace(string(output))
	if fstype == "" {
		return "", fmt.Errorf("%w: no filesystem signature on %s", failure.ErrInvalidImage, path)
	}
	return fstype, nil
}

// detect looks for the marker paths of each family under the mount dir.
// Windows markers take precedence: Windows media also carry a boot
// directory.
func (c *Classifier) detect() (Family, error) {
	for _, family := range []struct {
		family  Family
		markers []string
	}{
		{Windows, windowsMarkers},
		{Linux, linuxMarkers},
	} {
		for _, marker := range family.markers {
			found, err := afero.Exists(c.fs, filepath.Join(c.mountDir, marker))
			if err != nil {
				return Unknown, err
			}
			if found {
				c.logger.WithField("marker", marker).Debug("found marker")
				return family.family, nil
			}
		}
	}
	return Unknown, nil
}

func (c *Classifier) label(path string) (string, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return "", err
	}
	label, err := img.Label()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(label), nil
}
