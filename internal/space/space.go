// Package space decides whether an image fits on a target device.
package space

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/failure"
)

const (
	DefaultSysBlockDir = "/sys/class/block"
	sectorSize         = 512
)

type Validator struct {
	fs          afero.Fs
	sysBlockDir string
}

func New(fs afero.Fs) *Validator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Validator{fs: fs, sysBlockDir: DefaultSysBlockDir}
}

// WithSysBlockDir overrides where device sizes are read from.
func (v *Validator) WithSysBlockDir(dir string) *Validator {
	v.sysBlockDir = dir
	return v
}

// ImageSize returns the size of the image file in bytes.
func (v *Validator) ImageSize(imagePath string) (int64, error) {
	info, err := v.fs.Stat(imagePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DeviceSize returns the capacity of dev in bytes, read from the kernel's
// sector count.
func (v *Validator) DeviceSize(dev devices.Device) (int64, error) {
	path := filepath.Join(v.sysBlockDir, dev.Name, "size")
	data, err := afero.ReadFile(v.fs, path)
	if err != nil {
		return 0, err
	}
	sectors, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	if sectors < 0 {
		return 0, fmt.Errorf("negative sector count in %s", path)
	}
	return sectors * sectorSize, nil
}

// Check returns nil when the device is strictly larger than the image.
// Any size that cannot be read fails the check. The returned error is a
// *failure.SpaceError carrying both sizes.
func (v *Validator) Check(imagePath string, dev devices.Device) error {
	serr := &failure.SpaceError{Image: imagePath, Device: dev.Path}

	imageSize, err := v.ImageSize(imagePath)
	if err != nil {
		serr.Cause = fmt.Errorf("image size: %w", err)
		return serr
	}
	serr.ImageSize = imageSize

	deviceSize, err := v.DeviceSize(dev)
	if err != nil {
		serr.Cause = fmt.Errorf("device size: %w", err)
		return serr
	}
	serr.DeviceSize = deviceSize

	if deviceSize > imageSize {
		return nil
	}
	return serr
}

func (v *Validator) HasEnoughSpace(imagePath string, dev devices.Device) bool {
	return v.Check(imagePath, dev) == nil
}
