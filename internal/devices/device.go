package devices

import (
	"fmt"
	"strings"
	"unicode"
)

const maxNameLength = 64

// Device is a removable disk the operator can target.
type Device struct {
	Name          string
	Path          string
	PartitionPath string
	Size          uint64
	Model         string
}

// NewDevice builds a Device from a kernel block device name, deriving the
// device and first-partition paths.
func NewDevice(name string) (Device, error) {
	if err := validateName(name); err != nil {
		return Device{}, err
	}
	path := "/dev/" + name
	return Device{
		Name:          name,
		Path:          path,
		PartitionPath: PartitionPath(path, 1),
	}, nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty device name")
	case len(name) > maxNameLength:
		return fmt.Errorf("device name %q is longer than %d characters", name, maxNameLength)
	case strings.ContainsAny(name, "/\x00") || name == "." || name == "..":
		return fmt.Errorf("invalid device name %q", name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("invalid device name %q", name)
		}
	}
	return nil
}

// PartitionPath returns the path of partition n on the disk at devicePath.
// Disk names ending in a digit (nvme0n1, mmcblk0, loop0) take a "p"
// separator before the partition number.
func PartitionPath(devicePath string, n int) string {
	if endsInDigit(devicePath) {
		return fmt.Sprintf("%sp%d", devicePath, n)
	}
	return fmt.Sprintf("%s%d", devicePath, n)
}

// Owns reports whether path names a partition of this device.
func (d Device) Owns(path string) bool {
	rest, ok := strings.CutPrefix(path, d.Path)
	if !ok || rest == "" {
		return false
	}
	if endsInDigit(d.Path) {
		rest, ok = strings.CutPrefix(rest, "p")
		if !ok || rest == "" {
			return false
		}
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d Device) String() string {
	if d.Model == "" {
		return fmt.Sprintf("%s (%s)", d.Path, HumanSize(d.Size))
	}
	return fmt.Sprintf("%s (%s, %s)", d.Path, HumanSize(d.Size), d.Model)
}

func endsInDigit(s string) bool {
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last >= '0' && last <= '9'
}

// HumanSize formats a byte count the way lsblk does.
func HumanSize(bytes uint64) string {
	switch {
	case bytes >= 1024*1024*1024:
		return fmt.Sprintf("%.1fG", float64(bytes)/(1024*1024*1024))
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1fM", float64(bytes)/(1024*1024))
	default:
		return fmt.Sprintf("%dK", bytes/1024)
	}
}
