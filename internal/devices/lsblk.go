package devices

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// lsblk prints the removable flag as a JSON boolean on recent util-linux
// releases and as "0"/"1" on older ones; sizes are numbers with -b and
// strings otherwise.

type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flag(t)
	case float64:
		*f = t != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		*f = s == "1" || s == "true"
	default:
		*f = false
	}
	return nil
}

type byteSize uint64

func (s *byteSize) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		if t > 0 {
			*s = byteSize(t)
		}
	case string:
		if n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64); err == nil {
			*s = byteSize(n)
		}
	}
	return nil
}

type LsblkDevice struct {
	Name       string   `json:"name"`
	Removable  flag     `json:"rm"`
	Size       byteSize `json:"size"`
	Model      *string  `json:"model"`
	Type       string   `json:"type"`
	Mountpoint *string  `json:"mountpoint"`
}

type LsblkOutput struct {
	Blockdevices []LsblkDevice `json:"blockdevices"`
}

// ParseReport decodes an lsblk -J report. Unknown fields are ignored; a
// report that does not decode yields no entries rather than a partial list.
func ParseReport(data []byte) []LsblkDevice {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var out LsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out.Blockdevices
}

func (d LsblkDevice) mountpoint() string {
	if d.Mountpoint == nil {
		return ""
	}
	return *d.Mountpoint
}

func (d LsblkDevice) model() string {
	if d.Model == nil {
		return ""
	}
	return strings.TrimSpace(*d.Model)
}

func isSystemMountpoint(mountpoint string) bool {
	return mountpoint == "/" || mountpoint == "/boot"
}

// candidate reports whether an lsblk row is a removable, non-system disk.
func (d LsblkDevice) candidate() bool {
	return d.Type == "disk" && bool(d.Removable) && !isSystemMountpoint(d.mountpoint())
}
