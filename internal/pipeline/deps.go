package pipeline

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/image"
)

var (
	commonTools = []string{
		"lsblk", "blkid", "mount", "umount",
		"wipefs", "parted", "udevadm", "mkfs.vfat",
		"rsync", "sync",
	}
	windowsTools = []string{"wimlib-imagex"}
)

// RequiredTools lists the external programs needed to build a drive from
// an image of the given family.
func RequiredTools(family image.Family) []string {
	tools := append([]string(nil), commonTools...)
	if family == image.Windows {
		tools = append(tools, windowsTools...)
	}
	return tools
}

// CheckDependencies fails with ErrNotFound naming every required program
// that lookPath cannot find. A nil lookPath uses exec.LookPath.
func CheckDependencies(family image.Family, lookPath func(string) (string, error)) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var missing []string
	for _, tool := range RequiredTools(family) {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required programs not installed: %s: %w", strings.Join(missing, ", "), failure.ErrNotFound)
	}
	return nil
}
