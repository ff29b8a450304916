package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/failure"
)

// isChooserSentinel reports whether the device argument asks for an
// interactive choice.
func isChooserSentinel(arg string) bool {
	return arg == "0" || strings.EqualFold(arg, "unknown")
}

func printDevices(w io.Writer, devs []devices.Device) {
	for i, dev := range devs {
		fmt.Fprintf(w, "%2d. %s\n", i+1, dev)
	}
}

// chooseDevice lists devs and reads the operator's pick from r.
func chooseDevice(r *bufio.Reader, w io.Writer, devs []devices.Device) (devices.Device, error) {
	if len(devs) == 0 {
		return devices.Device{}, fmt.Errorf("no removable devices found: %w", failure.ErrNotFound)
	}

	fmt.Fprintln(w, "Removable devices:")
	printDevices(w, devs)
	fmt.Fprintf(w, "Select a device [1-%d]: ", len(devs))

	line, err := readLine(r)
	if err != nil {
		return devices.Device{}, fmt.Errorf("no device selected: %w", failure.ErrNotFound)
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(devs) {
		return devices.Device{}, fmt.Errorf("invalid selection %q: %w", line, failure.ErrNotFound)
	}
	return devs[n-1], nil
}

// confirm asks the operator to accept the destruction of dev.
func confirm(r *bufio.Reader, w io.Writer, dev devices.Device) error {
	fmt.Fprintf(w, "ALL DATA ON %s WILL BE DESTROYED. Continue? [y/N]: ", dev)
	line, err := readLine(r)
	if err != nil {
		return fmt.Errorf("not confirmed: %w", failure.ErrCancelled)
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return nil
	default:
		return fmt.Errorf("not confirmed: %w", failure.ErrCancelled)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
