package version

import (
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	info := Info{Program: "bootstick", Version: "1.2.0", OS: "linux", Arch: "amd64", Revision: "0123456789", Time: "2025-01-01T00:00:00Z"}

	want := "bootstick version 1.2.0 linux/amd64 rev 0123456789 on 2025-01-01T00:00:00Z"
	if got := info.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	bare := Info{Program: "bootstick", Version: "dev"}
	if got := bare.String(); got != "bootstick version dev" {
		t.Errorf("Unexpected bare version %q", got)
	}
}

func TestGetVersion(t *testing.T) {
	if got := GetVersion("bootstick"); !strings.HasPrefix(got, "bootstick version "+Version) {
		t.Errorf("Unexpected version string %q", got)
	}
}
