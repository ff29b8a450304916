package payload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/image"
	"github.com/larsks/bootstick/internal/runner/runnertest"
)

const (
	src = "/mnt/iso"
	dst = "/mnt/usb"
)

// sizedFs reports fixed sizes for selected files so that FAT32 limits can
// be exercised without multi-gigabyte fixtures.
type sizedFs struct {
	afero.Fs
	sizes map[string]int64
}

type sizedInfo struct {
	os.FileInfo
	size int64
}

func (i sizedInfo) Size() int64 { return i.size }

func (s sizedFs) Stat(name string) (os.FileInfo, error) {
	info, err := s.Fs.Stat(name)
	if err != nil {
		return nil, err
	}
	if size, ok := s.sizes[name]; ok {
		return sizedInfo{FileInfo: info, size: size}, nil
	}
	return info, nil
}

func newCopier(t *testing.T, sizes map[string]int64, files ...string) (*Copier, *runnertest.Fake, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	mem.MkdirAll(dst, 0755)
	mem.MkdirAll(filepath.Join(src, "sources"), 0755)
	for _, f := range files {
		if err := afero.WriteFile(mem, filepath.Join(src, f), []byte("contents of "+f), 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", f, err)
		}
	}
	fake := runnertest.New()
	var progress bytes.Buffer
	return NewCopier(fake, sizedFs{Fs: mem, sizes: sizes}, 3800, &progress, nil), fake, mem
}

func TestNeedsSplit(t *testing.T) {
	tests := []struct {
		size int64
		want bool
	}{
		{0, false},
		{4294967294, false},
		{4294967295, false},
		{4294967296, true},
		{6 * 1024 * 1024 * 1024, true},
	}
	for _, tt := range tests {
		if got := NeedsSplit(tt.size); got != tt.want {
			t.Errorf("NeedsSplit(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestCopyLinux(t *testing.T) {
	c, fake, _ := newCopier(t, nil)

	if err := c.Copy(context.Background(), image.Linux, src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	want := []string{
		"rsync -ah --progress --no-perms --no-owner --no-group /mnt/iso/ /mnt/usb/",
		"sync",
	}
	got := fake.Commands()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Command %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCopyWindowsSmallWim(t *testing.T) {
	wim := filepath.Join(src, wimPath)
	c, fake, mem := newCopier(t, map[string]int64{wim: MaxFileSize}, wimPath)

	if err := c.Copy(context.Background(), image.Windows, src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	want := []string{
		"rsync -ah --progress --no-perms --no-owner --no-group --exclude sources/install.wim --exclude sources/install.esd /mnt/iso/ /mnt/usb/",
		"sync",
	}
	got := fake.Commands()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Command %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	data, err := afero.ReadFile(mem, filepath.Join(dst, wimPath))
	if err != nil {
		t.Fatalf("Expected install.wim to be copied verbatim: %v", err)
	}
	if string(data) != "contents of "+wimPath {
		t.Errorf("Unexpected install.wim contents %q", data)
	}
}

func TestCopyWindowsKeepsModTime(t *testing.T) {
	c, _, mem := newCopier(t, nil, "sources/install.wim", "sources/install.esd")
	stamp := time.Date(2021, 10, 5, 12, 0, 0, 0, time.UTC)
	for _, name := range []string{wimPath, esdPath} {
		if err := mem.Chtimes(filepath.Join(src, name), stamp, stamp); err != nil {
			t.Fatalf("Chtimes() error = %v", err)
		}
	}

	if err := c.Copy(context.Background(), image.Windows, src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	for _, name := range []string{wimPath, esdPath} {
		info, err := mem.Stat(filepath.Join(dst, name))
		if err != nil {
			t.Fatalf("Expected %s to be copied: %v", name, err)
		}
		if !info.ModTime().Equal(stamp) {
			t.Errorf("%s: expected modification time %s, got %s", name, stamp, info.ModTime())
		}
	}
}

func TestCopyWindowsLargeWim(t *testing.T) {
	wim := filepath.Join(src, wimPath)
	c, fake, mem := newCopier(t, map[string]int64{wim: MaxFileSize + 1}, wimPath)

	if err := c.Copy(context.Background(), image.Windows, src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	split := "wimlib-imagex split /mnt/iso/sources/install.wim /mnt/usb/sources/install.swm 3800"
	if fake.Count(split) != 1 {
		t.Errorf("Expected %q, got %v", split, fake.Commands())
	}
	if fake.Index(split) > fake.Index("sync") {
		t.Error("Expected sync after the split")
	}
	if found, _ := afero.Exists(mem, filepath.Join(dst, wimPath)); found {
		t.Error("Expected install.wim not to be copied when split")
	}
}

func TestCopyWindowsEsd(t *testing.T) {
	esd := filepath.Join(src, esdPath)

	c, fake, mem := newCopier(t, nil, esdPath)
	if err := c.Copy(context.Background(), image.Windows, src, dst); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if found, _ := afero.Exists(mem, filepath.Join(dst, esdPath)); !found {
		t.Error("Expected install.esd to be copied")
	}
	if fake.Count("wimlib-imagex") != 0 {
		t.Errorf("Expected no split for install.esd, got %v", fake.Commands())
	}

	c, fake, _ = newCopier(t, map[string]int64{esd: MaxFileSize + 1}, esdPath)
	err := c.Copy(context.Background(), image.Windows, src, dst)
	if !errors.Is(err, failure.ErrCopyFailed) {
		t.Fatalf("Expected ErrCopyFailed for an oversized install.esd, got %v", err)
	}
	if fake.Count("sync") != 0 {
		t.Error("Expected no sync after a failed copy")
	}
}

func TestCopyFailures(t *testing.T) {
	wim := filepath.Join(src, wimPath)
	tests := []struct {
		name    string
		family  image.Family
		sizes   map[string]int64
		failing string
		never   string
	}{
		{"linux rsync", image.Linux, nil, "rsync", "sync"},
		{"linux sync", image.Linux, nil, "sync", ""},
		{"windows rsync", image.Windows, nil, "rsync", "wimlib-imagex"},
		{"windows split", image.Windows, map[string]int64{wim: MaxFileSize + 1}, "wimlib-imagex", "sync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, _ := newCopier(t, tt.sizes, wimPath)
			fake.Fail(tt.failing, 23)

			err := c.Copy(context.Background(), tt.family, src, dst)
			if !errors.Is(err, failure.ErrCopyFailed) {
				t.Fatalf("Expected ErrCopyFailed, got %v", err)
			}
			var cerr *failure.CommandError
			if !errors.As(err, &cerr) || cerr.ExitCode != 23 {
				t.Errorf("Expected the failing command to be reported, got %v", err)
			}
			if tt.never != "" && fake.Count(tt.never) != 0 {
				t.Errorf("Expected %s not to run, got %v", tt.never, fake.Commands())
			}
		})
	}
}

func TestCopyRequiresMountedDirs(t *testing.T) {
	c, fake, _ := newCopier(t, nil)

	err := c.Copy(context.Background(), image.Linux, "/mnt/missing", dst)
	if !errors.Is(err, failure.ErrCopyFailed) {
		t.Fatalf("Expected ErrCopyFailed, got %v", err)
	}
	if len(fake.Commands()) != 0 {
		t.Errorf("Expected no commands, got %v", fake.Commands())
	}
}

func TestCopyUnknownFamily(t *testing.T) {
	c, _, _ := newCopier(t, nil)
	if err := c.Copy(context.Background(), image.Unknown, src, dst); !errors.Is(err, failure.ErrCopyFailed) {
		t.Errorf("Expected ErrCopyFailed, got %v", err)
	}
}
