// Package payload copies the contents of a mounted installer image onto a
// mounted FAT32 partition.
package payload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/image"
	"github.com/larsks/bootstick/internal/runner"
)

// MaxFileSize is the largest file FAT32 can store.
const MaxFileSize int64 = 4294967295

const DefaultSplitSizeMB = 3800

const (
	wimPath = "sources/install.wim"
	esdPath = "sources/install.esd"
	swmPath = "sources/install.swm"
)

var rsyncFlags = []string{"-ah", "--progress", "--no-perms", "--no-owner", "--no-group"}

// NeedsSplit reports whether a file of the given size must be split to fit
// on FAT32.
func NeedsSplit(size int64) bool {
	return size > MaxFileSize
}

type Copier struct {
	runner      runner.Runner
	fs          afero.Fs
	progress    io.Writer
	splitSizeMB int
	logger      *logrus.Entry
}

// NewCopier creates a Copier. Progress of in-process copies is drawn on
// progress; pass nil to disable it.
func NewCopier(r runner.Runner, fs afero.Fs, splitSizeMB int, progress io.Writer, logger *logrus.Logger) *Copier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if splitSizeMB <= 0 {
		splitSizeMB = DefaultSplitSizeMB
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Copier{
		runner:      r,
		fs:          fs,
		progress:    progress,
		splitSizeMB: splitSizeMB,
		logger:      logger.WithField("component", "payload"),
	}
}

// Copy transfers the image tree mounted at src to the partition mounted at
// dst and flushes it to disk. It stops at the first failure.
func (c *Copier) Copy(ctx context.Context, family image.Family, src, dst string) error {
	for _, dir := range []string{src, dst} {
		if ok, err := afero.DirExists(c.fs, dir); err != nil || !ok {
			return fmt.Errorf("%w: %s is not an accessible directory", failure.ErrCopyFailed, dir)
		}
	}

	var err error
	switch family {
	case image.Windows:
		err = c.copyWindows(ctx, src, dst)
	case image.Linux:
		err = c.rsync(ctx, src, dst)
	default:
		err = fmt.Errorf("%w: cannot copy an image of %s family", failure.ErrCopyFailed, family)
	}
	if err != nil {
		return err
	}

	if err := runner.Checked(ctx, c.runner, c.logger, "sync"); err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	return nil
}

func (c *Copier) rsync(ctx context.Context, src, dst string, excludes ...string) error {
	args := append([]string(nil), rsyncFlags...)
	for _, e := range excludes {
		args = append(args, "--exclude", e)
	}
	args = append(args, dirArg(src), dirArg(dst))

	c.logger.WithFields(logrus.Fields{"source": src, "target": dst}).Info("copying image contents")
	if err := runner.Checked(ctx, c.runner, c.logger, "rsync", args...); err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	return nil
}

func (c *Copier) copyWindows(ctx context.Context, src, dst string) error {
	if err := c.rsync(ctx, src, dst, wimPath, esdPath); err != nil {
		return err
	}
	if err := c.fs.MkdirAll(filepath.Join(dst, "sources"), 0755); err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}

	if info, err := c.stat(filepath.Join(src, wimPath)); err != nil {
		return err
	} else if info != nil {
		if NeedsSplit(info.Size()) {
			if err := c.splitWim(ctx, src, dst); err != nil {
				return err
			}
		} else if err := c.copyFile(filepath.Join(src, wimPath), filepath.Join(dst, wimPath), info); err != nil {
			return err
		}
	}

	if info, err := c.stat(filepath.Join(src, esdPath)); err != nil {
		return err
	} else if info != nil {
		if NeedsSplit(info.Size()) {
			return fmt.Errorf("%w: %s is %d bytes, larger than FAT32 allows", failure.ErrCopyFailed, esdPath, info.Size())
		}
		if err := c.copyFile(filepath.Join(src, esdPath), filepath.Join(dst, esdPath), info); err != nil {
			return err
		}
	}

	return nil
}

// stat returns nil info for a file the image does not carry.
func (c *Copier) stat(p string) (os.FileInfo, error) {
	info, err := c.fs.Stat(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	return info, nil
}

func (c *Copier) splitWim(ctx context.Context, src, dst string) error {
	c.logger.WithField("part_size_mb", c.splitSizeMB).Info("splitting install.wim")
	err := runner.Checked(ctx, c.runner, c.logger, "wimlib-imagex", "split",
		filepath.Join(src, wimPath),
		filepath.Join(dst, swmPath),
		strconv.Itoa(c.splitSizeMB))
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	return nil
}

// copyFile copies src to dst and gives dst the modification time of src,
// as rsync -a does for everything else.
func (c *Copier) copyFile(src, dst string, info os.FileInfo) error {
	in, err := c.fs.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription("Copying "+path.Base(filepath.ToSlash(src))),
		progressbar.OptionSetWriter(c.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(15),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(c.progress) }),
	)

	c.logger.WithFields(logrus.Fields{"source": src, "target": dst, "bytes": info.Size()}).Info("copying file")
	if _, err := io.Copy(io.MultiWriter(out, bar), in); err != nil {
		out.Close()
		return fmt.Errorf("%w: copy %s: %w", failure.ErrCopyFailed, src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %w", failure.ErrCopyFailed, err)
	}
	if err := c.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("%w: set times on %s: %w", failure.ErrCopyFailed, dst, err)
	}
	return nil
}

func dirArg(dir string) string {
	return strings.TrimRight(dir, "/") + "/"
}
