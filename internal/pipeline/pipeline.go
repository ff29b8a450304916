// Package pipeline turns a classified image and a removable device into a
// bootable drive.
//
// A run moves through Idle, ImageMounted, Formatted, UsbMounted,
// CopyComplete and Cleaned. Any failure moves it to RollingBack and then
// Failed. Every mount the run makes is recorded when it succeeds and
// released in reverse order on the way out, so a failed run releases
// exactly what it acquired.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/failure"
	"github.com/larsks/bootstick/internal/image"
	"github.com/larsks/bootstick/internal/runner"
)

type State int

const (
	Idle State = iota
	ImageMounted
	Formatted
	UsbMounted
	CopyComplete
	Cleaned
	RollingBack
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ImageMounted:
		return "image-mounted"
	case Formatted:
		return "formatted"
	case UsbMounted:
		return "usb-mounted"
	case CopyComplete:
		return "copy-complete"
	case Cleaned:
		return "cleaned"
	case RollingBack:
		return "rolling-back"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	StepPreClean    = "pre-clean"
	StepMountImage  = "mount image"
	StepFormat      = "format device"
	StepMountDevice = "mount device"
	StepCopy        = "copy payload"
)

// Mounter acquires and releases the run's mounts.
type Mounter interface {
	MountImage(ctx context.Context, image, dir string) error
	MountDevice(ctx context.Context, partition, dir string) error
	Unmount(ctx context.Context, dir string) error
	Release(ctx context.Context, dir string)
	ReleaseDevice(ctx context.Context, dev devices.Device)
}

// Copier transfers the mounted image tree to the mounted device.
type Copier interface {
	Copy(ctx context.Context, family image.Family, src, dst string) error
}

type Options struct {
	ImageMountDir   string
	DeviceMountDir  string
	PartitionOffset string
}

func DefaultOptions() Options {
	return Options{
		ImageMountDir:   "/mnt/bootstick_iso",
		DeviceMountDir:  "/mnt/bootstick_usb",
		PartitionOffset: "4MiB",
	}
}

type Pipeline struct {
	runner  runner.Runner
	mounter Mounter
	copier  Copier
	opts    Options
	logger  *logrus.Logger

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)
}

func New(r runner.Runner, m Mounter, c Copier, opts Options, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultOptions()
	if opts.ImageMountDir == "" {
		opts.ImageMountDir = defaults.ImageMountDir
	}
	if opts.DeviceMountDir == "" {
		opts.DeviceMountDir = defaults.DeviceMountDir
	}
	if opts.PartitionOffset == "" {
		opts.PartitionOffset = defaults.PartitionOffset
	}
	return &Pipeline{
		runner:  r,
		mounter: m,
		copier:  c,
		opts:    opts,
		logger:  logger,
	}
}

type run struct {
	*Pipeline
	id     string
	state  State
	guards guardStack
	log    *logrus.Entry
}

// Create erases dev and writes the contents of img to it. The returned
// error, if any, wraps a *failure.StepError naming the step that failed.
// ctx is only consulted between steps: a command that has started is
// allowed to finish, and rollback always runs to completion.
func (p *Pipeline) Create(ctx context.Context, img image.Descriptor, dev devices.Device) error {
	r := &run{
		Pipeline: p,
		id:       uuid.NewString(),
		state:    Idle,
	}
	r.log = p.logger.WithFields(logrus.Fields{
		"component": "pipeline",
		"run":       r.id,
		"image":     img.Path,
		"device":    dev.Path,
	})
	return r.execute(ctx, img, dev)
}

func (r *run) execute(ctx context.Context, img image.Descriptor, dev devices.Device) error {
	if img.Family == image.Unknown {
		return failure.NewStepError(StepMountImage, failure.ErrInvalidImage,
			fmt.Errorf("image %s has not been classified", img.Path))
	}
	if dev.Path == "" || dev.PartitionPath == "" {
		return failure.NewStepError(StepFormat, failure.ErrNotFound,
			fmt.Errorf("device %q has no resolved paths", dev.Name))
	}

	// Commands are never interrupted half way; cancellation is honoured at
	// step boundaries only.
	cmdCtx := context.WithoutCancel(ctx)

	r.log.WithField("family", img.Family.String()).Info("starting")

	r.preClean(cmdCtx, dev)
	if err := r.checkpoint(ctx, StepMountImage); err != nil {
		return r.fail(cmdCtx, err)
	}

	if err := r.mounter.MountImage(cmdCtx, img.Path, r.opts.ImageMountDir); err != nil {
		return r.fail(cmdCtx, failure.NewStepError(StepMountImage, failure.ErrMountFailed, err))
	}
	r.guards.push("image mount", func(ctx context.Context) error {
		return r.mounter.Unmount(ctx, r.opts.ImageMountDir)
	})
	r.transition(ImageMounted)

	if err := r.checkpoint(ctx, StepFormat); err != nil {
		return r.fail(cmdCtx, err)
	}
	if err := r.format(cmdCtx, dev); err != nil {
		return r.fail(cmdCtx, failure.NewStepError(StepFormat, failure.ErrFormatFailed, err))
	}
	r.transition(Formatted)

	if err := r.checkpoint(ctx, StepMountDevice); err != nil {
		return r.fail(cmdCtx, err)
	}
	if err := r.mounter.MountDevice(cmdCtx, dev.PartitionPath, r.opts.DeviceMountDir); err != nil {
		return r.fail(cmdCtx, failure.NewStepError(StepMountDevice, failure.ErrMountFailed, err))
	}
	r.guards.push("device mount", func(ctx context.Context) error {
		return r.mounter.Unmount(ctx, r.opts.DeviceMountDir)
	})
	r.transition(UsbMounted)

	if err := r.checkpoint(ctx, StepCopy); err != nil {
		return r.fail(cmdCtx, err)
	}
	if err := r.copier.Copy(cmdCtx, img.Family, r.opts.ImageMountDir, r.opts.DeviceMountDir); err != nil {
		return r.fail(cmdCtx, failure.NewStepError(StepCopy, failure.ErrCopyFailed, err))
	}
	r.transition(CopyComplete)

	r.cleanup(cmdCtx)
	r.transition(Cleaned)
	r.log.Info("bootable drive created")
	return nil
}

// preClean clears the private mount points and any mounts of the target
// left behind by an earlier run or an automounter.
func (r *run) preClean(ctx context.Context, dev devices.Device) {
	r.log.WithField("step", StepPreClean).Debug("releasing stale mounts")
	r.mounter.Release(ctx, r.opts.ImageMountDir)
	r.mounter.Release(ctx, r.opts.DeviceMountDir)
	r.mounter.ReleaseDevice(ctx, dev)
}

func (r *run) format(ctx context.Context, dev devices.Device) error {
	log := r.log.WithField("step", StepFormat)
	commands := [][]string{
		{"wipefs", "-a", dev.Path},
		{"parted", dev.Path, "--script", "mklabel", "gpt"},
		{"parted", dev.Path, "--script", "mkpart", "primary", "fat32", r.opts.PartitionOffset, "100%", "set", "1", "esp", "on"},
		{"udevadm", "settle"},
		{"mkfs.vfat", "-F32", dev.PartitionPath},
	}
	for _, cmd := range commands {
		log.WithField("command", cmd[0]).Info("formatting")
		if err := runner.Checked(ctx, r.runner, log, cmd[0], cmd[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) checkpoint(ctx context.Context, next string) error {
	if err := ctx.Err(); err != nil {
		return failure.NewStepError(next, failure.ErrCancelled, err)
	}
	return nil
}

// cleanup releases every mount after a successful copy. Failures are
// logged only: the outcome of the run is already decided.
func (r *run) cleanup(ctx context.Context) {
	r.guards.unwind(ctx, func(name string, err error) {
		r.log.WithError(err).WithField("resource", name).Warn("cleanup failed")
	})
}

// fail rolls back whatever the run holds and returns cause, extended with
// any releases that failed.
func (r *run) fail(ctx context.Context, cause error) error {
	r.log.WithError(cause).Error("step failed")
	r.transition(RollingBack)

	held := r.guards.held()
	if len(held) > 0 {
		r.log.WithField("resources", held).Info("rolling back")
	}
	failures := r.guards.unwind(ctx, func(name string, err error) {
		r.log.WithError(err).WithField("resource", name).Error("rollback failed")
	})

	r.transition(Failed)
	if len(failures) > 0 {
		return &failure.RollbackError{Cause: cause, Failures: failures}
	}
	return cause
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.log.WithFields(logrus.Fields{"from": from.String(), "state": to.String()}).Debug("transition")
	if r.OnTransition != nil {
		r.OnTransition(from, to)
	}
}
