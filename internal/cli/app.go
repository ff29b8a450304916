// Package cli implements the bootstick command line.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/larsks/bootstick/internal/config"
	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/image"
	"github.com/larsks/bootstick/internal/layout"
	"github.com/larsks/bootstick/internal/mountmanager"
	"github.com/larsks/bootstick/internal/payload"
	"github.com/larsks/bootstick/internal/pipeline"
	"github.com/larsks/bootstick/internal/runner"
	"github.com/larsks/bootstick/internal/space"
)

const programName = "bootstick"

type globalOptions struct {
	configPath string
	verbose    bool
}

// App holds the collaborators shared by every command. The zero value of
// each optional field selects the real system implementation.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Runner      runner.Runner
	MountTable  devices.MountTable
	Fs          afero.Fs
	SysBlockDir string
	LookPath    func(string) (string, error)
	CheckRoot   func() error
	VerifyFunc  func(devicePath string) (layout.Report, error)

	options globalOptions
	config  *config.Config
	logger  *logrus.Logger
	input   *bufio.Reader
}

func NewApp() *App {
	return &App{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func addGlobalFlags(flags *pflag.FlagSet, opts *globalOptions) {
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to configuration file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
}

// NewRootCommand builds the command tree.
func (a *App) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Write Windows and Linux installer images to USB drives",
		Long:          "bootstick erases a removable drive, creates a GPT with a single FAT32 EFI System partition, and copies the contents of an installer image onto it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)
	addGlobalFlags(root.PersistentFlags(), &a.options)

	root.AddCommand(
		a.newListCommand(),
		a.newInspectCommand(),
		a.newCreateCommand(),
		a.newVersionCommand(),
	)
	return root
}

func (a *App) setup() error {
	cfg, err := config.Load(a.options.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", a.options.configPath, err)
	}
	a.config = cfg

	a.logger = logrus.New()
	a.logger.SetOutput(a.Stderr)
	a.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	a.logger.SetLevel(cfg.Level())
	if a.options.verbose {
		a.logger.SetLevel(logrus.DebugLevel)
	}

	if a.Runner == nil {
		r := runner.NewExecRunner(a.logger, cfg.CommandTimeout)
		r.Stdout = a.Stdout
		r.Stderr = a.Stderr
		a.Runner = r
	}
	if a.MountTable == nil {
		a.MountTable = devices.SystemMountTable{}
	}
	if a.Fs == nil {
		a.Fs = afero.NewOsFs()
	}
	if a.LookPath == nil {
		a.LookPath = exec.LookPath
	}
	if a.CheckRoot == nil {
		a.CheckRoot = checkRoot
	}
	if a.VerifyFunc == nil {
		a.VerifyFunc = layout.Verify
	}
	return nil
}

func checkRoot() error {
	currentUser, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	if currentUser.Uid != "0" {
		return fmt.Errorf("this command must be run as root")
	}
	return nil
}

// in returns a single buffered reader over Stdin so that consecutive
// prompts do not lose input.
func (a *App) in() *bufio.Reader {
	if a.input == nil {
		a.input = bufio.NewReader(a.Stdin)
	}
	return a.input
}

func (a *App) enumerator() *devices.Enumerator {
	return devices.NewEnumerator(a.Runner, a.MountTable, a.logger)
}

func (a *App) mountManager() *mountmanager.MountManager {
	return mountmanager.New(a.Runner, a.MountTable, a.Fs, a.logger)
}

func (a *App) classifier() *image.Classifier {
	return image.NewClassifier(a.Runner, a.mountManager(), a.Fs, a.config.ImageMountDir, a.logger)
}

func (a *App) spaceValidator() *space.Validator {
	v := space.New(a.Fs)
	if a.SysBlockDir != "" {
		v.WithSysBlockDir(a.SysBlockDir)
	}
	return v
}

func (a *App) newPipeline() *pipeline.Pipeline {
	copier := payload.NewCopier(a.Runner, a.Fs, a.config.SplitSizeMB, a.Stderr, a.logger)
	return pipeline.New(a.Runner, a.mountManager(), copier, pipeline.Options{
		ImageMountDir:   a.config.ImageMountDir,
		DeviceMountDir:  a.config.DeviceMountDir,
		PartitionOffset: a.config.PartitionOffset,
	}, a.logger)
}
