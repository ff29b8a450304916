package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/larsks/bootstick/internal/devices"
	"github.com/larsks/bootstick/internal/pipeline"
	"github.com/larsks/bootstick/internal/version"
)

func (a *App) newListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List removable drives that can be written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = a.config.DeviceLimit
			}
			devs := a.enumerator().List(cmd.Context(), limit)
			if len(devs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No removable devices found.")
				return nil
			}
			printDevices(cmd.OutOrStdout(), devs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of devices to show (default from config)")
	return cmd
}

func (a *App) newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect IMAGE",
		Short: "Classify an installer image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.CheckRoot(); err != nil {
				return err
			}
			desc, err := a.classifier().Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Image:      %s\n", desc.Path)
			fmt.Fprintf(out, "Family:     %s\n", desc.Family)
			fmt.Fprintf(out, "Filesystem: %s\n", desc.FSType)
			if desc.Label != "" {
				fmt.Fprintf(out, "Label:      %s\n", desc.Label)
			}
			fmt.Fprintf(out, "Size:       %s (%d bytes)\n", devices.HumanSize(uint64(desc.Size)), desc.Size)
			return nil
		},
	}
}

func (a *App) newCreateCommand() *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "create IMAGE DEVICE",
		Short: "Erase DEVICE and make it boot the installer in IMAGE",
		Long: "Erase DEVICE and make it boot the installer in IMAGE.\n\n" +
			"DEVICE is a name such as sdb or a path such as /dev/sdb. Use 0 to pick\n" +
			"from the list of removable drives.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.CheckRoot(); err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			desc, err := a.classifier().Validate(ctx, args[0])
			if err != nil {
				return err
			}

			var dev devices.Device
			if isChooserSentinel(args[1]) {
				dev, err = chooseDevice(a.in(), out, a.enumerator().List(ctx, a.config.DeviceLimit))
			} else {
				dev, err = a.enumerator().Find(ctx, args[1])
			}
			if err != nil {
				return err
			}

			if err := pipeline.CheckDependencies(desc.Family, a.LookPath); err != nil {
				return err
			}
			if err := a.spaceValidator().Check(desc.Path, dev); err != nil {
				return err
			}

			fmt.Fprintf(out, "Writing %s image %s to %s\n", desc.Family, desc.Path, dev)
			if parts, err := a.mountManager().Partitions(ctx, dev.Path); err != nil {
				a.logger.WithError(err).Warn("could not read existing partitions")
			} else {
				for _, p := range parts {
					fmt.Fprintf(out, "  existing partition %s (%s)\n", p.Device, p.Size)
				}
			}
			if !assumeYes {
				if err := confirm(a.in(), out, dev); err != nil {
					return err
				}
			}

			if err := a.newPipeline().Create(ctx, desc, dev); err != nil {
				return err
			}

			if a.config.VerifyLayout {
				report, err := a.VerifyFunc(dev.Path)
				if err != nil {
					a.logger.WithError(err).Warn("partition layout check failed")
				} else {
					a.logger.WithFields(logrus.Fields{
						"table": report.TableType,
						"esp":   report.ESP,
						"start": report.Start,
					}).Info("partition layout verified")
				}
			}

			fmt.Fprintf(out, "%s is ready to boot.\n", dev.Path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersion(programName))
			return nil
		},
	}
}
