package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/te5025/pkg/client"
	"github.com/charlie0129/te5025/pkg/version"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/te5025.sock"
	configPath     = "/etc/te5025.json"
	requestTimeout = 30 * time.Second
)

var (
	gBasic        = "Basic:"
	gOutput       = "Output:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gOutput,
		gAdvanced,
		gInstallation,
	}
)

var apiClient = client.NewClient(unixSocketPath)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: te5025 daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it?")
		fmt.Fprintln(os.Stderr, "  - Some commands accept --direct to talk to the calibrator without the daemon")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or reinstall the daemon with the '--allow-non-root-access' flag to grant permissions to your user")
	case errors.Is(err, client.ErrBusy):
		fmt.Fprintln(os.Stderr, "\nError: a sequence is running and owns the output")
		fmt.Fprintln(os.Stderr, "  - Wait for it to finish, or check progress with 'te5025 watch'")
	}
}

// cmdContext bounds a single request to the daemon.
func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "te5025",
		Short: "te5025 controls a Time Electronics 5025 multi-function calibrator",
		Long: `te5025 controls a Time Electronics 5025 multi-function calibrator.

A daemon owns the connection to the calibrator and serves it on a unix socket.
The other commands talk to the daemon, so several users and scheduled
sequences can share one instrument without stepping on each other.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// The daemon checks its own version.
			if cmd.Name() == "daemon" {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Second)
			defer cancel()
			if daemonVersion, err := apiClient.GetVersion(ctx); err == nil {
				if daemonVersion != version.Version {
					logrus.WithFields(logrus.Fields{
						"clientVersion": version.Version,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. te5025 may not work as expected. Reinstall the daemon with this binary.")
				}
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "te5025 daemon unix socket path")
	globalFlags.DurationVar(&requestTimeout, "timeout", requestTimeout, "timeout of a single request to the daemon")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewListCommand(),
		NewIdentifyCommand(),
		NewStatusCommand(),
		NewSetCommand(),
		NewOutputCommand(),
		NewQueryCommand(),
		NewErrorsCommand(),
		NewRunCommand(),
		NewScheduleCommand(),
		NewWatchCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
