package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/config"
	daemonutils "github.com/charlie0129/te5025/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false
	address := ""
	gateway := ""

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install te5025 daemon (system-wide)",
		GroupID: gInstallation,
		Long: `Install te5025 daemon as a systemd service (system-wide).

This makes the daemon run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the te5025 daemon for security reasons. If you want to allow non-root users to drive the calibrator, use the --allow-non-root-access flag, so you don't have to use sudo every time.`,
		Example: `  sudo te5025 install --address GPIB0::25::INSTR --gpib-gateway 10.0.0.5
  sudo te5025 install --address ASRL/dev/ttyUSB0::INSTR --allow-non-root-access`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			if address != "" {
				conf.SetAddress(address)
			}
			if gateway != "" {
				conf.SetGPIBGateway(gateway)
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the te5025 daemon.")
			} else {
				logrus.Info("only root user is allowed to access the te5025 daemon.")
			}

			// The daemon reads the config on start, so save it first.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install("--config", configPath, "--daemon-socket", unixSocketPath)
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``te5025 install'' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access te5025 daemon.")
	cmd.Flags().StringVar(&address, "address", "", "VISA resource address of the calibrator")
	cmd.Flags().StringVar(&gateway, "gpib-gateway", "", "host[:port] of the GPIB-ETHERNET gateway")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall te5025 daemon (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall te5025 daemon from systemd (system-wide).

This stops the daemon, which disables the calibrator output, and removes the service.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s, in case you want to use `te5025' again. If you want a complete uninstall, you can remove both config file and te5025 itself manually.\n", configPath)

			return nil
		},
	}

	return cmd
}
