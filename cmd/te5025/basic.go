package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/version"
	"github.com/charlie0129/te5025/pkg/visa"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List serial ports a calibrator may be attached to",
		GroupID: gBasic,
		Long: `List serial ports a calibrator may be attached to.

GPIB and LAN instruments cannot be discovered. Address them directly:
  GPIB0::25::INSTR             GPIB address 25, through the configured gateway
  TCPIP0::10.0.0.7::5025::SOCKET  raw socket
  ASRL/dev/ttyUSB0::INSTR      serial device
  ASRL1::INSTR                 first serial port`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resources, err := visa.ListResources()
			if err != nil {
				return err
			}

			if len(resources) == 0 {
				cmd.Println("No serial ports found.")
				return nil
			}
			for _, r := range resources {
				cmd.Println(r)
			}
			return nil
		},
	}
}

func NewIdentifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "identify [address]",
		Short:   "Print the identity of the calibrator",
		GroupID: gBasic,
		Long: `Print the identity of the calibrator.

Without an address, the daemon's calibrator is identified. With an address,
te5025 connects to it directly, which is useful to check an address before
putting it in the config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			var id te5025.Identity
			if len(args) == 1 {
				err := withDirectSession(ctx, args[0], func(s *te5025.Session) error {
					id = s.Identity()
					return nil
				})
				if err != nil {
					return err
				}
			} else {
				var err error
				id, err = apiClient.Identity(ctx)
				if err != nil {
					return err
				}
			}

			cmd.Printf("%s %s\n", bold("Manufacturer:"), id.Manufacturer)
			cmd.Printf("%s %s\n", bold("Model:"), id.Model)
			cmd.Printf("%s %s\n", bold("Serial:"), id.Serial)
			cmd.Printf("%s %s\n", bold("Firmware:"), id.Firmware)
			return nil
		},
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the calibrator",
		Long:    `Get the calibrator status, the schedule, and the daemon configuration.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			st, err := apiClient.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			schedule, err := apiClient.Schedule(ctx)
			if err != nil {
				return fmt.Errorf("failed to get schedule: %w", err)
			}

			conf, err := apiClient.GetConfig(ctx)
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			cmd.Println(bold("Calibrator:"))
			cmd.Printf("  Address: %s\n", bold("%s", st.Address))
			cmd.Printf("  Identity: %s\n", bold("%s", st.Identity))
			cmd.Printf("  Function: %s\n", bold("%s", st.Function))
			cmd.Printf("  Output: %s\n", onOffText(st.OutputEnabled))
			cmd.Printf("  Internal temperature: %s\n", bold("%s", st.Temperature))
			if st.ErrorCount > 0 {
				cmd.Printf("  Queued errors: %s (see 'te5025 errors')\n", bold("%d", st.ErrorCount))
			} else {
				cmd.Printf("  Queued errors: %s\n", bold("none"))
			}

			cmd.Println()

			cmd.Println(bold("Schedule:"))
			if !schedule.Enabled {
				cmd.Println("  No scheduled sequence.")
			} else {
				cmd.Printf("  Cron: %s\n", bold("%s", schedule.Cron))
				cmd.Printf("  Sequence: %s\n", bold("%s", schedule.Sequence))
				if len(schedule.NextRuns) > 0 {
					cmd.Printf("  Next run: %s\n", bold("%s", schedule.NextRuns[0].Local().Format(time.DateTime)))
				}
			}

			cmd.Println()

			cmd.Println(bold("Configuration:"))
			if conf.Simulate != nil && *conf.Simulate {
				cmd.Printf("  Simulated calibrator: %s\n", bool2Text(true))
			}
			if conf.GPIBGateway != nil && *conf.GPIBGateway != "" {
				cmd.Printf("  GPIB gateway: %s\n", bold("%s", *conf.GPIBGateway))
			}
			if conf.TimeoutMillis != nil {
				cmd.Printf("  Timeout: %s\n", bold("%d ms", *conf.TimeoutMillis))
			}
			if conf.CommandDelayMillis != nil {
				cmd.Printf("  Command delay: %s\n", bold("%d ms", *conf.CommandDelayMillis))
			}
			allowNonRoot := conf.AllowNonRootAccess != nil && *conf.AllowNonRootAccess
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(allowNonRoot))
			return nil
		},
	}
}
