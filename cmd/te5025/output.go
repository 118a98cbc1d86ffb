package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/types"
)

// quantityFlag parses an optional quantity flag such as "20V" or "1kHz".
func quantityFlag(cmd *cobra.Command, name string) (float64, error) {
	s, err := cmd.Flags().GetString(name)
	if err != nil || s == "" {
		return 0, err
	}
	v, err := te5025.ParseQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return v, nil
}

func NewSetCommand() *cobra.Command {
	var enable bool

	cmd := &cobra.Command{
		Use:     "set [function] [value]",
		Short:   "Program the calibrator output",
		GroupID: gOutput,
		Long: `Program the calibrator output.

Values take an optional SI prefix and unit, e.g. 10V, 1.5mA, 1kHz, 100kOhm.
A range of 0 (the default) picks the smallest range that fits the value.

Functions: ` + functionList() + `

Setting a power function turns the output off first. Use --enable, or
'te5025 output enable', to turn it on again.`,
		Example: `  te5025 set dcv 10V --range 20V
  te5025 set acv 1V --frequency 1kHz
  te5025 set resistance 100kOhm
  te5025 set rtd 100 --scale C
  te5025 set thermocouple 250 --type K
  te5025 set ac-power 230V --current 5A --frequency 50Hz --phase 60`,
		Args: exactArgs(2, "a function and a value"),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := te5025.ParseFunction(args[0])
			if err != nil {
				return err
			}

			value, err := te5025.ParseQuantity(args[1])
			if err != nil {
				return fmt.Errorf("invalid value: %w", err)
			}

			spec := te5025.SettingSpec{Function: fn, Value: value}
			for name, dst := range map[string]*float64{
				"range":         &spec.Range,
				"frequency":     &spec.Frequency,
				"current":       &spec.Current,
				"current-range": &spec.CurrentRange,
				"phase":         &spec.Phase,
			} {
				if *dst, err = quantityFlag(cmd, name); err != nil {
					return err
				}
			}
			spec.Scale, _ = cmd.Flags().GetString("scale")
			spec.Type, _ = cmd.Flags().GetString("type")

			setting, err := spec.Setting()
			if err != nil {
				return err
			}

			ctx, cancel := cmdContext(cmd)
			defer cancel()

			reading, err := apiClient.SetOutput(ctx, setting)
			if err != nil {
				return err
			}
			logrus.Infof("successfully set output to %s, calibrator reads back %s", setting, reading)

			if enable {
				if err := apiClient.EnableOutput(ctx); err != nil {
					return err
				}
				logrus.Infof("output enabled")
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.String("range", "", "range (voltage range for power functions)")
	f.String("frequency", "", "frequency of AC functions")
	f.String("current", "", "current of power functions")
	f.String("current-range", "", "current range of power functions")
	f.String("phase", "", "phase of AC power in degrees")
	f.String("scale", "", "temperature scale of rtd (C, F or K)")
	f.String("type", "", "thermocouple type (B, E, J, K, N, R, S or T)")
	f.BoolVar(&enable, "enable", false, "enable the output after setting it")

	return cmd
}

func functionList() string {
	var names []string
	for _, f := range te5025.Functions() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

func NewOutputCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "output",
		Short:   "Enable or disable the calibrator output",
		GroupID: gOutput,
		Long: `Enable or disable the calibrator output.

The state is read back from the calibrator after every change. If the
calibrator refuses, e.g. because its safety loop is open, the command fails.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable the output",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := cmdContext(cmd)
				defer cancel()

				if err := apiClient.EnableOutput(ctx); err != nil {
					return fmt.Errorf("failed to enable output: %w", err)
				}
				logrus.Infof("successfully enabled output")
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the output",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := cmdContext(cmd)
				defer cancel()

				if err := apiClient.DisableOutput(ctx); err != nil {
					return fmt.Errorf("failed to disable output: %w", err)
				}
				logrus.Infof("successfully disabled output")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Get the current state of the output",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := cmdContext(cmd)
				defer cancel()

				enabled, err := apiClient.OutputEnabled(ctx)
				if err != nil {
					return fmt.Errorf("failed to get output state: %w", err)
				}
				cmd.Printf("Output: %s\n", onOffText(enabled))
				return nil
			},
		},
	)

	return cmd
}

func NewQueryCommand() *cobra.Command {
	var kind, unit string

	cmd := &cobra.Command{
		Use:     "query [name]",
		Short:   "Ask the calibrator for a value",
		GroupID: gOutput,
		Long: `Ask the calibrator for a value.

Without a name, the known queries are listed. A SCPI header that is not a
known query can be sent with --kind, e.g. 'te5025 query OUTP:PROT? --kind bool'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			if len(args) == 0 {
				infos, err := apiClient.Queries(ctx)
				if err != nil {
					return err
				}
				printQueries(cmd, infos)
				return nil
			}

			q, ok := te5025.LookupQuery(args[0])
			if !ok {
				if kind == "" {
					return fmt.Errorf("unknown query %q, use --kind for a custom header", args[0])
				}
				var err error
				q, err = te5025.NewQuery(args[0], te5025.ResponseKind(kind), te5025.Unit(unit))
				if err != nil {
					return err
				}
			}

			resp, err := apiClient.Query(ctx, q)
			if err != nil {
				return err
			}

			cmd.Printf("%s %s\n", bold("%s", resp.Query), resp)
			logrus.Debugf("raw reply: %q", resp.Raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "reply kind of a custom query (number, bool, word, integer, error, identity)")
	cmd.Flags().StringVar(&unit, "unit", "", "unit of a custom number query")

	return cmd
}

func printQueries(cmd *cobra.Command, infos []types.QueryInfo) {
	for _, info := range infos {
		unit := string(info.Unit)
		if unit == "" {
			unit = "-"
		}
		cmd.Printf("  %-22s %-20s %-9s %s\n", info.Name, info.Header, info.Kind, unit)
	}
}

func NewErrorsCommand() *cobra.Command {
	var clearOnly bool

	cmd := &cobra.Command{
		Use:     "errors",
		Short:   "Read the calibrator error queue",
		GroupID: gOutput,
		Long: `Read and empty the calibrator error queue.

With --clear, the queue is emptied without printing it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()

			if clearOnly {
				if err := apiClient.ClearErrors(ctx); err != nil {
					return err
				}
				logrus.Infof("error queue cleared")
				return nil
			}

			entries, err := apiClient.Errors(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("No errors.")
				return nil
			}
			for _, e := range entries {
				cmd.Printf("  %s %s\n", bold("%d", e.Code), e.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearOnly, "clear", false, "clear the queue without printing it")

	return cmd
}
