package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/te5025"
)

var errSequenceFailed = errors.New("sequence failed")

func NewRunCommand() *cobra.Command {
	var direct, last bool

	cmd := &cobra.Command{
		Use:     "run [sequence.yaml]",
		Short:   "Run a calibration sequence",
		GroupID: gOutput,
		Long: `Run a calibration sequence.

A sequence is a YAML file of steps: set, enable, disable, dwell, measure and
query. The steps run in order and stop at the first failure. The output is
always disabled when the sequence ends, including on failure or Ctrl-C.

By default the daemon runs the sequence. With --direct, te5025 connects to
the calibrator itself, using the address in the config file; the daemon must
not be holding the same instrument.`,
		Example: `  te5025 run docs/sequences/dc-voltage.yaml
  te5025 run --direct docs/sequences/dc-voltage.yaml
  te5025 run --last`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if last {
				ctx, cancel := cmdContext(cmd)
				defer cancel()

				report, err := apiClient.LastSequence(ctx)
				if err != nil {
					return err
				}
				printReport(cmd, report)
				return nil
			}

			if len(args) != 1 {
				return errors.New("expected a sequence file")
			}

			// Validate locally so mistakes are reported with the file name.
			seq, err := sequence.Load(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var report *sequence.Report
			if direct {
				report, err = runDirect(ctx, seq)
			} else {
				report, err = runOnDaemon(ctx, args[0], seq.Name)
			}
			if report != nil {
				printReport(cmd, report)
				if !report.Passed && err == nil {
					err = errSequenceFailed
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&direct, "direct", false, "connect to the calibrator directly instead of through the daemon")
	cmd.Flags().BoolVar(&last, "last", false, "show the report of the last sequence the daemon ran")

	return cmd
}

func runOnDaemon(ctx context.Context, path, name string) (*sequence.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	logrus.WithField("sequence", name).Info("running sequence on the daemon")
	return apiClient.RunSequence(ctx, name, data)
}

func runDirect(ctx context.Context, seq *sequence.Sequence) (*sequence.Report, error) {
	var report *sequence.Report
	err := withDirectSession(ctx, "", func(s *te5025.Session) error {
		logrus.WithFields(logrus.Fields{
			"sequence": seq.Name,
			"address":  s.Address(),
		}).Info("running sequence")

		runner := sequence.NewRunner(s)
		runner.OnStep = func(_ string, res sequence.StepResult) {
			logrus.WithFields(logrus.Fields{
				"step":   res.Index,
				"action": res.Action,
				"passed": res.Passed,
			}).Debug("step finished")
		}

		var err error
		report, err = runner.Run(ctx, seq)
		return err
	})
	return report, err
}
