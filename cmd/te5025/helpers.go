package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/simulator"
	"github.com/charlie0129/te5025/pkg/te5025"
)

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func onOffText(b bool) string {
	if b {
		return color.New(color.Bold, color.FgRed).Sprint("ON")
	}
	return color.New(color.Bold, color.FgGreen).Sprint("OFF")
}

func passText(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("PASS")
	}
	return color.New(color.Bold, color.FgRed).Sprint("FAIL")
}

// withDirectSession connects to the calibrator without the daemon, using the
// link settings of the config file. address overrides the configured one.
func withDirectSession(ctx context.Context, address string, fn func(*te5025.Session) error) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return err
	}

	if address == "" {
		address = conf.Address()
	}

	opts := config.SessionOptions(conf)
	if conf.Simulate() {
		opts.Open = simulator.New().Open
	}

	return te5025.WithSession(ctx, address, opts, fn)
}

func printReport(cmd *cobra.Command, report *sequence.Report) {
	cmd.Printf("%s %s (%s)\n", bold("Sequence:"), report.Sequence, report.ID)
	for _, step := range report.Steps {
		detail := ""
		switch {
		case step.Reading != nil:
			detail = step.Reading.String()
		case step.Response != nil:
			detail = step.Response.String()
		}
		if step.Error != "" {
			detail = color.RedString(step.Error)
		}

		cmd.Printf("  %2d. %-4s %-8s %-24s %s\n", step.Index+1, passText(step.Passed), step.Action, step.Name, detail)
	}

	took := report.Finished.Sub(report.Started).Round(time.Millisecond)
	cmd.Printf("%s %s in %s\n", bold("Result:"), passText(report.Passed), took)
	if report.Error != "" {
		cmd.Printf("  %s\n", color.RedString(report.Error))
	}
}

func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("expected %s", what)
		}
		return nil
	}
}
