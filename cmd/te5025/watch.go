package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/te5025/pkg/events"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Follow output changes and sequence progress",
		GroupID: gAdvanced,
		Long: `Follow output changes and sequence progress as the daemon reports them.

Runs until interrupted or the daemon stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return err
			}

			for ev := range ch {
				printEvent(cmd, ev)
			}
			return nil
		},
	}
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	now := time.Now().Format(time.TimeOnly)

	switch ev.Name {
	case events.OutputState:
		p, err := events.DecodeAs[events.OutputStateEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s output %s\n", now, onOffText(p.Enabled))
		return
	case events.SequenceStep:
		p, err := events.DecodeAs[events.SequenceStepEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s step %d %s %s %s\n", now, p.Index+1, p.Action, passText(p.Passed), p.Error)
		return
	case events.SequenceFinished:
		p, err := events.DecodeAs[events.SequenceFinishedEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s sequence %s (%s) %s %s\n", now, p.Sequence, p.RunID, passText(p.Passed), p.Error)
		return
	case events.ScheduleUpcoming:
		p, err := events.DecodeAs[events.ScheduleUpcomingEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s sequence %s starts at %s\n", now, p.Sequence, time.Unix(p.RunAt, 0).Format(time.TimeOnly))
		return
	}

	logrus.WithField("event", ev.Name).Debugf("unhandled event: %s", ev.Data)
}
