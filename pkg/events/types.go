package events

import "encoding/json"

// Event names
const (
	OutputState      = "output.state"
	SequenceStep     = "sequence.step"
	SequenceFinished = "sequence.finished"
	ScheduleUpcoming = "schedule.upcoming"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// OutputStateEvent is the payload of output.state. It is published whenever
// the confirmed interlock state changes.
type OutputStateEvent struct {
	Enabled bool  `json:"enabled"`
	Ts      int64 `json:"ts"`
}

// SequenceStepEvent is the payload of sequence.step.
type SequenceStepEvent struct {
	RunID  string `json:"runId"`
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Action string `json:"action"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
	Ts     int64  `json:"ts"`
}

// SequenceFinishedEvent is the payload of sequence.finished.
type SequenceFinishedEvent struct {
	RunID    string `json:"runId"`
	Sequence string `json:"sequence"`
	Passed   bool   `json:"passed"`
	Error    string `json:"error,omitempty"`
	Ts       int64  `json:"ts"`
}

// ScheduleUpcomingEvent is the payload of schedule.upcoming, sent shortly
// before a scheduled sequence starts.
type ScheduleUpcomingEvent struct {
	Sequence string `json:"sequence"`
	RunAt    int64  `json:"runAt"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.OutputStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Enabled)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
