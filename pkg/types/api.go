// Package types holds the request and response bodies shared by the daemon
// and its client.
package types

import (
	"time"

	"github.com/charlie0129/te5025/pkg/te5025"
)

// ErrorResponse is the body of every non-2xx reply. Code is a
// te5025.ErrorCode, or CodeBusy.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CodeBusy means a sequence owns the output.
const CodeBusy = "busy"

// QueryRequest names a predefined query, or describes a custom one when
// Kind is set.
type QueryRequest struct {
	Query string              `json:"query"`
	Kind  te5025.ResponseKind `json:"kind,omitempty"`
	Unit  te5025.Unit         `json:"unit,omitempty"`
}

// QueryInfo describes a predefined query.
type QueryInfo struct {
	Name   string              `json:"name"`
	Header string              `json:"header"`
	Kind   te5025.ResponseKind `json:"kind"`
	Unit   te5025.Unit         `json:"unit,omitempty"`
}

// ScheduleRequest sets the cron schedule. An empty Cron disables it. An
// empty Sequence keeps the configured one.
type ScheduleRequest struct {
	Cron     string `json:"cron"`
	Sequence string `json:"sequence,omitempty"`
}

// ScheduleStatus describes the scheduled sequence runs.
type ScheduleStatus struct {
	Cron     string      `json:"cron"`
	Sequence string      `json:"sequence"`
	Enabled  bool        `json:"enabled"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
}
