package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/types"
)

// The daemon client drives the same sequences a local session does.
var _ sequence.Instrument = (*Client)(nil)

func (c *Client) Identity(ctx context.Context) (te5025.Identity, error) {
	var id te5025.Identity
	if err := c.getJSON(ctx, "/identity", &id); err != nil {
		return id, pkgerrors.Wrapf(err, "failed to get identity")
	}
	return id, nil
}

func (c *Client) Status(ctx context.Context) (te5025.Status, error) {
	var st te5025.Status
	if err := c.getJSON(ctx, "/status", &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to get status")
	}
	return st, nil
}

func (c *Client) Functions(ctx context.Context) ([]te5025.Function, error) {
	var fns []te5025.Function
	if err := c.getJSON(ctx, "/functions", &fns); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get functions")
	}
	return fns, nil
}

// SetOutput programs the calibrator and returns the read-back value. The
// setting is validated locally first so obvious mistakes never leave the
// process.
func (c *Client) SetOutput(ctx context.Context, setting te5025.OutputSetting) (te5025.Reading, error) {
	var r te5025.Reading
	if err := setting.Validate(); err != nil {
		return r, err
	}
	if err := c.sendJSON(ctx, http.MethodPut, "/output/setting", setting.Spec(), &r); err != nil {
		return r, pkgerrors.Wrapf(err, "failed to set output to %s", setting)
	}
	return r, nil
}

func (c *Client) EnableOutput(ctx context.Context) error {
	return c.setOutputEnabled(ctx, true)
}

func (c *Client) DisableOutput(ctx context.Context) error {
	return c.setOutputEnabled(ctx, false)
}

func (c *Client) setOutputEnabled(ctx context.Context, enabled bool) error {
	if err := c.sendJSON(ctx, http.MethodPut, "/output/enabled", enabled, nil); err != nil {
		return pkgerrors.Wrapf(err, "failed to set output enabled to %t", enabled)
	}
	return nil
}

func (c *Client) OutputEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	if err := c.getJSON(ctx, "/output/enabled", &enabled); err != nil {
		return false, pkgerrors.Wrapf(err, "failed to get output state")
	}
	return enabled, nil
}

// Query sends a predefined query by name, or a custom one with its kind and
// unit.
func (c *Client) Query(ctx context.Context, q te5025.Query) (te5025.Response, error) {
	var resp te5025.Response
	if q.Header() == "" {
		return resp, te5025.ErrInvalidQuery
	}

	req := types.QueryRequest{Query: q.Name()}
	if _, ok := te5025.LookupQuery(q.Name()); !ok {
		req = types.QueryRequest{Query: q.Header(), Kind: q.Kind(), Unit: q.Unit()}
	}

	if err := c.sendJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return resp, pkgerrors.Wrapf(err, "failed to query %s", q.Header())
	}
	return resp, nil
}

func (c *Client) Queries(ctx context.Context) ([]types.QueryInfo, error) {
	var infos []types.QueryInfo
	if err := c.getJSON(ctx, "/queries", &infos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list queries")
	}
	return infos, nil
}

// Errors drains the instrument's error queue.
func (c *Client) Errors(ctx context.Context) ([]te5025.ErrorEntry, error) {
	var entries []te5025.ErrorEntry
	if err := c.getJSON(ctx, "/errors", &entries); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read error queue")
	}
	return entries, nil
}

func (c *Client) ClearErrors(ctx context.Context) error {
	if _, err := c.Delete(ctx, "/errors"); err != nil {
		return pkgerrors.Wrapf(err, "failed to clear error queue")
	}
	return nil
}

// RunSequence runs a sequence file on the daemon and waits for it to
// finish. A failed run still returns its report.
func (c *Client) RunSequence(ctx context.Context, name string, data []byte) (*sequence.Report, error) {
	path := "/sequence"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	ret, err := c.Post(ctx, path, data)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to run sequence")
	}

	var report sequence.Report
	if err := json.Unmarshal(ret, &report); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal sequence report")
	}
	return &report, nil
}

func (c *Client) LastSequence(ctx context.Context) (*sequence.Report, error) {
	var report sequence.Report
	if err := c.getJSON(ctx, "/sequence", &report); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get last sequence report")
	}
	return &report, nil
}

func (c *Client) Schedule(ctx context.Context) (types.ScheduleStatus, error) {
	var st types.ScheduleStatus
	if err := c.getJSON(ctx, "/schedule", &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return st, nil
}

// SetSchedule sets the cron schedule. An empty cron disables it.
func (c *Client) SetSchedule(ctx context.Context, cron, sequencePath string) (types.ScheduleStatus, error) {
	var st types.ScheduleStatus
	req := types.ScheduleRequest{Cron: cron, Sequence: sequencePath}
	if err := c.sendJSON(ctx, http.MethodPut, "/schedule", req, &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return st, nil
}

func (c *Client) SkipSchedule(ctx context.Context) (types.ScheduleStatus, error) {
	var st types.ScheduleStatus
	if err := c.sendJSON(ctx, http.MethodPost, "/schedule/skip", nil, &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to skip scheduled run")
	}
	return st, nil
}

func (c *Client) PostponeSchedule(ctx context.Context, d time.Duration) (types.ScheduleStatus, error) {
	var st types.ScheduleStatus
	if err := c.sendJSON(ctx, http.MethodPost, "/schedule/postpone", d.String(), &st); err != nil {
		return st, pkgerrors.Wrapf(err, "failed to postpone scheduled run")
	}
	return st, nil
}

func (c *Client) GetConfig(ctx context.Context) (*config.RawFileConfig, error) {
	var conf config.RawFileConfig
	if err := c.getJSON(ctx, "/config", &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return &conf, nil
}

func (c *Client) GetVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.getJSON(ctx, "/version", &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return v, nil
}
