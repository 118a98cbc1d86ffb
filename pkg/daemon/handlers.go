package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/te5025"
	"github.com/charlie0129/te5025/pkg/types"
	"github.com/charlie0129/te5025/pkg/version"
)

// maxSequenceSize bounds POST /sequence bodies.
const maxSequenceSize = 1 << 20

// statusFor maps error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errSequenceRunning), errors.Is(err, errReconnecting):
		return http.StatusConflict
	case errors.Is(err, te5025.ErrRange),
		errors.Is(err, te5025.ErrParse),
		errors.Is(err, te5025.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, te5025.ErrCommandRejected),
		errors.Is(err, te5025.ErrInterlockMismatch):
		return http.StatusConflict
	case errors.Is(err, te5025.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, te5025.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, te5025.ErrConnection),
		errors.Is(err, te5025.ErrUnexpectedDevice):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	code := te5025.ErrorCode(err)
	if errors.Is(err, errSequenceRunning) || errors.Is(err, errReconnecting) {
		code = types.CodeBusy
	}

	c.IndentedJSON(status, types.ErrorResponse{Error: err.Error(), Code: code})
	_ = c.AbortWithError(status, err).SetMeta(code)
}

func badRequest(c *gin.Context, err error) {
	c.IndentedJSON(http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
	_ = c.AbortWithError(http.StatusBadRequest, err)
}

// withSession runs fn with the current session and writes its error, if
// any. Output-changing handlers pass exclusive so they do not interleave
// with a running sequence.
func (d *Daemon) withSession(c *gin.Context, exclusive bool, fn func(ctx context.Context, s *te5025.Session) error) {
	if exclusive {
		if !d.seqMu.TryRLock() {
			if d.seqRunning.Load() {
				abortWithError(c, errSequenceRunning)
			} else {
				abortWithError(c, errReconnecting)
			}
			return
		}
		defer d.seqMu.RUnlock()
	}

	s, err := d.current()
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := fn(c.Request.Context(), s); err != nil {
		abortWithError(c, err)
	}
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (d *Daemon) getIdentity(c *gin.Context) {
	d.withSession(c, false, func(ctx context.Context, s *te5025.Session) error {
		id, err := s.Identify(ctx)
		if err != nil {
			return err
		}
		c.IndentedJSON(http.StatusOK, id)
		return nil
	})
}

func (d *Daemon) getStatus(c *gin.Context) {
	d.withSession(c, false, func(ctx context.Context, s *te5025.Session) error {
		st, err := s.Status(ctx)
		if err != nil {
			return err
		}
		c.IndentedJSON(http.StatusOK, st)
		return nil
	})
}

func (d *Daemon) getFunctions(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, te5025.Functions())
}

func (d *Daemon) setOutputSetting(c *gin.Context) {
	var spec te5025.SettingSpec
	if err := c.BindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	setting, err := spec.Setting()
	if err != nil {
		badRequest(c, err)
		return
	}

	d.withSession(c, true, func(ctx context.Context, s *te5025.Session) error {
		reading, err := s.SetOutput(ctx, setting)
		if err != nil {
			return err
		}
		logrus.Infof("output set to %s", setting)
		c.IndentedJSON(http.StatusOK, reading)
		return nil
	})
}

func (d *Daemon) getOutputEnabled(c *gin.Context) {
	d.withSession(c, false, func(ctx context.Context, s *te5025.Session) error {
		enabled, err := s.OutputEnabled(ctx)
		if err != nil {
			return err
		}
		c.IndentedJSON(http.StatusOK, enabled)
		return nil
	})
}

func (d *Daemon) setOutputEnabled(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		badRequest(c, err)
		return
	}

	// Disabling is always allowed, even while a sequence runs.
	d.withSession(c, enabled, func(ctx context.Context, s *te5025.Session) error {
		var err error
		if enabled {
			err = s.EnableOutput(ctx)
		} else {
			err = s.DisableOutput(ctx)
		}
		if err != nil {
			return err
		}
		c.IndentedJSON(http.StatusOK, enabled)
		return nil
	})
}

func (d *Daemon) getQueries(c *gin.Context) {
	var infos []types.QueryInfo
	for _, q := range te5025.Queries() {
		infos = append(infos, types.QueryInfo{
			Name:   q.Name(),
			Header: q.Header(),
			Kind:   q.Kind(),
			Unit:   q.Unit(),
		})
	}
	c.IndentedJSON(http.StatusOK, infos)
}

func (d *Daemon) postQuery(c *gin.Context) {
	var req types.QueryRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	q, ok := te5025.LookupQuery(req.Query)
	if !ok {
		if req.Kind == "" {
			abortWithError(c, te5025.ErrInvalidQuery)
			return
		}
		var err error
		q, err = te5025.NewQuery(req.Query, req.Kind, req.Unit)
		if err != nil {
			badRequest(c, err)
			return
		}
	}

	d.withSession(c, false, func(ctx context.Context, s *te5025.Session) error {
		resp, err := s.Query(ctx, q)
		if err != nil {
			return err
		}
		c.IndentedJSON(http.StatusOK, resp)
		return nil
	})
}

func (d *Daemon) getErrors(c *gin.Context) {
	d.withSession(c, false, func(ctx context.Context, s *te5025.Session) error {
		entries, err := s.DrainErrors(ctx)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []te5025.ErrorEntry{}
		}
		c.IndentedJSON(http.StatusOK, entries)
		return nil
	})
}

func (d *Daemon) clearErrors(c *gin.Context) {
	d.withSession(c, false, func(ctx context.Context, s *te5025.Session) error {
		if err := s.ClearErrors(ctx); err != nil {
			return err
		}
		c.Status(http.StatusNoContent)
		return nil
	})
}

func (d *Daemon) postSequence(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSequenceSize))
	if err != nil {
		badRequest(c, err)
		return
	}

	seq, err := sequence.Parse(body)
	if err != nil {
		badRequest(c, err)
		return
	}
	if name := c.Query("name"); seq.Name == "" {
		seq.Name = name
	}

	// The run is bound to the request: a client that goes away stops it,
	// and the runner still disables the output.
	report, err := d.runSequence(c.Request.Context(), seq)
	if report == nil {
		abortWithError(c, err)
		return
	}

	c.IndentedJSON(http.StatusOK, report)
}

func (d *Daemon) getLastSequence(c *gin.Context) {
	report := d.lastReport.Load()
	if report == nil {
		c.IndentedJSON(http.StatusNotFound, types.ErrorResponse{Error: "no sequence has run yet"})
		return
	}
	c.IndentedJSON(http.StatusOK, report)
}

func (d *Daemon) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.scheduleStatus())
}

func (d *Daemon) setSchedule(c *gin.Context) {
	var req types.ScheduleRequest
	if err := c.BindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	st, err := d.setScheduleConfig(strings.TrimSpace(req.Cron), strings.TrimSpace(req.Sequence))
	if err != nil {
		if errors.Is(err, errInvalidSchedule) {
			badRequest(c, err)
			return
		}
		c.IndentedJSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusOK, st)
}

func (d *Daemon) skipSchedule(c *gin.Context) {
	if err := d.scheduler.Skip(); err != nil {
		badRequest(c, err)
		return
	}
	logrus.Info("skipped next scheduled sequence")
	c.IndentedJSON(http.StatusOK, d.scheduleStatus())
}

func (d *Daemon) postponeSchedule(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		badRequest(c, err)
		return
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := d.scheduler.Postpone(dur); err != nil {
		badRequest(c, err)
		return
	}
	logrus.Infof("postponed next scheduled sequence by %s", dur)
	c.IndentedJSON(http.StatusOK, d.scheduleStatus())
}

func (d *Daemon) getEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Send the headers now so clients see the stream open before the first
	// event.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
