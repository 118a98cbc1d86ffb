package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/config"
	"github.com/charlie0129/te5025/pkg/events"
	"github.com/charlie0129/te5025/pkg/sequence"
	"github.com/charlie0129/te5025/pkg/simulator"
	"github.com/charlie0129/te5025/pkg/te5025"
)

const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

var (
	errSequenceRunning = errors.New("a sequence is running, wait for it to finish")
	errReconnecting    = errors.New("reconnecting to the calibrator, try again later")
)

// Daemon owns the calibrator session and serves it over HTTP.
type Daemon struct {
	conf      config.Config
	hub       *events.EventHub
	scheduler *Scheduler

	// open replaces the transport. Nil means visa.Open, or the simulator
	// when the config asks for it.
	open te5025.OpenFunc
	sim  *simulator.Instrument

	mu      sync.RWMutex
	session *te5025.Session

	// seqMu is write-held by a sequence run or a reconnect and read-held by
	// requests that change the output.
	seqMu      sync.RWMutex
	seqRunning atomic.Bool
	lastReport atomic.Pointer[sequence.Report]

	loopInterval time.Duration
}

func New(conf config.Config) *Daemon {
	d := &Daemon{
		conf:         conf,
		hub:          events.NewEventHub(),
		loopInterval: defaultLoopInterval,
	}

	d.scheduler = NewScheduler(d.runScheduledSequence, d.schedulePreCheck)
	d.scheduler.OnUpcoming = func(runAt time.Time) {
		d.hub.Publish(events.ScheduleUpcoming, events.ScheduleUpcomingEvent{
			Sequence: d.conf.ScheduleSequence(),
			RunAt:    runAt.Unix(),
		})
	}

	return d
}

// connParams are the config values that need a reconnect when changed.
type connParams struct {
	Address        string
	Simulate       bool
	Timeout        time.Duration
	CommandDelay   time.Duration
	ReadTerm       string
	WriteTerm      string
	GPIBGateway    string
	BaudRate       int
	ExpectedModels []string
}

func (d *Daemon) connParams() connParams {
	return connParams{
		Address:        d.conf.Address(),
		Simulate:       d.conf.Simulate(),
		Timeout:        d.conf.Timeout(),
		CommandDelay:   d.conf.CommandDelay(),
		ReadTerm:       d.conf.ReadTermination(),
		WriteTerm:      d.conf.WriteTermination(),
		GPIBGateway:    d.conf.GPIBGateway(),
		BaudRate:       d.conf.BaudRate(),
		ExpectedModels: d.conf.ExpectedModels(),
	}
}

func (d *Daemon) sessionOptions() te5025.Options {
	opts := config.SessionOptions(d.conf)
	opts.OnOutputChange = func(enabled bool) {
		d.hub.Publish(events.OutputState, events.OutputStateEvent{
			Enabled: enabled,
			Ts:      time.Now().Unix(),
		})
	}

	switch {
	case d.open != nil:
		opts.Open = d.open
	case d.conf.Simulate():
		if d.sim == nil {
			d.sim = simulator.New()
		}
		opts.Open = d.sim.Open
	}

	return opts
}

// Connect opens the configured calibrator. Only transport failures are
// retried; a wrong device is reported at once.
func (d *Daemon) Connect(ctx context.Context) error {
	address := d.conf.Address()
	opts := d.sessionOptions()
	if d.conf.Simulate() {
		logrus.Warn("simulation enabled, no calibrator will be driven")
	}

	var s *te5025.Session
	err := retry.Do(func() error {
		var err error
		s, err = te5025.Connect(ctx, address, opts)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, te5025.ErrConnection)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			logrus.WithError(err).Warnf("failed to connect to %s (attempt %d/%d)", address, attempt+1, connectAttempts)
		}),
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to connect to %s", address)
	}

	d.mu.Lock()
	d.session = s
	d.mu.Unlock()

	d.hub.Publish(events.OutputState, events.OutputStateEvent{
		Enabled: s.InterlockState(),
		Ts:      time.Now().Unix(),
	})

	return nil
}

// Disconnect disables the output and closes the session, if any.
func (d *Daemon) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	s := d.session
	d.session = nil
	d.mu.Unlock()

	if s == nil {
		return nil
	}

	return s.Disconnect(ctx)
}

func (d *Daemon) current() (*te5025.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.session == nil {
		return nil, te5025.ErrNotConnected
	}
	return d.session, nil
}

// reload applies a freshly loaded config: reconnects when the link
// settings changed and reapplies the schedule.
func (d *Daemon) reload(ctx context.Context, before connParams) {
	if !reflect.DeepEqual(before, d.connParams()) {
		logrus.Info("connection settings changed, reconnecting")

		// Do not pull the session from under a running sequence.
		d.seqMu.Lock()
		if err := d.Disconnect(ctx); err != nil {
			logrus.WithError(err).Error("failed to disconnect")
		}
		if err := d.Connect(ctx); err != nil {
			logrus.WithError(err).Error("failed to reconnect, requests will fail until the next reload")
		}
		d.seqMu.Unlock()
	}

	if err := d.applySchedule(); err != nil {
		logrus.WithError(err).Error("failed to apply schedule")
	}
}

func (d *Daemon) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))
	router.GET("/config", d.getConfig)
	router.GET("/identity", d.getIdentity)
	router.GET("/status", d.getStatus)
	router.GET("/functions", d.getFunctions)
	router.PUT("/output/setting", d.setOutputSetting)
	router.GET("/output/enabled", d.getOutputEnabled)
	router.PUT("/output/enabled", d.setOutputEnabled)
	router.GET("/queries", d.getQueries)
	router.POST("/query", d.postQuery)
	router.GET("/errors", d.getErrors)
	router.DELETE("/errors", d.clearErrors)
	router.POST("/sequence", d.postSequence)
	router.GET("/sequence", d.getLastSequence)
	router.GET("/schedule", d.getSchedule)
	router.PUT("/schedule", d.setSchedule)
	router.POST("/schedule/skip", d.skipSchedule)
	router.POST("/schedule/postpone", d.postponeSchedule)
	router.GET("/events", d.getEvents)
	router.GET("/version", getVersion)

	return router
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	d := New(conf)

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := <-sigc
		logrus.Infof("caught signal \"%s\": shutting down.", sig)
		cancel()
	}()

	if err := d.Connect(ctx); err != nil {
		return err
	}

	if err := d.applySchedule(); err != nil {
		logrus.WithError(err).Error("failed to apply schedule")
	}

	go d.watchLoop(ctx)

	// Receive SIGHUP to reload config
	go func() {
		hupc := make(chan os.Signal, 1)
		signal.Notify(hupc, syscall.SIGHUP)
		for range hupc {
			before := d.connParams()
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
			d.reload(ctx, before)
		}
	}()

	srv := &http.Server{
		Handler: d.Router(),
	}

	// A socket left behind by a crashed daemon would make Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warnf("failed to remove stale socket %s", unixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		_ = d.Disconnect(ctx)
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.WithError(err).Error("failed to change socket permissions")
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	<-ctx.Done()

	logrus.Info("stopping scheduler")
	d.scheduler.Stop()

	// Ends the SSE streams, which would otherwise hold Shutdown up.
	d.hub.Close()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("disabling output and closing calibrator session")
	if err := d.Disconnect(context.Background()); err != nil {
		logrus.Errorf("failed to close calibrator session: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
