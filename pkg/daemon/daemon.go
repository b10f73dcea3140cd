package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/config"
	"github.com/charlie0129/freqclamp/pkg/cpufreq"
	"github.com/charlie0129/freqclamp/pkg/display"
	"github.com/charlie0129/freqclamp/pkg/events"
	"github.com/charlie0129/freqclamp/pkg/journal"
	"github.com/charlie0129/freqclamp/pkg/limiter"
	"github.com/charlie0129/freqclamp/pkg/metrics"
)

// journalKeep is how many decisions survive a scheduled prune.
const journalKeep = 10000

type server struct {
	conf    config.Config
	backend *cpufreq.Sysfs
	lim     *limiter.Limiter
	gov     *cpufreq.Governor
	watcher *display.Watcher
	hub     *events.EventHub
	metrics *metrics.Metrics
	journal *journal.Store
	// state keeps requested ranges across restarts. It may be the same
	// store as journal.
	state    *journal.Store
	schedule cron.Schedule

	// ctx is canceled when the daemon shuts down.
	ctx context.Context
}

func (s *server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/limits", s.getLimits)
	router.PUT("/limits", s.setLimits)
	router.GET("/state", s.getState)
	router.GET("/policies", s.getPolicies)
	router.POST("/resync", s.postResync)
	router.GET("/config", s.getConfig)
	router.GET("/history", s.getHistory)
	router.GET("/events", s.getEvents)
	router.GET("/metrics", s.getMetrics())
	router.GET("/version", getVersion)

	return router
}

// newServer activates the limiter. It fails when the display oracle, the
// resync schedule or the current policy of the first CPU is unusable. No
// CPU is written before it returns.
func newServer(ctx context.Context, conf config.Config, oracle display.Oracle, backend *cpufreq.Sysfs) (*server, error) {
	if oracle == nil {
		return nil, limiter.ErrNoOracle
	}

	schedule, err := config.ParseSchedule(conf.ResyncSchedule())
	if err != nil {
		return nil, err
	}

	lim, err := limiter.New(oracle, limiter.Options{
		Enabled:      conf.Enabled(),
		ScreenoffMin: conf.ScreenoffMin(),
		ScreenoffMax: conf.ScreenoffMax(),
	})
	if err != nil {
		return nil, err
	}

	cpus, err := backend.CPUs()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to enumerate cpufreq policies")
	}
	gov := cpufreq.NewGovernor(backend)
	boot, err := backend.Limits(cpus[0])
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read current policy of cpu %d", cpus[0])
	}
	lim.Bootstrap(boot)

	s := &server{
		conf:     conf,
		backend:  backend,
		lim:      lim,
		gov:      gov,
		hub:      events.NewEventHub(),
		metrics:  metrics.New(),
		schedule: schedule,
		ctx:      ctx,
	}

	if err := s.openStores(ctx); err != nil {
		s.close()
		return nil, err
	}

	gov.Register(cpufreq.NotifierFunc(s.countSkipped))
	gov.Register(lim)
	gov.OnApplied(s.onApplied)
	lim.AddHook(s.onDecision)

	s.watcher = display.NewWatcher(oracle, s.conf.PollInterval(), s.onDisplayChange)

	return s, nil
}

func (s *server) openStores(ctx context.Context) error {
	var err error
	if p := s.conf.StatePath(); p != "" {
		s.state, err = journal.Open(ctx, p)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to open state store")
		}
		if err := s.gov.Resume(ctx, s.state); err != nil {
			return pkgerrors.Wrap(err, "failed to load saved cpufreq ranges")
		}
	} else {
		logrus.Warn("statePath is empty, limits left behind by a crash cannot be told apart from requested ones")
	}

	if p := s.conf.JournalPath(); p != "" {
		if p == s.conf.StatePath() {
			s.journal = s.state
		} else {
			s.journal, err = journal.Open(ctx, p)
			if err != nil {
				return pkgerrors.Wrap(err, "failed to open decision journal")
			}
		}
		logrus.Infof("recording decisions to %s", p)
	}
	return nil
}

func (s *server) close() {
	if s.journal != s.state {
		if err := s.journal.Close(); err != nil {
			logrus.Errorf("failed to close journal: %v", err)
		}
	}
	if err := s.state.Close(); err != nil {
		logrus.Errorf("failed to close state store: %v", err)
	}
}

// restore writes the requested ranges back. It is safe to call before any
// CPU was written.
func (s *server) restore() {
	logrus.Info("restoring requested cpufreq limits")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gov.Restore(ctx); err != nil {
		logrus.Errorf("failed to restore cpufreq limits before exiting: %v", err)
	}
}

func resolveOracle(conf config.Config) (display.Oracle, error) {
	o := conf.Oracle()
	oracle, err := display.Resolve(o.Provider, display.Options{
		SysfsRoot:      conf.SysfsRoot(),
		Path:           o.Path,
		SuspendedValue: o.SuspendedValue,
		Suspended:      o.Suspended,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to resolve display state provider %q", o.Provider)
	}
	logrus.WithField("provider", o.Provider).Infof("using display state provider")
	return oracle, nil
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	oracle, err := resolveOracle(conf)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newServer(ctx, conf, oracle, &cpufreq.Sysfs{Root: conf.SysfsRoot()})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to activate screen-off limits")
	}
	defer logrus.Info("exiting")
	defer s.close()
	// Every return from here on must leave the CPUs unclamped.
	defer s.restore()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			s.applyConfig()
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	srv := &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// A socket left over from an unclean exit would make Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			_ = l.Close()
			return pkgerrors.Wrapf(err, "failed to chmod %s", unixSocketPath)
		}
	}

	// Serve HTTP on unix socket
	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Apply the current state once before waiting for display edges.
	s.resync("startup")

	go s.watcher.Run(ctx)

	stopResync := s.startResync()

	var runErr error
	select {
	case sig := <-sigc:
		logrus.Infof("caught signal \"%s\": shutting down.", sig)
	case err := <-serveErr:
		logrus.Errorf("http server failed: %v", err)
		runErr = pkgerrors.Wrap(err, "http server failed")
	}

	stopResync()
	cancel()

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}

	return runErr
}
