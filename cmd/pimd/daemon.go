package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gopimd/internal/config"
	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/loop"
	pimmetrics "github.com/dantte-lp/gopimd/internal/metrics"
	"github.com/dantte-lp/gopimd/internal/netio"
	"github.com/dantte-lp/gopimd/internal/pim"
	"github.com/dantte-lp/gopimd/internal/server"
	appversion "github.com/dantte-lp/gopimd/internal/version"
)

// shutdownTimeout is the maximum time to wait for instance teardown and
// for HTTP servers to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// loopDepth bounds the number of queued event loop tasks.
const loopDepth = 256

// daemonState is everything the daemon goroutines share.
type daemonState struct {
	cfg        *config.Config
	configPath string
	logLevel   *slog.LevelVar
	logger     *slog.Logger

	filters *filter.Registry
	ctrl    *pim.Controller
	loop    *loop.Loop
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("pimd starting",
		slog.String("version", appversion.Version),
		slog.String("family", cfg.PIM.Family),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := pimmetrics.NewCollector(reg)

	filters, err := newFilters(cfg, logger)
	if err != nil {
		return fmt.Errorf("build prefix lists: %w", err)
	}
	opts, err := controllerOptions(cfg, filters)
	if err != nil {
		return err
	}
	afi, _ := config.ParseFamily(cfg.PIM.Family)
	opts = append(opts,
		pim.WithDataplane(netio.NewDataplane(afi, logger)),
		pim.WithSocketFactory(netio.NewVRFSockets()),
		pim.WithSubsystems(pim.Subsystems{Interfaces: netio.NewVIFProtocol(logger)}),
		pim.WithMetrics(collector),
	)

	d := &daemonState{
		cfg:        cfg,
		configPath: configPath,
		logLevel:   logLevel,
		logger:     logger,
		filters:    filters,
		ctrl:       pim.NewController(pim.NewRegistry(), logger, opts...),
		loop:       loop.New(logger, loopDepth),
	}

	if err := d.runServers(reg, fr); err != nil {
		logger.Error("pimd exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("pimd stopped")
	return nil
}

// runServers runs the event loop, VRF monitor, API and metrics servers
// using an errgroup with signal-aware context for graceful shutdown.
func (d *daemonState) runServers(reg *prometheus.Registry, fr *trace.FlightRecorder) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// The loop outlives gCtx so that shutdown can tear instances down on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	g.Go(func() error {
		return d.loop.Run(loopCtx)
	})

	d.reconcile(gCtx, d.cfg)

	mon := netio.NewVRFMonitor(d.cfg.PIM.DefaultVRFName, d.logger)
	g.Go(func() error {
		defer func() {
			if err := mon.Close(); err != nil {
				d.logger.Warn("failed to close vrf monitor", slog.String("error", err.Error()))
			}
		}()
		return mon.Run(gCtx)
	})
	g.Go(func() error {
		pumpVRFEvents(gCtx, mon.Events(), d.loop, d.ctrl, d.logger)
		return nil
	})

	apiSrv := d.newAPIServer()
	metricsSrv := newMetricsServer(d.cfg.Metrics, reg)
	d.startHTTPServers(gCtx, g, apiSrv, metricsSrv)
	d.startDaemonGoroutines(gCtx, g)

	notifyReady(d.logger)

	g.Go(func() error {
		<-gCtx.Done()
		defer stopLoop()
		return d.gracefulShutdown(gCtx, fr, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the API and metrics HTTP server goroutines.
func (d *daemonState) startHTTPServers(ctx context.Context, g *errgroup.Group, apiSrv, metricsSrv *http.Server) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		d.logger.Info("api server listening", slog.String("addr", d.cfg.API.Addr))
		return listenAndServe(ctx, &lc, apiSrv, d.cfg.API.Addr)
	})

	g.Go(func() error {
		d.logger.Info("metrics server listening",
			slog.String("addr", d.cfg.Metrics.Addr),
			slog.String("path", d.cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, d.cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func (d *daemonState) startDaemonGoroutines(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return runWatchdog(ctx, d.logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		d.handleSIGHUP(ctx, sigHUP)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// WatchdogSec interval. If watchdog is not configured, it returns at once.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level, prefix lists and instance reconciliation
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration until
// ctx is cancelled.
func (d *daemonState) handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			d.logger.Info("received SIGHUP, reloading configuration")
			d.reloadConfig(ctx)
		}
	}
}

// reloadConfig loads a fresh configuration, updates the dynamic log level,
// replaces the prefix lists and reconciles instances. Errors are logged
// and the previous configuration remains in effect.
func (d *daemonState) reloadConfig(ctx context.Context) {
	newCfg, err := config.Load(d.configPath)
	if err != nil {
		d.logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}
	lists, err := newCfg.BuildPrefixLists()
	if err != nil {
		d.logger.Error("invalid prefix lists, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := d.logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	d.logLevel.Set(newLevel)

	// Prefix list notifications reevaluate SSM ranges on the loop.
	var changed int
	if err := d.loop.Do(ctx, func() error {
		changed = d.filters.Replace(lists)
		return nil
	}); err != nil {
		d.logger.Error("failed to replace prefix lists", slog.String("error", err.Error()))
		return
	}

	d.logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
		slog.Int("prefix_lists_changed", changed),
	)

	d.reconcile(ctx, newCfg)
}

// reconcile makes the instance registry match cfg.
func (d *daemonState) reconcile(ctx context.Context, cfg *config.Config) {
	specs, err := cfg.InstanceSpecs()
	if err != nil {
		d.logger.Error("invalid instance configuration", slog.String("error", err.Error()))
		return
	}

	var res pim.ReconcileResult
	err = d.loop.Do(ctx, func() error {
		var rerr error
		res, rerr = d.ctrl.Reconcile(ctx, specs)
		return rerr
	})
	if err != nil {
		d.logger.Error("instance reconciliation had errors", slog.String("error", err.Error()))
	}

	d.logger.Info("instances reconciled",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("destroyed", res.Destroyed),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown — terminate instances + stop servers
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd, terminates every instance on the event
// loop, dumps the flight recorder and shuts down HTTP servers.
//
// The parent context is already cancelled when this function is called.
func (d *daemonState) gracefulShutdown(ctx context.Context, fr *trace.FlightRecorder, servers ...*http.Server) error {
	d.logger.Info("initiating graceful shutdown")
	notifyStopping(d.logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := d.loop.Do(shutdownCtx, func() error {
		d.ctrl.Shutdown()
		return nil
	}); err != nil {
		d.logger.Warn("failed to terminate instances", slog.String("error", err.Error()))
	}

	if fr != nil {
		fr.Stop()
		d.logger.Debug("flight recorder stopped")
	}

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder starts a rolling execution trace window for
// post-mortem debugging of instance lifecycle failures.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAPIServer creates the ConnectRPC server. The handler is wrapped with
// h2c to support HTTP/2 without TLS for gRPC health probes. Health is
// reported for the PIM service and for every instance.
func (d *daemonState) newAPIServer() *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(d.ctrl, d.loop, d.logger,
		server.LoggingInterceptorOption(d.logger),
		server.RecoveryInterceptorOption(d.logger),
	)
	mux.Handle(path, handler)
	mux.Handle(grpchealth.NewHandler(server.NewHealthChecker(d.ctrl, d.loop)))

	return &http.Server{
		Addr:              d.cfg.API.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
