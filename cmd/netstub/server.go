package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/driver"
	"github.com/netstub/netstub/pkg/intercept"
	"github.com/netstub/netstub/pkg/logging"
	"github.com/netstub/netstub/pkg/metrics"
	"github.com/netstub/netstub/pkg/proxy"
)

const shutdownTimeout = 10 * time.Second

// server owns every listener of a running netstub instance.
type server struct {
	cfg    api.Config
	logger *slog.Logger

	emitter   *logging.Emitter
	collector *metrics.Collector
	manager   *intercept.Manager
	driver    *driver.Server
	proxy     *proxy.Proxy
	caPool    *proxy.CAPool

	driverHTTP  *http.Server
	metricsHTTP *http.Server
}

func newServer(cfg api.Config, logger *slog.Logger) (*server, error) {
	codec, err := driver.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	caPool, err := proxy.NewCAPool(cfg.CADir)
	if err != nil {
		return nil, errx.Wrap(ErrInitCA, err)
	}

	sinks := []logging.Sink{logging.NewSlogSink(logger)}
	if cfg.EventLog != "" {
		w, err := logging.NewJSONLWriter(cfg.EventLog)
		if err != nil {
			return nil, errx.Wrap(ErrOpenEventLog, err)
		}
		sinks = append(sinks, w)
	}
	emitter := logging.NewEmitter(logging.EmitterConfig{RunID: cfg.RunID}, sinks...)

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector(metrics.Config{}, nil)
	}

	manager := intercept.NewManager(intercept.NewState(), logger, emitter, collector)
	drv := driver.NewServer(codec, driver.NewDispatcher(manager, logger, collector), logger, collector)
	manager.SetDriver(drv)

	s := &server{
		cfg:       cfg,
		logger:    logger,
		emitter:   emitter,
		collector: collector,
		manager:   manager,
		driver:    drv,
		proxy:     proxy.New(manager, caPool, logger, proxy.Config{}),
		caPool:    caPool,
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.DriverPath, drv)
	mux.HandleFunc("/ca.crt", s.serveCACert)
	s.driverHTTP = &http.Server{
		Addr:              cfg.DriverAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if collector != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", collector.Handler())
		s.metricsHTTP = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

func (s *server) serveCACert(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(s.caPool.CACertPEM())
}

// Run serves until ctx is done or a listener fails.
func (s *server) Run(ctx context.Context) error {
	proxyLn, err := net.Listen("tcp", s.cfg.ProxyAddr)
	if err != nil {
		_ = s.emitter.Close()
		return errx.Wrap(ErrProxyListen, err)
	}
	driverLn, err := net.Listen("tcp", s.cfg.DriverAddr)
	if err != nil {
		_ = proxyLn.Close()
		_ = s.emitter.Close()
		return errx.Wrap(ErrDriverListen, err)
	}

	errc := make(chan error, 3)
	go func() {
		if err := s.proxy.Serve(proxyLn); err != nil && !errors.Is(err, proxy.ErrProxyClosed) {
			errc <- errx.Wrap(ErrProxyListen, err)
		}
	}()
	go func() {
		if err := s.driverHTTP.Serve(driverLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errx.Wrap(ErrDriverListen, err)
		}
	}()
	if s.metricsHTTP != nil {
		go func() {
			if err := s.metricsHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- errx.Wrap(ErrMetricsListen, err)
			}
		}()
	}

	s.logger.Info("netstub started",
		"proxy", proxyLn.Addr().String(),
		"driver", "ws://"+driverLn.Addr().String()+s.cfg.DriverPath,
		"metrics", s.cfg.MetricsAddr,
		"ca", s.caPool.CACertPath(),
		"codec", s.cfg.Codec,
		"run_id", s.cfg.RunID,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	if err := s.shutdown(); runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *server) shutdown() error {
	s.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := []error{s.proxy.Close(), s.driver.Close(), s.driverHTTP.Shutdown(ctx)}
	if s.metricsHTTP != nil {
		errs = append(errs, s.metricsHTTP.Shutdown(ctx))
	}
	errs = append(errs, s.emitter.Close())
	return errors.Join(errs...)
}
