package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"stockdesk/internal/gateway"
	"stockdesk/internal/metrics"
	"stockdesk/internal/model"
)

const (
	healthInterval  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type serveCmd struct {
	addr  string
	login bool
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "runs the invoke service for the presentation layer" }
func (*serveCmd) Usage() string {
	return `stockdesk serve [-addr host:port] [-login]

Serves POST /invoke, /ws, /endpoints and /healthz on the listen address.
/metrics is served there too unless metrics_addr is configured.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "listen address (overrides listen_addr)")
	f.BoolVar(&c.login, "login", false, "log in with the configured credentials at startup")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	a, err := newApp(cfg, true)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := gateway.NewHub(a.svc)
	probes := metrics.Probes{
		SQLite:      a.store.DB(),
		Instruments: a.store.Count,
		Session:     func() string { return a.sessions.Session().Status().String() },
		WSClients:   hub.ClientCount,
	}
	if a.mirror != nil {
		probes.Redis = a.mirror.Client()
		probes.Breaker = func() string { return a.mirror.Breaker().CurrentState().String() }
	}
	health := metrics.NewHealthStatus(probes)
	health.StartLivenessChecker(ctx, healthInterval)

	routes := gateway.Routes{Service: a.svc, Hub: hub, Health: health}
	var metricsSrv *metrics.Server
	if a.cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(a.cfg.MetricsAddr, a.metrics, health)
		metricsSrv.Start()
	} else {
		routes.Metrics = a.metrics.Handler()
	}

	if c.login {
		if err := a.login(ctx); err != nil {
			a.log.Warn("startup login failed", "kind", model.Kind(err), "err", err)
		}
	}

	addr := a.cfg.ListenAddr
	if c.addr != "" {
		addr = c.addr
	}
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, routes)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("invoke service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	status := subcommands.ExitSuccess
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			a.log.Error("listen failed", "err", err)
			status = subcommands.ExitFailure
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	routes.Hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", "err", err)
	}
	if metricsSrv != nil {
		metricsSrv.Stop(shutdownCtx)
	}
	a.log.Info("shutdown complete")
	return status
}
