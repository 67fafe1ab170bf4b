package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"stockdesk/config"
	"stockdesk/internal/dispatch"
	"stockdesk/internal/gateway"
	"stockdesk/internal/logger"
	"stockdesk/internal/metrics"
	"stockdesk/internal/model"
	"stockdesk/internal/session"
	"stockdesk/internal/store/redis"
	"stockdesk/internal/store/sqlite"
	"stockdesk/pkg/kiwoom"
)

const serviceName = "stockdesk"

// app is the wired object graph shared by every command.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	store    *sqlite.Store
	mirror   *redis.Writer // nil unless redis_addr is set
	sessions *session.Manager
	svc      *gateway.Service
}

// loadConfig reads the configuration. Commands that log in at once pass
// needCredentials so missing keys fail before anything is opened.
func loadConfig(needCredentials bool) (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	if needCredentials {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp wires the desk. withMirror enables the Redis result mirror when
// configured; one-shot commands leave it off.
func newApp(cfg *config.Config, withMirror bool) (*app, error) {
	var err error
	a := &app{cfg: cfg, metrics: metrics.NewMetrics()}
	a.log = logger.Init(serviceName, logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		LogDir: cfg.LogDir(),
		Stdout: os.Stderr,
	})

	a.store, err = sqlite.New(sqlite.Config{DBPath: cfg.DBPath, OnReplace: a.metrics.ObserveReplace})
	if err != nil {
		return nil, err
	}

	var publisher model.ResultPublisher
	if withMirror && cfg.RedisAddr != "" {
		w, err := redis.New(redis.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			a.log.Warn("redis mirror disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			w.Breaker().OnStateChange = func(from, to redis.State) {
				a.metrics.BreakerChanged(int(to), to == redis.StateOpen)
				a.log.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			}
			a.mirror = w
			publisher = w
		}
	}

	client := kiwoom.NewClient(kiwoom.Config{
		RootURL:    cfg.APIURL,
		Timeout:    cfg.Timeout,
		ProxyURL:   cfg.ProxyURL,
		DisableSSL: cfg.InsecureTLS,
		Debug:      cfg.Debug,
	})
	a.sessions = session.NewManager(client, session.Credentials{AppKey: cfg.AppKey, SecretKey: cfg.SecretKey}, a.metrics)
	d := dispatch.New(dispatch.Config{
		Client:      client,
		Store:       a.store,
		Invalidator: a.sessions,
		Publisher:   publisher,
		Metrics:     a.metrics,
		Timeout:     cfg.Timeout,
	})
	a.svc = gateway.NewService(a.sessions, d, a.store, a.metrics)
	return a, nil
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// login authenticates with the configured credentials.
func (a *app) login(ctx context.Context) error {
	_, err := a.sessions.Login(ctx, session.Credentials{})
	return err
}

// invoke runs op with args and prints the result as indented JSON.
func (a *app) invoke(ctx context.Context, op string, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	result, err := a.svc.Invoke(ctx, op, raw)
	if result != nil {
		if perr := printJSON(result); perr != nil {
			return perr
		}
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// fail reports err on stderr with its wire kind.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", model.Kind(err), err)
}
