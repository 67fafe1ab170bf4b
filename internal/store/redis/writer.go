package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockdesk/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL   = 30 * time.Minute
	defaultPublishWait = 2 * time.Second
	defaultMaxFailures = 5
	defaultResetAfter  = 30 * time.Second
)

// WriterConfig configures the Redis result mirror.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL time.Duration // TTL of latest:query:<id>; default 30m
}

// Writer mirrors successful query results into Redis so other local tools
// can read the latest value or subscribe to updates. All failures are
// logged and swallowed; a circuit breaker stops hammering a dead server.
type Writer struct {
	client    *goredis.Client
	breaker   *CircuitBreaker
	latestTTL time.Duration
	log       *slog.Logger
}

var _ model.ResultPublisher = (*Writer)(nil)

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker exposes the circuit breaker so callers can attach callbacks.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	w := newWriter(client, cfg.LatestTTL)
	w.log.Info("connected", "addr", cfg.Addr)
	return w, nil
}

func newWriter(client *goredis.Client, ttl time.Duration) *Writer {
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	return &Writer{
		client:    client,
		breaker:   NewCircuitBreaker(defaultMaxFailures, defaultResetAfter),
		latestTTL: ttl,
		log:       slog.Default().With("component", "redis"),
	}
}

// LatestKey is where the last result of a query is stored.
func LatestKey(queryID string) string { return "latest:query:" + queryID }

// Channel is the pub/sub channel a query's results are published on.
func Channel(queryID string) string { return "pub:query:" + queryID }

// Publish performs a pipelined SET latest + PUBLISH for one query result.
func (w *Writer) Publish(ctx context.Context, queryID string, data []byte) {
	err := w.breaker.Execute(func() error {
		pctx, cancel := context.WithTimeout(ctx, defaultPublishWait)
		defer cancel()

		payload := string(data)
		pipe := w.client.Pipeline()
		pipe.Set(pctx, LatestKey(queryID), payload, w.latestTTL)
		pipe.Publish(pctx, Channel(queryID), payload)
		_, err := pipe.Exec(pctx)
		return err
	})
	switch {
	case err == ErrCircuitOpen:
		w.log.Debug("mirror skipped, circuit open", "query", queryID)
	case err != nil:
		w.log.Warn("mirror publish failed", "query", queryID, "err", err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
