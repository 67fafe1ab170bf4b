package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"stockdesk/internal/dispatch"
	"stockdesk/internal/logger"
	"stockdesk/internal/metrics"
	"stockdesk/internal/model"
	"stockdesk/internal/session"
)

// Built-in operations. Anything else is treated as a query id or alias.
const (
	OpLogin             = "login"
	OpRevokeToken       = "revokeToken"
	OpSession           = "session"
	OpSearchInstruments = "searchInstruments"
	OpLookupInstrument  = "lookupInstrument"
)

// Service implements invoke(op, args) for the presentation layer. It never
// touches token or cache state except through the session manager and
// dispatcher.
type Service struct {
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	store      model.InstrumentStore
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewService wires the invoke surface.
func NewService(sessions *session.Manager, d *dispatch.Dispatcher, store model.InstrumentStore, m *metrics.Metrics) *Service {
	return &Service{
		sessions:   sessions,
		dispatcher: d,
		store:      store,
		metrics:    m,
		log:        slog.Default().With("component", "gateway"),
	}
}

// Dispatcher returns the dispatcher behind the service.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Invoke runs one operation. raw is a JSON object or empty.
func (s *Service) Invoke(ctx context.Context, op string, raw json.RawMessage) (any, error) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(op, time.Now()))

	args, err := decodeArgs(op, raw)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpLogin:
		sess, err := s.sessions.Login(ctx, session.Credentials{
			AppKey:    stringArg(args, "appkey"),
			SecretKey: stringArg(args, "secretkey"),
		})
		if err != nil {
			return nil, err
		}
		return sess.Info(), nil

	case OpRevokeToken:
		return s.sessions.Revoke(ctx, s.sessions.Session())

	case OpSession:
		return s.sessions.Session().Info(), nil

	case OpSearchInstruments:
		limit, err := intArg(op, args, "limit", model.MaxSearchLimit)
		if err != nil {
			return nil, err
		}
		return s.store.Search(ctx, stringArg(args, "term"), limit)

	case OpLookupInstrument:
		name := strings.TrimSpace(stringArg(args, "name"))
		if name == "" {
			return nil, &model.InvalidPayloadError{QueryID: op, Missing: []string{"name"}}
		}
		return s.store.LookupByExactName(ctx, name)

	default:
		res, err := s.dispatcher.Dispatch(ctx, op, args, s.sessions.Session())
		if res == nil {
			return nil, err
		}
		return res, err
	}
}

// decodeArgs keeps numbers as json.Number so codes and dates pass through
// to the upstream exactly as typed.
func decodeArgs(op string, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, &model.InvalidPayloadError{QueryID: op, Missing: []string{"args"}}
	}
	return args, nil
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// intArg reads an optional integer in [0, upper]. Anything else is an
// InvalidPayloadError naming key.
func intArg(op string, args map[string]any, key string, upper int64) (int, error) {
	var n int64
	switch v := args[key].(type) {
	case nil:
		return 0, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, &model.InvalidPayloadError{QueryID: op, Missing: []string{key}}
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, &model.InvalidPayloadError{QueryID: op, Missing: []string{key}}
		}
		n = i
	default:
		return 0, &model.InvalidPayloadError{QueryID: op, Missing: []string{key}}
	}
	if n < 0 || n > upper {
		return 0, &model.InvalidPayloadError{QueryID: op, Missing: []string{key}}
	}
	return int(n), nil
}
