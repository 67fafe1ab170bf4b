// Package dispatch turns a query id and payload into one authenticated
// upstream call and a classified result.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"stockdesk/internal/logger"
	"stockdesk/internal/metrics"
	"stockdesk/internal/model"
	"stockdesk/internal/registry"
	"stockdesk/internal/session"
	"stockdesk/pkg/kiwoom"
)

// Reserved payload keys forwarded as continuation headers, never as body
// fields.
const (
	KeyContYN  = kiwoom.HeaderContYN
	KeyNextKey = kiwoom.HeaderNextKey
)

const defaultTimeout = 10 * time.Second

// NoReturnCode is the RemoteAPIError code used when the upstream body has no
// return_code at all.
const NoReturnCode = -1

// Caller performs one upstream request.
type Caller interface {
	Call(ctx context.Context, req kiwoom.Request) (*kiwoom.Response, error)
}

// Invalidator revokes a session whose token the upstream refused.
type Invalidator interface {
	Invalidate(s *session.Session, token string) bool
}

// Config wires a Dispatcher. Store is required when the registry contains
// a write-through query or a query keyed by instrument code.
type Config struct {
	Client      Caller
	Registry    *registry.Registry
	Store       model.InstrumentStore
	Invalidator Invalidator           // optional
	Publisher   model.ResultPublisher // optional
	Metrics     *metrics.Metrics      // optional
	Timeout     time.Duration         // per upstream call; default 10s
}

// Result is a successful dispatch.
type Result struct {
	QueryID      string `json:"queryId"`
	Data         any    `json:"data"`
	ContYN       string `json:"contYn,omitempty"`
	NextKey      string `json:"nextKey,omitempty"`
	ResolvedCode string `json:"resolvedCode,omitempty"`
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	client  Caller
	reg     *registry.Registry
	store   model.InstrumentStore
	inval   Invalidator
	pub     model.ResultPublisher
	metrics *metrics.Metrics
	timeout time.Duration
	log     *slog.Logger

	// refreshMu serialises write-through dispatches across fetch and
	// replace, so the table always holds the last completed refresh.
	refreshMu sync.Mutex
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dispatcher{
		client:  cfg.Client,
		reg:     cfg.Registry,
		store:   cfg.Store,
		inval:   cfg.Invalidator,
		pub:     cfg.Publisher,
		metrics: cfg.Metrics,
		timeout: cfg.Timeout,
		log:     slog.Default().With("component", "dispatch"),
	}
}

// Registry returns the descriptor table this dispatcher serves.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// Dispatch runs one query. queryID may be an id or an alias.
//
// For the write-through query a failed store write returns both the fetched
// Result and a *model.CacheWriteError. Every other failure returns a nil
// Result.
func (d *Dispatcher) Dispatch(ctx context.Context, queryID string, payload map[string]any, s *session.Session) (*Result, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, queryID, payload, s)

	outcome := "ok"
	if err != nil {
		outcome = model.Kind(err)
	}
	id := queryID
	if res != nil {
		id = res.QueryID
	}
	d.metrics.ObserveDispatch(id, outcome, time.Since(start))

	attrs := append([]any{"query", id, "outcome", outcome, "took", time.Since(start)}, logger.LogWithTrace(ctx)...)
	if err != nil {
		d.log.Warn("dispatch failed", append(attrs, "err", err)...)
	} else {
		d.log.Debug("dispatch ok", attrs...)
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, queryID string, payload map[string]any, s *session.Session) (*Result, error) {
	desc, ok := d.reg.Lookup(queryID)
	if !ok {
		return nil, &model.UnknownQueryError{QueryID: queryID}
	}

	body, contYN, nextKey := splitPayload(payload)
	if missing := desc.Missing(body); len(missing) > 0 {
		return nil, &model.InvalidPayloadError{QueryID: desc.QueryID, Missing: missing}
	}

	if s == nil {
		return nil, model.ErrUnauthenticated
	}
	token, status := s.Snapshot()
	if status != session.Active {
		return nil, model.ErrUnauthenticated
	}

	resolved, err := d.resolveCode(ctx, desc, body)
	if err != nil {
		return nil, err
	}

	if desc.WriteThrough {
		d.refreshMu.Lock()
		defer d.refreshMu.Unlock()
	}

	resp, err := d.call(ctx, kiwoom.Request{
		APIID:   desc.QueryID,
		Path:    desc.Path,
		Method:  desc.Method,
		Token:   token,
		Body:    body,
		ContYN:  contYN,
		NextKey: nextKey,
	})
	if err != nil {
		return nil, &model.TransportError{Op: desc.QueryID, Err: err}
	}
	if !resp.OK() {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if d.inval != nil {
				d.inval.Invalidate(s, token)
			}
		}
		return nil, remoteError(resp)
	}

	data, err := desc.Result.Select(ctx, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("select %s result: %w", desc.QueryID, err)
	}

	res := &Result{
		QueryID:      desc.QueryID,
		Data:         data,
		ContYN:       resp.ContYN,
		NextKey:      resp.NextKey,
		ResolvedCode: resolved,
	}

	if desc.WriteThrough {
		records, ok := toInstruments(data)
		if !ok {
			return nil, &model.TransportError{Op: desc.QueryID, Err: ErrNoInstrumentList}
		}
		res.Data = records
		if d.store == nil {
			return res, &model.CacheWriteError{Err: errors.New("no instrument store configured")}
		}
		if err := d.store.ReplaceAll(ctx, records); err != nil {
			d.metrics.CacheWriteFailed()
			return res, &model.CacheWriteError{Err: err}
		}
	}

	d.publish(ctx, res)
	return res, nil
}

func (d *Dispatcher) call(ctx context.Context, req kiwoom.Request) (*kiwoom.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.client.Call(cctx, req)
}

// resolveCode replaces a human-entered name in stk_cd with its code. It
// returns the resolved code, or "" when no resolution was needed.
func (d *Dispatcher) resolveCode(ctx context.Context, desc *registry.Descriptor, body map[string]any) (string, error) {
	if !desc.TakesCode() {
		return "", nil
	}
	raw := strings.TrimSpace(fmt.Sprint(body[registry.CodeField]))
	if model.IsStockCode(raw) {
		body[registry.CodeField] = raw
		return "", nil
	}
	if d.store == nil {
		return "", fmt.Errorf("resolve %q: no instrument store", raw)
	}
	inst, err := d.store.LookupByExactName(ctx, raw)
	if err != nil {
		return "", err
	}
	body[registry.CodeField] = inst.Code
	return inst.Code, nil
}

func (d *Dispatcher) publish(ctx context.Context, res *Result) {
	if d.pub == nil {
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		d.log.Warn("mirror encode failed", "query", res.QueryID, "err", err)
		return
	}
	go d.pub.Publish(context.WithoutCancel(ctx), res.QueryID, b)
}

// splitPayload copies payload without the continuation keys and returns
// those separately.
func splitPayload(payload map[string]any) (body map[string]any, contYN, nextKey string) {
	body = make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case KeyContYN:
			contYN = headerValue(v)
		case KeyNextKey:
			nextKey = headerValue(v)
		default:
			body[k] = v
		}
	}
	return body, contYN, nextKey
}

func headerValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func remoteError(resp *kiwoom.Response) error {
	e := &model.RemoteAPIError{
		Code:       resp.ReturnCode,
		Message:    resp.ReturnMsg,
		HTTPStatus: resp.StatusCode,
	}
	if !resp.HasCode {
		e.Code = NoReturnCode
	}
	if e.Message == "" {
		e.Message = model.UnknownErrorMessage
	}
	return e
}

// IsCacheWrite reports whether err means "fetched but not cached".
func IsCacheWrite(err error) bool {
	var cw *model.CacheWriteError
	return errors.As(err, &cw)
}
