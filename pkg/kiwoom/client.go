// Package kiwoom is a thin REST client for the Kiwoom securities open API.
// It knows the wire contract (headers, JSON envelope, continuation headers)
// and nothing about which queries exist; see internal/registry for that.
//
// Usage example:
//
//	c := kiwoom.NewClient(kiwoom.Config{RootURL: "https://mockapi.kiwoom.com"})
//	tok, err := c.IssueToken(ctx, appKey, secretKey)
//	if err != nil { log.Fatal(err) }
//	resp, err := c.Call(ctx, kiwoom.Request{APIID: "ka10001", Path: "/api/dostk/stkinfo",
//	    Token: tok.Token, Body: map[string]any{"stk_cd": "005930"}})
package kiwoom

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultRootURL = "https://api.kiwoom.com"
	MockRootURL    = "https://mockapi.kiwoom.com" // mock-trading server

	contentType = "application/json;charset=UTF-8"

	// Response/request headers used for paging.
	HeaderContYN  = "cont-yn"
	HeaderNextKey = "next-key"
	headerAPIID   = "api-id"

	maxBodyBytes = 32 << 20
)

// ---- Config & client ----

type Config struct {
	RootURL    string        // default: https://api.kiwoom.com
	Timeout    time.Duration // default: 10s
	ProxyURL   string        // optional HTTP proxy URL
	DisableSSL bool          // skip TLS certificate verification
	Debug      bool          // log request/response bodies (tokens are redacted)

	// HTTPClient overrides the transport entirely (tests).
	HTTPClient *http.Client
}

// Client issues requests against one API root. It holds no token state;
// callers pass the bearer token per request.
type Client struct {
	rootURL    string
	timeout    time.Duration
	debug      bool
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient builds a client with TLS 1.2+ and an overall per-request timeout.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = DefaultRootURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.DisableSSL,
			},
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		}
		if cfg.ProxyURL != "" {
			if purl, err := url.Parse(cfg.ProxyURL); err == nil {
				tr.Proxy = http.ProxyURL(purl)
			}
		}
		client = &http.Client{Transport: tr, Timeout: cfg.Timeout}
	}

	return &Client{
		rootURL:    strings.TrimRight(cfg.RootURL, "/"),
		timeout:    cfg.Timeout,
		debug:      cfg.Debug,
		httpClient: client,
		log:        slog.Default().With("component", "kiwoom"),
	}
}

// ---- Request / response ----

// Request is one upstream call. Every Kiwoom REST operation is a POST with a
// JSON body; Method is kept for completeness and defaults to POST.
type Request struct {
	APIID   string
	Path    string
	Method  string
	Token   string // bearer token; empty for the token endpoints
	Body    map[string]any
	ContYN  string // continuation flag from a previous page
	NextKey string // continuation key from a previous page
}

// Response is a decoded upstream reply.
type Response struct {
	StatusCode int
	ReturnCode int
	HasCode    bool // whether return_code was present in the body
	ReturnMsg  string
	Body       map[string]any
	Raw        []byte
	ContYN     string
	NextKey    string
}

// OK reports whether the call succeeded at both the HTTP and the
// application level. An absent return_code counts as failure.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.HasCode && r.ReturnCode == 0
}

// Accepted reports a 2xx reply whose return_code, when present, is 0. The
// token endpoints are judged this way since they may omit return_code.
func (r *Response) Accepted() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && (!r.HasCode || r.ReturnCode == 0)
}

// ErrTransport marks failures below the application layer (dial, timeout,
// unreadable or non-JSON body). Callers check it with errors.Is.
var ErrTransport = errors.New("kiwoom transport")

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string        { return e.op + ": " + e.err.Error() }
func (e *transportError) Unwrap() error        { return e.err }
func (e *transportError) Is(target error) bool { return target == ErrTransport }

// Call performs one request. A non-nil error is always a transport failure;
// HTTP and application-level rejections are reported through the Response.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	body := req.Body
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &transportError{op: "encode " + req.APIID, err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.rootURL+req.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, &transportError{op: "build " + req.APIID, err: err}
	}
	httpReq.Header = c.requestHeaders(req)

	if c.debug {
		c.log.Debug("request", "api_id", req.APIID, "path", req.Path, "body", redact(body))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transportError{op: method + " " + req.Path, err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &transportError{op: "read " + req.APIID, err: err}
	}

	if c.debug {
		c.log.Debug("response", "api_id", req.APIID, "status", resp.StatusCode, "took", time.Since(start), "bytes", len(raw))
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Raw:        raw,
		ContYN:     resp.Header.Get(HeaderContYN),
		NextKey:    resp.Header.Get(HeaderNextKey),
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := decodeEnvelope(raw, out); err != nil {
		// A non-JSON error page on an HTTP failure is still a rejection the
		// caller should see with its status code.
		if out.StatusCode >= 400 {
			out.ReturnMsg = strings.TrimSpace(string(raw))
			return out, nil
		}
		return nil, &transportError{op: "decode " + req.APIID, err: err}
	}
	return out, nil
}

func (c *Client) requestHeaders(req Request) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set("Accept", "application/json")
	h.Set(headerAPIID, req.APIID)
	if req.Token != "" {
		h.Set("authorization", "Bearer "+req.Token)
	}
	if req.ContYN != "" {
		h.Set(HeaderContYN, req.ContYN)
	}
	if req.NextKey != "" {
		h.Set(HeaderNextKey, req.NextKey)
	}
	return h
}

func decodeEnvelope(raw []byte, out *Response) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	out.Body = body

	if v, ok := body["return_code"]; ok {
		if code, ok := toInt(v); ok {
			out.ReturnCode = code
			out.HasCode = true
		}
	}
	if msg, ok := body["return_msg"].(string); ok {
		out.ReturnMsg = msg
	}
	return nil
}

// toInt accepts integral numbers only; a fractional return_code counts as
// absent.
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return integral(f)
	case float64:
		return integral(t)
	case string:
		return toInt(json.Number(strings.TrimSpace(t)))
	default:
		return 0, false
	}
}

func integral(f float64) (int, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

var secretFields = map[string]bool{"secretkey": true, "token": true, "appkey": true}

func redact(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		if secretFields[strings.ToLower(k)] {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}
