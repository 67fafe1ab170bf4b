package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stockdesk/internal/metrics"
	"stockdesk/internal/model"
	"stockdesk/pkg/kiwoom"
)

// Authenticator is the slice of the upstream client the manager needs.
type Authenticator interface {
	IssueToken(ctx context.Context, appKey, secretKey string) (*kiwoom.Token, *kiwoom.Response, error)
	RevokeToken(ctx context.Context, appKey, secretKey, token string) (*kiwoom.Response, error)
}

// Credentials are the application key pair issued by the broker.
type Credentials struct {
	AppKey    string
	SecretKey string
}

// Ack is the result of a successful revoke.
type Ack struct {
	Message string `json:"message"`
}

// Manager drives the single process-wide Session. Nothing is retried and
// nothing is persisted.
type Manager struct {
	auth     Authenticator
	defaults Credentials
	session  *Session
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	creds Credentials // pair used by the last successful login, needed for revoke
}

// NewManager creates a manager whose Session starts Unauthenticated.
// defaults fill in whatever a Login call leaves blank.
func NewManager(auth Authenticator, defaults Credentials, m *metrics.Metrics) *Manager {
	return &Manager{
		auth:     auth,
		defaults: defaults,
		session:  New(),
		metrics:  m,
		log:      slog.Default().With("component", "session"),
		now:      time.Now,
	}
}

// Session returns the process-wide session handle.
func (m *Manager) Session() *Session { return m.session }

// Login exchanges credentials for a bearer token and activates the session.
// Blank fields fall back to the configured defaults; if either is still
// blank a *model.ConfigError is returned before any network call.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.AppKey == "" {
		creds.AppKey = m.defaults.AppKey
	}
	if creds.SecretKey == "" {
		creds.SecretKey = m.defaults.SecretKey
	}
	if creds.AppKey == "" {
		return nil, &model.ConfigError{Field: "app_key", Err: errors.New("no app key supplied or configured")}
	}
	if creds.SecretKey == "" {
		return nil, &model.ConfigError{Field: "secret_key", Err: errors.New("no secret key supplied or configured")}
	}

	tok, resp, err := m.auth.IssueToken(ctx, creds.AppKey, creds.SecretKey)
	if err != nil {
		m.log.Warn("login transport failure", "err", err)
		return nil, &model.TransportError{Op: "login", Err: err}
	}
	if tok == nil || tok.Token == "" || !resp.Accepted() {
		authErr := rejection(resp)
		m.log.Warn("login rejected", "status", resp.StatusCode, "code", resp.ReturnCode, "reason", authErr.Reason)
		return nil, authErr
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	m.session.activate(tok.Token, tok.ExpiresDT, m.now())
	m.metrics.ObserveSession(int(Active), Active.String())
	m.log.Info("session active", "expires_dt", tok.ExpiresDT)
	return m.session, nil
}

// Revoke invalidates the session's token upstream. On success the session
// becomes Revoked; on any failure it is left as it was. Revoking a session
// that is not Active fails with model.ErrUnauthenticated and makes no call.
func (m *Manager) Revoke(ctx context.Context, s *Session) (Ack, error) {
	token, status := s.Snapshot()
	if status != Active {
		return Ack{}, model.ErrUnauthenticated
	}

	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()
	if creds.AppKey == "" {
		creds = m.defaults
	}

	resp, err := m.auth.RevokeToken(ctx, creds.AppKey, creds.SecretKey, token)
	if err != nil {
		m.log.Warn("revoke transport failure", "err", err)
		return Ack{}, &model.TransportError{Op: "revoke", Err: err}
	}
	if !resp.Accepted() {
		authErr := rejection(resp)
		m.log.Warn("revoke rejected", "status", resp.StatusCode, "code", resp.ReturnCode, "reason", authErr.Reason)
		return Ack{}, authErr
	}

	if s.revokeIf(token) {
		m.metrics.ObserveSession(int(Revoked), Revoked.String())
		m.log.Info("session revoked")
	}
	return Ack{Message: resp.ReturnMsg}, nil
}

// Invalidate marks s Revoked if it still carries token. Used when the
// upstream rejects a token during dispatch.
func (m *Manager) Invalidate(s *Session, token string) bool {
	if !s.revokeIf(token) {
		return false
	}
	m.metrics.ObserveSession(int(Revoked), Revoked.String())
	m.log.Warn("session invalidated by upstream auth failure")
	return true
}

func rejection(resp *kiwoom.Response) *model.AuthError {
	return &model.AuthError{Reason: resp.ReturnMsg, Code: resp.ReturnCode, HTTPStatus: resp.StatusCode}
}
