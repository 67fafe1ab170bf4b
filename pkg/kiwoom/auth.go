package kiwoom

import (
	"context"
	"net/http"
)

// Token endpoints and their api-id discriminators.
const (
	PathToken  = "/oauth2/token"
	PathRevoke = "/oauth2/revoke"

	APIIDToken  = "au10001"
	APIIDRevoke = "au10002"
)

// Token is a freshly issued bearer credential.
type Token struct {
	Token     string
	TokenType string
	ExpiresDT string // upstream expiry, e.g. "20261017153000"; opaque
}

// IssueToken exchanges application credentials for a bearer token. The raw
// Response is returned alongside so callers can classify rejections.
func (c *Client) IssueToken(ctx context.Context, appKey, secretKey string) (*Token, *Response, error) {
	resp, err := c.Call(ctx, Request{
		APIID:  APIIDToken,
		Path:   PathToken,
		Method: http.MethodPost,
		Body: map[string]any{
			"grant_type": "client_credentials",
			"appkey":     appKey,
			"secretkey":  secretKey,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	if !resp.Accepted() {
		return nil, resp, nil
	}

	tok := &Token{}
	tok.Token, _ = resp.Body["token"].(string)
	tok.TokenType, _ = resp.Body["token_type"].(string)
	tok.ExpiresDT, _ = resp.Body["expires_dt"].(string)
	return tok, resp, nil
}

// RevokeToken invalidates token upstream.
func (c *Client) RevokeToken(ctx context.Context, appKey, secretKey, token string) (*Response, error) {
	return c.Call(ctx, Request{
		APIID:  APIIDRevoke,
		Path:   PathRevoke,
		Method: http.MethodPost,
		Token:  token,
		Body: map[string]any{
			"appkey":    appKey,
			"secretkey": secretKey,
			"token":     token,
		},
	})
}
