package gateway

import (
	"encoding/json"
	"errors"

	"stockdesk/internal/dispatch"
	"stockdesk/internal/model"
	"stockdesk/internal/registry"
)

// Request is one invoke call, over HTTP or as a WebSocket frame.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is the invoke reply. A failed call may still carry a Result
// (fetched but not cached).
type Response struct {
	ID     string     `json:"id,omitempty"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the wire form of a typed failure.
type ErrorBody struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Code       *int     `json:"code,omitempty"`
	HTTPStatus int      `json:"httpStatus,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Field      string   `json:"field,omitempty"`
}

// NewResponse builds the envelope for a call outcome.
func NewResponse(id string, result any, err error) Response {
	if err == nil {
		return Response{ID: id, OK: true, Result: result}
	}
	resp := Response{ID: id, Error: errorBody(err)}
	if dispatch.IsCacheWrite(err) {
		resp.Result = result
	}
	return resp
}

func errorBody(err error) *ErrorBody {
	body := &ErrorBody{Kind: model.Kind(err), Message: err.Error()}

	var (
		remoteErr  *model.RemoteAPIError
		authErr    *model.AuthError
		payloadErr *model.InvalidPayloadError
		cfgErr     *model.ConfigError
	)
	switch {
	case errors.As(err, &remoteErr):
		code := remoteErr.Code
		body.Code = &code
		body.HTTPStatus = remoteErr.HTTPStatus
		body.Message = remoteErr.Message
	case errors.As(err, &authErr):
		code := authErr.Code
		body.Code = &code
		body.HTTPStatus = authErr.HTTPStatus
		if authErr.Reason != "" {
			body.Message = authErr.Reason
		}
	case errors.As(err, &payloadErr):
		body.Missing = payloadErr.Missing
	case errors.As(err, &cfgErr):
		body.Field = cfgErr.Field
	}
	return body
}

// EndpointInfo is the /endpoints listing entry.
type EndpointInfo struct {
	QueryID        string   `json:"queryId"`
	Alias          string   `json:"alias"`
	Title          string   `json:"title"`
	Method         string   `json:"method"`
	Path           string   `json:"path"`
	RequiredFields []string `json:"requiredFields"`
	Selector       string   `json:"selector"`
	WriteThrough   bool     `json:"writeThrough,omitempty"`
}

// Endpoints describes every registered query.
func Endpoints(reg *registry.Registry) []EndpointInfo {
	all := reg.All()
	out := make([]EndpointInfo, len(all))
	for i, d := range all {
		out[i] = EndpointInfo{
			QueryID:        d.QueryID,
			Alias:          d.Alias,
			Title:          d.Title,
			Method:         d.Method,
			Path:           d.Path,
			RequiredFields: d.RequiredFields,
			Selector:       d.Result.String(),
			WriteThrough:   d.WriteThrough,
		}
	}
	return out
}
