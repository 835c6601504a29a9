package clog

import (
	"net/http"
	"time"
)

// Transport logs every outgoing request once the response headers (or the
// transport error) are available. The Authorization header is never logged.
type Transport struct {
	Base http.RoundTripper
}

func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	startTime := time.Now()
	ctx := ContextWithSlog(req.Context())
	AddAttributes(ctx, map[string]any{
		"method": req.Method,
		"path":   req.URL.Path,
	})

	resp, err := t.Base.RoundTrip(req)
	AddAttribute(ctx, "duration", time.Since(startTime))
	if err != nil {
		AddError(ctx, err)
		Log(ctx, LevelWarn, "request failed")
		return nil, err
	}
	AddAttribute(ctx, "status", resp.StatusCode)
	level := HTTPStatusToLevel(resp.StatusCode)
	if level == LevelInfo {
		level = LevelDebug
	}
	Log(ctx, level, http.StatusText(resp.StatusCode))
	return resp, nil
}
