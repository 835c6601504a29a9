package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/http2"

	"github.com/kazz187/fieldguild/internal/evidence"
	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/internal/task"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/clog"
)

const (
	loginPath = "/api/worker/auth/login"
	tasksPath = "/api/worker/tasks"

	maxResponseSize = 10 << 20
)

// TokenSource supplies the bearer token of the current session.
type TokenSource interface {
	Token() (string, bool)
}

type LoginResult struct {
	Identity session.Identity
	Token    string
}

// Client talks to the worker API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithClock replaces the clock used to decide whether a token has expired.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: newTransport(),
			Timeout:   30 * time.Second,
		},
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newTransport() http.RoundTripper {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if _, err := http2.ConfigureTransports(t); err != nil {
		slog.Warn("http2 unavailable, falling back to HTTP/1.1", "error", err)
	}
	return clog.NewTransport(t)
}

// Login exchanges credentials for a bearer token. identifier is treated as
// an email address when it contains '@' and as a phone number otherwise.
func (c *Client) Login(ctx context.Context, identifier, password, deviceToken string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "email or phone and password are required", nil)
	}
	reqBody := loginRequest{Password: password, FCMToken: deviceToken}
	if strings.Contains(identifier, "@") {
		reqBody.Email = identifier
	} else {
		reqBody.Phone = identifier
	}
	data, err := json.Marshal(&reqBody)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to encode login request", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, loginPath, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.send(req)
	if err != nil {
		return nil, err
	}
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, rejected(status, "login failed", fmt.Errorf("failed to decode login response: %w", err))
	}
	if resp.Token == "" || (resp.Success != nil && !*resp.Success) {
		return nil, rejected(status, firstNonEmpty(resp.Message, resp.Error, "login failed"), nil)
	}
	return &LoginResult{
		Identity: resp.User.identity(identifier),
		Token:    resp.Token,
	}, nil
}

// ListTasks returns the tasks visible to the signed in worker. A missing or
// empty list is not an error.
func (c *Client) ListTasks(ctx context.Context) ([]*task.Task, error) {
	req, err := c.newRequest(ctx, http.MethodGet, tasksPath, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	body, status, err := c.send(req)
	if err != nil {
		return nil, err
	}

	var wire []*wireTask
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, rejected(status, "unexpected task list", fmt.Errorf("failed to decode tasks: %w", err))
		}
	default:
		var resp listTasksResponse
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, rejected(status, "unexpected task list", fmt.Errorf("failed to decode tasks: %w", err))
		}
		wire = resp.Tasks
	}

	tasks := make([]*task.Task, 0, len(wire))
	for _, w := range wire {
		if w == nil {
			continue
		}
		t := w.toTask()
		if t.ID == "" {
			slog.WarnContext(ctx, "skipping task without id", "category", t.Category)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ClaimTask marks the task as taken by the signed in worker. Claiming twice
// is harmless. The returned task is nil when the server only acknowledges.
func (c *Client) ClaimTask(ctx context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task id is required", nil)
	}
	req, err := c.newRequest(ctx, http.MethodPost, taskPath(id, "claim"), nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	body, _, err := c.send(req)
	if err != nil {
		return nil, err
	}
	t, err := decodeTaskEnvelope(body)
	if err != nil {
		slog.WarnContext(ctx, "ignoring undecodable claim response", "task_id", id, "error", err)
		return nil, nil
	}
	return t, nil
}

// ResolveTask uploads the evidence and marks the task resolved. Incomplete
// evidence is rejected before anything is sent.
func (c *Client) ResolveTask(ctx context.Context, id string, sub *evidence.Submission) (*task.Task, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = sub.TaskID
	}

	body, contentType, err := encodeEvidence(sub)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, taskPath(id, "resolve"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	respBody, _, err := c.send(req)
	if err != nil {
		return nil, err
	}
	t, err := decodeTaskEnvelope(respBody)
	if err != nil {
		slog.WarnContext(ctx, "ignoring undecodable resolve response", "task_id", id, "error", err)
		return nil, nil
	}
	return t, nil
}

func taskPath(id, action string) string {
	return tasksPath + "/" + url.PathEscape(id) + "/" + action
}

func encodeEvidence(sub *evidence.Submission) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="proof%s"`,
		evidence.Extension(sub.Photo.ContentType)))
	h.Set("Content-Type", sub.Photo.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", cerr.NewError(cerr.Internal, "failed to encode evidence", err)
	}
	if _, err := part.Write(sub.Photo.Data); err != nil {
		return nil, "", cerr.NewError(cerr.Internal, "failed to encode evidence", err)
	}

	fields := [][2]string{
		{"latitude", strconv.FormatFloat(sub.Latitude, 'f', -1, 64)},
		{"longitude", strconv.FormatFloat(sub.Longitude, 'f', -1, 64)},
	}
	if sub.Note != "" {
		fields = append(fields, [2]string{"comment", sub.Note})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", cerr.NewError(cerr.Internal, "failed to encode evidence", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", cerr.NewError(cerr.Internal, "failed to encode evidence", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// authorize attaches the bearer token. It fails without touching the network
// when there is no session or the token is a JWT that has already expired.
func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return cerr.NewError(cerr.Unauthenticated, "not signed in", nil)
	}
	token, ok := c.tokens.Token()
	if !ok || token == "" {
		return cerr.NewError(cerr.Unauthenticated, "not signed in", nil)
	}
	if tokenExpired(token, c.now()) {
		return cerr.NewError(cerr.Unauthenticated, "session expired, please sign in again", nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// tokenExpired inspects the exp claim without verifying the signature; the
// server stays the authority. Opaque tokens never expire client side.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

func (c *Client) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, transportError(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := firstNonEmpty(serverMessage(body), http.StatusText(resp.StatusCode))
		return nil, resp.StatusCode, cerr.NewServerError(resp.StatusCode, msg, nil)
	}
	return body, resp.StatusCode, nil
}

// rejected is a 2xx response that still did not do what was asked.
func rejected(status int, msg string, underlying error) error {
	return &cerr.Error{
		Code:   cerr.PermissionDenied,
		Msg:    msg,
		Err:    underlying,
		Status: status,
	}
}

func transportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return cerr.NewError(cerr.Canceled, "request canceled", err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return cerr.NewError(cerr.DeadlineExceeded, "request timed out, check your connection", err)
	default:
		return cerr.NewError(cerr.Unavailable, "cannot reach the server, check your connection", err)
	}
}
