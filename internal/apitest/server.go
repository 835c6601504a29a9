// Package apitest runs an in-process worker API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/clog"
)

const (
	RouteLogin   = "login"
	RouteList    = "list"
	RouteClaim   = "claim"
	RouteResolve = "resolve"
)

type Worker struct {
	Identifier string
	Password   string
	Token      string
	// User is returned as the "user" field of the login response when set.
	User map[string]any
}

// Resolution is one resolve request as the server received it.
type Resolution struct {
	TaskID      string
	Image       []byte
	FileName    string
	ContentType string
	Latitude    string
	Longitude   string
	Comment     string
}

type failure struct {
	status int
	body   any
}

type Server struct {
	URL string

	srv *httptest.Server

	mu          sync.Mutex
	workers     map[string]Worker
	tokens      map[string]struct{}
	tasks       []map[string]any
	claimEcho   bool
	failures    map[string][]failure
	calls       map[string]int
	requests    int
	logins      []map[string]any
	resolutions []Resolution
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		workers:  make(map[string]Worker),
		tokens:   make(map[string]struct{}),
		failures: make(map[string][]failure),
		calls:    make(map[string]int),
	}
	s.srv = httptest.NewServer(s.router())
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countRequests)
	r.Use(clog.SlogChiMiddleware())
	r.Use(cerr.NewJSONChiMiddleware())

	r.Route("/api/worker", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Get("/tasks", s.listTasks)
			r.Post("/tasks/{id}/claim", s.claimTask)
			r.Post("/tasks/{id}/resolve", s.resolveTask)
		})
	})
	return r
}

func (s *Server) AddWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.Identifier] = w
	s.tokens[w.Token] = struct{}{}
}

// SetTasks replaces the task list. Tasks are raw wire objects so tests can
// exercise every shape the backend has used.
func (s *Server) SetTasks(tasks ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
}

// SetClaimEcho makes claim responses carry the updated task.
func (s *Server) SetClaimEcho(echo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimEcho = echo
}

// FailNext makes the next call to route answer with status and body.
func (s *Server) FailNext(route string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, body: body})
}

// Calls counts the calls that reached the handler of route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Requests counts every request received, including rejected ones.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Server) Logins() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.logins...)
}

func (s *Server) Resolutions() []Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Resolution(nil), s.resolutions...)
}

// TaskStatus returns the server-side status of a task.
func (s *Server) TaskStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findTask(id); t != nil {
		status, _ := t["status"].(string)
		return status
	}
	return ""
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, known := s.tokens[token]
		s.mu.Unlock()
		if !ok || !known {
			cerr.SetJSONResponseStatus(r.Context(), http.StatusUnauthorized,
				map[string]any{"success": false, "message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// enter records a call and reports whether an injected failure was served.
func (s *Server) enter(r *http.Request, route string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	queue := s.failures[route]
	if len(queue) == 0 {
		return false
	}
	f := queue[0]
	s.failures[route] = queue[1:]
	cerr.SetJSONResponseStatus(r.Context(), f.status, f.body)
	return true
}

func (s *Server) login(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	s.mu.Lock()
	s.logins = append(s.logins, body)
	s.mu.Unlock()
	if s.enter(r, RouteLogin) {
		return
	}

	identifier, _ := body["email"].(string)
	if identifier == "" {
		identifier, _ = body["phone"].(string)
	}
	password, _ := body["password"].(string)

	s.mu.Lock()
	w, ok := s.workers[identifier]
	s.mu.Unlock()
	if !ok || w.Password != password {
		cerr.SetJSONResponseStatus(ctx, http.StatusUnauthorized,
			map[string]any{"success": false, "message": "Invalid credentials"})
		return
	}
	resp := map[string]any{"success": true, "token": w.Token}
	if w.User != nil {
		resp["user"] = w.User
	}
	cerr.SetJSONResponse(ctx, resp)
}

func (s *Server) listTasks(_ http.ResponseWriter, r *http.Request) {
	if s.enter(r, RouteList) {
		return
	}
	s.mu.Lock()
	tasks := make([]map[string]any, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, copyTask(t))
	}
	s.mu.Unlock()
	cerr.SetJSONResponse(r.Context(), map[string]any{"tasks": tasks})
}

func (s *Server) claimTask(_ http.ResponseWriter, r *http.Request) {
	if s.enter(r, RouteClaim) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTask(id)
	if t == nil {
		cerr.SetJSONResponseStatus(ctx, http.StatusNotFound, map[string]any{"message": "Task not found"})
		return
	}
	switch strings.ToUpper(fmt.Sprint(t["status"])) {
	case "PENDING", "ASSIGNED":
		t["status"] = "IN_PROGRESS"
	}
	if s.claimEcho {
		cerr.SetJSONResponse(ctx, map[string]any{"success": true, "task": copyTask(t)})
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"success": true, "message": "Task claimed"})
}

func (s *Server) resolveTask(_ http.ResponseWriter, r *http.Request) {
	if s.enter(r, RouteResolve) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		cerr.SetJSONResponseStatus(ctx, http.StatusBadRequest, map[string]any{"message": "multipart body required"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		cerr.SetJSONResponseStatus(ctx, http.StatusBadRequest, map[string]any{"message": "Image is required"})
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "failed to read image", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findTask(id)
	if t == nil {
		cerr.SetJSONResponseStatus(ctx, http.StatusNotFound, map[string]any{"message": "Task not found"})
		return
	}
	s.resolutions = append(s.resolutions, Resolution{
		TaskID:      id,
		Image:       image,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Latitude:    r.FormValue("latitude"),
		Longitude:   r.FormValue("longitude"),
		Comment:     r.FormValue("comment"),
	})
	t["status"] = "RESOLVED"
	cerr.SetJSONResponse(ctx, map[string]any{"success": true, "task": copyTask(t)})
}

func (s *Server) findTask(id string) map[string]any {
	for _, t := range s.tasks {
		for _, key := range []string{"id", "_id"} {
			if v, ok := t[key]; ok && fmt.Sprint(v) == id {
				return t
			}
		}
	}
	return nil
}

func copyTask(t map[string]any) map[string]any {
	return maps.Clone(t)
}
