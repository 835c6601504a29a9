package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/internal/task"
)

// The worker API has gone through several shapes. Everything below accepts
// each known variant and maps it onto task.Task and session.Identity.

type loginRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	FCMToken string `json:"fcmToken,omitempty"`
}

type loginResponse struct {
	Success *bool     `json:"success"`
	Token   string    `json:"token"`
	User    *wireUser `json:"user"`
	Message string    `json:"message"`
	Error   string    `json:"error"`
}

type wireUser struct {
	ID      flexString `json:"id"`
	MongoID flexString `json:"_id"`
	Name    string     `json:"name"`
	Email   string     `json:"email"`
	Phone   flexString `json:"phone"`
	Role    string     `json:"role"`
}

func (u *wireUser) identity(identifier string) session.Identity {
	fallback := session.FallbackIdentity(identifier)
	if u == nil {
		return fallback
	}
	id := session.Identity{
		ID:    u.ID.or(u.MongoID),
		Name:  u.Name,
		Email: u.Email,
		Phone: string(u.Phone),
		Role:  u.Role,
	}
	if id.Name == "" {
		id.Name = fallback.Name
	}
	if id.Role == "" {
		id.Role = fallback.Role
	}
	if id.Email == "" && id.Phone == "" {
		id.Email, id.Phone = fallback.Email, fallback.Phone
	}
	return id
}

type listTasksResponse struct {
	Tasks []*wireTask `json:"tasks"`
}

type wireTask struct {
	ID         flexString    `json:"id"`
	MongoID    flexString    `json:"_id"`
	Category   string        `json:"category"`
	Status     string        `json:"status"`
	Severity   string        `json:"severity"`
	CreatedAt  flexTime      `json:"createdAt"`
	Location   *wireLocation `json:"location"`
	Latitude   *flexFloat    `json:"latitude"`
	Longitude  *flexFloat    `json:"longitude"`
	Coordinate *wireLocation `json:"coordinate"`
	Address    string        `json:"address"`
	ImagePath  string        `json:"imagePath"`
	ImageURL   string        `json:"imageUrl"`
	Image      string        `json:"image"`
	Reporter   *wireReporter `json:"reporter"`
}

type wireLocation struct {
	Latitude  *flexFloat `json:"latitude"`
	Longitude *flexFloat `json:"longitude"`
	Address   string     `json:"address"`
}

// UnmarshalJSON also accepts a bare string, which older backends send as the
// address of the task.
func (l *wireLocation) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &l.Address)
	}
	type plain wireLocation
	return json.Unmarshal(data, (*plain)(l))
}

type wireReporter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (w *wireTask) toTask() *task.Task {
	t := &task.Task{
		ID:        w.ID.or(w.MongoID),
		Category:  w.Category,
		Status:    task.ParseStatus(w.Status),
		Severity:  w.Severity,
		CreatedAt: time.Time(w.CreatedAt),
		Location: task.Location{
			Latitude:  task.DefaultLatitude,
			Longitude: task.DefaultLongitude,
			Address:   w.Address,
		},
		ImagePath: firstNonEmpty(w.ImagePath, w.ImageURL, w.Image),
	}

	for _, loc := range []*wireLocation{w.Location, {Latitude: w.Latitude, Longitude: w.Longitude}, w.Coordinate} {
		if loc == nil {
			continue
		}
		if t.Location.Address == "" {
			t.Location.Address = loc.Address
		}
		if loc.Latitude != nil && loc.Longitude != nil {
			t.Location.Latitude = float64(*loc.Latitude)
			t.Location.Longitude = float64(*loc.Longitude)
			break
		}
	}

	if w.Reporter != nil && (w.Reporter.Name != "" || w.Reporter.Type != "") {
		t.Reporter = &task.Reporter{Name: w.Reporter.Name, Type: w.Reporter.Type}
	}
	return t
}

// decodeTaskEnvelope reads the body of a claim or resolve response. It
// returns nil when the body is a plain acknowledgement.
func decodeTaskEnvelope(body []byte) (*task.Task, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	raw := body
	if inner, ok := fields["task"]; ok {
		raw = inner
	} else if _, hasID := fields["id"]; !hasID {
		if _, hasMongoID := fields["_id"]; !hasMongoID {
			return nil, nil
		}
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	var w wireTask
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	t := w.toTask()
	if t.ID == "" {
		return nil, nil
	}
	return t, nil
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// serverMessage extracts the human readable message of an error body.
func serverMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return firstNonEmpty(e.Message, e.Error)
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = flexString(n.String())
	return nil
}

func (s flexString) or(other flexString) string {
	if s != "" {
		return string(s)
	}
	return string(other)
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid coordinate %q: %w", v, err)
		}
		*f = flexFloat(parsed)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexTime accepts RFC 3339 strings and epoch milliseconds. Anything else
// leaves the zero time.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, v); err == nil {
				*t = flexTime(parsed)
				return nil
			}
		}
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err == nil {
		*t = flexTime(time.UnixMilli(int64(ms)).UTC())
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
