package task

import (
	"strings"
	"time"
)

// Status is the server-side lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
)

// Fallback coordinates for tasks reported without a position.
const (
	DefaultLatitude  = 28.6139
	DefaultLongitude = 77.2090
)

var knownStatuses = map[Status]struct{}{
	StatusPending:    {},
	StatusAssigned:   {},
	StatusInProgress: {},
	StatusResolved:   {},
	StatusClosed:     {},
}

// ParseStatus normalizes a status string coming from the wire. Matching is
// case-insensitive and treats '-' and ' ' as '_'. Unknown values are kept
// verbatim so they still show up in the "all" view.
func ParseStatus(s string) Status {
	trimmed := strings.TrimSpace(s)
	normalized := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(trimmed))
	if _, ok := knownStatuses[Status(normalized)]; ok {
		return Status(normalized)
	}
	return Status(trimmed)
}

// Known reports whether s is one of the lifecycle states.
func (s Status) Known() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsTerminal reports whether s is RESOLVED or CLOSED.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Claimable reports whether a worker still has to claim the task before starting.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusAssigned
}

func (s Status) rank() int {
	switch s {
	case StatusPending, StatusAssigned:
		return 0
	case StatusInProgress:
		return 1
	case StatusResolved, StatusClosed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Unknown statuses can always be replaced.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return true
	}
	return next.rank() >= s.rank()
}

type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Address   string  `json:"address,omitempty" yaml:"address,omitempty"`
}

type Reporter struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Task is the canonical shape of a field task after the API boundary has
// resolved the backend's aliases.
type Task struct {
	ID        string    `json:"id" yaml:"id"`
	Category  string    `json:"category" yaml:"category"`
	Status    Status    `json:"status" yaml:"status"`
	Severity  string    `json:"severity,omitempty" yaml:"severity,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Location  Location  `json:"location" yaml:"location"`
	ImagePath string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Reporter  *Reporter `json:"reporter,omitempty" yaml:"reporter,omitempty"`

	// Unconfirmed is set when a claim succeeded but the server did not echo
	// the task back. The next list refresh replaces it.
	Unconfirmed bool `json:"unconfirmed,omitempty" yaml:"-"`
}

func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Reporter != nil {
		r := *t.Reporter
		c.Reporter = &r
	}
	return &c
}

func cloneAll(tasks []*Task) []*Task {
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out
}
