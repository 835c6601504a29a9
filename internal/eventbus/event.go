package eventbus

import "time"

type Type string

const (
	TypeTaskListUpdated  Type = "task_list_updated"
	TypePhaseChanged     Type = "phase_changed"
	TypeTaskResolved     Type = "task_resolved"
	TypeSubmissionFailed Type = "submission_failed"
	TypeSessionExpired   Type = "session_expired"
	TypeNotification     Type = "notification"
)

// Event is a signal from the task controller (or the messaging capability)
// to whatever is presenting state to the worker.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	ResourceID string            `json:"resource_id,omitempty"`
	Payload    string            `json:"payload,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
