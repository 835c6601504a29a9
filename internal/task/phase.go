package task

import (
	"fmt"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// Phase is where the worker is in handling a single task on this device.
// It is never sent to the server.
type Phase int

const (
	PhaseListed Phase = iota
	PhaseViewing
	PhaseEnRoute
	PhaseCapturingEvidence
	PhaseSubmitting
	PhaseResolved
	PhaseSubmissionFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseListed:
		return "listed"
	case PhaseViewing:
		return "viewing"
	case PhaseEnRoute:
		return "en_route"
	case PhaseCapturingEvidence:
		return "capturing_evidence"
	case PhaseSubmitting:
		return "submitting"
	case PhaseResolved:
		return "resolved"
	case PhaseSubmissionFailed:
		return "submission_failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var allowedTransitions = map[Phase][]Phase{
	PhaseListed:            {PhaseViewing},
	PhaseViewing:           {PhaseEnRoute, PhaseListed},
	PhaseEnRoute:           {PhaseCapturingEvidence, PhaseListed},
	PhaseCapturingEvidence: {PhaseSubmitting, PhaseListed},
	PhaseSubmitting:        {PhaseResolved, PhaseSubmissionFailed},
	PhaseSubmissionFailed:  {PhaseSubmitting, PhaseListed},
	PhaseResolved:          {PhaseListed, PhaseViewing},
}

func isAllowedTransition(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func checkTransition(id string, from, to Phase) error {
	if isAllowedTransition(from, to) {
		return nil
	}
	return cerr.NewError(cerr.FailedPrecondition,
		fmt.Sprintf("task %s cannot move from %s to %s", id, from, to), nil)
}
