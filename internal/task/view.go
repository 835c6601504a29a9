package task

import (
	"fmt"
	"strings"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// View is a named subset of the task list.
type View string

const (
	ViewPending   View = "pending"
	ViewCompleted View = "completed"
	ViewActive    View = "active"
	ViewToday     View = "today"
	ViewAll       View = "all"
)

var viewStatuses = map[View][]Status{
	ViewPending:   {StatusPending, StatusAssigned},
	ViewCompleted: {StatusResolved, StatusClosed},
	ViewActive:    {StatusPending, StatusInProgress},
	ViewToday:     {StatusPending, StatusInProgress},
}

// Views lists every view in display order.
func Views() []View {
	return []View{ViewPending, ViewActive, ViewToday, ViewCompleted, ViewAll}
}

func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return ViewAll, nil
	}
	if v == ViewAll {
		return v, nil
	}
	if _, ok := viewStatuses[v]; !ok {
		return "", cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown view %q", s), nil)
	}
	return v, nil
}

// Matches reports whether a task with the given status belongs to v.
func (v View) Matches(s Status) bool {
	if v == ViewAll {
		return true
	}
	for _, st := range viewStatuses[v] {
		if st == s {
			return true
		}
	}
	return false
}

// Filter returns the tasks of v in their original order. The input slice is
// not modified.
func Filter(tasks []*Task, v View) []*Task {
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		if t != nil && v.Matches(t.Status) {
			out = append(out, t)
		}
	}
	return out
}
