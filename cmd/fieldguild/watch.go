package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/fieldguild/internal/eventbus"
	"github.com/kazz187/fieldguild/internal/notification"
	"github.com/kazz187/fieldguild/internal/task"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/panicerr"
)

// watch keeps the task list fresh and prints changes and pushed messages
// until interrupted or the session ends.
func (a *fieldApp) watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return cerr.NewError(cerr.InvalidArgument, "--interval has to be positive", nil)
	}
	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	subID, events := a.bus.Subscribe(64)
	defer a.bus.Unsubscribe(subID)
	journalID, journaled := a.bus.Subscribe(64)
	defer a.bus.Unsubscribe(journalID)

	unsubscribe := a.messenger.Subscribe(func(m notification.Message) {
		a.bus.PublishNew(eventbus.TypeNotification, m.Data["taskId"], m.Title, map[string]string{"body": m.Body})
	})
	defer unsubscribe()

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(panicerr.SafeContext(func(ctx context.Context) error {
		return a.refreshLoop(ctx, interval)
	}))
	if a.inbox != nil {
		p.Go(panicerr.SafeContext(a.inbox.Run))
	}
	p.Go(panicerr.SafeContext(func(ctx context.Context) error {
		return a.journal.Record(ctx, journaled)
	}))
	p.Go(panicerr.SafeContext(func(ctx context.Context) error {
		return printEvents(ctx, os.Stdout, events, a.controller)
	}))
	return p.Wait()
}

func (a *fieldApp) refreshLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.controller.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if cerr.IsAuth(err) {
				return err
			}
			slog.WarnContext(ctx, "failed to refresh tasks", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type taskLister interface {
	Tasks() []*task.Task
}

func printEvents(ctx context.Context, w io.Writer, events <-chan *eventbus.Event, tasks taskLister) error {
	seen := map[string]task.Status{}
	first := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case eventbus.TypeTaskListUpdated:
				printListChanges(w, seen, tasks.Tasks(), first)
				first = false
			case eventbus.TypeNotification:
				warnColor.Fprintf(w, "%s %s", ev.CreatedAt.Local().Format("15:04"), ev.Payload)
				if body := ev.Metadata["body"]; body != "" {
					fmt.Fprintf(w, ": %s", body)
				}
				fmt.Fprintln(w)
			case eventbus.TypeSessionExpired:
				errColor.Fprintf(w, "Session ended: %s\n", ev.Payload)
			}
		}
	}
}

// printListChanges prints every task on the first call and only new or
// changed tasks afterwards. seen is updated in place.
func printListChanges(w io.Writer, seen map[string]task.Status, tasks []*task.Task, first bool) {
	var changed []*task.Task
	for _, t := range tasks {
		prev, ok := seen[t.ID]
		if first || !ok || prev != t.Status {
			changed = append(changed, t)
		}
		seen[t.ID] = t.Status
	}
	if first {
		printTasks(w, task.ViewAll, changed)
		return
	}
	for _, t := range changed {
		stamp := faintColor.Sprint(time.Now().Format("15:04"))
		fmt.Fprintf(w, "%s %s %s %s\n", stamp, idColor.Sprint(t.ID), t.Category, statusColor(t.Status).Sprint(t.Status))
	}
}

func (a *fieldApp) history(ctx context.Context, date string) error {
	day := time.Now()
	if date != "" {
		var err error
		day, err = time.ParseInLocation(time.DateOnly, date, time.Local)
		if err != nil {
			return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", date), err)
		}
	}
	events, err := a.journal.Read(ctx, day)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, day, events)
	return nil
}

func printHistory(w io.Writer, day time.Time, events []*eventbus.Event) {
	if len(events) == 0 {
		faintColor.Fprintf(w, "Nothing recorded on %s\n", day.Format(time.DateOnly))
		return
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%s  %-17s", faintColor.Sprint(ev.CreatedAt.Local().Format(time.TimeOnly)), ev.Type)
		if ev.ResourceID != "" {
			fmt.Fprintf(w, "  %s", idColor.Sprint(ev.ResourceID))
		}
		if ev.Payload != "" {
			fmt.Fprintf(w, "  %s", ev.Payload)
		}
		fmt.Fprintln(w)
	}
}
