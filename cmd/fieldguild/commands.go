package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kazz187/fieldguild/internal/evidence"
	"github.com/kazz187/fieldguild/internal/location"
	"github.com/kazz187/fieldguild/internal/task"
	"github.com/kazz187/fieldguild/pkg/cerr"
)

func (a *fieldApp) login(ctx context.Context, identifier, password string) error {
	sess, err := a.auth.Login(ctx, identifier, password)
	if err != nil {
		return err
	}
	okColor.Printf("Signed in as %s", sess.Identity.Name)
	fmt.Printf(" (%s)\n", firstNonEmpty(sess.Identity.Email, sess.Identity.Phone))
	return nil
}

func (a *fieldApp) logout(ctx context.Context) error {
	a.auth.Logout(ctx)
	fmt.Println("Signed out")
	return nil
}

func (a *fieldApp) whoami(ctx context.Context) error {
	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	printIdentity(os.Stdout, sess, a.prefs.Current(ctx))
	return nil
}

func (a *fieldApp) listTasks(ctx context.Context, viewName string, asJSON bool) error {
	view, err := task.ParseView(viewName)
	if err != nil {
		return err
	}
	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.controller.Refresh(ctx); err != nil {
		return err
	}
	tasks := a.controller.Filter(view)
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}
	printTasks(os.Stdout, view, tasks)
	return nil
}

func (a *fieldApp) showTask(ctx context.Context, id string) error {
	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.controller.Refresh(ctx); err != nil {
		return err
	}
	t, ok := a.controller.Task(id)
	if !ok {
		return cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
	}
	var records []*evidence.Record
	if a.archive != nil {
		var err error
		records, err = a.archive.List(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "failed to list archived evidence", "task_id", id, "error", err)
		}
	}
	printTask(os.Stdout, t, records)
	return nil
}

// open refreshes the list and moves the task to en route, claiming it when
// nobody has yet.
func (a *fieldApp) open(ctx context.Context, id string) (*task.Task, error) {
	if _, err := a.requireSession(ctx); err != nil {
		return nil, err
	}
	if err := a.controller.Refresh(ctx); err != nil {
		return nil, err
	}
	t, err := a.controller.Select(id)
	if err != nil {
		return nil, err
	}
	if err := a.controller.Start(ctx, id); err != nil {
		return nil, err
	}
	t, _ = a.controller.Task(id)
	return t, nil
}

func (a *fieldApp) startTask(ctx context.Context, id string) error {
	t, err := a.open(ctx, id)
	if err != nil {
		return err
	}
	okColor.Printf("Task %s is yours.", t.ID)
	fmt.Printf(" Head to %s\n", describeLocation(t.Location))
	if t.Unconfirmed {
		faintColor.Println("The server has not confirmed the claim yet; it will show up on the next refresh.")
	}
	return nil
}

type completeOptions struct {
	photo   string
	note    string
	fix     *location.Fix
	retries int
}

func parseCompleteOptions(photo, note, lat, lon string, retries int) (completeOptions, error) {
	opts := completeOptions{photo: photo, note: strings.TrimSpace(note), retries: retries}
	if retries < 0 {
		return opts, cerr.NewError(cerr.InvalidArgument, "--retries cannot be negative", nil)
	}
	if (lat == "") != (lon == "") {
		return opts, cerr.NewError(cerr.InvalidArgument, "--lat and --lon have to be given together", nil)
	}
	if lat == "" {
		return opts, nil
	}
	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return opts, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid latitude %q", lat), err)
	}
	longitude, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return opts, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("invalid longitude %q", lon), err)
	}
	opts.fix = &location.Fix{Latitude: latitude, Longitude: longitude}
	return opts, nil
}

// completeTask runs the whole on-site flow for one task. Only connectivity
// failures are retried, always with the same evidence.
func (a *fieldApp) completeTask(ctx context.Context, id string, opts completeOptions) error {
	photo, err := evidence.FileCapturer{Path: opts.photo}.Capture(ctx)
	if err != nil {
		return err
	}
	if _, err := a.open(ctx, id); err != nil {
		return err
	}
	if err := a.controller.Arrive(ctx, id); err != nil {
		return err
	}
	if opts.fix != nil {
		if err := a.controller.SetFix(id, *opts.fix); err != nil {
			return err
		}
	}
	if err := a.controller.AttachEvidence(id, photo, opts.note); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = a.controller.Submit(ctx, id)
		if err == nil {
			break
		}
		if !cerr.IsRetryable(err) || attempt >= opts.retries {
			return err
		}
		wait := time.Duration(attempt+1) * time.Second
		warnColor.Printf("%s, retrying in %s (%d/%d)\n", cerr.Message(err), wait, attempt+1, opts.retries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	t, _ := a.controller.Task(id)
	okColor.Printf("Task %s resolved", id)
	if t != nil {
		fmt.Printf(" (%s)", t.Category)
	}
	fmt.Println()
	return nil
}

func (a *fieldApp) language(ctx context.Context, code string) error {
	if code == "" {
		printLanguages(os.Stdout, a.prefs.Current(ctx), a.prefs.Options())
		return nil
	}
	p, err := a.prefs.Set(ctx, code)
	if err != nil {
		return err
	}
	okColor.Printf("Language set to %s (%s)\n", p.DisplayLabel, p.LanguageCode)
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
