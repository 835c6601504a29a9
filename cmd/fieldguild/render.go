package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kazz187/fieldguild/internal/evidence"
	"github.com/kazz187/fieldguild/internal/preference"
	"github.com/kazz187/fieldguild/internal/session"
	"github.com/kazz187/fieldguild/internal/task"
	"github.com/kazz187/fieldguild/pkg/cerr"
)

var (
	headerColor = color.New(color.Bold)
	idColor     = color.New(color.FgCyan)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
	faintColor  = color.New(color.Faint)
)

func statusColor(s task.Status) *color.Color {
	switch s {
	case task.StatusPending, task.StatusAssigned:
		return color.New(color.FgYellow)
	case task.StatusInProgress:
		return color.New(color.FgBlue)
	case task.StatusResolved, task.StatusClosed:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgMagenta)
	}
}

func severityColor(severity string) *color.Color {
	switch strings.ToLower(severity) {
	case "critical", "high":
		return color.New(color.FgRed)
	case "medium":
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}

func describeLocation(l task.Location) string {
	coords := fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
	if l.Address == "" {
		return coords
	}
	return fmt.Sprintf("%s (%s)", l.Address, coords)
}

func printTasks(w io.Writer, view task.View, tasks []*task.Task) {
	if len(tasks) == 0 {
		faintColor.Fprintf(w, "No %s tasks\n", view)
		return
	}
	idWidth, categoryWidth := len("ID"), len("CATEGORY")
	for _, t := range tasks {
		idWidth = max(idWidth, len(t.ID))
		categoryWidth = max(categoryWidth, len(t.Category))
	}
	headerColor.Fprintf(w, "%-*s  %-*s  %-11s  %-8s  %s\n", idWidth, "ID", categoryWidth, "CATEGORY", "STATUS", "SEVERITY", "LOCATION")
	for _, t := range tasks {
		status := string(t.Status)
		if t.Unconfirmed {
			status += "*"
		}
		fmt.Fprintf(w, "%s  %-*s  %s  %s  %s\n",
			idColor.Sprintf("%-*s", idWidth, t.ID),
			categoryWidth, t.Category,
			statusColor(t.Status).Sprintf("%-11s", status),
			severityColor(t.Severity).Sprintf("%-8s", t.Severity),
			describeLocation(t.Location),
		)
	}
}

func printTask(w io.Writer, t *task.Task, records []*evidence.Record) {
	headerColor.Fprintf(w, "%s ", t.Category)
	idColor.Fprintf(w, "[%s]\n", t.ID)
	fmt.Fprintf(w, "  Status:    %s\n", statusColor(t.Status).Sprint(t.Status))
	if t.Severity != "" {
		fmt.Fprintf(w, "  Severity:  %s\n", severityColor(t.Severity).Sprint(t.Severity))
	}
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  Reported:  %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if t.Reporter != nil {
		fmt.Fprintf(w, "  Reporter:  %s", t.Reporter.Name)
		if t.Reporter.Type != "" {
			fmt.Fprintf(w, " (%s)", t.Reporter.Type)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Location:  %s\n", describeLocation(t.Location))
	if t.ImagePath != "" {
		fmt.Fprintf(w, "  Photo:     %s\n", t.ImagePath)
	}
	if len(records) == 0 {
		return
	}
	headerColor.Fprintln(w, "  Evidence archived on this device:")
	for _, r := range records {
		fmt.Fprintf(w, "    %s  %s  %.4f, %.4f", r.ArchivedAt.Local().Format("2006-01-02 15:04"), r.File, r.Latitude, r.Longitude)
		if r.Note != "" {
			fmt.Fprintf(w, "  %q", r.Note)
		}
		fmt.Fprintln(w)
	}
}

func printIdentity(w io.Writer, sess *session.Session, lang *preference.Preference) {
	headerColor.Fprintln(w, sess.Identity.Name)
	if sess.Identity.Email != "" {
		fmt.Fprintf(w, "  Email:     %s\n", sess.Identity.Email)
	}
	if sess.Identity.Phone != "" {
		fmt.Fprintf(w, "  Phone:     %s\n", sess.Identity.Phone)
	}
	fmt.Fprintf(w, "  Role:      %s\n", sess.Identity.Role)
	fmt.Fprintf(w, "  Language:  %s (%s)\n", lang.DisplayLabel, lang.LanguageCode)
	if sess.DeviceToken == "" {
		faintColor.Fprintln(w, "  Push notifications are off on this device")
	}
}

func printLanguages(w io.Writer, current *preference.Preference, options []*preference.Preference) {
	for _, o := range options {
		marker := "  "
		if o.LanguageCode == current.LanguageCode {
			marker = okColor.Sprint("* ")
		}
		fmt.Fprintf(w, "%s%-3s %s\n", marker, o.LanguageCode, o.DisplayLabel)
	}
}

func printError(w io.Writer, err error) {
	switch cerr.KindOf(err) {
	case cerr.KindAuth:
		errColor.Fprint(w, "Signed out: ")
		fmt.Fprintln(w, cerr.Message(err))
	case cerr.KindTransport:
		errColor.Fprint(w, "Offline: ")
		fmt.Fprintln(w, cerr.Message(err))
	default:
		errColor.Fprint(w, "Error: ")
		fmt.Fprintln(w, cerr.Message(err))
	}
}
