package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

var (
	app = kingpin.New("fieldguild", "Field worker client: pick up tasks, travel to the site and resolve them with photo evidence")

	loginCmd        = app.Command("login", "Sign in with email or phone")
	loginIdentifier = loginCmd.Arg("identifier", "Email address or phone number").Required().String()
	loginPassword   = loginCmd.Flag("password", "Password").Short('p').Envar("FIELDGUILD_PASSWORD").Required().String()

	logoutCmd = app.Command("logout", "Sign out and forget the session on this device")

	whoamiCmd = app.Command("whoami", "Show the signed in worker")

	tasksCmd  = app.Command("tasks", "List tasks")
	tasksView = tasksCmd.Flag("view", "pending, active, today, completed or all").Short('v').Default("pending").String()
	tasksJSON = tasksCmd.Flag("json", "Print JSON instead of a table").Bool()

	showCmd = app.Command("show", "Show a task and any evidence archived for it")
	showID  = showCmd.Arg("id", "Task ID").Required().String()

	startCmd = app.Command("start", "Claim a task and head to the site")
	startID  = startCmd.Arg("id", "Task ID").Required().String()

	completeCmd     = app.Command("complete", "Resolve a task with photo evidence")
	completeID      = completeCmd.Arg("id", "Task ID").Required().String()
	completePhoto   = completeCmd.Flag("photo", "Path to the proof photo").Required().String()
	completeNote    = completeCmd.Flag("note", "Comment sent with the evidence").String()
	completeLat     = completeCmd.Flag("lat", "Latitude of the site, overrides the device position").String()
	completeLon     = completeCmd.Flag("lon", "Longitude of the site, overrides the device position").String()
	completeRetries = completeCmd.Flag("retries", "Retries when the server cannot be reached").Default("2").Int()

	languageCmd  = app.Command("language", "Show or change the app language")
	languageCode = languageCmd.Arg("code", "Language code (en, hi, gu, mr)").String()

	watchCmd      = app.Command("watch", "Keep the task list fresh and print notifications")
	watchInterval = watchCmd.Flag("interval", "Refresh interval").Default("30s").Duration()

	historyCmd  = app.Command("history", "Show what watch recorded on a day")
	historyDate = historyCmd.Flag("date", "Day to show as YYYY-MM-DD, today by default").String()
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one command and returns the process exit code.
func run(args []string) int {
	command := kingpin.MustParse(app.Parse(args))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting fieldguild: %v\n", err)
		return 1
	}
	defer a.Close()

	switch command {
	case loginCmd.FullCommand():
		err = a.login(ctx, *loginIdentifier, *loginPassword)
	case logoutCmd.FullCommand():
		err = a.logout(ctx)
	case whoamiCmd.FullCommand():
		err = a.whoami(ctx)
	case tasksCmd.FullCommand():
		err = a.listTasks(ctx, *tasksView, *tasksJSON)
	case showCmd.FullCommand():
		err = a.showTask(ctx, *showID)
	case startCmd.FullCommand():
		err = a.startTask(ctx, *startID)
	case completeCmd.FullCommand():
		var opts completeOptions
		opts, err = parseCompleteOptions(*completePhoto, *completeNote, *completeLat, *completeLon, *completeRetries)
		if err == nil {
			err = a.completeTask(ctx, *completeID, opts)
		}
	case languageCmd.FullCommand():
		err = a.language(ctx, *languageCode)
	case watchCmd.FullCommand():
		err = a.watch(ctx, *watchInterval)
	case historyCmd.FullCommand():
		err = a.history(ctx, *historyDate)
	}
	return exitCode(ctx, os.Stderr, err)
}

// exitCode reports err and maps it to an exit code: 2 when the worker has to
// sign in again, 130 when interrupted.
func exitCode(ctx context.Context, w io.Writer, err error) int {
	switch {
	case err == nil:
		return 0
	case ctx.Err() != nil:
		fmt.Fprintln(w, "\nInterrupted")
		return 130
	}
	printError(w, err)
	if cerr.IsAuth(err) {
		return 2
	}
	return 1
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func init() {
	app.HelpFlag.Short('h')
	app.Version("fieldguild " + version)
	if os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}
}
