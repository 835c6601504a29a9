package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

const defaultDebounce = 100 * time.Millisecond

type spoolFile struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
}

// Inbox delivers messages dropped as *.json files into a spool directory.
// Each file is one message and is removed once delivered.
type Inbox struct {
	dir      string
	token    string
	debounce time.Duration

	mu       sync.Mutex
	handlers map[string]func(Message)
	timers   map[string]*time.Timer
}

func NewInbox(dir, deviceToken string) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory %s: %w", dir, err)
	}
	return &Inbox{
		dir:      dir,
		token:    deviceToken,
		debounce: defaultDebounce,
		handlers: make(map[string]func(Message)),
		timers:   make(map[string]*time.Timer),
	}, nil
}

func (i *Inbox) Token(context.Context) (string, error) {
	if i.token == "" {
		return "", cerr.NewError(cerr.Unavailable, "no device token configured", nil)
	}
	return i.token, nil
}

func (i *Inbox) Subscribe(fn func(Message)) func() {
	id := ulid.Make().String()
	i.mu.Lock()
	i.handlers[id] = fn
	i.mu.Unlock()
	return func() {
		i.mu.Lock()
		delete(i.handlers, id)
		i.mu.Unlock()
	}
}

// Run watches the spool directory until ctx is done. Files already present
// when Run starts are delivered first.
func (i *Inbox) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(i.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", i.dir, err)
	}
	slog.InfoContext(ctx, "watching notification inbox", "dir", i.dir)

	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", i.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && isSpoolFile(e.Name()) {
			i.schedule(ctx, filepath.Join(i.dir, e.Name()))
		}
	}

	defer i.stopTimers()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSpoolFile(event.Name) {
				continue
			}
			// Create covers writers that rename a finished file into place.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			i.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "fsnotify error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func isSpoolFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(filepath.Base(name), ".")
}

func (i *Inbox) schedule(ctx context.Context, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.timers[path]; ok {
		t.Stop()
	}
	i.timers[path] = time.AfterFunc(i.debounce, func() {
		i.mu.Lock()
		delete(i.timers, path)
		i.mu.Unlock()
		i.deliver(ctx, path)
	})
}

func (i *Inbox) stopTimers() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for path, t := range i.timers {
		t.Stop()
		delete(i.timers, path)
	}
}

func (i *Inbox) deliver(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.WarnContext(ctx, "failed to read notification", "path", path, "error", err)
		}
		return
	}
	var f spoolFile
	if err := json.Unmarshal(data, &f); err != nil {
		// Possibly still being written; the next write event retries.
		slog.WarnContext(ctx, "skipping unreadable notification", "path", path, "error", err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "failed to remove delivered notification", "path", path, "error", err)
	}

	msg := Message{
		Title:      f.Title,
		Body:       f.Body,
		Data:       make(map[string]string, len(f.Data)),
		ReceivedAt: time.Now(),
	}
	for k, v := range f.Data {
		if s, ok := v.(string); ok {
			msg.Data[k] = s
			continue
		}
		msg.Data[k] = fmt.Sprint(v)
	}

	i.mu.Lock()
	handlers := make([]func(Message), 0, len(i.handlers))
	for _, fn := range i.handlers {
		handlers = append(handlers, fn)
	}
	i.mu.Unlock()

	slog.DebugContext(ctx, "notification received", "title", msg.Title)
	for _, fn := range handlers {
		fn(msg)
	}
}
