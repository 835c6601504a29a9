package eventbus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/storage"
)

const journalPrefix = "events"

// Journal keeps one NDJSON file of events per local day.
type Journal struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewJournal(s storage.Storage) *Journal {
	return &Journal{storage: s}
}

func journalPath(day time.Time) string {
	return fmt.Sprintf("%s/%s.ndjson", journalPrefix, day.Local().Format(time.DateOnly))
}

// Append adds ev to the file for the day it was created.
func (j *Journal) Append(ctx context.Context, ev *Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	path := journalPath(ev.CreatedAt)
	data, err := j.storage.Read(ctx, path)
	if err != nil && !storage.IsNotFound(err) {
		return cerr.WrapStorageReadError("event journal", err)
	}
	data = append(data, line...)
	data = append(data, '\n')
	if err := j.storage.Write(ctx, path, data); err != nil {
		return cerr.WrapStorageWriteError("event journal", err)
	}
	return nil
}

// Read returns the events recorded on day, oldest first. Lines that do not
// parse are skipped.
func (j *Journal) Read(ctx context.Context, day time.Time) ([]*Event, error) {
	data, err := j.storage.Read(ctx, journalPath(day))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, cerr.WrapStorageReadError("event journal", err)
	}

	var events []*Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev := &Event{}
		if err := json.Unmarshal(line, ev); err != nil {
			slog.WarnContext(ctx, "skipping unreadable journal line", "error", err)
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, cerr.WrapCorruptError("event journal", err)
	}
	return events, nil
}

// Record appends everything received on events until ctx is done or the
// channel is closed. Write failures are logged and do not stop recording.
func (j *Journal) Record(ctx context.Context, events <-chan *Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := j.Append(ctx, ev); err != nil {
				slog.WarnContext(ctx, "failed to journal event", "event_id", ev.ID, "type", ev.Type, "error", err)
			}
		}
	}
}
