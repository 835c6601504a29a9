package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/fieldguild/pkg/storage"
)

func newJournal(t *testing.T) (*Journal, storage.Storage) {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewJournal(s), s
}

func TestJournal_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	j, _ := newJournal(t)
	now := time.Now()

	require.NoError(t, j.Append(ctx, &Event{ID: "1", Type: TypeTaskResolved, ResourceID: "T1", Payload: "RESOLVED", CreatedAt: now}))
	require.NoError(t, j.Append(ctx, &Event{ID: "2", Type: TypeNotification, Payload: "New task", Metadata: map[string]string{"body": "Pothole"}, CreatedAt: now}))
	require.NoError(t, j.Append(ctx, &Event{ID: "3", Type: TypeTaskListUpdated, CreatedAt: now.AddDate(0, 0, -1)}))

	events, err := j.Read(ctx, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "T1", events[0].ResourceID)
	assert.Equal(t, TypeNotification, events[1].Type)
	assert.Equal(t, "Pothole", events[1].Metadata["body"])

	events, err = j.Read(ctx, now.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "3", events[0].ID)
}

func TestJournal_ReadMissingDay(t *testing.T) {
	j, _ := newJournal(t)
	events, err := j.Read(context.Background(), time.Now().AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJournal_SkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	j, s := newJournal(t)
	now := time.Now()
	require.NoError(t, s.Write(ctx, journalPath(now), []byte("{not json\n")))
	require.NoError(t, j.Append(ctx, &Event{ID: "ok", Type: TypeTaskResolved, CreatedAt: now}))

	events, err := j.Read(ctx, now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].ID)
}

func TestJournal_RecordFromBus(t *testing.T) {
	j, _ := newJournal(t)
	bus := New()
	id, ch := bus.Subscribe(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = j.Record(context.Background(), ch)
	}()

	bus.PublishNew(TypeSubmissionFailed, "T9", "storage full", nil)
	bus.PublishNew(TypeTaskResolved, "T9", "RESOLVED", nil)
	bus.Unsubscribe(id)
	<-done

	events, err := j.Read(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, TypeSubmissionFailed, events[0].Type)
	assert.Equal(t, TypeTaskResolved, events[1].Type)
}
