package task

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/fieldguild/internal/eventbus"
	"github.com/kazz187/fieldguild/internal/evidence"
	"github.com/kazz187/fieldguild/internal/location"
	"github.com/kazz187/fieldguild/pkg/cerr"
)

type fakeGateway struct {
	mu       sync.Mutex
	list     func(ctx context.Context) ([]*Task, error)
	claim    func(ctx context.Context, id string) (*Task, error)
	resolve  func(ctx context.Context, id string, sub *evidence.Submission) (*Task, error)
	claims   []string
	resolves []*evidence.Submission
}

func (g *fakeGateway) ListTasks(ctx context.Context) ([]*Task, error) {
	return g.list(ctx)
}

func (g *fakeGateway) ClaimTask(ctx context.Context, id string) (*Task, error) {
	g.mu.Lock()
	g.claims = append(g.claims, id)
	g.mu.Unlock()
	if g.claim == nil {
		return nil, nil
	}
	return g.claim(ctx, id)
}

func (g *fakeGateway) ResolveTask(ctx context.Context, id string, sub *evidence.Submission) (*Task, error) {
	g.mu.Lock()
	g.resolves = append(g.resolves, sub.Clone())
	g.mu.Unlock()
	if g.resolve == nil {
		return nil, nil
	}
	return g.resolve(ctx, id, sub)
}

func (g *fakeGateway) resolveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.resolves)
}

func listOf(tasks ...*Task) func(context.Context) ([]*Task, error) {
	return func(context.Context) ([]*Task, error) {
		return cloneAll(tasks), nil
	}
}

type recordingClearer struct {
	mu    sync.Mutex
	calls int
}

func (r *recordingClearer) Clear(context.Context) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

type recordingArchive struct {
	mu    sync.Mutex
	saved []*evidence.Submission
}

func (a *recordingArchive) Save(_ context.Context, sub *evidence.Submission) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, sub.Clone())
	return "evidence/" + sub.TaskID + "/x.yaml", nil
}

var proof = &evidence.Photo{
	Data:        []byte("\xff\xd8\xff\xe0\x00\x10JFIF"),
	FileName:    "proof.jpg",
	ContentType: "image/jpeg",
}

func t1() *Task {
	return &Task{
		ID:       "T1",
		Category: "Pothole",
		Status:   StatusPending,
		Location: Location{Latitude: DefaultLatitude, Longitude: DefaultLongitude},
	}
}

// openForEvidence drives T1 up to CapturingEvidence.
func openForEvidence(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	_, err := c.Select("T1")
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx, "T1"))
	require.NoError(t, c.Arrive(ctx, "T1"))
	require.Equal(t, PhaseCapturingEvidence, c.Phase("T1"))
}

func TestController_ResolveHappyPath(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{list: listOf(t1(), &Task{ID: "T2", Status: StatusAssigned})}
	archive := &recordingArchive{}
	bus := eventbus.New()
	_, events := bus.Subscribe(64)
	c := NewController(gw,
		WithLocator(location.NewStatic(28.61, 77.20, "")),
		WithArchive(archive),
		WithEventBus(bus),
	)

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []string{"T1", "T2"}, ids(c.Filter(ViewPending)))

	task, err := c.Select("T1")
	require.NoError(t, err)
	assert.Equal(t, "Pothole", task.Category)
	assert.Equal(t, PhaseViewing, c.Phase("T1"))

	require.NoError(t, c.Start(ctx, "T1"))
	assert.Equal(t, []string{"T1"}, gw.claims)
	assert.Equal(t, PhaseEnRoute, c.Phase("T1"))
	claimed, _ := c.Task("T1")
	assert.Equal(t, StatusInProgress, claimed.Status)
	assert.True(t, claimed.Unconfirmed)

	require.NoError(t, c.Arrive(ctx, "T1"))
	require.NoError(t, c.AttachEvidence("T1", proof, "filled"))
	require.NoError(t, c.Submit(ctx, "T1"))

	assert.Equal(t, PhaseResolved, c.Phase("T1"))
	resolved, _ := c.Task("T1")
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.False(t, resolved.Unconfirmed)
	assert.Equal(t, []string{"T2"}, ids(c.Filter(ViewPending)))
	assert.Equal(t, []string{"T1"}, ids(c.Filter(ViewCompleted)))

	require.Len(t, gw.resolves, 1)
	sent := gw.resolves[0]
	assert.Equal(t, 28.61, sent.Latitude)
	assert.Equal(t, 77.20, sent.Longitude)
	assert.Equal(t, "filled", sent.Note)
	assert.Equal(t, proof.Data, sent.Photo.Data)

	_, ok := c.Evidence("T1")
	assert.False(t, ok, "evidence is discarded after success")
	require.Len(t, archive.saved, 1)

	var sawResolved bool
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.TypeTaskResolved && ev.ResourceID == "T1" {
			sawResolved = true
		}
	}
	assert.True(t, sawResolved)

	// opening the task again starts from scratch
	_, err = c.Select("T1")
	require.NoError(t, err)
	assert.Equal(t, PhaseViewing, c.Phase("T1"))
	err = c.Start(ctx, "T1")
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestController_SubmitWithoutImage(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{list: listOf(t1())}
	c := NewController(gw)
	openForEvidence(t, c)

	err := c.Submit(ctx, "T1")
	require.Error(t, err)
	assert.True(t, cerr.IsValidation(err))
	assert.Equal(t, "evidence required", cerr.Message(err))
	assert.Equal(t, 0, gw.resolveCount())
	assert.Equal(t, PhaseCapturingEvidence, c.Phase("T1"))

	assert.True(t, cerr.IsValidation(c.AttachEvidence("T1", nil, "")))
	assert.True(t, cerr.IsValidation(c.AttachEvidence("T1", &evidence.Photo{}, "")))

	require.NoError(t, c.AttachEvidence("T1", proof, ""))
	require.NoError(t, c.ClearEvidence("T1"))
	assert.True(t, cerr.IsValidation(c.Submit(ctx, "T1")))
	assert.Equal(t, 0, gw.resolveCount())
}

func TestController_FailedSubmissionKeepsEvidenceForRetry(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	gw := &fakeGateway{
		list: listOf(t1()),
		resolve: func(_ context.Context, id string, _ *evidence.Submission) (*Task, error) {
			attempts++
			if attempts == 1 {
				return nil, cerr.NewServerError(http.StatusInternalServerError, "storage full", nil)
			}
			return &Task{ID: id, Status: StatusResolved}, nil
		},
	}
	bus := eventbus.New()
	_, events := bus.Subscribe(64)
	c := NewController(gw, WithLocator(location.NewStatic(28.61, 77.20, "")), WithEventBus(bus))
	openForEvidence(t, c)
	require.NoError(t, c.AttachEvidence("T1", proof, "note"))

	err := c.Submit(ctx, "T1")
	require.Error(t, err)
	assert.Equal(t, "storage full", cerr.Message(err))
	assert.Equal(t, PhaseSubmissionFailed, c.Phase("T1"))
	assert.Equal(t, "storage full", cerr.Message(c.LastError("T1")))
	pending, ok := c.Evidence("T1")
	require.True(t, ok)
	assert.Equal(t, proof.Data, pending.Photo.Data)
	still, _ := c.Task("T1")
	assert.Equal(t, StatusInProgress, still.Status, "no terminal status without server confirmation")

	var failure *eventbus.Event
	for len(events) > 0 {
		if ev := <-events; ev.Type == eventbus.TypeSubmissionFailed {
			failure = ev
		}
	}
	require.NotNil(t, failure)
	assert.Equal(t, "storage full", failure.Payload)

	require.NoError(t, c.Submit(ctx, "T1"))
	assert.Equal(t, PhaseResolved, c.Phase("T1"))
	require.Len(t, gw.resolves, 2)
	assert.Equal(t, gw.resolves[0], gw.resolves[1])
}

func TestController_GenericFailureMessage(t *testing.T) {
	gw := &fakeGateway{
		list: listOf(t1()),
		resolve: func(context.Context, string, *evidence.Submission) (*Task, error) {
			return nil, errors.New("boom")
		},
	}
	c := NewController(gw)
	openForEvidence(t, c)
	require.NoError(t, c.AttachEvidence("T1", proof, ""))

	err := c.Submit(context.Background(), "T1")
	require.Error(t, err)
	assert.Equal(t, "submission failed", cerr.Message(err))
}

func TestController_OneSubmissionInFlightPerTask(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		list: listOf(t1()),
		resolve: func(_ context.Context, id string, _ *evidence.Submission) (*Task, error) {
			close(entered)
			<-release
			return &Task{ID: id, Status: StatusResolved}, nil
		},
	}
	c := NewController(gw)
	openForEvidence(t, c)
	require.NoError(t, c.AttachEvidence("T1", proof, ""))

	done := make(chan error, 1)
	go func() { done <- c.Submit(ctx, "T1") }()
	<-entered

	assert.Equal(t, PhaseSubmitting, c.Phase("T1"))
	err := c.Submit(ctx, "T1")
	assert.True(t, cerr.IsCode(err, cerr.Aborted))
	assert.Equal(t, "submission already in progress", cerr.Message(err))
	assert.True(t, cerr.IsCode(c.AttachEvidence("T1", proof, "edit"), cerr.Aborted))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, gw.resolveCount())
	assert.Equal(t, PhaseResolved, c.Phase("T1"))
}

func TestController_LeaveDuringSubmissionStillAppliesResult(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{
		list: listOf(t1(), &Task{ID: "T2", Status: StatusPending}),
		resolve: func(_ context.Context, id string, _ *evidence.Submission) (*Task, error) {
			close(entered)
			<-release
			return nil, nil
		},
	}
	c := NewController(gw)
	openForEvidence(t, c)
	require.NoError(t, c.AttachEvidence("T1", proof, ""))

	done := make(chan error, 1)
	go func() { done <- c.Submit(ctx, "T1") }()
	<-entered

	c.Leave("T1")
	// the list is refreshed and reordered while the upload is running
	gw.list = listOf(&Task{ID: "T2", Status: StatusPending}, &Task{ID: "T1", Status: StatusInProgress})
	require.NoError(t, c.Refresh(ctx))

	close(release)
	require.NoError(t, <-done)

	got1, ok := c.Task("T1")
	require.True(t, ok)
	assert.Equal(t, StatusResolved, got1.Status)
	got2, _ := c.Task("T2")
	assert.Equal(t, StatusPending, got2.Status)
	assert.Equal(t, PhaseListed, c.Phase("T1"))
	_, ok = c.Evidence("T1")
	assert.False(t, ok)
}

func TestController_LeaveDiscardsUnsentEvidence(t *testing.T) {
	gw := &fakeGateway{list: listOf(t1())}
	c := NewController(gw)
	openForEvidence(t, c)
	require.NoError(t, c.AttachEvidence("T1", proof, ""))

	c.Leave("T1")
	assert.Equal(t, PhaseListed, c.Phase("T1"))
	_, ok := c.Evidence("T1")
	assert.False(t, ok)
	assert.True(t, cerr.IsValidation(c.Submit(context.Background(), "T1")))
}

func TestController_StartByStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     Status
		wantClaims int
		wantCode   cerr.Code
		wantPhase  Phase
	}{
		{name: "pending claims", status: StatusPending, wantClaims: 1, wantPhase: PhaseEnRoute},
		{name: "assigned claims", status: StatusAssigned, wantClaims: 1, wantPhase: PhaseEnRoute},
		{name: "in progress skips claim", status: StatusInProgress, wantPhase: PhaseEnRoute},
		{name: "resolved rejected", status: StatusResolved, wantCode: cerr.FailedPrecondition, wantPhase: PhaseViewing},
		{name: "closed rejected", status: StatusClosed, wantCode: cerr.FailedPrecondition, wantPhase: PhaseViewing},
		{name: "unknown rejected", status: Status("ESCALATED"), wantCode: cerr.FailedPrecondition, wantPhase: PhaseViewing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			gw := &fakeGateway{list: listOf(&Task{ID: "T1", Status: tt.status})}
			c := NewController(gw)
			require.NoError(t, c.Refresh(ctx))
			_, err := c.Select("T1")
			require.NoError(t, err)

			err = c.Start(ctx, "T1")
			if tt.wantCode != cerr.OK {
				assert.True(t, cerr.IsCode(err, tt.wantCode))
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, gw.claims, tt.wantClaims)
			assert.Equal(t, tt.wantPhase, c.Phase("T1"))
		})
	}
}

func TestController_ClaimResponseReplacesTask(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		list: listOf(t1()),
		claim: func(_ context.Context, id string) (*Task, error) {
			return &Task{ID: id, Category: "Pothole", Status: StatusInProgress, Severity: "high"}, nil
		},
	}
	c := NewController(gw)
	require.NoError(t, c.Refresh(ctx))
	_, err := c.Select("T1")
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx, "T1"))

	got, _ := c.Task("T1")
	assert.Equal(t, "high", got.Severity)
	assert.False(t, got.Unconfirmed)
}

func TestController_ClaimFailureStaysViewing(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		list: listOf(t1()),
		claim: func(context.Context, string) (*Task, error) {
			return nil, cerr.NewError(cerr.Unavailable, "cannot reach the server", nil)
		},
	}
	c := NewController(gw)
	require.NoError(t, c.Refresh(ctx))
	_, err := c.Select("T1")
	require.NoError(t, err)

	err = c.Start(ctx, "T1")
	assert.True(t, cerr.IsTransport(err))
	assert.Equal(t, PhaseViewing, c.Phase("T1"))
	got, _ := c.Task("T1")
	assert.Equal(t, StatusPending, got.Status)
}

func TestController_ArriveWithoutFixUsesTaskCoordinates(t *testing.T) {
	gw := &fakeGateway{list: listOf(t1())}
	c := NewController(gw, WithLocator(location.Unavailable{}))
	openForEvidence(t, c)

	sub, ok := c.Evidence("T1")
	require.True(t, ok)
	assert.Equal(t, DefaultLatitude, sub.Latitude)
	assert.Equal(t, DefaultLongitude, sub.Longitude)

	require.NoError(t, c.SetFix("T1", location.Fix{Latitude: 19.07, Longitude: 72.87}))
	sub, _ = c.Evidence("T1")
	assert.Equal(t, 19.07, sub.Latitude)
	assert.True(t, cerr.IsValidation(c.SetFix("T1", location.Fix{Latitude: 120})))
}

func TestController_PhaseOrderIsEnforced(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{list: listOf(t1())}
	c := NewController(gw)
	require.NoError(t, c.Refresh(ctx))

	assert.True(t, cerr.IsCode(c.Start(ctx, "T1"), cerr.FailedPrecondition))
	assert.True(t, cerr.IsCode(c.Arrive(ctx, "T1"), cerr.FailedPrecondition))
	_, err := c.Select("missing")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	_, err = c.Select("T1")
	require.NoError(t, err)
	assert.True(t, cerr.IsCode(c.Arrive(ctx, "T1"), cerr.FailedPrecondition))
	assert.True(t, cerr.IsCode(c.AttachEvidence("T1", proof, ""), cerr.FailedPrecondition))
	assert.Empty(t, gw.claims)
}

func TestController_OverlappingRefreshes(t *testing.T) {
	ctx := context.Background()
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var calls int
	var mu sync.Mutex
	gw := &fakeGateway{
		list: func(context.Context) ([]*Task, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				close(firstEntered)
				<-releaseFirst
				return []*Task{{ID: "OLD", Status: StatusPending}}, nil
			}
			return []*Task{{ID: "NEW", Status: StatusPending}}, nil
		},
	}
	c := NewController(gw)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-firstEntered

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []string{"NEW"}, ids(c.Tasks()))

	close(releaseFirst)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"NEW"}, ids(c.Tasks()), "stale response must be discarded")
}

func TestController_AuthErrorEndsSession(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		list: func(context.Context) ([]*Task, error) {
			return nil, cerr.NewServerError(http.StatusUnauthorized, "Unauthorized", nil)
		},
	}
	sessions := &recordingClearer{}
	bus := eventbus.New()
	_, events := bus.Subscribe(8)
	c := NewController(gw, WithSessionClearer(sessions), WithEventBus(bus))

	err := c.Refresh(ctx)
	assert.True(t, cerr.IsAuth(err))
	assert.Equal(t, 1, sessions.calls)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeSessionExpired, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no session expired event")
	}
	assert.False(t, c.Loaded())
}

func TestController_ServerErrorKeepsSession(t *testing.T) {
	gw := &fakeGateway{
		list: func(context.Context) ([]*Task, error) {
			return nil, cerr.NewServerError(http.StatusInternalServerError, "database down", nil)
		},
	}
	sessions := &recordingClearer{}
	c := NewController(gw, WithSessionClearer(sessions))

	err := c.Refresh(context.Background())
	assert.True(t, cerr.IsServer(err))
	assert.Equal(t, 0, sessions.calls)
}

// gatedList serves list snapshots in call order. The call numbered gateOn
// signals entered and waits for release before returning its snapshot.
func gatedList(gateOn int, entered, release chan struct{}, snapshots ...func() []*Task) func(context.Context) ([]*Task, error) {
	var mu sync.Mutex
	var calls int
	return func(context.Context) ([]*Task, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == gateOn {
			close(entered)
			<-release
		}
		i := min(n, len(snapshots)) - 1
		return snapshots[i](), nil
	}
}

func TestController_OlderListDoesNotUndoResolve(t *testing.T) {
	ctx := context.Background()
	entered, release := make(chan struct{}), make(chan struct{})
	pending := func() []*Task { return []*Task{t1()} }
	gw := &fakeGateway{list: gatedList(2, entered, release, pending, pending, pending)}
	c := NewController(gw)
	openForEvidence(t, c)
	require.NoError(t, c.AttachEvidence("T1", proof, ""))

	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-entered

	require.NoError(t, c.Submit(ctx, "T1"))
	assert.Empty(t, c.Filter(ViewPending))

	close(release)
	require.NoError(t, <-done)

	got, ok := c.Task("T1")
	require.True(t, ok)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, PhaseResolved, c.Phase("T1"))
	assert.Empty(t, c.Filter(ViewPending))
	assert.Equal(t, []string{"T1"}, ids(c.Filter(ViewCompleted)))

	// A lagging server keeps listing T1 as pending; the confirmed resolve wins.
	require.NoError(t, c.Refresh(ctx))
	got, _ = c.Task("T1")
	assert.Equal(t, StatusResolved, got.Status)
}

func TestController_OlderListDoesNotUndoClaim(t *testing.T) {
	ctx := context.Background()
	entered, release := make(chan struct{}), make(chan struct{})
	pending := func() []*Task { return []*Task{t1()} }
	inProgress := func() []*Task {
		task := t1()
		task.Status = StatusInProgress
		return []*Task{task}
	}
	gw := &fakeGateway{list: gatedList(2, entered, release, pending, pending, inProgress)}
	c := NewController(gw)
	require.NoError(t, c.Refresh(ctx))
	_, err := c.Select("T1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-entered

	require.NoError(t, c.Start(ctx, "T1"))
	close(release)
	require.NoError(t, <-done)

	got, _ := c.Task("T1")
	assert.Equal(t, StatusInProgress, got.Status)
	assert.True(t, got.Unconfirmed)
	assert.Empty(t, c.Filter(ViewPending))

	require.NoError(t, c.Refresh(ctx))
	got, _ = c.Task("T1")
	assert.Equal(t, StatusInProgress, got.Status)
	assert.False(t, got.Unconfirmed, "a list issued after the claim replaces the local copy")
}
