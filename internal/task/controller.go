package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kazz187/fieldguild/internal/eventbus"
	"github.com/kazz187/fieldguild/internal/evidence"
	"github.com/kazz187/fieldguild/internal/location"
	"github.com/kazz187/fieldguild/pkg/cerr"
	"github.com/kazz187/fieldguild/pkg/clog"
)

// Gateway is the part of the worker API the controller drives.
type Gateway interface {
	ListTasks(ctx context.Context) ([]*Task, error)
	ClaimTask(ctx context.Context, id string) (*Task, error)
	ResolveTask(ctx context.Context, id string, sub *evidence.Submission) (*Task, error)
}

// SessionClearer is notified when the server no longer accepts the session.
type SessionClearer interface {
	Clear(ctx context.Context)
}

// EvidenceArchive keeps a local copy of accepted evidence.
type EvidenceArchive interface {
	Save(ctx context.Context, sub *evidence.Submission) (string, error)
}

// flow is the client-side progress of one task. Flows are keyed by task id
// so that list refreshes never redirect an in-flight operation.
type flow struct {
	phase      Phase
	task       *Task
	submission *evidence.Submission
	inFlight   bool
	detached   bool
	lastErr    error
}

type Controller struct {
	gateway  Gateway
	locator  location.Provider
	archive  EvidenceArchive
	sessions SessionClearer
	bus      *eventbus.Bus

	mu         sync.Mutex
	tasks      []*Task
	loaded     bool
	issuedSeq  uint64
	appliedSeq uint64
	flows      map[string]*flow
	floors     map[string]statusFloor
}

// statusFloor is the status a claim or resolve reply confirmed, stamped with
// the last refresh issued when it landed. Lists from refreshes issued up to
// that point predate the write and cannot move the task below it. A resolved
// floor holds against every later list.
type statusFloor struct {
	status Status
	seq    uint64
}

type Option func(*Controller)

func WithLocator(p location.Provider) Option {
	return func(c *Controller) { c.locator = p }
}

func WithArchive(a EvidenceArchive) Option {
	return func(c *Controller) { c.archive = a }
}

func WithSessionClearer(s SessionClearer) Option {
	return func(c *Controller) { c.sessions = s }
}

func WithEventBus(b *eventbus.Bus) Option {
	return func(c *Controller) { c.bus = b }
}

func NewController(gateway Gateway, opts ...Option) *Controller {
	c := &Controller{
		gateway: gateway,
		locator: location.Unavailable{},
		flows:   make(map[string]*flow),
		floors:  make(map[string]statusFloor),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh fetches the task list. Responses are applied in the order the
// requests were issued: a response that arrives after a newer one has
// already been applied is discarded.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.issuedSeq++
	seq := c.issuedSeq
	c.mu.Unlock()

	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttribute(ctx, "refresh_seq", seq)

	tasks, err := c.gateway.ListTasks(ctx)
	if err != nil {
		c.handleError(ctx, err)
		return err
	}

	c.mu.Lock()
	if seq <= c.appliedSeq {
		c.mu.Unlock()
		slog.DebugContext(ctx, "discarding stale task list", "applied_seq", c.appliedSeq)
		return nil
	}
	c.appliedSeq = seq
	c.tasks = c.mergeLocked(ctx, seq, tasks)
	c.loaded = true
	for id, f := range c.flows {
		t := c.findLocked(id)
		if t == nil {
			continue
		}
		if f.task != nil && !f.task.Status.CanAdvanceTo(t.Status) {
			continue
		}
		f.task = t.Clone()
	}
	count := len(c.tasks)
	c.mu.Unlock()

	slog.DebugContext(ctx, "task list updated", "count", count)
	c.bus.PublishNew(eventbus.TypeTaskListUpdated, "", strconv.Itoa(count), nil)
	return nil
}

// Loaded reports whether any refresh has been applied yet.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Tasks returns a copy of the current list in server order.
func (c *Controller) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.tasks)
}

func (c *Controller) Task(id string) (*Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t := c.findLocked(id); t != nil {
		return t.Clone(), true
	}
	if f, ok := c.flows[id]; ok && f.task != nil {
		return f.task.Clone(), true
	}
	return nil, false
}

func (c *Controller) Filter(v View) []*Task {
	return Filter(c.Tasks(), v)
}

// Phase returns PhaseListed for tasks the worker has not opened.
func (c *Controller) Phase(id string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flows[id]; ok {
		return f.phase
	}
	return PhaseListed
}

// Evidence returns a copy of the evidence pending for id.
func (c *Controller) Evidence(id string) (*evidence.Submission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[id]
	if !ok || f.submission == nil {
		return nil, false
	}
	return f.submission.Clone(), true
}

// LastError returns the error of the last failed submission of id.
func (c *Controller) LastError(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flows[id]; ok {
		return f.lastErr
	}
	return nil
}

// Select opens a task. Opening a task that is already in progress on this
// device resumes where the worker left off.
func (c *Controller) Select(id string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.findLocked(id)
	if t == nil {
		return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("task %s not found", id), nil)
	}
	f, ok := c.flows[id]
	if ok && f.phase != PhaseListed && f.phase != PhaseResolved {
		return f.task.Clone(), nil
	}
	from := PhaseListed
	if ok {
		from = f.phase
	}
	c.flows[id] = &flow{phase: PhaseListed, task: t.Clone()}
	c.setPhaseLocked(id, c.flows[id], from, PhaseViewing)
	return t.Clone(), nil
}

// Start moves the worker en route. Tasks not yet taken are claimed first.
func (c *Controller) Start(ctx context.Context, id string) error {
	c.mu.Lock()
	f, err := c.flowInLocked(id, PhaseViewing)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	status := f.task.Status
	switch {
	case status.IsTerminal():
		c.mu.Unlock()
		return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is already %s", id, status), nil)
	case status == StatusInProgress:
		c.setPhaseLocked(id, f, PhaseViewing, PhaseEnRoute)
		c.mu.Unlock()
		return nil
	case !status.Claimable():
		c.mu.Unlock()
		return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s cannot be started while %s", id, status), nil)
	}
	c.mu.Unlock()

	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttribute(ctx, "task_id", id)
	claimed, err := c.gateway.ClaimTask(ctx, id)
	if err != nil {
		c.handleError(ctx, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	updated := claimed
	if updated == nil || updated.ID != id {
		base := f.task
		if t := c.findLocked(id); t != nil {
			base = t
		}
		updated = base.Clone()
		updated.Status = StatusInProgress
		updated.Unconfirmed = true
	}
	c.applyLocked(updated)
	c.confirmLocked(id, StatusInProgress)
	if cur, ok := c.flows[id]; ok && cur == f {
		f.task = updated.Clone()
		if f.phase == PhaseViewing {
			c.setPhaseLocked(id, f, PhaseViewing, PhaseEnRoute)
		}
	}
	slog.InfoContext(ctx, "task claimed", "unconfirmed", updated.Unconfirmed)
	return nil
}

// Arrive records that the worker reached the site and takes one location
// fix. When no fix is available the task's own coordinates are used.
func (c *Controller) Arrive(ctx context.Context, id string) error {
	c.mu.Lock()
	f, err := c.flowInLocked(id, PhaseEnRoute)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	sub := &evidence.Submission{TaskID: id}
	fix, err := c.locator.Locate(ctx)
	if err != nil || fix == nil {
		slog.WarnContext(ctx, "location unavailable, using task coordinates", "task_id", id, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.flows[id]; !ok || cur != f || f.phase != PhaseEnRoute {
		return cerr.NewError(cerr.Aborted, fmt.Sprintf("task %s changed while locating", id), nil)
	}
	if fix != nil && err == nil {
		sub.Latitude, sub.Longitude = fix.Latitude, fix.Longitude
	} else {
		sub.Latitude, sub.Longitude = f.task.Location.Latitude, f.task.Location.Longitude
	}
	f.submission = sub
	c.setPhaseLocked(id, f, PhaseEnRoute, PhaseCapturingEvidence)
	return nil
}

// AttachEvidence sets the proof photo and note of the pending submission.
func (c *Controller) AttachEvidence(id string, photo *evidence.Photo, note string) error {
	if photo.Empty() {
		return cerr.NewError(cerr.InvalidArgument, "evidence required", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.editableLocked(id)
	if err != nil {
		return err
	}
	p := *photo
	f.submission.Photo = &p
	f.submission.Note = note
	return nil
}

// ClearEvidence drops the photo but keeps the coordinates.
func (c *Controller) ClearEvidence(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.editableLocked(id)
	if err != nil {
		return err
	}
	f.submission.Photo = nil
	return nil
}

// SetFix overrides the coordinates of the pending submission.
func (c *Controller) SetFix(id string, fix location.Fix) error {
	if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
		return cerr.NewError(cerr.OutOfRange, "coordinates out of range", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.editableLocked(id)
	if err != nil {
		return err
	}
	f.submission.Latitude, f.submission.Longitude = fix.Latitude, fix.Longitude
	return nil
}

// Submit sends the pending evidence. After a failure the same evidence is
// kept so the worker can retry without capturing it again.
func (c *Controller) Submit(ctx context.Context, id string) error {
	c.mu.Lock()
	f, ok := c.flows[id]
	if ok && f.inFlight {
		c.mu.Unlock()
		return cerr.NewError(cerr.Aborted, "submission already in progress", nil)
	}
	if !ok || (f.phase != PhaseCapturingEvidence && f.phase != PhaseSubmissionFailed) {
		phase := PhaseListed
		if ok {
			phase = f.phase
		}
		c.mu.Unlock()
		return cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is %s, nothing to submit", id, phase), nil)
	}
	if f.submission == nil || f.submission.Photo.Empty() {
		c.mu.Unlock()
		return cerr.NewError(cerr.InvalidArgument, "evidence required", nil)
	}
	sub := f.submission.Clone()
	f.inFlight = true
	f.lastErr = nil
	c.setPhaseLocked(id, f, f.phase, PhaseSubmitting)
	c.mu.Unlock()

	ctx = clog.ContextWithSlog(ctx)
	clog.AddAttribute(ctx, "task_id", id)
	resolved, err := c.gateway.ResolveTask(ctx, id, sub)

	c.mu.Lock()
	f.inFlight = false
	if err != nil {
		err = submissionError(err)
		f.lastErr = err
		c.setPhaseLocked(id, f, PhaseSubmitting, PhaseSubmissionFailed)
		if f.detached {
			c.dropFlowLocked(id, f)
		}
		c.mu.Unlock()
		slog.WarnContext(ctx, "submission failed", "error", err)
		c.bus.PublishNew(eventbus.TypeSubmissionFailed, id, cerr.Message(err), map[string]string{"kind": cerr.KindOf(err).String()})
		c.handleError(ctx, err)
		return err
	}

	if resolved == nil || resolved.ID != id {
		resolved = f.task.Clone()
		if t := c.findLocked(id); t != nil {
			resolved = t.Clone()
		}
	}
	if !resolved.Status.IsTerminal() {
		resolved.Status = StatusResolved
	}
	resolved.Unconfirmed = false
	c.applyLocked(resolved)
	c.confirmLocked(id, resolved.Status)
	f.task = resolved.Clone()
	f.submission = nil
	c.setPhaseLocked(id, f, PhaseSubmitting, PhaseResolved)
	if f.detached {
		c.dropFlowLocked(id, f)
	}
	c.mu.Unlock()

	slog.InfoContext(ctx, "task resolved")
	if c.archive != nil {
		if path, err := c.archive.Save(ctx, sub); err != nil {
			slog.WarnContext(ctx, "failed to archive evidence", "error", err)
		} else {
			slog.DebugContext(ctx, "evidence archived", "path", path)
		}
	}
	c.bus.PublishNew(eventbus.TypeTaskResolved, id, string(resolved.Status), nil)
	return nil
}

// Leave returns the worker to the list and discards unsent evidence. A
// submission already on the wire is not cancelled; its result is still
// applied to the task when it arrives.
func (c *Controller) Leave(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flows[id]
	if !ok {
		return
	}
	if f.inFlight {
		f.detached = true
		return
	}
	c.dropFlowLocked(id, f)
}

func (c *Controller) dropFlowLocked(id string, f *flow) {
	if cur, ok := c.flows[id]; !ok || cur != f {
		return
	}
	delete(c.flows, id)
	if f.phase != PhaseListed {
		c.bus.PublishNew(eventbus.TypePhaseChanged, id, PhaseListed.String(), map[string]string{"from": f.phase.String()})
	}
}

func (c *Controller) setPhaseLocked(id string, f *flow, from, to Phase) {
	if err := checkTransition(id, from, to); err != nil {
		// Every caller checks the phase first, so this is a programming error.
		slog.Error("invalid phase transition", "task_id", id, "error", err)
		return
	}
	f.phase = to
	c.bus.PublishNew(eventbus.TypePhaseChanged, id, to.String(), map[string]string{"from": from.String()})
}

func (c *Controller) flowInLocked(id string, want Phase) (*flow, error) {
	f, ok := c.flows[id]
	if !ok {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is not open", id), nil)
	}
	if f.phase != want {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is %s, not %s", id, f.phase, want), nil)
	}
	return f, nil
}

func (c *Controller) editableLocked(id string) (*flow, error) {
	f, ok := c.flows[id]
	if !ok {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is not open", id), nil)
	}
	if f.inFlight {
		return nil, cerr.NewError(cerr.Aborted, "submission already in progress", nil)
	}
	if (f.phase != PhaseCapturingEvidence && f.phase != PhaseSubmissionFailed) || f.submission == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("task %s is %s, not capturing evidence", id, f.phase), nil)
	}
	return f, nil
}

func (c *Controller) findLocked(id string) *Task {
	for _, t := range c.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// mergeLocked builds the new list from a refresh response, holding tasks at
// the status confirmed by claims and resolves the response predates.
func (c *Controller) mergeLocked(ctx context.Context, seq uint64, incoming []*Task) []*Task {
	merged := make([]*Task, 0, len(incoming))
	for _, t := range incoming {
		t = t.Clone()
		floor, ok := c.floors[t.ID]
		switch {
		case !ok:
		case floor.status.CanAdvanceTo(t.Status):
			if seq > floor.seq {
				delete(c.floors, t.ID)
			}
		case seq <= floor.seq || floor.status.IsTerminal():
			slog.DebugContext(ctx, "keeping confirmed status over older list", "task_id", t.ID, "status", floor.status, "listed", t.Status)
			if prev := c.findLocked(t.ID); prev != nil && prev.Status == floor.status {
				t = prev.Clone()
			} else {
				t.Status = floor.status
			}
		default:
			delete(c.floors, t.ID)
		}
		merged = append(merged, t)
	}
	return merged
}

// confirmLocked records a status the server acknowledged for id.
func (c *Controller) confirmLocked(id string, status Status) {
	if floor, ok := c.floors[id]; ok && !floor.status.CanAdvanceTo(status) {
		return
	}
	c.floors[id] = statusFloor{status: status, seq: c.issuedSeq}
}

// applyLocked replaces the task with the same id, never moving a status
// backwards.
func (c *Controller) applyLocked(updated *Task) {
	for i, t := range c.tasks {
		if t.ID != updated.ID {
			continue
		}
		if !t.Status.CanAdvanceTo(updated.Status) {
			slog.Warn("ignoring status regression", "task_id", t.ID, "from", t.Status, "to", updated.Status)
			return
		}
		c.tasks[i] = updated.Clone()
		return
	}
}

func (c *Controller) handleError(ctx context.Context, err error) {
	if !cerr.IsAuth(err) {
		return
	}
	slog.InfoContext(ctx, "session rejected, signing out", "error", err)
	if c.sessions != nil {
		c.sessions.Clear(ctx)
	}
	c.bus.PublishNew(eventbus.TypeSessionExpired, "", cerr.Message(err), nil)
}

// submissionError makes sure the worker always has a message to read.
func submissionError(err error) error {
	var ce *cerr.Error
	if !errors.As(err, &ce) {
		return cerr.NewError(cerr.Unknown, "submission failed", err)
	}
	if ce.Msg == "" {
		return &cerr.Error{Code: ce.Code, Msg: "submission failed", Err: ce.Err, Stack: ce.Stack, Status: ce.Status}
	}
	return err
}
