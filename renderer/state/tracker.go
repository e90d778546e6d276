package state

import (
	"fmt"

	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Reference is the renderer-side record of a scene.
type Reference struct {
	Id        types.SceneId
	Published bool

	Current   State
	Requested State

	// Render order; relative to the master when the scene is referenced.
	RenderOrder int

	// Emit flushed events carrying the version tag of applied flushes.
	Notifications bool
	LastTag       types.VersionTag

	// Referenced scenes are capped to the target of their master.
	Master    types.SceneId
	HasMaster bool

	// Step waiting for a Transition call.
	Pending Step
}

// Tracker drives scene references towards their requested state one step
// at a time. It is owned by the render thread and is not safe for
// concurrent use. The Controller must not call back into the tracker while
// executing a step; synchronous completion is reported by returning Done.
type Tracker struct {
	logger log.Logger
	ctrl   Controller

	refs   map[types.SceneId]*Reference
	events []Event
}

// Create a tracker that executes steps through ctrl.
func NewTracker(ctrl Controller) *Tracker {
	return &Tracker{
		logger: log.New("scene state"),
		ctrl:   ctrl,
		refs:   make(map[types.SceneId]*Reference),
	}
}

func (t *Tracker) ref(id types.SceneId) *Reference {
	r, ok := t.refs[id]
	if !ok {
		r = &Reference{Id: id}
		t.refs[id] = r
	}
	return r
}

// Publish marks a scene as available for subscription. Publishing an
// already published scene is a no-op.
func (t *Tracker) Publish(id types.SceneId) {
	r := t.ref(id)
	if r.Published {
		return
	}
	r.Published = true
	r.Current = Unavailable
	r.Pending = StepNone
	t.emit(Event{Kind: EventPublished, Scene: id, State: Unavailable})
	t.logger.Infof("%s published", id)

	t.drive(id)
	t.driveReferencesOf(id)
}

// Unpublish forces a scene to Unavailable and returns the state it was in.
// Referenced scenes of the unpublished scene are torn down as well.
// Unpublishing an unknown or unpublished scene is a no-op.
func (t *Tracker) Unpublish(id types.SceneId) (State, bool) {
	r, ok := t.refs[id]
	if !ok || !r.Published {
		return Unavailable, false
	}

	prev := r.Current
	r.Published = false
	r.Pending = StepNone
	t.setCurrent(r, Unavailable)
	t.emit(Event{Kind: EventUnpublished, Scene: id, State: Unavailable})
	t.logger.Infof("%s unpublished (was %s)", id, prev)

	t.driveReferencesOf(id)
	return prev, true
}

// RequestState sets the target state of a scene. Targets more than one step
// away are reached through the intermediate states; the current state only
// changes as steps complete. Targets may be requested before publication.
func (t *Tracker) RequestState(id types.SceneId, target State) {
	r := t.ref(id)
	r.Requested = target
	t.logger.Infof("%s requested %s (current %s)", id, target, r.Current)

	t.drive(id)
	t.driveReferencesOf(id)
}

// Transition reports that a scene reached a new state. Moving to
// Unavailable is always accepted (unsubscribe, connection loss). Any other
// state is only accepted if it completes the step the scene is waiting for;
// everything else is rejected without changing state.
func (t *Tracker) Transition(id types.SceneId, to State) error {
	r, ok := t.refs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScene, id)
	}

	if to == Unavailable {
		r.Pending = StepNone
		t.setCurrent(r, Unavailable)
		t.drive(id)
		return nil
	}

	if r.Pending == StepNone || r.Pending.Destination() != to {
		err := &IllegalTransitionError{Scene: id, From: r.Current, To: to}
		metrics.IllegalTransitions.Inc()
		t.logger.Warningf("%v", err)
		t.emit(Event{Kind: EventIllegalTransition, Scene: id, State: r.Current, Err: err})
		return err
	}

	r.Pending = StepNone
	t.setCurrent(r, to)
	t.drive(id)
	return nil
}

// Fail reports that the pending step of a scene failed. The scene stays in
// its current state and its request is reset to that state.
func (t *Tracker) Fail(id types.SceneId, err error) {
	r, ok := t.refs[id]
	if !ok || r.Pending == StepNone {
		return
	}
	t.stepFailed(r, r.Pending, err)
}

// SetRenderOrder sets the render order of a scene.
func (t *Tracker) SetRenderOrder(id types.SceneId, order int) {
	t.ref(id).RenderOrder = order
}

// RenderOrder returns the effective render order of a scene. Referenced
// scenes are ordered relative to their master.
func (t *Tracker) RenderOrder(id types.SceneId) int {
	r, ok := t.refs[id]
	if !ok {
		return 0
	}
	order := r.RenderOrder
	if r.HasMaster {
		order += t.RenderOrder(r.Master)
	}
	return order
}

// SetMaster makes id a referenced scene of master.
func (t *Tracker) SetMaster(id, master types.SceneId) error {
	for cur := master; ; {
		if cur == id {
			return fmt.Errorf("%w: %s -> %s", ErrMasterCycle, id, master)
		}
		r, ok := t.refs[cur]
		if !ok || !r.HasMaster {
			break
		}
		cur = r.Master
	}

	r := t.ref(id)
	t.ref(master)
	r.Master, r.HasMaster = master, true
	t.drive(id)
	return nil
}

// ClearMaster releases a referenced scene from its master.
func (t *Tracker) ClearMaster(id types.SceneId) {
	if r, ok := t.refs[id]; ok && r.HasMaster {
		r.Master, r.HasMaster = 0, false
		t.drive(id)
	}
}

// SetFlushNotifications toggles flushed events. Enabling notifications
// immediately reports the last applied tag.
func (t *Tracker) SetFlushNotifications(id types.SceneId, enabled bool) {
	r := t.ref(id)
	r.Notifications = enabled
	if enabled && r.LastTag != 0 {
		t.emit(Event{Kind: EventFlushed, Scene: id, State: r.Current, Tag: r.LastTag})
	}
}

// NotifyFlushed records the tag of an applied flush.
func (t *Tracker) NotifyFlushed(id types.SceneId, tag types.VersionTag) {
	r := t.ref(id)
	if tag == 0 || tag == r.LastTag {
		return
	}
	r.LastTag = tag
	if r.Notifications {
		t.emit(Event{Kind: EventFlushed, Scene: id, State: r.Current, Tag: tag})
	}
}

// State returns the current state of a scene.
func (t *Tracker) State(id types.SceneId) State {
	if r, ok := t.refs[id]; ok {
		return r.Current
	}
	return Unavailable
}

// Target returns the effective target of a scene.
func (t *Tracker) Target(id types.SceneId) State {
	if r, ok := t.refs[id]; ok {
		return t.effectiveTarget(r)
	}
	return Unavailable
}

// Reference returns a copy of a scene reference.
func (t *Tracker) Reference(id types.SceneId) (Reference, bool) {
	r, ok := t.refs[id]
	if !ok {
		return Reference{}, false
	}
	return *r, true
}

// Scenes returns the ids of all known scenes in ascending order.
func (t *Tracker) Scenes() []types.SceneId {
	ids := maps.Keys(t.refs)
	slices.Sort(ids)
	return ids
}

// Update drives every scene towards its target.
func (t *Tracker) Update() {
	for _, id := range t.Scenes() {
		t.drive(id)
	}
}

// Events returns and clears the pending events.
func (t *Tracker) Events() []Event {
	out := t.events
	t.events = nil
	return out
}

func (t *Tracker) effectiveTarget(r *Reference) State {
	target := r.Requested
	if !r.HasMaster {
		return target
	}
	m, ok := t.refs[r.Master]
	if !ok || !m.Published {
		return Unavailable
	}
	if mt := t.effectiveTarget(m); mt < target {
		target = mt
	}
	return target
}

// Execute steps until the target is reached or a step is pending.
func (t *Tracker) drive(id types.SceneId) {
	r := t.refs[id]
	for r.Published && r.Pending == StepNone {
		step := nextStep(r.Current, t.effectiveTarget(r))
		if step == StepNone {
			return
		}

		r.Pending = step
		t.logger.Debugf("%s: executing %s (%s -> %s)", id, step, r.Current, step.Destination())
		switch t.ctrl.Execute(id, step) {
		case Done:
			r.Pending = StepNone
			t.setCurrent(r, step.Destination())
		case Pending:
			return
		case Failed:
			t.stepFailed(r, step, nil)
			return
		}
	}
}

func (t *Tracker) driveReferencesOf(master types.SceneId) {
	for _, id := range t.Scenes() {
		if r := t.refs[id]; r.HasMaster && r.Master == master {
			t.drive(id)
			t.driveReferencesOf(id)
		}
	}
}

func (t *Tracker) stepFailed(r *Reference, step Step, err error) {
	if err == nil {
		err = fmt.Errorf("state: %s of %s failed", step, r.Id)
	}
	r.Pending = StepNone
	r.Requested = r.Current
	t.logger.Warningf("%s: %v", r.Id, err)
	t.emit(Event{Kind: EventStepFailed, Scene: r.Id, State: r.Current, Step: step, Err: err})
}

func (t *Tracker) setCurrent(r *Reference, s State) {
	if r.Current == s {
		return
	}
	t.logger.Infof("%s: %s -> %s", r.Id, r.Current, s)
	r.Current = s
	t.emit(Event{Kind: EventStateChanged, Scene: r.Id, State: s})
}

func (t *Tracker) emit(e Event) {
	t.events = append(t.events, e)
}
