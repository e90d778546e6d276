package state

import (
	"errors"
	"fmt"

	"github.com/achilleasa/scenerelay/types"
)

// State of a scene reference on the renderer side.
type State uint8

const (
	Unavailable State = iota
	Available
	Ready
	Rendered
)

func (s State) String() string {
	switch s {
	case Unavailable:
		return "Unavailable"
	case Available:
		return "Available"
	case Ready:
		return "Ready"
	case Rendered:
		return "Rendered"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParseState maps a state name (case-sensitive, as printed by String) to a State.
func ParseState(name string) (State, error) {
	for s := Unavailable; s <= Rendered; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return Unavailable, fmt.Errorf("state: unknown scene state %q", name)
}

// Step is a single state-changing action executed by a Controller.
type Step uint8

const (
	StepNone Step = iota
	StepSubscribe
	StepMap
	StepShow
	StepHide
	StepUnmap
	StepUnsubscribe
)

func (s Step) String() string {
	switch s {
	case StepSubscribe:
		return "subscribe"
	case StepMap:
		return "map"
	case StepShow:
		return "show"
	case StepHide:
		return "hide"
	case StepUnmap:
		return "unmap"
	case StepUnsubscribe:
		return "unsubscribe"
	}
	return "none"
}

// Destination returns the state reached when the step completes.
func (s Step) Destination() State {
	switch s {
	case StepSubscribe, StepUnmap:
		return Available
	case StepMap, StepHide:
		return Ready
	case StepShow:
		return Rendered
	}
	return Unavailable
}

// Step needed to move one state closer to target.
func nextStep(current, target State) Step {
	switch {
	case current < target:
		switch current {
		case Unavailable:
			return StepSubscribe
		case Available:
			return StepMap
		case Ready:
			return StepShow
		}
	case current > target:
		switch current {
		case Rendered:
			return StepHide
		case Ready:
			return StepUnmap
		case Available:
			return StepUnsubscribe
		}
	}
	return StepNone
}

// Result of executing a step.
type Result uint8

const (
	// The step completed synchronously.
	Done Result = iota
	// The step was initiated; completion is reported through Transition.
	Pending
	// The step could not be executed.
	Failed
)

// Controller executes steps on behalf of the tracker.
type Controller interface {
	Execute(id types.SceneId, step Step) Result
}

var (
	ErrIllegalTransition = errors.New("state: illegal scene state transition")
	ErrUnknownScene      = errors.New("state: unknown scene")
	ErrMasterCycle       = errors.New("state: scene reference cycle")
)

// IllegalTransitionError reports a rejected state change.
type IllegalTransitionError struct {
	Scene types.SceneId
	From  State
	To    State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("state: illegal transition of %s from %s to %s", e.Scene, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// EventKind enumerates tracker events.
type EventKind uint8

const (
	EventPublished EventKind = iota + 1
	EventUnpublished
	EventStateChanged
	EventFlushed
	EventStepFailed
	EventIllegalTransition
)

func (k EventKind) String() string {
	switch k {
	case EventPublished:
		return "published"
	case EventUnpublished:
		return "unpublished"
	case EventStateChanged:
		return "state-changed"
	case EventFlushed:
		return "flushed"
	case EventStepFailed:
		return "step-failed"
	case EventIllegalTransition:
		return "illegal-transition"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is emitted whenever something observable happens to a scene
// reference.
type Event struct {
	Kind  EventKind
	Scene types.SceneId
	State State
	Step  Step
	Tag   types.VersionTag
	Err   error
}
