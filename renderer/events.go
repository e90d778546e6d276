package renderer

import (
	"fmt"

	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/types"
)

type EventKind uint8

const (
	EventScenePublished EventKind = iota + 1
	EventSceneUnpublished
	EventSceneStateChanged
	EventSceneFlushed
	EventSceneStepFailed
	EventIllegalTransition
	EventFlushRejected
	EventResyncRequested
	EventLinked
	EventLinkFailed
	EventUnlinked
	EventResourceBroken
	EventCommandFailed
	EventSceneExpired
	EventSceneRecovered
)

func (k EventKind) String() string {
	switch k {
	case EventScenePublished:
		return "scene-published"
	case EventSceneUnpublished:
		return "scene-unpublished"
	case EventSceneStateChanged:
		return "scene-state-changed"
	case EventSceneFlushed:
		return "scene-flushed"
	case EventSceneStepFailed:
		return "scene-step-failed"
	case EventIllegalTransition:
		return "illegal-transition"
	case EventFlushRejected:
		return "flush-rejected"
	case EventResyncRequested:
		return "resync-requested"
	case EventLinked:
		return "linked"
	case EventLinkFailed:
		return "link-failed"
	case EventUnlinked:
		return "unlinked"
	case EventResourceBroken:
		return "resource-broken"
	case EventCommandFailed:
		return "command-failed"
	case EventSceneExpired:
		return "scene-expired"
	case EventSceneRecovered:
		return "scene-recovered"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event reports something observable that happened on the render thread.
type Event struct {
	Kind  EventKind
	Scene types.SceneId
	State state.State
	Tag   types.VersionTag

	Provider link.SlotRef
	Consumer link.SlotRef
	Resource types.ResourceHash

	Err error
}

func (e Event) String() string {
	switch e.Kind {
	case EventSceneStateChanged:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Scene, e.State)
	case EventSceneFlushed:
		return fmt.Sprintf("%s %s tag %d", e.Kind, e.Scene, e.Tag)
	case EventLinked, EventUnlinked:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Provider, e.Consumer)
	case EventResourceBroken:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Resource.Short(), e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Scene, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Scene)
}

func fromTrackerEvent(ev state.Event) Event {
	out := Event{Scene: ev.Scene, State: ev.State, Tag: ev.Tag, Err: ev.Err}
	switch ev.Kind {
	case state.EventPublished:
		out.Kind = EventScenePublished
	case state.EventUnpublished:
		out.Kind = EventSceneUnpublished
	case state.EventStateChanged:
		out.Kind = EventSceneStateChanged
	case state.EventFlushed:
		out.Kind = EventSceneFlushed
	case state.EventStepFailed:
		out.Kind = EventSceneStepFailed
	case state.EventIllegalTransition:
		out.Kind = EventIllegalTransition
	}
	return out
}
