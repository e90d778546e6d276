package renderer

import (
	"fmt"
	"time"

	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
)

// CommandKind identifies the payload carried by a Command.
type CommandKind uint8

const (
	CmdPublish CommandKind = iota + 1
	CmdUnpublish
	CmdSetSceneState
	CmdApplyFlush
	CmdLinkData
	CmdUnlinkData
	CmdSetRenderOrder
	CmdSetFlushNotifications
	CmdSetMaster
	CmdClearMaster
	CmdSetFrameBudget
	CmdResourceAvailable
	CmdConnectionLost
)

func (k CommandKind) String() string {
	switch k {
	case CmdPublish:
		return "publish"
	case CmdUnpublish:
		return "unpublish"
	case CmdSetSceneState:
		return "set-scene-state"
	case CmdApplyFlush:
		return "apply-flush"
	case CmdLinkData:
		return "link-data"
	case CmdUnlinkData:
		return "unlink-data"
	case CmdSetRenderOrder:
		return "set-render-order"
	case CmdSetFlushNotifications:
		return "set-flush-notifications"
	case CmdSetMaster:
		return "set-master"
	case CmdClearMaster:
		return "clear-master"
	case CmdSetFrameBudget:
		return "set-frame-budget"
	case CmdResourceAvailable:
		return "resource-available"
	case CmdConnectionLost:
		return "connection-lost"
	}
	return fmt.Sprintf("command(%d)", uint8(k))
}

// Command is a tagged variant; only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	Scene types.SceneId
	Owner types.Guid

	State   state.State
	Order   int
	Enabled bool
	Master  types.SceneId
	Budget  time.Duration

	Flush scene.Flush

	Provider link.SlotRef
	Consumer link.SlotRef

	Resource types.ResourceHash
}

func (c Command) String() string {
	switch c.Kind {
	case CmdApplyFlush:
		return fmt.Sprintf("%s(%s)", c.Kind, &c.Flush)
	case CmdLinkData:
		return fmt.Sprintf("%s(%s -> %s)", c.Kind, c.Provider, c.Consumer)
	case CmdUnlinkData:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Consumer)
	case CmdSetFrameBudget:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Budget)
	case CmdResourceAvailable:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Resource.Short())
	case CmdConnectionLost:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Owner)
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Scene)
}

// Publish announces a scene owned by owner.
func Publish(id types.SceneId, owner types.Guid) Command {
	return Command{Kind: CmdPublish, Scene: id, Owner: owner}
}

// Unpublish withdraws a scene. Unpublishing an unknown scene is a no-op.
func Unpublish(id types.SceneId) Command {
	return Command{Kind: CmdUnpublish, Scene: id}
}

// SetSceneState requests a target state for a scene.
func SetSceneState(id types.SceneId, target state.State) Command {
	return Command{Kind: CmdSetSceneState, Scene: id, State: target}
}

// ApplyFlush delivers a reassembled flush.
func ApplyFlush(f scene.Flush) Command {
	return Command{Kind: CmdApplyFlush, Scene: f.Scene, Flush: f}
}

func LinkData(provider, consumer link.SlotRef) Command {
	return Command{Kind: CmdLinkData, Scene: consumer.Scene, Provider: provider, Consumer: consumer}
}

func UnlinkData(consumer link.SlotRef) Command {
	return Command{Kind: CmdUnlinkData, Scene: consumer.Scene, Consumer: consumer}
}

func SetRenderOrder(id types.SceneId, order int) Command {
	return Command{Kind: CmdSetRenderOrder, Scene: id, Order: order}
}

func SetFlushNotifications(id types.SceneId, enabled bool) Command {
	return Command{Kind: CmdSetFlushNotifications, Scene: id, Enabled: enabled}
}

// SetMaster makes id a referenced scene of master.
func SetMaster(id, master types.SceneId) Command {
	return Command{Kind: CmdSetMaster, Scene: id, Master: master}
}

func ClearMaster(id types.SceneId) Command {
	return Command{Kind: CmdClearMaster, Scene: id}
}

// SetFrameBudget limits the time spent applying flushes per loop iteration.
func SetFrameBudget(budget time.Duration) Command {
	return Command{Kind: CmdSetFrameBudget, Budget: budget}
}

// ResourceAvailable signals that a resource payload arrived in the pool.
func ResourceAvailable(hash types.ResourceHash) Command {
	return Command{Kind: CmdResourceAvailable, Resource: hash}
}

// ConnectionLost reports a permanent disconnect of a producing peer.
func ConnectionLost(owner types.Guid) Command {
	return Command{Kind: CmdConnectionLost, Owner: owner}
}
