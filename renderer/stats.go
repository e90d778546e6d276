package renderer

import (
	"time"

	"github.com/achilleasa/scenerelay/asset/cache"
	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/types"
)

type SceneStat struct {
	Id    types.SceneId
	Owner types.Guid

	State  state.State
	Target state.State

	// Effective render order.
	RenderOrder int

	// Last applied version and tag.
	Version uint64
	Tag     types.VersionTag

	Nodes int
	Slots int

	// Referenced resources and the ones still waiting for their payload
	// or for an upload slot.
	Resources        int
	PendingResources int

	// Expiration of the content last drawn; zero if not monitored.
	Expiration time.Time
	Expired    bool
}

type FrameStats struct {
	// Individual scene stats sorted by scene id.
	Scenes []SceneStat

	Loops           uint64
	FlushesApplied  uint64
	FlushesRejected uint64
	FlushesDeferred uint64
	ResyncRequests  uint64
	Draws           uint64

	// Uploads postponed to a later iteration by the upload budget and the
	// number still queued.
	UploadsDeferred uint64
	PendingUploads  int

	// Active data links sorted by consumer.
	Links []link.Link

	// Time spent applying flushes and drawing in the last loop iteration.
	LoopTime time.Duration

	// Current flush application and resource upload budgets.
	FrameBudget  time.Duration
	UploadBudget time.Duration

	Cache cache.Stats
}
