package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/asset/cache"
	"github.com/achilleasa/scenerelay/device"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SubscriptionHandler forwards subscription requests to the side that owns
// a scene. Calls are made from the render goroutine and must not block on it.
type SubscriptionHandler interface {
	Subscribe(id types.SceneIdentity) error
	Unsubscribe(id types.SceneIdentity) error

	// RequestResync asks the owner for a flush carrying the complete scene
	// state.
	RequestResync(id types.SceneIdentity) error
}

type sceneEntry struct {
	identity types.SceneIdentity

	// Materialized state; nil while the scene is not subscribed.
	scene *scene.Scene

	// Resources acquired from the cache, resources queued for upload and
	// resources whose payload has not arrived yet.
	acquired  map[types.ResourceHash]struct{}
	uploading map[types.ResourceHash]struct{}
	waiting   map[types.ResourceHash]struct{}

	resyncRequested bool
}

func (e *sceneEntry) reset() {
	e.scene = nil
	e.acquired = make(map[types.ResourceHash]struct{})
	e.uploading = make(map[types.ResourceHash]struct{})
	e.waiting = make(map[types.ResourceHash]struct{})
	e.resyncRequested = false
}

type pendingUpload struct {
	scene types.SceneId
	res   *asset.Resource
}

// Renderer owns the device and applies commands received through its queue.
// Everything except Queue, Events, Stats and Close must be called from the
// render goroutine.
type Renderer struct {
	logger log.Logger

	opts      Options
	queue     *CommandQueue
	dev       device.Device
	resources asset.Provider
	subs      SubscriptionHandler

	cache     *cache.Cache
	links     *link.Manager
	tracker   *state.Tracker
	scheduler Scheduler
	uploads   Scheduler

	scenes      map[types.SceneId]*sceneEntry
	deferred    []Command
	uploadQueue []pendingUpload

	expirations *expirationMonitor
	now         func() time.Time

	// Counters owned by the render goroutine.
	counters FrameStats

	mu     sync.Mutex
	events []Event
	stats  FrameStats
	closed bool

	// Closed when a running render loop has returned.
	stopped chan struct{}
}

// Create a new renderer drawing to dev. Resource payloads are resolved
// through resources; subscription requests are forwarded to subs.
func New(dev device.Device, resources asset.Provider, subs SubscriptionHandler, opts Options) *Renderer {
	r := &Renderer{
		logger:    log.New("renderer"),
		opts:      opts,
		queue:     NewCommandQueue(),
		dev:       dev,
		resources: resources,
		subs:      subs,
		links:     link.NewManager(),
		scheduler: NewThroughputScheduler(),
		uploads:   NewThroughputScheduler(),
		scenes:    make(map[types.SceneId]*sceneEntry),

		expirations: newExpirationMonitor(),
		now:         time.Now,
	}
	r.cache = cache.New(dev, cache.Options{
		ErrorSink:  r.onResourceBroken,
		KeepUnused: opts.ResourceCacheSize,
	})
	r.tracker = state.NewTracker(controller{r})
	r.counters.FrameBudget = opts.FrameBudget
	r.counters.UploadBudget = opts.UploadBudget
	return r
}

// Queue returns the command queue feeding this renderer.
func (r *Renderer) Queue() *CommandQueue {
	return r.queue
}

// Run processes commands until ctx is cancelled or the renderer is closed.
// Pending commands are drained before returning on cancellation. When Close
// stops the loop, scenes are released on this goroutine and ErrClosed is
// returned.
func (r *Renderer) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.stopped != nil {
		r.mu.Unlock()
		return ErrRunning
	}
	stopped := make(chan struct{})
	r.stopped = stopped
	r.mu.Unlock()
	defer r.stop(stopped)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.queue.Interrupt()
		case <-done:
		}
	}()

	r.logger.Noticef("render loop started (budget %s)", r.counters.FrameBudget)
	for {
		err := r.DoOneLoop(r.opts.IdleTimeout)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrInterrupted) {
			return err
		}
		if ctx.Err() != nil {
			r.drain()
			r.logger.Noticef("render loop stopped")
			return ctx.Err()
		}
	}
}

func (r *Renderer) stop(stopped chan struct{}) {
	r.mu.Lock()
	closed := r.closed
	r.stopped = nil
	r.mu.Unlock()

	if closed {
		r.shutdown()
	}
	close(stopped)
}

func (r *Renderer) drain() {
	for r.queue.Len() != 0 || len(r.deferred) != 0 {
		if err := r.DoOneLoop(0); err != nil && !errors.Is(err, ErrInterrupted) {
			return
		}
	}
}

// DoOneLoop runs a single iteration of the render loop. It waits up to
// timeout for commands and applies them within the frame budget. Queued
// resources are then uploaded within the upload budget before linked values
// are propagated and every rendered scene is drawn.
func (r *Renderer) DoOneLoop(timeout time.Duration) error {
	if r.isClosed() {
		return ErrClosed
	}

	cmds := r.deferred
	r.deferred = nil
	if len(cmds) == 0 {
		incoming, err := r.queue.BlockingSwap(timeout)
		if err != nil {
			return err
		}
		cmds = incoming
	} else {
		cmds = append(cmds, r.queue.TrySwap()...)
	}

	start := time.Now()
	r.scheduler.Begin(r.counters.FrameBudget)
	for index, cmd := range cmds {
		if cmd.Kind == CmdApplyFlush && !r.scheduler.Admit(len(cmd.Flush.Mutations)) {
			r.deferred = append([]Command(nil), cmds[index:]...)
			for _, rest := range r.deferred {
				if rest.Kind == CmdApplyFlush {
					r.counters.FlushesDeferred++
				}
			}
			r.logger.Debugf("frame budget exhausted; deferring %d commands", len(r.deferred))
			break
		}
		r.handle(cmd)
	}

	r.processUploads()
	r.tracker.Update()
	r.completeMaps()
	r.propagate()
	r.draw()
	r.checkExpiration()

	r.counters.Loops++
	r.counters.LoopTime = time.Since(start)
	r.publish()
	return nil
}

// Events returns and clears the events collected so far.
func (r *Renderer) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Stats returns the statistics captured at the end of the last loop.
func (r *Renderer) Stats() FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	out.Scenes = append([]SceneStat(nil), r.stats.Scenes...)
	out.Links = append([]link.Link(nil), r.stats.Links...)
	return out
}

// SceneState returns the state of a scene as of the last loop.
func (r *Renderer) SceneState(id types.SceneId) state.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stats.Scenes {
		if s.Id == id {
			return s.State
		}
	}
	return state.Unavailable
}

// Scene returns the materialized state of a subscribed scene.
func (r *Renderer) Scene(id types.SceneId) (*scene.Scene, bool) {
	e, ok := r.scenes[id]
	if !ok || e.scene == nil {
		return nil, false
	}
	return e.scene, true
}

// Cache exposes the resource cache.
func (r *Renderer) Cache() *cache.Cache {
	return r.cache
}

// Close stops accepting commands and releases every scene. If Run is active
// the release happens on the render goroutine and Close waits for it;
// otherwise it happens on the calling goroutine.
func (r *Renderer) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stopped := r.stopped
	r.mu.Unlock()

	r.queue.Interrupt()
	if stopped != nil {
		<-stopped
		return
	}
	r.shutdown()
}

func (r *Renderer) shutdown() {
	for _, id := range r.sceneIds() {
		r.unpublish(id)
	}
	if purged := r.cache.Purge(); purged > 0 {
		r.logger.Infof("released %d unused resources", purged)
	}
	r.publish()
}

func (r *Renderer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Renderer) handle(cmd Command) {
	r.logger.Debugf("handling %s", cmd)
	switch cmd.Kind {
	case CmdPublish:
		r.publishScene(cmd.Scene, cmd.Owner)
	case CmdUnpublish:
		r.unpublish(cmd.Scene)
	case CmdSetSceneState:
		r.tracker.RequestState(cmd.Scene, cmd.State)
	case CmdApplyFlush:
		r.applyFlush(cmd.Flush)
	case CmdLinkData:
		r.linkData(cmd.Provider, cmd.Consumer)
	case CmdUnlinkData:
		r.unlinkData(cmd.Consumer)
	case CmdSetRenderOrder:
		r.tracker.SetRenderOrder(cmd.Scene, cmd.Order)
	case CmdSetFlushNotifications:
		r.tracker.SetFlushNotifications(cmd.Scene, cmd.Enabled)
	case CmdSetMaster:
		if err := r.tracker.SetMaster(cmd.Scene, cmd.Master); err != nil {
			r.commandFailed(cmd, err)
		}
	case CmdClearMaster:
		r.tracker.ClearMaster(cmd.Scene)
	case CmdSetFrameBudget:
		r.logger.Infof("frame budget set to %s", cmd.Budget)
		r.counters.FrameBudget = cmd.Budget
	case CmdResourceAvailable:
		r.resourceAvailable(cmd.Resource)
	case CmdConnectionLost:
		r.connectionLost(cmd.Owner)
	default:
		r.commandFailed(cmd, fmt.Errorf("renderer: unknown command %s", cmd.Kind))
	}
}

func (r *Renderer) commandFailed(cmd Command, err error) {
	r.logger.Warningf("%s failed: %v", cmd, err)
	r.emit(Event{Kind: EventCommandFailed, Scene: cmd.Scene, Err: err})
}

func (r *Renderer) publishScene(id types.SceneId, owner types.Guid) {
	if e, ok := r.scenes[id]; ok {
		if e.identity.Owner != owner {
			r.logger.Warningf("%s already published by %s; ignoring publish by %s", id, e.identity.Owner, owner)
		}
		return
	}
	e := &sceneEntry{identity: types.SceneIdentity{Id: id, Owner: owner}}
	e.reset()
	r.scenes[id] = e
	r.tracker.Publish(id)
}

func (r *Renderer) unpublish(id types.SceneId) {
	e, ok := r.scenes[id]
	if !ok {
		return
	}
	r.tracker.Unpublish(id)
	r.teardown(e)
	delete(r.scenes, id)
}

func (r *Renderer) connectionLost(owner types.Guid) {
	lost := 0
	for _, id := range r.sceneIds() {
		if r.scenes[id].identity.Owner == owner {
			r.unpublish(id)
			lost++
		}
	}
	r.logger.Warningf("connection to %s lost; %d scenes unpublished", owner, lost)
}

// Release everything a subscribed scene holds and drop its queued flushes.
func (r *Renderer) teardown(e *sceneEntry) {
	id := e.identity.Id
	for _, l := range r.links.RemoveScene(id) {
		r.unlinked(l)
	}
	released := r.cache.ReleaseOwner(id)
	discarded := r.queue.DiscardScene(id)

	kept := r.deferred[:0]
	for _, cmd := range r.deferred {
		if cmd.Kind == CmdApplyFlush && cmd.Scene == id {
			discarded++
			continue
		}
		kept = append(kept, cmd)
	}
	r.deferred = kept

	uploads := r.uploadQueue[:0]
	for _, up := range r.uploadQueue {
		if up.scene != id {
			uploads = append(uploads, up)
		}
	}
	r.uploadQueue = uploads

	if r.expirations.stop(id) {
		metrics.ScenesExpired.Dec()
	}
	e.reset()
	r.logger.Infof("%s torn down (%d resource refs released, %d queued flushes discarded)", id, released, discarded)
}

func (r *Renderer) applyFlush(f scene.Flush) {
	e, ok := r.scenes[f.Scene]
	if !ok || e.scene == nil {
		metrics.FlushesApplied.WithLabelValues("discarded").Inc()
		r.logger.Debugf("discarding %s: scene not subscribed", &f)
		return
	}
	if !f.Resync && f.Version <= e.scene.Version() {
		metrics.FlushesApplied.WithLabelValues("stale").Inc()
		r.logger.Debugf("discarding stale %s at v%d", &f, e.scene.Version())
		return
	}

	_, span := otel.Tracer("renderer").Start(context.Background(), "renderer.ApplyFlush",
		trace.WithAttributes(
			attribute.Int64("scene", int64(f.Scene)),
			attribute.Int64("version", int64(f.Version)),
			attribute.Int("mutations", len(f.Mutations)),
			attribute.Bool("resync", f.Resync),
		),
	)
	defer span.End()

	start := time.Now()
	timer := prometheus.NewTimer(metrics.FlushApplyDuration)
	changes, err := e.scene.ApplyFlush(f)
	timer.ObserveDuration()
	r.scheduler.Record(len(f.Mutations), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.counters.FlushesRejected++
		if errors.Is(err, scene.ErrVersionGap) {
			metrics.FlushesApplied.WithLabelValues("gap").Inc()
		} else {
			metrics.FlushesApplied.WithLabelValues("rejected").Inc()
			r.emit(Event{Kind: EventFlushRejected, Scene: f.Scene, Err: err})
		}
		r.logger.Warningf("discarding %s: %v", &f, err)
		r.requestResync(e)
		return
	}

	metrics.FlushesApplied.WithLabelValues("applied").Inc()
	r.counters.FlushesApplied++
	if f.Resync {
		e.resyncRequested = false
	}
	expiresAt, _ := f.Expiration()
	r.expirations.flushApplied(f.Scene, expiresAt)
	r.applyChanges(e, changes)
	r.tracker.NotifyFlushed(f.Scene, f.Tag)

	if ref, _ := r.tracker.Reference(f.Scene); ref.Pending == state.StepSubscribe {
		if err := r.tracker.Transition(f.Scene, state.Available); err != nil {
			r.logger.Warningf("%v", err)
		}
	}
}

func (r *Renderer) requestResync(e *sceneEntry) {
	if e.resyncRequested {
		return
	}
	e.resyncRequested = true
	r.counters.ResyncRequests++
	r.emit(Event{Kind: EventResyncRequested, Scene: e.identity.Id})
	if r.subs == nil {
		return
	}
	if err := r.subs.RequestResync(e.identity); err != nil {
		r.resyncFailed(e, err)
	}
}

// Without a resync the local state can not catch up, so the subscription is
// dropped. Scenes still waiting for their first flush fail the subscribe
// step; the others fall back to Unavailable and subscribe again.
func (r *Renderer) resyncFailed(e *sceneEntry, err error) {
	id := e.identity.Id
	r.logger.Warningf("resync request for %s failed: %v", id, err)
	if err := r.subs.Unsubscribe(e.identity); err != nil {
		r.logger.Warningf("unsubscribing from %s: %v", id, err)
	}
	r.teardown(e)

	if ref, _ := r.tracker.Reference(id); ref.Pending == state.StepSubscribe {
		r.tracker.Fail(id, fmt.Errorf("%w: %v", ErrResyncFailed, err))
		return
	}
	if err := r.tracker.Transition(id, state.Unavailable); err != nil {
		r.logger.Warningf("%v", err)
	}
}

func (r *Renderer) applyChanges(e *sceneEntry, changes scene.Changes) {
	id := e.identity.Id
	for _, hash := range changes.RemovedResources {
		delete(e.waiting, hash)
		delete(e.uploading, hash)
		if _, ok := e.acquired[hash]; ok {
			delete(e.acquired, hash)
			if err := r.cache.Release(id, hash); err != nil {
				r.logger.Warningf("%v", err)
			}
		}
	}
	for _, hash := range changes.AddedResources {
		r.acquire(e, hash)
	}

	for _, slot := range changes.RemovedSlots {
		for _, l := range r.links.RemoveSlot(link.SlotRef{Scene: id, Slot: slot}) {
			r.unlinked(l)
		}
	}
	for _, ds := range changes.AddedSlots {
		if err := r.links.AddSlot(link.SlotRef{Scene: id, Slot: ds.Id}, ds.Kind, ds.Type); err != nil {
			r.logger.Warningf("%v", err)
		}
	}
}

// Resources with a known payload are queued for upload; the rest wait for
// a ResourceAvailable command.
func (r *Renderer) acquire(e *sceneEntry, hash types.ResourceHash) {
	res, ok := r.resources.Resolve(hash)
	if !ok {
		e.waiting[hash] = struct{}{}
		return
	}
	delete(e.waiting, hash)
	if _, queued := e.uploading[hash]; queued {
		return
	}
	e.uploading[hash] = struct{}{}
	r.uploadQueue = append(r.uploadQueue, pendingUpload{scene: e.identity.Id, res: res})
}

// Acquire queued resources in order within the upload budget. Resources
// that are already resident or broken do not touch the device and are
// never postponed.
func (r *Renderer) processUploads() {
	queue := r.uploadQueue
	r.uploadQueue = nil
	r.uploads.Begin(r.counters.UploadBudget)

	for index, up := range queue {
		e, ok := r.scenes[up.scene]
		if !ok {
			continue
		}
		if _, queued := e.uploading[up.res.Hash]; !queued {
			continue
		}

		status := r.cache.Status(up.res.Hash)
		free := status == cache.StatusResident || status == cache.StatusBroken
		if !free && !r.uploads.Admit(int(up.res.Size)) {
			r.uploadQueue = append(r.uploadQueue, queue[index:]...)
			r.counters.UploadsDeferred += uint64(len(queue) - index)
			metrics.UploadsDeferred.Add(float64(len(queue) - index))
			r.logger.Debugf("upload budget exhausted; deferring %d uploads", len(queue)-index)
			return
		}

		delete(e.uploading, up.res.Hash)
		e.acquired[up.res.Hash] = struct{}{}
		start := time.Now()
		if _, err := r.cache.Acquire(up.scene, up.res); err != nil {
			r.logger.Warningf("%s: %v", up.scene, err)
		}
		if !free {
			r.uploads.Record(int(up.res.Size), time.Since(start))
		}
	}
}

func (r *Renderer) resourceAvailable(hash types.ResourceHash) {
	for _, id := range r.sceneIds() {
		e := r.scenes[id]
		if _, waiting := e.waiting[hash]; waiting {
			r.acquire(e, hash)
		}
	}
}

func (r *Renderer) onResourceBroken(hash types.ResourceHash, err error) {
	r.emit(Event{Kind: EventResourceBroken, Resource: hash, Err: err})
}

// Confirm map steps whose resources became available.
func (r *Renderer) completeMaps() {
	for _, id := range r.sceneIds() {
		ref, _ := r.tracker.Reference(id)
		if ref.Pending != state.StepMap || !r.resourcesReady(r.scenes[id]) {
			continue
		}
		if err := r.tracker.Transition(id, state.Ready); err != nil {
			r.logger.Warningf("%v", err)
		}
	}
}

// Broken resources count as ready; they are drawn as absent.
func (r *Renderer) resourcesReady(e *sceneEntry) bool {
	return e.scene != nil && len(e.waiting) == 0 && len(e.uploading) == 0
}

func (r *Renderer) linkData(provider, consumer link.SlotRef) {
	if err := r.links.CreateDataLink(provider, consumer); err != nil {
		r.emit(Event{Kind: EventLinkFailed, Scene: consumer.Scene, Provider: provider, Consumer: consumer, Err: err})
		return
	}
	r.emit(Event{Kind: EventLinked, Scene: consumer.Scene, Provider: provider, Consumer: consumer})
}

func (r *Renderer) unlinkData(consumer link.SlotRef) {
	provider, err := r.links.RemoveDataLink(consumer)
	if err != nil {
		r.commandFailed(UnlinkData(consumer), err)
		return
	}
	r.unlinked(link.Link{Provider: provider, Consumer: consumer})
}

// Consumers fall back to their own value once unlinked.
func (r *Renderer) unlinked(l link.Link) {
	if e, ok := r.scenes[l.Consumer.Scene]; ok && e.scene != nil {
		e.scene.ClearLinkedValue(l.Consumer.Slot)
	}
	r.emit(Event{Kind: EventUnlinked, Scene: l.Consumer.Scene, Provider: l.Provider, Consumer: l.Consumer})
}

func (r *Renderer) propagate() {
	read := func(ref link.SlotRef) (scene.Value, bool) {
		e, ok := r.scenes[ref.Scene]
		if !ok || e.scene == nil {
			return scene.Value{}, false
		}
		ds, ok := e.scene.Slot(ref.Slot)
		if !ok {
			return scene.Value{}, false
		}
		return ds.Current(), true
	}
	write := func(ref link.SlotRef, v scene.Value) {
		if e, ok := r.scenes[ref.Scene]; ok && e.scene != nil {
			if err := e.scene.SetLinkedValue(ref.Slot, v); err != nil {
				r.logger.Debugf("propagating to %s: %v", ref, err)
			}
		}
	}
	ready := func(id types.SceneId) bool {
		return r.tracker.State(id) >= state.Ready
	}
	r.links.Propagate(read, write, ready)
}

// Draw the resources of every rendered scene ordered by render order.
func (r *Renderer) draw() {
	var rendered []types.SceneId
	for _, id := range r.sceneIds() {
		if r.tracker.State(id) == state.Rendered && r.scenes[id].scene != nil {
			rendered = append(rendered, id)
			r.expirations.rendered(id)
		} else {
			r.expirations.hidden(id)
		}
	}
	slices.SortStableFunc(rendered, func(a, b types.SceneId) int {
		return r.tracker.RenderOrder(a) - r.tracker.RenderOrder(b)
	})

	for _, id := range rendered {
		order := r.tracker.RenderOrder(id)
		for _, hash := range r.scenes[id].scene.Resources() {
			handle, ok := r.cache.Handle(hash)
			if !ok {
				continue
			}
			if err := r.dev.Draw(handle, order); err != nil {
				r.logger.Warningf("drawing %s of %s: %v", hash.Short(), id, err)
				continue
			}
			r.counters.Draws++
		}
	}
}

// Report scenes whose applied, drawn or deferred content is past its
// expiration, and scenes that caught up again.
func (r *Renderer) checkExpiration() {
	pending := make(map[types.SceneId][]time.Time)
	for _, cmd := range r.deferred {
		if cmd.Kind != CmdApplyFlush {
			continue
		}
		if ts, ok := cmd.Flush.Expiration(); ok {
			pending[cmd.Scene] = append(pending[cmd.Scene], ts)
		}
	}

	expired, recovered := r.expirations.check(r.now(), pending)
	for _, id := range expired {
		metrics.ScenesExpired.Inc()
		r.logger.Warningf("%s expired; content is older than its expiration", id)
		r.emit(Event{Kind: EventSceneExpired, Scene: id})
	}
	for _, id := range recovered {
		metrics.ScenesExpired.Dec()
		r.logger.Infof("%s recovered from expiration", id)
		r.emit(Event{Kind: EventSceneRecovered, Scene: id})
	}
}

func (r *Renderer) sceneIds() []types.SceneId {
	ids := maps.Keys(r.scenes)
	slices.Sort(ids)
	return ids
}

// Publish tracker events and a stats snapshot for other goroutines.
func (r *Renderer) publish() {
	trackerEvents := r.tracker.Events()

	snapshot := r.counters
	snapshot.PendingUploads = len(r.uploadQueue)
	snapshot.Links = r.links.Links()
	snapshot.Cache = r.cache.Stats()
	for _, id := range r.tracker.Scenes() {
		ref, _ := r.tracker.Reference(id)
		if !ref.Published {
			continue
		}
		stat := SceneStat{
			Id:          id,
			State:       ref.Current,
			Target:      r.tracker.Target(id),
			RenderOrder: r.tracker.RenderOrder(id),
		}
		if e, ok := r.scenes[id]; ok {
			stat.Owner = e.identity.Owner
			stat.PendingResources = len(e.waiting) + len(e.uploading)
			stat.Expiration, stat.Expired = r.expirations.status(id)
			if e.scene != nil {
				stat.Version = e.scene.Version()
				stat.Tag = e.scene.Tag()
				stat.Nodes = e.scene.NodeCount()
				stat.Slots = e.scene.SlotCount()
				stat.Resources = len(e.scene.Resources())
			}
		}
		snapshot.Scenes = append(snapshot.Scenes, stat)
	}

	r.mu.Lock()
	for _, ev := range trackerEvents {
		r.events = append(r.events, fromTrackerEvent(ev))
	}
	r.stats = snapshot
	r.mu.Unlock()
}

func (r *Renderer) emit(ev Event) {
	// Keep tracker events that happened before this one in order.
	trackerEvents := r.tracker.Events()

	r.mu.Lock()
	for _, tev := range trackerEvents {
		r.events = append(r.events, fromTrackerEvent(tev))
	}
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// controller executes tracker steps against the renderer.
type controller struct {
	r *Renderer
}

func (c controller) Execute(id types.SceneId, step state.Step) state.Result {
	r := c.r
	e, ok := r.scenes[id]
	if !ok {
		return state.Failed
	}

	switch step {
	case state.StepSubscribe:
		if r.subs == nil {
			r.logger.Warningf("cannot subscribe to %s: %v", id, ErrNoSubscription)
			return state.Failed
		}
		e.reset()
		e.scene = scene.New(id)
		if err := r.subs.Subscribe(e.identity); err != nil {
			r.logger.Warningf("subscribing to %s: %v", id, err)
			e.reset()
			return state.Failed
		}
		return state.Pending
	case state.StepMap:
		if r.resourcesReady(e) {
			return state.Done
		}
		return state.Pending
	case state.StepUnsubscribe:
		if r.subs != nil {
			if err := r.subs.Unsubscribe(e.identity); err != nil {
				r.logger.Warningf("unsubscribing from %s: %v", id, err)
			}
		}
		r.teardown(e)
		return state.Done
	}
	return state.Done
}
