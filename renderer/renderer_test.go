package renderer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/device"
	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
)

type fakeSubscriptions struct {
	subscribed   []types.SceneIdentity
	unsubscribed []types.SceneIdentity
	resyncs      []types.SceneIdentity
	err          error
	resyncErr    error
}

func (s *fakeSubscriptions) Subscribe(id types.SceneIdentity) error {
	s.subscribed = append(s.subscribed, id)
	return s.err
}

func (s *fakeSubscriptions) Unsubscribe(id types.SceneIdentity) error {
	s.unsubscribed = append(s.unsubscribed, id)
	return nil
}

func (s *fakeSubscriptions) RequestResync(id types.SceneIdentity) error {
	s.resyncs = append(s.resyncs, id)
	return s.resyncErr
}

// Admits a single item per loop iteration.
type oneItemScheduler struct {
	admitted bool
}

func (s *oneItemScheduler) Begin(time.Duration) { s.admitted = false }
func (s *oneItemScheduler) Record(int, time.Duration) {}
func (s *oneItemScheduler) Admit(int) bool {
	if s.admitted {
		return false
	}
	s.admitted = true
	return true
}

type fixture struct {
	r    *Renderer
	dev  *device.MemoryDevice
	pool *asset.Pool
	subs *fakeSubscriptions
}

func newFixture() *fixture {
	f := &fixture{
		dev:  device.NewMemoryDevice(),
		pool: asset.NewPool(),
		subs: &fakeSubscriptions{},
	}
	f.r = New(f.dev, f.pool, f.subs, Options{IdleTimeout: time.Millisecond})
	return f
}

func (f *fixture) loop(t *testing.T, cmds ...Command) {
	for _, cmd := range cmds {
		f.r.Queue().Enqueue(cmd)
	}
	if err := f.r.DoOneLoop(time.Millisecond); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) state(t *testing.T, id types.SceneId, exp state.State) {
	if got := f.r.SceneState(id); got != exp {
		t.Fatalf("expected %s to be %s; got %s", id, exp, got)
	}
}

func texture(seed byte) *asset.Resource {
	return asset.NewResource(asset.KindTexture, "tex", bytes.Repeat([]byte{seed}, 256))
}

func flushOf(t *testing.T, log *scene.MutationLog, since uint64) scene.Flush {
	f, err := log.BuildFlush(since)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func hasEvent(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestSubscribeApplyAndRender(t *testing.T) {
	f := newFixture()
	owner := types.NewGuid()
	tex := texture(1)
	f.pool.Put(tex)

	log := scene.NewMutationLog(1)
	log.Append(scene.AllocateNode(1))
	log.Append(scene.SetResource(1, tex.Hash))
	log.Seal(7)

	f.loop(t, Publish(1, owner), SetSceneState(1, state.Rendered))
	if len(f.subs.subscribed) != 1 || f.subs.subscribed[0].Owner != owner {
		t.Fatalf("expected a subscription request to %s; got %v", owner, f.subs.subscribed)
	}
	f.state(t, 1, state.Unavailable)

	f.loop(t, ApplyFlush(flushOf(t, log, 0)))
	f.state(t, 1, state.Rendered)

	if !f.dev.IsResident(tex.Hash) {
		t.Fatal("expected texture to be uploaded")
	}
	if f.dev.Stats().Draws == 0 {
		t.Fatal("expected rendered scene to be drawn")
	}
	sc, ok := f.r.Scene(1)
	if !ok || sc.Version() != 1 || sc.Tag() != 7 {
		t.Fatalf("expected scene at v1 with tag 7")
	}

	stats := f.r.Stats()
	if len(stats.Scenes) != 1 || stats.Scenes[0].Resources != 1 || stats.FlushesApplied != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMapWaitsForResources(t *testing.T) {
	f := newFixture()
	tex := texture(2)

	log := scene.NewMutationLog(1)
	log.Append(scene.AllocateNode(1))
	log.Append(scene.SetResource(1, tex.Hash))
	log.Seal(0)

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, ApplyFlush(flushOf(t, log, 0)))
	f.state(t, 1, state.Available)
	if stats := f.r.Stats(); stats.Scenes[0].PendingResources != 1 {
		t.Fatalf("expected one pending resource; got %d", stats.Scenes[0].PendingResources)
	}

	f.pool.Put(tex)
	f.loop(t, ResourceAvailable(tex.Hash))
	f.state(t, 1, state.Rendered)
}

func TestBrokenResourceDoesNotBlockScene(t *testing.T) {
	f := newFixture()
	bad := texture(3)
	f.pool.Put(bad)
	f.dev.FailUploads(bad.Hash, errors.New("out of memory"))

	log := scene.NewMutationLog(1)
	log.Append(scene.AllocateNode(1))
	log.Append(scene.SetResource(1, bad.Hash))
	log.Seal(0)

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, ApplyFlush(flushOf(t, log, 0)))
	f.state(t, 1, state.Rendered)

	if !hasEvent(f.r.Events(), EventResourceBroken) {
		t.Fatal("expected a resource broken event")
	}
	if f.dev.Stats().Draws != 0 {
		t.Fatal("expected broken resource to be skipped when drawing")
	}
}

func TestVersionGapRequestsResync(t *testing.T) {
	f := newFixture()
	log := scene.NewMutationLog(1)
	log.Append(scene.AllocateNode(1))
	log.Seal(0)

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Ready))
	f.loop(t, ApplyFlush(flushOf(t, log, 0)))
	f.state(t, 1, state.Ready)

	log.Append(scene.AllocateNode(2))
	log.Seal(0)
	log.Append(scene.AllocateNode(3))
	log.Seal(0)

	// v1 -> v2 is lost; v2 -> v3 and a duplicate are received.
	f.loop(t, ApplyFlush(flushOf(t, log, 2)), ApplyFlush(flushOf(t, log, 2)))
	if len(f.subs.resyncs) != 1 {
		t.Fatalf("expected a single resync request; got %d", len(f.subs.resyncs))
	}
	sc, _ := f.r.Scene(1)
	if sc.Version() != 1 || sc.HasNode(3) {
		t.Fatal("expected gapped flushes to be discarded")
	}
	if !hasEvent(f.r.Events(), EventResyncRequested) {
		t.Fatal("expected a resync requested event")
	}

	ref := scene.New(1)
	if _, err := ref.ApplyFlush(flushOf(t, log, 0)); err != nil {
		t.Fatal(err)
	}
	f.loop(t, ApplyFlush(ref.SnapshotFlush()))
	sc, _ = f.r.Scene(1)
	if sc.Version() != 3 || sc.NodeCount() != 3 {
		t.Fatalf("expected resync to bring the scene to v3; got v%d with %d nodes", sc.Version(), sc.NodeCount())
	}

	// Stale flushes after a resync are ignored.
	f.loop(t, ApplyFlush(flushOf(t, log, 1)))
	if len(f.subs.resyncs) != 1 {
		t.Fatal("expected stale flush to be ignored")
	}
}

func TestUnsubscribeReleasesResources(t *testing.T) {
	f := newFixture()
	tex := texture(4)
	f.pool.Put(tex)

	log := scene.NewMutationLog(1)
	log.Append(scene.AllocateNode(1))
	log.Append(scene.SetResource(1, tex.Hash))
	log.Seal(0)

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, ApplyFlush(flushOf(t, log, 0)))
	f.state(t, 1, state.Rendered)

	log.Append(scene.SetProperty(1, "visible", scene.FloatValue(1)))
	log.Seal(0)
	f.loop(t, SetSceneState(1, state.Unavailable), ApplyFlush(flushOf(t, log, 1)))
	f.state(t, 1, state.Unavailable)

	if len(f.subs.unsubscribed) != 1 {
		t.Fatal("expected an unsubscribe request")
	}
	if f.dev.IsResident(tex.Hash) {
		t.Fatal("expected texture to be released")
	}
	if _, ok := f.r.Scene(1); ok {
		t.Fatal("expected scene state to be dropped")
	}
}

func TestConnectionLost(t *testing.T) {
	f := newFixture()
	lost, kept := types.NewGuid(), types.NewGuid()

	f.loop(t, Publish(1, lost), Publish(2, lost), Publish(3, kept))
	f.loop(t, ConnectionLost(lost))

	stats := f.r.Stats()
	if len(stats.Scenes) != 1 || stats.Scenes[0].Id != 3 {
		t.Fatalf("expected only scene 3 to remain; got %+v", stats.Scenes)
	}

	// Unpublish is idempotent.
	f.loop(t, Unpublish(1), Unpublish(1))
	if hasEvent(f.r.Events(), EventCommandFailed) {
		t.Fatal("expected repeated unpublish to be a no-op")
	}
}

func TestLinkPropagation(t *testing.T) {
	f := newFixture()
	value := scene.Vec4Value(types.XYZW(1, 2, 3, 4))

	providerLog := scene.NewMutationLog(1)
	providerLog.Append(scene.AllocateDataSlot(10, scene.SlotProvider, scene.SlotDataVec4))
	providerLog.Append(scene.SetDataSlotValue(10, value))
	providerLog.Seal(0)

	consumerLog := scene.NewMutationLog(2)
	consumerLog.Append(scene.AllocateDataSlot(20, scene.SlotConsumer, scene.SlotDataVec4))
	consumerLog.Seal(0)

	owner := types.NewGuid()
	f.loop(t, Publish(1, owner), Publish(2, owner), SetSceneState(1, state.Ready), SetSceneState(2, state.Ready))
	f.loop(t, ApplyFlush(flushOf(t, providerLog, 0)), ApplyFlush(flushOf(t, consumerLog, 0)))

	provider := link.SlotRef{Scene: 1, Slot: 10}
	consumer := link.SlotRef{Scene: 2, Slot: 20}
	f.loop(t, LinkData(provider, consumer))
	if !hasEvent(f.r.Events(), EventLinked) {
		t.Fatal("expected a linked event")
	}

	sc, _ := f.r.Scene(2)
	if got, _ := sc.SlotValue(20); got != value.Normalized() {
		t.Fatalf("expected consumer to receive %s; got %s", value, got)
	}

	// Reversed endpoints are rejected.
	f.loop(t, LinkData(link.SlotRef{Scene: 2, Slot: 20}, link.SlotRef{Scene: 1, Slot: 10}))
	var failed *Event
	for _, ev := range f.r.Events() {
		if ev.Kind == EventLinkFailed {
			ev := ev
			failed = &ev
		}
	}
	if failed == nil || failed.Err == nil {
		t.Fatal("expected a link failed event")
	}

	f.loop(t, UnlinkData(consumer))
	if got, _ := sc.SlotValue(20); got.Vec != (types.Vec4{}) {
		t.Fatalf("expected consumer to fall back to its own value; got %s", got)
	}
	if len(f.r.Stats().Links) != 0 {
		t.Fatal("expected no active links")
	}
}

func TestFrameBudgetDefersFlushes(t *testing.T) {
	f := newFixture()
	f.r.scheduler = &oneItemScheduler{}

	log := scene.NewMutationLog(1)
	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Available))

	var cmds []Command
	for v := uint64(0); v < 3; v++ {
		log.Append(scene.AllocateNode(types.NodeHandle(v + 1)))
		log.Seal(types.VersionTag(v + 1))
		cmds = append(cmds, ApplyFlush(flushOf(t, log, v)))
	}
	cmds = append(cmds, SetFlushNotifications(1, true))

	for iteration, expVersion := range []uint64{1, 2, 3} {
		if iteration == 0 {
			f.loop(t, cmds...)
		} else {
			f.loop(t)
		}
		sc, _ := f.r.Scene(1)
		if sc.Version() != expVersion {
			t.Fatalf("[iteration %d] expected v%d; got v%d", iteration, expVersion, sc.Version())
		}
	}

	if deferred := f.r.Stats().FlushesDeferred; deferred != 3 {
		t.Fatalf("expected 3 deferrals; got %d", deferred)
	}

	// Notifications were enabled after the last flush so only its tag is reported.
	var tags []types.VersionTag
	for _, ev := range f.r.Events() {
		if ev.Kind == EventSceneFlushed {
			tags = append(tags, ev.Tag)
		}
	}
	if len(tags) != 1 || tags[0] != 3 {
		t.Fatalf("expected a single flushed event for tag 3; got %v", tags)
	}
}

func TestMasterScenes(t *testing.T) {
	f := newFixture()
	owner := types.NewGuid()
	f.loop(t, Publish(1, owner), Publish(2, owner),
		SetMaster(2, 1), SetSceneState(1, state.Available), SetSceneState(2, state.Rendered))

	if len(f.subs.subscribed) != 2 {
		t.Fatalf("expected both scenes to be subscribed; got %d", len(f.subs.subscribed))
	}
	for _, id := range []types.SceneId{1, 2} {
		f.loop(t, ApplyFlush(scene.Flush{Scene: id, Since: 0, Version: 1}))
	}
	f.state(t, 2, state.Available)

	f.loop(t, SetSceneState(1, state.Rendered))
	f.state(t, 2, state.Rendered)

	f.loop(t, SetMaster(1, 2))
	if !hasEvent(f.r.Events(), EventCommandFailed) {
		t.Fatal("expected master cycle to be rejected")
	}

	f.loop(t, Unpublish(1))
	f.state(t, 2, state.Unavailable)
}

func TestRunDrainsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- f.r.Run(ctx) }()

	for id := types.SceneId(1); id <= 100; id++ {
		f.r.Queue().Enqueue(Publish(id, types.NewGuid()))
	}
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled; got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("render loop did not stop")
	}

	if f.r.Queue().Len() != 0 {
		t.Fatalf("expected queue to be drained; %d commands left", f.r.Queue().Len())
	}
	if scenes := len(f.r.Stats().Scenes); scenes != 100 {
		t.Fatalf("expected 100 published scenes; got %d", scenes)
	}

	f.r.Close()
	if err := f.r.DoOneLoop(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed; got %v", err)
	}
}

func TestCloseWhileRunning(t *testing.T) {
	f := newFixture()
	f.r = New(f.dev, f.pool, f.subs, Options{IdleTimeout: time.Millisecond, ResourceCacheSize: 1 << 20})

	var flushes []Command
	for id := types.SceneId(1); id <= 20; id++ {
		tex := texture(byte(id))
		f.pool.Put(tex)

		log := scene.NewMutationLog(id)
		log.Append(scene.AllocateNode(1))
		log.Append(scene.SetResource(1, tex.Hash))
		log.Seal(0)
		flushes = append(flushes, ApplyFlush(flushOf(t, log, 0)))
	}

	result := make(chan error, 1)
	go func() { result <- f.r.Run(context.Background()) }()

	for id := types.SceneId(1); id <= 20; id++ {
		f.r.Queue().Enqueue(Publish(id, types.NewGuid()))
		f.r.Queue().Enqueue(SetSceneState(id, state.Rendered))
		f.r.Queue().Enqueue(flushes[id-1])
	}
	f.r.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed; got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("render loop did not stop")
	}

	if scenes := len(f.r.Stats().Scenes); scenes != 0 {
		t.Fatalf("expected every scene to be released; %d left", scenes)
	}
	if resident := f.dev.Stats().Resident; resident != 0 {
		t.Fatalf("expected every resource to be released; %d resident", resident)
	}
	if err := f.r.DoOneLoop(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed; got %v", err)
	}
	if err := f.r.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed; got %v", err)
	}

	// Closing twice is a no-op.
	f.r.Close()
}

func TestUploadBudgetSpreadsUploads(t *testing.T) {
	f := newFixture()
	f.r.uploads = &oneItemScheduler{}

	textures := []*asset.Resource{texture(20), texture(21), texture(22)}
	log := scene.NewMutationLog(1)
	for i, tex := range textures {
		f.pool.Put(tex)
		log.Append(scene.AllocateNode(types.NodeHandle(i + 1)))
		log.Append(scene.SetResource(types.NodeHandle(i+1), tex.Hash))
	}
	log.Seal(0)

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, ApplyFlush(flushOf(t, log, 0)))

	type spec struct {
		resident int
		pending  int
		expState state.State
	}
	specs := []spec{
		{resident: 1, pending: 2, expState: state.Available},
		{resident: 2, pending: 1, expState: state.Available},
		{resident: 3, pending: 0, expState: state.Rendered},
	}
	for specIndex, spec := range specs {
		if specIndex > 0 {
			f.loop(t)
		}
		stats := f.r.Stats()
		if got := f.dev.Stats().Resident; got != spec.resident {
			t.Fatalf("[spec %d] expected %d resident resources; got %d", specIndex, spec.resident, got)
		}
		if got := stats.Scenes[0].PendingResources; got != spec.pending {
			t.Fatalf("[spec %d] expected %d pending resources; got %d", specIndex, spec.pending, got)
		}
		if stats.PendingUploads != spec.pending {
			t.Fatalf("[spec %d] expected %d queued uploads; got %d", specIndex, spec.pending, stats.PendingUploads)
		}
		f.state(t, 1, spec.expState)
	}
	if deferred := f.r.Stats().UploadsDeferred; deferred != 3 {
		t.Fatalf("expected 3 deferred uploads; got %d", deferred)
	}

	// A resource that is already resident does not use up the budget.
	fresh := texture(23)
	f.pool.Put(fresh)
	shared := scene.NewMutationLog(2)
	shared.Append(scene.AllocateNode(1))
	shared.Append(scene.SetResource(1, textures[0].Hash))
	shared.Append(scene.AllocateNode(2))
	shared.Append(scene.SetResource(2, fresh.Hash))
	shared.Seal(0)

	f.loop(t, Publish(2, types.NewGuid()), SetSceneState(2, state.Rendered))
	f.loop(t, ApplyFlush(flushOf(t, shared, 0)))
	f.state(t, 2, state.Rendered)
	if f.dev.UploadCount(textures[0].Hash) != 1 {
		t.Fatal("expected shared texture to be uploaded once")
	}
}

func TestUnpublishDropsQueuedUploads(t *testing.T) {
	f := newFixture()
	f.r.uploads = &oneItemScheduler{}

	a, b := texture(24), texture(25)
	f.pool.Put(a)
	f.pool.Put(b)
	log := scene.NewMutationLog(1)
	log.Append(scene.AllocateNode(1))
	log.Append(scene.SetResource(1, a.Hash))
	log.Append(scene.AllocateNode(2))
	log.Append(scene.SetResource(2, b.Hash))
	log.Seal(0)

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, ApplyFlush(flushOf(t, log, 0)))
	f.loop(t, Unpublish(1))

	if queued := f.r.Stats().PendingUploads; queued != 0 {
		t.Fatalf("expected queued uploads to be dropped; %d left", queued)
	}
	f.loop(t)
	if f.dev.Stats().Uploads != 1 || f.dev.Stats().Resident != 0 {
		t.Fatalf("expected a single upload that was released; got %+v", f.dev.Stats())
	}
}

func TestSceneExpiration(t *testing.T) {
	f := newFixture()
	now := time.Unix(1000, 0)
	f.r.now = func() time.Time { return now }

	log := scene.NewMutationLog(1)
	flushExpiring := func(since uint64, at time.Time) Command {
		log.Append(scene.AllocateNode(types.NodeHandle(since + 1)))
		log.Seal(0)
		fl := flushOf(t, log, since)
		fl.ExpiresAt = scene.ExpiresAtMillis(at)
		return ApplyFlush(fl)
	}
	countEvents := func(kind EventKind) int {
		count := 0
		for _, ev := range f.r.Events() {
			if ev.Kind == kind && ev.Scene == 1 {
				count++
			}
		}
		return count
	}

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, flushExpiring(0, now.Add(time.Second)))
	f.state(t, 1, state.Rendered)
	stat := f.r.Stats().Scenes[0]
	if stat.Expired || !stat.Expiration.Equal(now.Add(time.Second)) {
		t.Fatalf("expected scene to be monitored and not expired; got %+v", stat)
	}
	if countEvents(EventSceneExpired) != 0 {
		t.Fatal("expected no expired event")
	}

	now = now.Add(2 * time.Second)
	f.loop(t)
	if countEvents(EventSceneExpired) != 1 || !f.r.Stats().Scenes[0].Expired {
		t.Fatal("expected scene to be reported as expired")
	}
	f.loop(t)
	if countEvents(EventSceneExpired) != 0 {
		t.Fatal("expected expiration to be reported once")
	}

	f.loop(t, flushExpiring(1, now.Add(time.Second)))
	if countEvents(EventSceneRecovered) != 1 || f.r.Stats().Scenes[0].Expired {
		t.Fatal("expected scene to recover after a fresh flush")
	}

	// A flush without an expiration stops monitoring.
	f.loop(t, flushExpiring(2, time.Time{}))
	now = now.Add(time.Hour)
	f.loop(t)
	if countEvents(EventSceneExpired) != 0 {
		t.Fatal("expected scene without expiration to never expire")
	}
}

func TestDeferredFlushExpiration(t *testing.T) {
	f := newFixture()
	f.r.scheduler = &oneItemScheduler{}
	now := time.Unix(1000, 0)
	f.r.now = func() time.Time { return now }

	log := scene.NewMutationLog(1)
	var cmds []Command
	for v, at := range []time.Time{now.Add(time.Hour), now.Add(-time.Second), now.Add(time.Hour)} {
		log.Append(scene.AllocateNode(types.NodeHandle(v + 1)))
		log.Seal(0)
		fl := flushOf(t, log, uint64(v))
		fl.ExpiresAt = scene.ExpiresAtMillis(at)
		cmds = append(cmds, ApplyFlush(fl))
	}

	f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Rendered))
	f.loop(t, cmds...)
	if !hasEvent(f.r.Events(), EventSceneExpired) {
		t.Fatal("expected an expired deferred flush to expire the scene")
	}

	f.loop(t)
	if hasEvent(f.r.Events(), EventSceneRecovered) {
		t.Fatal("expected scene to stay expired while its applied flush is expired")
	}

	f.loop(t)
	if !hasEvent(f.r.Events(), EventSceneRecovered) {
		t.Fatal("expected scene to recover once a fresh flush is applied")
	}
}

func TestFailedResyncRequest(t *testing.T) {
	log := scene.NewMutationLog(1)
	for node := types.NodeHandle(1); node <= 3; node++ {
		log.Append(scene.AllocateNode(node))
		log.Seal(0)
	}

	t.Run("pending subscription fails", func(t *testing.T) {
		f := newFixture()
		f.subs.resyncErr = errors.New("send buffer full")
		f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Ready))
		f.loop(t, ApplyFlush(flushOf(t, log, 1)))

		var failed *Event
		for _, ev := range f.r.Events() {
			if ev.Kind == EventSceneStepFailed {
				ev := ev
				failed = &ev
			}
		}
		if failed == nil || !errors.Is(failed.Err, ErrResyncFailed) {
			t.Fatalf("expected subscribe step to fail with ErrResyncFailed; got %v", failed)
		}
		if len(f.subs.unsubscribed) != 1 {
			t.Fatal("expected the subscription to be dropped")
		}
		if _, ok := f.r.Scene(1); ok {
			t.Fatal("expected scene state to be dropped")
		}
		if target := f.r.Stats().Scenes[0].Target; target != state.Unavailable {
			t.Fatalf("expected target to be reset to unavailable; got %s", target)
		}
	})

	t.Run("available scene subscribes again", func(t *testing.T) {
		f := newFixture()
		f.loop(t, Publish(1, types.NewGuid()), SetSceneState(1, state.Available))
		f.loop(t, ApplyFlush(flushOf(t, log, 0)))
		f.state(t, 1, state.Available)

		f.subs.resyncErr = errors.New("send buffer full")
		f.loop(t, ApplyFlush(scene.Flush{Scene: 1, Since: 5, Version: 6}))
		f.state(t, 1, state.Unavailable)
		if len(f.subs.unsubscribed) != 1 || len(f.subs.subscribed) != 2 {
			t.Fatalf("expected an unsubscribe and a new subscribe; got %d and %d", len(f.subs.unsubscribed), len(f.subs.subscribed))
		}
		if target := f.r.Stats().Scenes[0].Target; target != state.Available {
			t.Fatalf("expected target to stay available; got %s", target)
		}

		f.subs.resyncErr = nil
		f.loop(t, ApplyFlush(flushOf(t, log, 0)))
		f.state(t, 1, state.Available)
		if sc, _ := f.r.Scene(1); sc.Version() != 3 {
			t.Fatalf("expected scene at v3; got v%d", sc.Version())
		}
	})
}
