package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/scene/wire"
	"github.com/achilleasa/scenerelay/types"
)

type recorder struct {
	mu        sync.Mutex
	flushes   map[types.Guid][]scene.Flush
	resources map[types.Guid][]types.ResourceHash
	announced []types.SceneIdentity
	withdrawn []types.SceneIdentity
	fail      map[types.Guid]error
}

func newRecorder() *recorder {
	return &recorder{
		flushes:   make(map[types.Guid][]scene.Flush),
		resources: make(map[types.Guid][]types.ResourceHash),
		fail:      make(map[types.Guid]error),
	}
}

func (r *recorder) SendFlush(_ context.Context, peer types.Guid, f scene.Flush) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[peer]; err != nil {
		return err
	}
	r.flushes[peer] = append(r.flushes[peer], f)
	return nil
}

func (r *recorder) SendResource(_ context.Context, peer types.Guid, res *asset.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[peer]; err != nil {
		return err
	}
	r.resources[peer] = append(r.resources[peer], res.Hash)
	return nil
}

func (r *recorder) Announce(_ context.Context, id types.SceneIdentity, published bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if published {
		r.announced = append(r.announced, id)
	} else {
		r.withdrawn = append(r.withdrawn, id)
	}
	return nil
}

// Apply every flush received by peer to a fresh scene.
func (r *recorder) replay(t *testing.T, id types.SceneId, peer types.Guid) *scene.Scene {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc := scene.New(id)
	for index, f := range r.flushes[peer] {
		if _, err := sc.ApplyFlush(f); err != nil {
			t.Fatalf("[flush %d] %v", index, err)
		}
	}
	return sc
}

// Emits valid graph edits; every call appends exactly one mutation.
type editor struct {
	rng       *rand.Rand
	nodes     []types.NodeHandle
	resources []types.ResourceHash
	slotReady bool
}

func (e *editor) edit(p *SceneProducer) {
	if !e.slotReady {
		p.AllocateDataSlot(1, scene.SlotProvider, scene.SlotDataFloat)
		e.slotReady = true
		return
	}
	if len(e.nodes) == 0 {
		e.allocate(p)
		return
	}

	node := e.nodes[e.rng.Intn(len(e.nodes))]
	switch e.rng.Intn(5) {
	case 0:
		e.allocate(p)
	case 1:
		p.SetProperty(node, fmt.Sprintf("p%d", e.rng.Intn(4)), scene.FloatValue(e.rng.Float32()))
	case 2:
		p.SetResource(node, e.resources[e.rng.Intn(len(e.resources))])
	case 3:
		p.SetDataSlotValue(1, scene.FloatValue(e.rng.Float32()))
	default:
		p.SetProperty(node, "transform", scene.Mat4Value(types.Ident4()))
	}
}

func (e *editor) allocate(p *SceneProducer) {
	h := types.NodeHandle(len(e.nodes) + 1)
	p.AllocateNode(h)
	e.nodes = append(e.nodes, h)
}

func newEditor(seed int64, resources []types.ResourceHash) *editor {
	return &editor{rng: rand.New(rand.NewSource(seed)), resources: resources}
}

func testResources(pool *asset.Pool) []types.ResourceHash {
	var out []types.ResourceHash
	for i := 0; i < 4; i++ {
		res := asset.NewResource(asset.KindTexture, "", bytes.Repeat([]byte{byte(i)}, 64))
		pool.Put(res)
		out = append(out, res.Hash)
	}
	return out
}

func TestLateSubscriberParity(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	pool := asset.NewPool()
	p := NewSceneProducer(types.SceneIdentity{Id: 3, Owner: types.NewGuid()}, rec, pool, Options{Strategy: ShadowCopy})
	ed := newEditor(42, testResources(pool))

	early, late := types.NewGuid(), types.NewGuid()
	if err := p.AddSubscriber(ctx, early); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 1000; i++ {
		ed.edit(p)
		if i%10 == 9 {
			if _, err := p.Flush(ctx, types.VersionTag(i)); err != nil {
				t.Fatal(err)
			}
		}
	}

	if err := p.AddSubscriber(ctx, late); err != nil {
		t.Fatal(err)
	}
	if !rec.flushes[late][0].Resync {
		t.Fatal("expected late subscriber to be bootstrapped with a resync flush")
	}

	for i := 0; i < 200; i++ {
		ed.edit(p)
		if i%20 == 19 {
			if _, err := p.Flush(ctx, 0); err != nil {
				t.Fatal(err)
			}
		}
	}

	earlyScene := rec.replay(t, 3, early)
	lateScene := rec.replay(t, 3, late)
	if earlyScene.Version() != lateScene.Version() {
		t.Fatalf("expected matching versions; got v%d and v%d", earlyScene.Version(), lateScene.Version())
	}

	earlyFlush, lateFlush := earlyScene.SnapshotFlush(), lateScene.SnapshotFlush()
	if !bytes.Equal(wire.EncodeFlush(earlyFlush), wire.EncodeFlush(lateFlush)) {
		t.Fatal("expected early and late subscribers to converge to identical scene state")
	}

	// Both subscribers acknowledged everything; the log is compacted.
	if p.Retained() != 0 {
		t.Fatalf("expected a compacted log; %d mutations retained", p.Retained())
	}
}

func TestVersionsAreMonotonicPerSubscriber(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	pool := asset.NewPool()
	p := NewSceneProducer(types.SceneIdentity{Id: 1}, rec, pool, Options{Strategy: ShadowCopy})
	ed := newEditor(7, testResources(pool))

	peers := []types.Guid{types.NewGuid(), types.NewGuid(), types.NewGuid()}
	for round := 0; round < 30; round++ {
		switch round {
		case 3:
			p.AddSubscriber(ctx, peers[0])
		case 8:
			p.AddSubscriber(ctx, peers[1])
		case 12:
			p.RemoveSubscriber(peers[0])
		case 15:
			p.AddSubscriber(ctx, peers[2])
		case 20:
			p.AddSubscriber(ctx, peers[0])
		}
		for i := 0; i < 5; i++ {
			ed.edit(p)
		}
		if _, err := p.Flush(ctx, 0); err != nil {
			t.Fatal(err)
		}
	}

	for _, peer := range peers {
		var last uint64
		for index, f := range rec.flushes[peer] {
			if f.Version <= last && !f.Resync {
				t.Fatalf("[peer %s flush %d] expected version > %d; got %d", peer, index, last, f.Version)
			}
			if !f.Resync && f.Since != last {
				t.Fatalf("[peer %s flush %d] expected flush to continue from v%d; got v%d", peer, index, last, f.Since)
			}
			last = f.Version
		}
		if last != p.Version() {
			t.Fatalf("[peer %s] expected to end at v%d; got v%d", peer, p.Version(), last)
		}
	}
}

func TestDirectStrategy(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	p := NewSceneProducer(types.SceneIdentity{Id: 1}, rec, asset.NewPool(), Options{Strategy: Direct})

	// Without subscribers the whole log is retained.
	p.AllocateNode(1)
	p.Flush(ctx, 0)
	p.AllocateNode(2)
	p.Flush(ctx, 0)

	first := types.NewGuid()
	if err := p.AddSubscriber(ctx, first); err != nil {
		t.Fatal(err)
	}
	initial := rec.flushes[first][0]
	if initial.Resync || initial.Since != 0 || len(initial.Mutations) != 2 {
		t.Fatalf("expected initial delta from v0 with 2 mutations; got %s", &initial)
	}

	p.AllocateNode(3)
	p.Flush(ctx, 0)
	if p.Retained() != 0 {
		t.Fatalf("expected log to be compacted to the subscriber version; %d retained", p.Retained())
	}

	// A late joiner starts at the current version and cannot be resynced.
	late := types.NewGuid()
	if err := p.AddSubscriber(ctx, late); err != nil {
		t.Fatal(err)
	}
	if len(rec.flushes[late]) != 0 {
		t.Fatal("expected no initial flush for a late direct subscriber")
	}
	if err := p.Resync(ctx, late); !errors.Is(err, ErrResyncUnavailable) {
		t.Fatalf("expected ErrResyncUnavailable; got %v", err)
	}
	if err := p.Resync(ctx, types.NewGuid()); !errors.Is(err, ErrUnknownSubscriber) {
		t.Fatalf("expected ErrUnknownSubscriber; got %v", err)
	}
	if _, err := p.Snapshot(); !errors.Is(err, ErrResyncUnavailable) {
		t.Fatalf("expected ErrResyncUnavailable; got %v", err)
	}
}

func TestShadowCopyRejectsInvalidEdits(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	p := NewSceneProducer(types.SceneIdentity{Id: 1}, rec, asset.NewPool(), Options{Strategy: ShadowCopy})
	peer := types.NewGuid()
	p.AddSubscriber(ctx, peer)

	p.AllocateNode(1)
	p.AddChild(1, 2)
	version, err := p.Flush(ctx, 0)
	if !errors.Is(err, ErrInvalidEdit) || version != 0 {
		t.Fatalf("expected ErrInvalidEdit at v0; got v%d, %v", version, err)
	}

	p.AllocateNode(1)
	if version, err = p.Flush(ctx, 0); err != nil || version != 1 {
		t.Fatalf("expected v1; got v%d, %v", version, err)
	}
	sc := rec.replay(t, 1, peer)
	if sc.NodeCount() != 1 {
		t.Fatalf("expected a single node; got %d", sc.NodeCount())
	}
}

func TestFailedSendIsRetried(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	p := NewSceneProducer(types.SceneIdentity{Id: 1}, rec, asset.NewPool(), Options{Strategy: ShadowCopy})
	peer := types.NewGuid()
	p.AddSubscriber(ctx, peer)

	rec.fail[peer] = errors.New("link down")
	p.AllocateNode(1)
	if _, err := p.Flush(ctx, 0); err == nil {
		t.Fatal("expected send error")
	}

	delete(rec.fail, peer)
	p.AllocateNode(2)
	if _, err := p.Flush(ctx, 0); err != nil {
		t.Fatal(err)
	}

	flushes := rec.flushes[peer]
	last := flushes[len(flushes)-1]
	if last.Since != 0 || last.Version != 2 || len(last.Mutations) != 2 {
		t.Fatalf("expected v0->v2 delta with both mutations; got %s", &last)
	}
}

func TestFlushesCarryExpiration(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	p := NewSceneProducer(types.SceneIdentity{Id: 1}, rec, asset.NewPool(), Options{Strategy: ShadowCopy})
	peer := types.NewGuid()
	p.AddSubscriber(ctx, peer)

	expiresAt := time.UnixMilli(1700000000000)
	p.SetExpiration(expiresAt)
	p.AllocateNode(1)
	if _, err := p.Flush(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.Resync(ctx, peer); err != nil {
		t.Fatal(err)
	}

	p.SetExpiration(time.Time{})
	p.AllocateNode(2)
	if _, err := p.Flush(ctx, 0); err != nil {
		t.Fatal(err)
	}

	flushes := rec.flushes[peer]
	if len(flushes) != 4 {
		t.Fatalf("expected 4 flushes; got %d", len(flushes))
	}
	for index, exp := range []int64{0, expiresAt.UnixMilli(), expiresAt.UnixMilli(), 0} {
		if got := flushes[index].ExpiresAt; got != exp {
			t.Fatalf("[flush %d] expected expiration %d; got %d", index, exp, got)
		}
	}
	if !flushes[2].Resync {
		t.Fatal("expected third flush to be a resync")
	}
}

func TestClientSendsResourcesOncePerPeer(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	c := NewClient(types.NewGuid(), rec)
	hash := c.AddResource(asset.NewResource(asset.KindBlob, "shared", []byte("payload")))

	for _, id := range []types.SceneId{1, 2} {
		p, err := c.CreateScene(ctx, id, Options{Strategy: ShadowCopy})
		if err != nil {
			t.Fatal(err)
		}
		p.AllocateNode(1)
		p.SetResource(1, hash)
		p.Flush(ctx, 0)
	}
	if _, err := c.CreateScene(ctx, 1, Options{}); !errors.Is(err, ErrSceneExists) {
		t.Fatalf("expected ErrSceneExists; got %v", err)
	}
	if len(rec.announced) != 2 || rec.announced[0].Owner != c.Guid() {
		t.Fatalf("expected 2 announcements; got %v", rec.announced)
	}

	peer := types.NewGuid()
	for _, id := range []types.SceneId{1, 2} {
		if err := c.HandleSubscribe(ctx, peer, id); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.resources[peer]) != 1 || rec.resources[peer][0] != hash {
		t.Fatalf("expected the shared resource to be sent once; got %v", rec.resources[peer])
	}

	// A reconnecting peer receives the payload again.
	c.PeerDisconnected(peer)
	if err := c.HandleSubscribe(ctx, peer, 1); err != nil {
		t.Fatal(err)
	}
	if len(rec.resources[peer]) != 2 {
		t.Fatalf("expected the resource to be resent after reconnect; got %d sends", len(rec.resources[peer]))
	}

	if err := c.DestroyScene(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleSubscribe(ctx, peer, 2); !errors.Is(err, ErrUnknownScene) {
		t.Fatalf("expected ErrUnknownScene; got %v", err)
	}
	if published := c.Published(); len(published) != 1 || published[0].Id != 1 {
		t.Fatalf("expected only scene 1 to remain published; got %v", published)
	}
	if len(rec.withdrawn) != 1 {
		t.Fatalf("expected a withdrawal announcement; got %v", rec.withdrawn)
	}
}

func TestParseStrategy(t *testing.T) {
	type spec struct {
		name string
		exp  Strategy
		err  bool
	}
	specs := []spec{
		{"direct", Direct, false},
		{"Shadow", ShadowCopy, false},
		{"shadow-copy", ShadowCopy, false},
		{"mirror", Direct, true},
	}
	for index, s := range specs {
		got, err := ParseStrategy(s.name)
		if (err != nil) != s.err || got != s.exp {
			t.Fatalf("[spec %d] expected %s (error %t); got %s, %v", index, s.exp, s.err, got, err)
		}
	}
}
