package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"
)

// Sender delivers flushes and resource payloads to a single subscriber.
type Sender interface {
	SendFlush(ctx context.Context, peer types.Guid, f scene.Flush) error
	SendResource(ctx context.Context, peer types.Guid, res *asset.Resource) error
}

type Options struct {
	Strategy Strategy
}

type subscriber struct {
	peer types.Guid

	// Last version delivered to the subscriber.
	version uint64
}

// SubscriberInfo describes a subscriber of a scene.
type SubscriberInfo struct {
	Peer    types.Guid
	Version uint64
}

// SceneProducer owns the mutation log of a single scene and streams it to
// subscribers. Graph edits are recorded until Flush seals them into a new
// version. All methods are safe for concurrent use; sends happen while the
// producer lock is held so every subscriber observes versions in order.
type SceneProducer struct {
	logger   log.Logger
	identity types.SceneIdentity
	strategy Strategy

	sender    Sender
	resources asset.Provider
	ledger    *resourceLedger

	mu          sync.Mutex
	log         *scene.MutationLog
	shadow      *scene.Scene
	subscribers map[types.Guid]*subscriber

	// Unix milliseconds stamped on every flush sent; zero disables
	// expiration monitoring on the renderer.
	expiresAt int64
}

// Create a producer for a scene. Resource payloads referenced by flushes are
// resolved through resources and sent to each subscriber once.
func NewSceneProducer(identity types.SceneIdentity, sender Sender, resources asset.Provider, opts Options) *SceneProducer {
	p := &SceneProducer{
		logger:      log.New(fmt.Sprintf("producer %s", identity.Id)),
		identity:    identity,
		strategy:    opts.Strategy,
		sender:      sender,
		resources:   resources,
		ledger:      newResourceLedger(),
		log:         scene.NewMutationLog(identity.Id),
		subscribers: make(map[types.Guid]*subscriber),
	}
	if p.strategy == ShadowCopy {
		p.shadow = scene.New(identity.Id)
	}
	return p
}

func (p *SceneProducer) Identity() types.SceneIdentity {
	return p.identity
}

func (p *SceneProducer) Strategy() Strategy {
	return p.strategy
}

// Version returns the latest flushed version.
func (p *SceneProducer) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Version()
}

// Retained returns the number of mutations kept in the log.
func (p *SceneProducer) Retained() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Len()
}

// SetExpiration sets the time after which the scene content sent from now
// on is considered outdated by renderers. The zero time disables it.
func (p *SceneProducer) SetExpiration(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresAt = scene.ExpiresAtMillis(t)
}

func (p *SceneProducer) AllocateNode(h types.NodeHandle) {
	p.record(scene.AllocateNode(h))
}

func (p *SceneProducer) ReleaseNode(h types.NodeHandle) {
	p.record(scene.ReleaseNode(h))
}

func (p *SceneProducer) AddChild(parent, child types.NodeHandle) {
	p.record(scene.AddChild(parent, child))
}

func (p *SceneProducer) RemoveChild(parent, child types.NodeHandle) {
	p.record(scene.RemoveChild(parent, child))
}

func (p *SceneProducer) SetProperty(h types.NodeHandle, key string, value scene.Value) {
	p.record(scene.SetProperty(h, key, value))
}

func (p *SceneProducer) AllocateDataSlot(id types.DataSlotId, kind scene.SlotKind, slotType scene.SlotType) {
	p.record(scene.AllocateDataSlot(id, kind, slotType))
}

func (p *SceneProducer) ReleaseDataSlot(id types.DataSlotId) {
	p.record(scene.ReleaseDataSlot(id))
}

func (p *SceneProducer) SetDataSlotValue(id types.DataSlotId, value scene.Value) {
	p.record(scene.SetDataSlotValue(id, value))
}

func (p *SceneProducer) SetResource(h types.NodeHandle, res types.ResourceHash) {
	p.record(scene.SetResource(h, res))
}

func (p *SceneProducer) ReleaseResource(h types.NodeHandle, res types.ResourceHash) {
	p.record(scene.ReleaseResource(h, res))
}

func (p *SceneProducer) record(m scene.Mutation) {
	p.mu.Lock()
	p.log.Append(m)
	p.mu.Unlock()
}

// Flush seals the pending edits into a new version and sends every
// subscriber the log slice it has not seen yet. With the shadow-copy
// strategy the edits are validated first; invalid edits are discarded and
// no version is produced.
func (p *SceneProducer) Flush(ctx context.Context, tag types.VersionTag) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := otel.Tracer("producer").Start(ctx, "producer.Flush",
		trace.WithAttributes(
			attribute.Int64("scene", int64(p.identity.Id)),
			attribute.Int("mutations", p.log.Pending()),
			attribute.Int("subscribers", len(p.subscribers)),
		),
	)
	defer span.End()

	if p.shadow != nil {
		current := p.log.Version()
		_, err := p.shadow.ApplyFlush(scene.Flush{
			Scene:     p.identity.Id,
			Since:     current,
			Version:   current + 1,
			Tag:       tag,
			Mutations: p.log.PendingMutations(),
		})
		if err != nil {
			dropped := p.log.DiscardPending()
			err = fmt.Errorf("%w: %d edits discarded: %v", ErrInvalidEdit, dropped, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Warningf("%v", err)
			return p.log.Version(), err
		}
	}

	version := p.log.Seal(tag)
	span.SetAttributes(attribute.Int64("version", int64(version)))

	var firstErr error
	for _, sub := range p.sortedSubscribers() {
		if err := p.sendDelta(ctx, sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.compact()
	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
	}
	return version, firstErr
}

func (p *SceneProducer) sendDelta(ctx context.Context, sub *subscriber) error {
	f, err := p.log.BuildFlush(sub.version)
	if err != nil {
		// The subscriber fell behind the retained log.
		p.logger.Warningf("cannot build delta for %s from v%d: %v", sub.peer, sub.version, err)
		return p.sendFull(ctx, sub)
	}
	if err = p.send(ctx, sub, f); err != nil {
		return err
	}
	metrics.FlushesProduced.WithLabelValues("delta").Inc()
	return nil
}

// Send the complete scene state as a resync flush.
func (p *SceneProducer) sendFull(ctx context.Context, sub *subscriber) error {
	f, err := p.fullFlush()
	if err != nil {
		return err
	}
	if err = p.send(ctx, sub, f); err != nil {
		return err
	}
	metrics.FlushesProduced.WithLabelValues("resync").Inc()
	return nil
}

func (p *SceneProducer) fullFlush() (scene.Flush, error) {
	if p.shadow != nil {
		return p.shadow.SnapshotFlush(), nil
	}
	if p.log.BaseVersion() != 0 {
		return scene.Flush{}, fmt.Errorf("%w: %s log starts at v%d", ErrResyncUnavailable, p.identity.Id, p.log.BaseVersion())
	}
	f, err := p.log.BuildFlush(0)
	if err != nil {
		return scene.Flush{}, err
	}
	f.Resync = true
	return f, nil
}

// Send a flush preceded by the resource payloads the peer has not received.
// The subscriber version only advances once the flush is handed off.
func (p *SceneProducer) send(ctx context.Context, sub *subscriber, f scene.Flush) error {
	for _, hash := range f.Resources {
		if !p.ledger.mark(sub.peer, hash) {
			continue
		}
		res, ok := p.resources.Resolve(hash)
		if !ok {
			p.ledger.unmark(sub.peer, hash)
			p.logger.Warningf("%v: %s", ErrResourceNotAvailable, hash.Short())
			continue
		}
		if err := p.sender.SendResource(ctx, sub.peer, res); err != nil {
			p.ledger.unmark(sub.peer, hash)
			return fmt.Errorf("producer: sending %s to %s: %w", hash.Short(), sub.peer, err)
		}
	}

	f.ExpiresAt = p.expiresAt
	if err := p.sender.SendFlush(ctx, sub.peer, f); err != nil {
		p.logger.Warningf("sending %s to %s: %v", &f, sub.peer, err)
		return fmt.Errorf("producer: sending v%d to %s: %w", f.Version, sub.peer, err)
	}
	p.logger.Debugf("sent %s to %s", &f, sub.peer)
	sub.version = f.Version
	return nil
}

// AddSubscriber registers a peer and sends it the initial flush: the
// complete shadow state or, with the direct strategy, the log since version
// zero if it is still retained. Adding an existing subscriber resends the
// initial flush.
func (p *SceneProducer) AddSubscriber(ctx context.Context, peer types.Guid) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, exists := p.subscribers[peer]
	if !exists {
		sub = &subscriber{peer: peer}
		p.subscribers[peer] = sub
		metrics.Subscribers.Inc()
		p.logger.Infof("%s subscribed at v%d", peer, p.log.Version())
	}

	if p.shadow != nil {
		return p.sendFull(ctx, sub)
	}
	if p.log.BaseVersion() != 0 {
		// Late joiners of a direct scene need an out-of-band bootstrap.
		sub.version = p.log.Version()
		p.logger.Warningf("%s joined after v%d was compacted; streaming from v%d", peer, p.log.BaseVersion(), sub.version)
		return nil
	}
	f, err := p.log.BuildFlush(0)
	if err != nil {
		return err
	}
	if err = p.send(ctx, sub, f); err != nil {
		return err
	}
	metrics.FlushesProduced.WithLabelValues("initial").Inc()
	return nil
}

// RemoveSubscriber unregisters a peer. Removing an unknown peer is a no-op.
func (p *SceneProducer) RemoveSubscriber(peer types.Guid) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscribers[peer]; !exists {
		return
	}
	delete(p.subscribers, peer)
	metrics.Subscribers.Dec()
	p.logger.Infof("%s unsubscribed", peer)
	p.compact()
}

// Resync sends a subscriber the complete scene state.
func (p *SceneProducer) Resync(ctx context.Context, peer types.Guid) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subscribers[peer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, peer)
	}
	p.logger.Infof("resync requested by %s", peer)
	err := p.sendFull(ctx, sub)
	if errors.Is(err, ErrResyncUnavailable) {
		p.logger.Warningf("%v", err)
	}
	return err
}

// Subscribers returns the current subscribers sorted by peer.
func (p *SceneProducer) Subscribers() []SubscriberInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]SubscriberInfo, 0, len(p.subscribers))
	for _, sub := range p.sortedSubscribers() {
		out = append(out, SubscriberInfo{Peer: sub.peer, Version: sub.version})
	}
	return out
}

// Snapshot returns the shadow state as a resync flush. It is only available
// with the shadow-copy strategy.
func (p *SceneProducer) Snapshot() (scene.Flush, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fullFlush()
}

func (p *SceneProducer) removeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	metrics.Subscribers.Sub(float64(len(p.subscribers)))
	p.subscribers = make(map[types.Guid]*subscriber)
}

// Drop log entries every subscriber has received. Without subscribers only
// the shadow-copy strategy can drop everything.
func (p *SceneProducer) compact() {
	var upTo uint64
	switch {
	case len(p.subscribers) != 0:
		upTo = p.log.Version()
		for _, sub := range p.subscribers {
			if sub.version < upTo {
				upTo = sub.version
			}
		}
	case p.shadow != nil:
		upTo = p.log.Version()
	default:
		return
	}

	if err := p.log.Compact(upTo); err != nil {
		p.logger.Warningf("compacting to v%d: %v", upTo, err)
	}
}

func (p *SceneProducer) sortedSubscribers() []*subscriber {
	out := make([]*subscriber, 0, len(p.subscribers))
	for _, sub := range p.subscribers {
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b *subscriber) int {
		return bytes.Compare(a.peer[:], b.peer[:])
	})
	return out
}
