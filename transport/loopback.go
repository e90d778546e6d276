package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/producer"
	"github.com/achilleasa/scenerelay/renderer"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/scene/wire"
	"github.com/achilleasa/scenerelay/types"
)

// Loopback connects a producer client and a renderer living in the same
// process. Flushes still go through chunking and reassembly and resources
// through their wire encoding, so both sides observe exactly what a
// networked peer would.
type Loopback struct {
	logger log.Logger
	guid   types.Guid
	opts   Options
	pool   *asset.Pool

	mu        sync.Mutex
	client    *producer.Client
	queue     *renderer.CommandQueue
	assembler *wire.Assembler
}

// Create a loopback whose renderer side stores received resources in pool.
func NewLoopback(pool *asset.Pool, opts Options) *Loopback {
	return &Loopback{
		logger:    log.New("loopback"),
		guid:      types.NewGuid(),
		opts:      opts,
		pool:      pool,
		assembler: newAssembler(opts),
	}
}

func newAssembler(opts Options) *wire.Assembler {
	asm := wire.NewAssembler()
	asm.SetTimeout(opts.AssemblyTimeout)
	return asm
}

// Guid returns the address of the renderer side.
func (l *Loopback) Guid() types.Guid {
	return l.guid
}

// Connect the client to the renderer queue and announce the scenes the
// client already owns.
func (l *Loopback) Connect(client *producer.Client, queue *renderer.CommandQueue) {
	l.mu.Lock()
	l.client = client
	l.queue = queue
	l.mu.Unlock()

	for _, id := range client.Published() {
		queue.Enqueue(renderer.Publish(id.Id, id.Owner))
	}
	l.logger.Infof("client %s connected", client.Guid())
}

// Disconnect simulates a lost connection.
func (l *Loopback) Disconnect() {
	l.mu.Lock()
	client, queue := l.client, l.queue
	l.client, l.queue = nil, nil
	l.assembler = newAssembler(l.opts)
	l.mu.Unlock()
	if client == nil {
		return
	}

	client.PeerDisconnected(l.guid)
	queue.Enqueue(renderer.ConnectionLost(client.Guid()))
}

func (l *Loopback) bound() (*producer.Client, *renderer.CommandQueue) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client, l.queue
}

func (l *Loopback) SendFlush(ctx context.Context, peer types.Guid, f scene.Flush) error {
	if peer != l.guid {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	_, queue := l.bound()
	if queue == nil {
		return ErrNotBound
	}

	chunks, err := wire.Packetize(f, l.opts.ChunkSize)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, chunk := range chunks {
		received, err := wire.UnmarshalChunk(chunk.AppendBinary(nil))
		if err != nil {
			return err
		}
		flush, done, err := l.assembler.Add(received)
		if err != nil {
			return err
		}
		if done {
			queue.Enqueue(renderer.ApplyFlush(flush))
		}
	}
	return nil
}

func (l *Loopback) SendResource(ctx context.Context, peer types.Guid, res *asset.Resource) error {
	if peer != l.guid {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	_, queue := l.bound()
	if queue == nil {
		return ErrNotBound
	}

	received, err := asset.DecodeResource(asset.EncodeResource(res))
	if err != nil {
		return err
	}
	l.pool.Put(received)
	queue.Enqueue(renderer.ResourceAvailable(received.Hash))
	return nil
}

// Announce is a no-op until Connect is called; Connect announces every
// existing scene.
func (l *Loopback) Announce(ctx context.Context, id types.SceneIdentity, published bool) error {
	_, queue := l.bound()
	if queue == nil {
		return nil
	}
	if published {
		queue.Enqueue(renderer.Publish(id.Id, id.Owner))
	} else {
		queue.Enqueue(renderer.Unpublish(id.Id))
	}
	return nil
}

func (l *Loopback) owner(id types.SceneIdentity) (*producer.Client, error) {
	client, _ := l.bound()
	if client == nil {
		return nil, ErrNotConnected
	}
	if client.Guid() != id.Owner {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id.Owner)
	}
	return client, nil
}

func (l *Loopback) Subscribe(id types.SceneIdentity) error {
	client, err := l.owner(id)
	if err != nil {
		return err
	}
	return client.HandleSubscribe(context.Background(), l.guid, id.Id)
}

func (l *Loopback) Unsubscribe(id types.SceneIdentity) error {
	client, err := l.owner(id)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.assembler.Drop(id.Id)
	l.mu.Unlock()
	return client.HandleUnsubscribe(l.guid, id.Id)
}

func (l *Loopback) RequestResync(id types.SceneIdentity) error {
	client, err := l.owner(id)
	if err != nil {
		return err
	}
	return client.HandleResync(context.Background(), l.guid, id.Id)
}
