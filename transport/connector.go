package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/renderer"
	"github.com/achilleasa/scenerelay/scene/wire"
	"github.com/achilleasa/scenerelay/types"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type remote struct {
	conn *conn

	mu        sync.Mutex
	assembler *wire.Assembler
}

// Connector links a renderer to any number of producers. Incoming frames
// are turned into renderer commands; subscription requests issued by the
// renderer are routed to the producer that owns the scene. It implements
// renderer.SubscriptionHandler.
type Connector struct {
	logger log.Logger
	guid   types.Guid
	opts   Options
	pool   *asset.Pool
	dialer *websocket.Dialer

	mu      sync.Mutex
	queue   *renderer.CommandQueue
	remotes map[types.Guid]*remote
	wg      sync.WaitGroup
}

// Create a connector identified by guid. Received resources are stored
// in pool.
func NewConnector(guid types.Guid, pool *asset.Pool, opts Options) *Connector {
	return &Connector{
		logger: log.New("transport"),
		guid:   guid,
		opts:   opts,
		pool:   pool,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.WriteTimeout,
		},
		remotes: make(map[types.Guid]*remote),
	}
}

func (c *Connector) Guid() types.Guid {
	return c.guid
}

// Bind the queue that receives the commands generated by this connector.
func (c *Connector) Bind(queue *renderer.CommandQueue) {
	c.mu.Lock()
	c.queue = queue
	c.mu.Unlock()
}

// Dial a producer and return its guid. The connection is served in the
// background until it fails or the connector is closed; losing it enqueues
// a single ConnectionLost command.
func (c *Connector) Dial(ctx context.Context, url string) (types.Guid, error) {
	c.mu.Lock()
	queue := c.queue
	c.mu.Unlock()
	if queue == nil {
		return types.Guid{}, ErrNotBound
	}

	ws, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return types.Guid{}, fmt.Errorf("transport: dialing %s: %w", url, err)
	}

	cn := newConn(ws, c.opts, c.logger)
	if err = cn.handshake(c.guid); err != nil {
		cn.close()
		return types.Guid{}, fmt.Errorf("transport: handshake with %s: %w", url, err)
	}

	rm := &remote{conn: cn, assembler: newAssembler(c.opts)}
	c.mu.Lock()
	if _, exists := c.remotes[cn.peer]; exists {
		c.mu.Unlock()
		cn.close()
		return types.Guid{}, fmt.Errorf("%w: %s", ErrAlreadyConnected, cn.peer)
	}
	c.remotes[cn.peer] = rm
	c.wg.Add(2)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		cn.writeLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.serve(rm, queue)
	}()

	c.logger.Infof("connected to producer %s at %s", cn.peer, url)
	return cn.peer, nil
}

func (c *Connector) serve(rm *remote, queue *renderer.CommandQueue) {
	owner := rm.conn.peer
	err := rm.conn.readLoop(func(f Frame) error {
		return c.handle(rm, queue, f)
	})
	c.logger.Warningf("connection to producer %s lost: %v", owner, err)

	c.mu.Lock()
	delete(c.remotes, owner)
	c.mu.Unlock()
	queue.Enqueue(renderer.ConnectionLost(owner))
}

func (c *Connector) handle(rm *remote, queue *renderer.CommandQueue, f Frame) error {
	owner := rm.conn.peer
	switch f.Kind {
	case FramePublish:
		queue.Enqueue(renderer.Publish(f.Scene, owner))
	case FrameUnpublish:
		queue.Enqueue(renderer.Unpublish(f.Scene))
	case FrameChunk:
		chunk, err := wire.UnmarshalChunk(f.Body)
		if err != nil {
			c.logger.Warningf("dropping chunk from %s: %v", owner, err)
			return nil
		}
		metrics.ChunksReceived.Inc()

		rm.mu.Lock()
		flush, done, err := rm.assembler.Add(chunk)
		rm.mu.Unlock()
		if err != nil {
			c.logger.Warningf("discarding flush from %s: %v; requesting resync", owner, err)
			return rm.conn.enqueueTimeout(Frame{Kind: FrameResync, Scene: chunk.Scene})
		}
		if done {
			queue.Enqueue(renderer.ApplyFlush(flush))
		}
	case FrameResource:
		res, err := asset.DecodeResource(f.Body)
		if err != nil {
			c.logger.Warningf("dropping resource from %s: %v", owner, err)
			return nil
		}
		c.pool.Put(res)
		queue.Enqueue(renderer.ResourceAvailable(res.Hash))
	default:
		return fmt.Errorf("%w: %s from producer %s", ErrUnexpectedFrame, f.Kind, owner)
	}
	return nil
}

func (c *Connector) Subscribe(id types.SceneIdentity) error {
	return c.control(id, FrameSubscribe)
}

// Unsubscribe also discards partially received flushes of the scene.
func (c *Connector) Unsubscribe(id types.SceneIdentity) error {
	return c.control(id, FrameUnsubscribe)
}

func (c *Connector) RequestResync(id types.SceneIdentity) error {
	return c.control(id, FrameResync)
}

// Control frames are issued from the render goroutine and never wait for
// buffer space.
func (c *Connector) control(id types.SceneIdentity, kind FrameKind) error {
	c.mu.Lock()
	rm, ok := c.remotes[id.Owner]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id.Owner)
	}

	if kind == FrameUnsubscribe {
		rm.mu.Lock()
		rm.assembler.Drop(id.Id)
		rm.mu.Unlock()
	}
	return rm.conn.tryEnqueue(Frame{Kind: kind, Scene: id.Id})
}

// Peers returns the guids of the connected producers.
func (c *Connector) Peers() []types.Guid {
	c.mu.Lock()
	peers := maps.Keys(c.remotes)
	c.mu.Unlock()
	slices.SortFunc(peers, func(a, b types.Guid) int {
		return bytes.Compare(a[:], b[:])
	})
	return peers
}

// Close drops every connection and waits for the background goroutines.
func (c *Connector) Close() {
	c.mu.Lock()
	for _, rm := range c.remotes {
		rm.conn.close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
