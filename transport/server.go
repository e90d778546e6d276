package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/producer"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/scene/wire"
	"github.com/achilleasa/scenerelay/types"
	"github.com/gorilla/websocket"
)

// Server accepts websocket connections from renderers and serves the scenes
// of an attached producer client. It implements producer.Transport.
type Server struct {
	logger   log.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.Mutex
	client *producer.Client
	peers  map[types.Guid]*conn
	wg     sync.WaitGroup
}

// Create a new server. A client must be attached before connections are
// accepted.
func NewServer(opts Options) *Server {
	return &Server{
		logger: log.New("transport"),
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		peers: make(map[types.Guid]*conn),
	}
}

// Attach the client whose scenes are served.
func (s *Server) Attach(client *producer.Client) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

func (s *Server) attached() *producer.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// ServeHTTP upgrades the request and serves the renderer until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client := s.attached()
	if client == nil {
		http.Error(w, ErrNotConnected.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warningf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := newConn(ws, s.opts, s.logger)
	if err = c.handshake(client.Guid()); err != nil {
		s.logger.Warningf("handshake with %s failed: %v", r.RemoteAddr, err)
		c.close()
		return
	}

	s.mu.Lock()
	if _, exists := s.peers[c.peer]; exists {
		s.mu.Unlock()
		s.logger.Warningf("rejecting second connection from %s", c.peer)
		c.close()
		return
	}
	s.peers[c.peer] = c
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.logger.Infof("renderer %s connected from %s", c.peer, r.RemoteAddr)
	go c.writeLoop()

	for _, id := range client.Published() {
		if err = c.enqueueTimeout(Frame{Kind: FramePublish, Scene: id.Id}); err != nil {
			break
		}
	}

	if err == nil {
		err = c.readLoop(func(f Frame) error {
			return s.handle(client, c, f)
		})
	}
	s.logger.Infof("renderer %s disconnected: %v", c.peer, err)

	s.mu.Lock()
	delete(s.peers, c.peer)
	s.mu.Unlock()
	client.PeerDisconnected(c.peer)
}

func (s *Server) handle(client *producer.Client, c *conn, f Frame) error {
	ctx := context.Background()

	var err error
	switch f.Kind {
	case FrameSubscribe:
		err = client.HandleSubscribe(ctx, c.peer, f.Scene)
	case FrameUnsubscribe:
		err = client.HandleUnsubscribe(c.peer, f.Scene)
	case FrameResync:
		err = client.HandleResync(ctx, c.peer, f.Scene)
	default:
		return fmt.Errorf("%w: %s from renderer %s", ErrUnexpectedFrame, f.Kind, c.peer)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrConnectionClosed):
		return err
	case errors.Is(err, producer.ErrUnknownScene):
		// The renderer holds a stale publication.
		s.logger.Warningf("%s from %s: %v", f.Kind, c.peer, err)
		return c.enqueueTimeout(Frame{Kind: FrameUnpublish, Scene: f.Scene})
	default:
		s.logger.Warningf("%s from %s: %v", f.Kind, c.peer, err)
	}
	return nil
}

func (s *Server) peer(guid types.Guid) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.peers[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, guid)
	}
	return c, nil
}

// SendFlush packetizes a flush and queues its chunks for a renderer.
func (s *Server) SendFlush(ctx context.Context, peer types.Guid, f scene.Flush) error {
	c, err := s.peer(peer)
	if err != nil {
		return err
	}

	chunks, err := wire.Packetize(f, s.opts.ChunkSize)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err = c.enqueue(ctx, Frame{Kind: FrameChunk, Body: chunk.AppendBinary(nil)}); err != nil {
			return err
		}
	}
	s.logger.Debugf("queued %s for %s in %d chunks", &f, peer, len(chunks))
	return nil
}

func (s *Server) SendResource(ctx context.Context, peer types.Guid, res *asset.Resource) error {
	c, err := s.peer(peer)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, Frame{Kind: FrameResource, Body: asset.EncodeResource(res)})
}

// Announce tells every connected renderer about a scene.
func (s *Server) Announce(ctx context.Context, id types.SceneIdentity, published bool) error {
	kind := FramePublish
	if !published {
		kind = FrameUnpublish
	}

	s.mu.Lock()
	peers := make([]*conn, 0, len(s.peers))
	for _, c := range s.peers {
		peers = append(peers, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range peers {
		if err := c.enqueue(ctx, Frame{Kind: kind, Scene: id.Id}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Peers returns the number of connected renderers.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close drops every connection and waits for the handlers to exit.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.peers {
		c.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
