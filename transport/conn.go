package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/types"
	"github.com/gorilla/websocket"
)

// conn wraps a websocket connection with a buffered send path. A single
// writer goroutine owns all writes; reads happen on the caller's goroutine.
type conn struct {
	logger log.Logger
	ws     *websocket.Conn
	opts   Options

	// Guid of the remote participant, known after the handshake.
	peer types.Guid

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, opts Options, logger log.Logger) *conn {
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &conn{
		logger: logger,
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Exchange hello frames. Both sides write first; websocket messages are
// buffered so the order does not matter.
func (c *conn) handshake(self types.Guid) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, EncodeFrame(Frame{Kind: FrameHello, Peer: self})); err != nil {
		return err
	}

	c.ws.SetReadDeadline(time.Now().Add(c.opts.WriteTimeout))
	f, err := c.read()
	if err != nil {
		return err
	}
	if f.Kind != FrameHello || f.Peer.IsZero() {
		return fmt.Errorf("%w: expected hello; got %s", ErrUnexpectedFrame, f.Kind)
	}
	c.peer = f.Peer
	return nil
}

// Queue a frame for the writer goroutine.
func (c *conn) enqueue(ctx context.Context, f Frame) error {
	msg := EncodeFrame(f)
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.peer)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue a frame without waiting for buffer space.
func (c *conn) tryEnqueue(f Frame) error {
	select {
	case c.send <- EncodeFrame(f):
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.peer)
	default:
		c.logger.Warningf("send buffer to %s full; dropping %s frame for %s", c.peer, f.Kind, f.Scene)
		return fmt.Errorf("%w: %s", ErrSendBufferFull, c.peer)
	}
}

// Queue a frame waiting at most WriteTimeout for buffer space.
func (c *conn) enqueueTimeout(f Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	return c.enqueue(ctx, f)
}

func (c *conn) writeLoop() {
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.logger.Infof("write to %s failed: %v", c.peer, err)
				return
			}
		case <-time.After(c.opts.PingTimeout):
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
				return
			}
		}
	}
}

// Read the next frame, skipping pings.
func (c *conn) read() (Frame, error) {
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Debugf("ignoring message of type %d from %s", messageType, c.peer)
			continue
		}
		if len(message) == 0 {
			// ping
			continue
		}
		return DecodeFrame(message)
	}
}

// Read frames and pass them to handle until the connection fails or
// handle returns an error.
func (c *conn) readLoop(handle func(Frame) error) error {
	defer c.close()

	for {
		c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		f, err := c.read()
		if err != nil {
			select {
			case <-c.done:
				return ErrConnectionClosed
			default:
			}
			return err
		}
		if err = handle(f); err != nil {
			return err
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
