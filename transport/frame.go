package transport

import (
	"fmt"

	"github.com/achilleasa/scenerelay/types"
	"google.golang.org/protobuf/encoding/protowire"
)

type FrameKind uint8

// The list of frame types exchanged between producers and renderers.
const (
	FrameHello FrameKind = iota + 1
	FramePublish
	FrameUnpublish
	FrameSubscribe
	FrameUnsubscribe
	FrameResync
	FrameChunk
	FrameResource
)

func (k FrameKind) String() string {
	switch k {
	case FrameHello:
		return "hello"
	case FramePublish:
		return "publish"
	case FrameUnpublish:
		return "unpublish"
	case FrameSubscribe:
		return "subscribe"
	case FrameUnsubscribe:
		return "unsubscribe"
	case FrameResync:
		return "resync"
	case FrameChunk:
		return "chunk"
	case FrameResource:
		return "resource"
	}
	return fmt.Sprintf("frame(%d)", uint8(k))
}

// Frame is the unit carried by a single websocket message. Hello frames
// carry the sender's guid in Peer; scene control frames carry Scene; chunk
// and resource frames carry an encoded wire.Chunk or asset.Resource in Body.
type Frame struct {
	Kind  FrameKind
	Peer  types.Guid
	Scene types.SceneId
	Body  []byte
}

const (
	frameKind  protowire.Number = 1
	framePeer  protowire.Number = 2
	frameScene protowire.Number = 3
	frameBody  protowire.Number = 4
)

// Encode a frame.
func EncodeFrame(f Frame) []byte {
	b := make([]byte, 0, 32+len(f.Body))
	b = protowire.AppendTag(b, frameKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	if !f.Peer.IsZero() {
		b = protowire.AppendTag(b, framePeer, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Peer[:])
	}
	if f.Scene != 0 {
		b = protowire.AppendTag(b, frameScene, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.Scene))
	}
	if len(f.Body) != 0 {
		b = protowire.AppendTag(b, frameBody, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Body)
	}
	return b
}

// Decode a frame. The body aliases b.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == frameKind || num == frameScene):
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if num == frameKind {
				f.Kind = FrameKind(v)
			} else {
				f.Scene = types.SceneId(v)
			}
		case typ == protowire.BytesType && (num == framePeer || num == frameBody):
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				break
			}
			if num == frameBody {
				f.Body = v
				break
			}
			if len(v) != len(f.Peer) {
				return Frame{}, fmt.Errorf("%w: peer must be %d bytes; got %d", ErrMalformedFrame, len(f.Peer), len(v))
			}
			copy(f.Peer[:], v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if f.Kind < FrameHello || f.Kind > FrameResource {
		return Frame{}, fmt.Errorf("%w: unknown kind %d", ErrMalformedFrame, uint8(f.Kind))
	}
	return f, nil
}
