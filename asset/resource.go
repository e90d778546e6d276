package asset

import (
	"encoding/binary"
	"fmt"

	"github.com/achilleasa/scenerelay/types"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/xxh3"
)

// Kind describes how a device interprets a resource payload.
type Kind uint8

const (
	KindBlob Kind = iota
	KindTexture
	KindGeometry
	KindEffect
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTexture:
		return "texture"
	case KindGeometry:
		return "geometry"
	case KindEffect:
		return "effect"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Descriptor holds the metadata of a resource.
type Descriptor struct {
	Hash types.ResourceHash
	Kind Kind

	// Uncompressed payload size.
	Size uint32

	// Size of the stored payload when Compressed is set.
	CompressedSize uint32
	Compressed     bool
}

// StoredSize returns the number of payload bytes held by the resource.
func (d Descriptor) StoredSize() uint32 {
	if d.Compressed {
		return d.CompressedSize
	}
	return d.Size
}

// Resource is an immutable content-addressed payload. Compressed resources
// keep their payload compressed until it is needed for upload.
type Resource struct {
	Descriptor
	Name string

	data []byte
}

// HashOf computes the content identity of a payload: a 128-bit xxh3 hash
// over the resource metadata followed by the uncompressed payload.
func HashOf(kind Kind, payload []byte) types.ResourceHash {
	var meta [5]byte
	meta[0] = byte(kind)
	binary.LittleEndian.PutUint32(meta[1:], uint32(len(payload)))

	h := xxh3.New()
	h.Write(meta[:])
	h.Write(payload)
	return types.ResourceHash(h.Sum128().Bytes())
}

// Create a new uncompressed resource. The payload is not copied.
func NewResource(kind Kind, name string, payload []byte) *Resource {
	return &Resource{
		Descriptor: Descriptor{
			Hash: HashOf(kind, payload),
			Kind: kind,
			Size: uint32(len(payload)),
		},
		Name: name,
		data: payload,
	}
}

// Wrap an already stored payload, e.g. one received from a peer. The
// descriptor is trusted; the payload is only checked against its stored size.
func FromStored(desc Descriptor, name string, stored []byte) (*Resource, error) {
	if uint32(len(stored)) != desc.StoredSize() {
		return nil, fmt.Errorf("%w: %s stores %d bytes; descriptor declares %d", ErrCorrupted, desc.Hash.Short(), len(stored), desc.StoredSize())
	}
	return &Resource{Descriptor: desc, Name: name, data: stored}, nil
}

// Stored returns the payload as held by the resource (compressed or not).
func (r *Resource) Stored() []byte {
	return r.data
}

// Compress returns a copy of the resource with an lz4 compressed payload.
// Resources that do not shrink are returned unchanged.
func (r *Resource) Compress() (*Resource, error) {
	if r.Compressed {
		return r, nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(r.data)))
	n, err := lz4.CompressBlock(r.data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("asset: could not compress %s: %w", r.Hash.Short(), err)
	}
	if n == 0 || n >= len(r.data) {
		return r, nil
	}

	out := *r
	out.data = dst[:n]
	out.Compressed = true
	out.CompressedSize = uint32(n)
	return &out, nil
}

// Payload returns the uncompressed payload, decompressing on demand. The
// decompressed size must match the declared size.
func (r *Resource) Payload() ([]byte, error) {
	if !r.Compressed {
		if uint32(len(r.data)) != r.Size {
			return nil, &CorruptionError{Hash: r.Hash, Declared: r.Size, Actual: uint32(len(r.data))}
		}
		return r.data, nil
	}

	// Leave headroom so that oversized payloads are detected as a size
	// mismatch instead of a short buffer.
	dst := make([]byte, int(r.Size)+corruptionSlack)
	n, err := lz4.UncompressBlock(r.data, dst)
	if err != nil {
		return nil, &CorruptionError{Hash: r.Hash, Declared: r.Size, Err: err}
	}
	if uint32(n) != r.Size {
		return nil, &CorruptionError{Hash: r.Hash, Declared: r.Size, Actual: uint32(n)}
	}
	return dst[:n], nil
}

const corruptionSlack = 64
