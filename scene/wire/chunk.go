package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
)

// HeaderSize is the encoded size of a chunk header.
const HeaderSize = 8 + 8 + 4 + 4

// Chunk carries a slice of an encoded flush together with enough
// information to reassemble it independently of the transport unit size.
type Chunk struct {
	Scene        types.SceneId
	FlushVersion uint64
	TotalSize    uint32
	Index        uint32
	Payload      []byte
}

// MarshalBinary encodes the chunk as a big-endian fixed header followed by
// the payload.
func (c Chunk) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, HeaderSize+len(c.Payload))), nil
}

// AppendBinary appends the encoded chunk to b.
func (c Chunk) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(c.Scene))
	b = binary.BigEndian.AppendUint64(b, c.FlushVersion)
	b = binary.BigEndian.AppendUint32(b, c.TotalSize)
	b = binary.BigEndian.AppendUint32(b, c.Index)
	return append(b, c.Payload...)
}

// UnmarshalChunk decodes a chunk. The payload aliases b.
func UnmarshalChunk(b []byte) (Chunk, error) {
	if len(b) < HeaderSize {
		return Chunk{}, fmt.Errorf("%w: %d bytes", ErrShortChunk, len(b))
	}
	return Chunk{
		Scene:        types.SceneId(binary.BigEndian.Uint64(b[0:8])),
		FlushVersion: binary.BigEndian.Uint64(b[8:16]),
		TotalSize:    binary.BigEndian.Uint32(b[16:20]),
		Index:        binary.BigEndian.Uint32(b[20:24]),
		Payload:      b[HeaderSize:],
	}, nil
}

// Packetize encodes a flush and splits it into chunks carrying at most
// chunkSize payload bytes each. At least one chunk is always produced.
func Packetize(f scene.Flush, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, ErrChunkSize
	}

	body := EncodeFlush(f)
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFlushTooLarge, len(body))
	}

	count := (len(body) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}

	chunks := make([]Chunk, 0, count)
	for index := 0; index < count; index++ {
		start := index * chunkSize
		end := start + chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, Chunk{
			Scene:        f.Scene,
			FlushVersion: f.Version,
			TotalSize:    uint32(len(body)),
			Index:        uint32(index),
			Payload:      body[start:end],
		})
	}
	return chunks, nil
}

// Reassemble rebuilds a flush from a complete set of chunks given in any
// order.
func Reassemble(chunks []Chunk) (scene.Flush, error) {
	asm := NewAssembler()
	for _, c := range chunks {
		f, done, err := asm.Add(c)
		if err != nil {
			return scene.Flush{}, err
		}
		if done {
			return f, nil
		}
	}
	return scene.Flush{}, fmt.Errorf("%w: incomplete chunk set", ErrSizeMismatch)
}
