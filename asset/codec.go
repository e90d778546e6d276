package asset

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	resHash           protowire.Number = 1
	resKind           protowire.Number = 2
	resSize           protowire.Number = 3
	resCompressedSize protowire.Number = 4
	resCompressed     protowire.Number = 5
	resName           protowire.Number = 6
	resData           protowire.Number = 7
)

// Encode a resource (descriptor and stored payload) for transmission.
func EncodeResource(r *Resource) []byte {
	b := make([]byte, 0, 32+len(r.Name)+len(r.data))
	b = protowire.AppendTag(b, resHash, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Hash[:])
	b = protowire.AppendTag(b, resKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	b = protowire.AppendTag(b, resSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Size))
	if r.Compressed {
		b = protowire.AppendTag(b, resCompressedSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.CompressedSize))
		b = protowire.AppendTag(b, resCompressed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if r.Name != "" {
		b = protowire.AppendTag(b, resName, protowire.BytesType)
		b = protowire.AppendString(b, r.Name)
	}
	b = protowire.AppendTag(b, resData, protowire.BytesType)
	return protowire.AppendBytes(b, r.data)
}

// Decode a resource produced by EncodeResource. The stored payload is
// copied out of b.
func DecodeResource(b []byte) (*Resource, error) {
	var (
		desc   Descriptor
		name   string
		stored []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("asset: malformed resource: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == resKind || num == resSize || num == resCompressedSize || num == resCompressed):
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case resKind:
				desc.Kind = Kind(v)
			case resSize:
				desc.Size = uint32(v)
			case resCompressedSize:
				desc.CompressedSize = uint32(v)
			case resCompressed:
				desc.Compressed = v != 0
			}
		case typ == protowire.BytesType && (num == resHash || num == resName || num == resData):
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				break
			}
			switch num {
			case resHash:
				if len(v) != len(desc.Hash) {
					return nil, fmt.Errorf("asset: malformed resource: hash must be %d bytes; got %d", len(desc.Hash), len(v))
				}
				copy(desc.Hash[:], v)
			case resName:
				name = string(v)
			case resData:
				stored = append([]byte(nil), v...)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("asset: malformed resource: field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if desc.Hash.IsZero() {
		return nil, fmt.Errorf("asset: malformed resource: missing hash")
	}
	return FromStored(desc, name, stored)
}
