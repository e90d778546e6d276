package wire

import (
	"fmt"
	"math"

	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the flush body message.
const (
	flushScene     protowire.Number = 1
	flushSince     protowire.Number = 2
	flushVersion   protowire.Number = 3
	flushTag       protowire.Number = 4
	flushResync    protowire.Number = 5
	flushMutation  protowire.Number = 6
	flushResources protowire.Number = 7
	flushExpires   protowire.Number = 8
)

// Field numbers of the mutation message.
const (
	mutOp       protowire.Number = 1
	mutNode     protowire.Number = 2
	mutChild    protowire.Number = 3
	mutKey      protowire.Number = 4
	mutValue    protowire.Number = 5
	mutSlot     protowire.Number = 6
	mutSlotKind protowire.Number = 7
	mutSlotType protowire.Number = 8
	mutResource protowire.Number = 9
)

// Field numbers of the value message.
const (
	valKind    protowire.Number = 1
	valFloat   protowire.Number = 2
	valVec     protowire.Number = 3
	valMat     protowire.Number = 4
	valTexture protowire.Number = 5
)

// EncodeFlush serializes a flush body. Zero-valued fields are omitted so the
// output is deterministic for equal flushes.
func EncodeFlush(f scene.Flush) []byte {
	b := make([]byte, 0, 32+len(f.Mutations)*16+len(f.Resources)*18)
	b = appendVarintField(b, flushScene, uint64(f.Scene))
	b = appendVarintField(b, flushSince, f.Since)
	b = appendVarintField(b, flushVersion, f.Version)
	b = appendVarintField(b, flushTag, uint64(f.Tag))
	if f.Resync {
		b = appendVarintField(b, flushResync, 1)
	}
	if f.ExpiresAt > 0 {
		b = appendVarintField(b, flushExpires, uint64(f.ExpiresAt))
	}
	for _, m := range f.Mutations {
		b = protowire.AppendTag(b, flushMutation, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeMutation(m))
	}
	for _, h := range f.Resources {
		b = protowire.AppendTag(b, flushResources, protowire.BytesType)
		b = protowire.AppendBytes(b, h[:])
	}
	return b
}

// EncodeMutation serializes a single mutation.
func EncodeMutation(m scene.Mutation) []byte {
	b := make([]byte, 0, 16)
	b = appendVarintField(b, mutOp, uint64(m.Op))
	b = appendVarintField(b, mutNode, uint64(m.Node))
	b = appendVarintField(b, mutChild, uint64(m.Child))
	if m.Key != "" {
		b = protowire.AppendTag(b, mutKey, protowire.BytesType)
		b = protowire.AppendString(b, m.Key)
	}
	if m.Value.Kind != scene.ValueNone {
		b = protowire.AppendTag(b, mutValue, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeValue(m.Value))
	}
	b = appendVarintField(b, mutSlot, uint64(m.Slot))
	b = appendVarintField(b, mutSlotKind, uint64(m.SlotKind))
	b = appendVarintField(b, mutSlotType, uint64(m.SlotType))
	if !m.Resource.IsZero() {
		b = protowire.AppendTag(b, mutResource, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Resource[:])
	}
	return b
}

func encodeValue(v scene.Value) []byte {
	b := appendVarintField(nil, valKind, uint64(v.Kind))
	switch v.Kind {
	case scene.ValueFloat:
		b = protowire.AppendTag(b, valFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v.Float))
	case scene.ValueVec4:
		b = protowire.AppendTag(b, valVec, protowire.BytesType)
		b = protowire.AppendBytes(b, packFloats(v.Vec[:]))
	case scene.ValueMat4:
		b = protowire.AppendTag(b, valMat, protowire.BytesType)
		b = protowire.AppendBytes(b, packFloats(v.Mat[:]))
	case scene.ValueTexture:
		b = protowire.AppendTag(b, valTexture, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Texture[:])
	}
	return b
}

// DecodeFlush parses a flush body produced by EncodeFlush.
func DecodeFlush(b []byte) (scene.Flush, error) {
	var f scene.Flush
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == flushScene && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Scene = types.SceneId(v)
			return n, nil
		case num == flushSince && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Since = v
			return n, nil
		case num == flushVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Version = v
			return n, nil
		case num == flushTag && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Tag = types.VersionTag(v)
			return n, nil
		case num == flushResync && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Resync = v != 0
			return n, nil
		case num == flushExpires && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.ExpiresAt = int64(v)
			return n, nil
		case num == flushMutation && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			m, err := DecodeMutation(v)
			if err != nil {
				return 0, err
			}
			f.Mutations = append(f.Mutations, m)
			return n, nil
		case num == flushResources && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			h, err := toHash(v)
			if err != nil {
				return 0, err
			}
			f.Resources = append(f.Resources, h)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return scene.Flush{}, err
	}
	return f, nil
}

// DecodeMutation parses a mutation produced by EncodeMutation.
func DecodeMutation(b []byte) (scene.Mutation, error) {
	var m scene.Mutation
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case mutOp:
				m.Op = scene.Op(v)
			case mutNode:
				m.Node = types.NodeHandle(v)
			case mutChild:
				m.Child = types.NodeHandle(v)
			case mutSlot:
				m.Slot = types.DataSlotId(v)
			case mutSlotKind:
				m.SlotKind = scene.SlotKind(v)
			case mutSlotType:
				m.SlotType = scene.SlotType(v)
			}
			return n, nil
		}
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var err error
		switch num {
		case mutKey:
			m.Key = string(v)
		case mutValue:
			m.Value, err = decodeValue(v)
		case mutResource:
			m.Resource, err = toHash(v)
		}
		return n, err
	})
	if err != nil {
		return scene.Mutation{}, err
	}
	if !m.Op.Valid() {
		return scene.Mutation{}, fmt.Errorf("%w: unknown op %d", ErrMalformed, uint8(m.Op))
	}
	return m, nil
}

func decodeValue(b []byte) (scene.Value, error) {
	var v scene.Value
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == valKind && typ == protowire.VarintType:
			k, n := protowire.ConsumeVarint(b)
			v.Kind = scene.ValueKind(k)
			return n, nil
		case num == valFloat && typ == protowire.Fixed32Type:
			bits, n := protowire.ConsumeFixed32(b)
			v.Float = math.Float32frombits(bits)
			return n, nil
		case (num == valVec || num == valMat || num == valTexture) && typ == protowire.BytesType:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var err error
			switch num {
			case valVec:
				err = unpackFloats(payload, v.Vec[:])
			case valMat:
				err = unpackFloats(payload, v.Mat[:])
			case valTexture:
				v.Texture, err = toHash(payload)
			}
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return v, err
}

// walkFields iterates the top-level fields of a message. The visitor
// consumes one field value and returns the number of bytes it used; a
// negative count is a protowire parse error.
func walkFields(b []byte, visit func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func packFloats(values []float32) []byte {
	b := make([]byte, 0, len(values)*4)
	for _, f := range values {
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	return b
}

func unpackFloats(b []byte, dst []float32) error {
	if len(b) != len(dst)*4 {
		return fmt.Errorf("%w: expected %d packed floats; got %d bytes", ErrMalformed, len(dst), len(b))
	}
	for i := range dst {
		bits, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		dst[i] = math.Float32frombits(bits)
		b = b[n:]
	}
	return nil
}

func toHash(b []byte) (types.ResourceHash, error) {
	var h types.ResourceHash
	if len(b) != len(h) {
		return h, fmt.Errorf("%w: resource hash must be %d bytes; got %d", ErrMalformed, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}
