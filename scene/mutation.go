package scene

import (
	"fmt"

	"github.com/achilleasa/scenerelay/types"
)

// Op selects the kind of graph edit a Mutation describes.
type Op uint8

const (
	OpInvalid Op = iota
	OpAllocateNode
	OpReleaseNode
	OpAddChild
	OpRemoveChild
	OpSetProperty
	OpAllocateDataSlot
	OpReleaseDataSlot
	OpSetDataSlotValue
	OpSetResource
	OpReleaseResource
	opCount
)

var opNames = [...]string{
	OpInvalid:          "invalid",
	OpAllocateNode:     "allocate-node",
	OpReleaseNode:      "release-node",
	OpAddChild:         "add-child",
	OpRemoveChild:      "remove-child",
	OpSetProperty:      "set-property",
	OpAllocateDataSlot: "allocate-data-slot",
	OpReleaseDataSlot:  "release-data-slot",
	OpSetDataSlotValue: "set-data-slot-value",
	OpSetResource:      "set-resource",
	OpReleaseResource:  "release-resource",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Valid returns true if op names a known graph edit.
func (op Op) Valid() bool {
	return op > OpInvalid && op < opCount
}

// ValueKind tags the payload stored in a Value.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueFloat
	ValueVec4
	ValueMat4
	ValueTexture
)

func (k ValueKind) String() string {
	switch k {
	case ValueNone:
		return "none"
	case ValueFloat:
		return "float"
	case ValueVec4:
		return "vec4"
	case ValueMat4:
		return "mat4"
	case ValueTexture:
		return "texture"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a tagged union used for node properties and data slot contents.
// Only the field selected by Kind is meaningful.
type Value struct {
	Kind    ValueKind
	Float   float32
	Vec     types.Vec4
	Mat     types.Mat4
	Texture types.ResourceHash
}

func FloatValue(f float32) Value {
	return Value{Kind: ValueFloat, Float: f}
}

func Vec4Value(v types.Vec4) Value {
	return Value{Kind: ValueVec4, Vec: v}
}

func Mat4Value(m types.Mat4) Value {
	return Value{Kind: ValueMat4, Mat: m}
}

func TextureValue(h types.ResourceHash) Value {
	return Value{Kind: ValueTexture, Texture: h}
}

// Normalized returns a copy where every field not selected by Kind is zeroed
// so that values can be compared with ==.
func (v Value) Normalized() Value {
	switch v.Kind {
	case ValueFloat:
		return Value{Kind: v.Kind, Float: v.Float}
	case ValueVec4:
		return Value{Kind: v.Kind, Vec: v.Vec}
	case ValueMat4:
		return Value{Kind: v.Kind, Mat: v.Mat}
	case ValueTexture:
		return Value{Kind: v.Kind, Texture: v.Texture}
	}
	return Value{}
}

func (v Value) String() string {
	switch v.Kind {
	case ValueFloat:
		return fmt.Sprintf("%g", v.Float)
	case ValueVec4:
		return fmt.Sprintf("%v", v.Vec)
	case ValueMat4:
		return fmt.Sprintf("%v", v.Mat)
	case ValueTexture:
		return "tex:" + v.Texture.Short()
	}
	return "<none>"
}

// SlotKind defines the direction of a data slot.
type SlotKind uint8

const (
	SlotProvider SlotKind = iota + 1
	SlotConsumer
)

func (k SlotKind) String() string {
	switch k {
	case SlotProvider:
		return "provider"
	case SlotConsumer:
		return "consumer"
	}
	return fmt.Sprintf("slotkind(%d)", uint8(k))
}

// SlotType defines what a data slot carries. A link may only join slots
// with the same type.
type SlotType uint8

const (
	SlotTransformation SlotType = iota + 1
	SlotDataFloat
	SlotDataVec4
	SlotTexture
)

func (t SlotType) String() string {
	switch t {
	case SlotTransformation:
		return "transformation"
	case SlotDataFloat:
		return "data(float)"
	case SlotDataVec4:
		return "data(vec4)"
	case SlotTexture:
		return "texture"
	}
	return fmt.Sprintf("slottype(%d)", uint8(t))
}

// ValueKind returns the Value kind stored by slots of this type.
func (t SlotType) ValueKind() ValueKind {
	switch t {
	case SlotTransformation:
		return ValueMat4
	case SlotDataFloat:
		return ValueFloat
	case SlotDataVec4:
		return ValueVec4
	case SlotTexture:
		return ValueTexture
	}
	return ValueNone
}

// Mutation is a single graph edit. It is a flat tagged variant: Op selects
// which of the remaining fields are meaningful.
//
//	OpAllocateNode      Node
//	OpReleaseNode       Node
//	OpAddChild          Node (parent), Child
//	OpRemoveChild       Node (parent), Child
//	OpSetProperty       Node, Key, Value
//	OpAllocateDataSlot  Slot, SlotKind, SlotType
//	OpReleaseDataSlot   Slot
//	OpSetDataSlotValue  Slot, Value
//	OpSetResource       Node, Resource
//	OpReleaseResource   Node, Resource
type Mutation struct {
	Op       Op
	Node     types.NodeHandle
	Child    types.NodeHandle
	Key      string
	Value    Value
	Slot     types.DataSlotId
	SlotKind SlotKind
	SlotType SlotType
	Resource types.ResourceHash
}

func (m Mutation) String() string {
	switch m.Op {
	case OpAllocateNode, OpReleaseNode:
		return fmt.Sprintf("%s(%d)", m.Op, m.Node)
	case OpAddChild, OpRemoveChild:
		return fmt.Sprintf("%s(%d, %d)", m.Op, m.Node, m.Child)
	case OpSetProperty:
		return fmt.Sprintf("%s(%d, %s=%s)", m.Op, m.Node, m.Key, m.Value)
	case OpAllocateDataSlot:
		return fmt.Sprintf("%s(%d, %s, %s)", m.Op, m.Slot, m.SlotKind, m.SlotType)
	case OpReleaseDataSlot:
		return fmt.Sprintf("%s(%d)", m.Op, m.Slot)
	case OpSetDataSlotValue:
		return fmt.Sprintf("%s(%d, %s)", m.Op, m.Slot, m.Value)
	case OpSetResource, OpReleaseResource:
		return fmt.Sprintf("%s(%d, %s)", m.Op, m.Node, m.Resource.Short())
	}
	return m.Op.String()
}

// Constructors for each mutation kind.

func AllocateNode(node types.NodeHandle) Mutation {
	return Mutation{Op: OpAllocateNode, Node: node}
}

func ReleaseNode(node types.NodeHandle) Mutation {
	return Mutation{Op: OpReleaseNode, Node: node}
}

func AddChild(parent, child types.NodeHandle) Mutation {
	return Mutation{Op: OpAddChild, Node: parent, Child: child}
}

func RemoveChild(parent, child types.NodeHandle) Mutation {
	return Mutation{Op: OpRemoveChild, Node: parent, Child: child}
}

func SetProperty(node types.NodeHandle, key string, value Value) Mutation {
	return Mutation{Op: OpSetProperty, Node: node, Key: key, Value: value.Normalized()}
}

func AllocateDataSlot(slot types.DataSlotId, kind SlotKind, slotType SlotType) Mutation {
	return Mutation{Op: OpAllocateDataSlot, Slot: slot, SlotKind: kind, SlotType: slotType}
}

func ReleaseDataSlot(slot types.DataSlotId) Mutation {
	return Mutation{Op: OpReleaseDataSlot, Slot: slot}
}

func SetDataSlotValue(slot types.DataSlotId, value Value) Mutation {
	return Mutation{Op: OpSetDataSlotValue, Slot: slot, Value: value.Normalized()}
}

func SetResource(node types.NodeHandle, res types.ResourceHash) Mutation {
	return Mutation{Op: OpSetResource, Node: node, Resource: res}
}

func ReleaseResource(node types.NodeHandle, res types.ResourceHash) Mutation {
	return Mutation{Op: OpReleaseResource, Node: node, Resource: res}
}
