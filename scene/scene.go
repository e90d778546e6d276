package scene

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type node struct {
	parent    types.NodeHandle
	hasParent bool
	children  []types.NodeHandle
	props     map[string]Value
	resources map[types.ResourceHash]int
}

// DataSlot is a typed value endpoint owned by a scene.
type DataSlot struct {
	Id    types.DataSlotId
	Kind  SlotKind
	Type  SlotType
	Value Value

	// Set once the slot value has been written by a mutation.
	written bool

	// Value received through a link; overrides Value while set.
	linked    Value
	hasLinked bool
}

// Effective value of the slot.
func (ds *DataSlot) Current() Value {
	if ds.hasLinked {
		return ds.linked
	}
	return ds.Value
}

// Linked returns true if the slot value is currently overridden by a link.
func (ds *DataSlot) Linked() bool {
	return ds.hasLinked
}

// Changes summarizes the side effects of applying a flush that other
// renderer components need to react to.
type Changes struct {
	// Resources whose scene-wide reference count moved 0->1 or 1->0.
	AddedResources   []types.ResourceHash
	RemovedResources []types.ResourceHash

	AddedSlots   []DataSlot
	RemovedSlots []types.DataSlotId

	// Slots whose own value was written.
	UpdatedSlots []types.DataSlotId
}

// Empty returns true if the changes carry nothing to react to.
func (c *Changes) Empty() bool {
	return len(c.AddedResources) == 0 && len(c.RemovedResources) == 0 &&
		len(c.AddedSlots) == 0 && len(c.RemovedSlots) == 0 && len(c.UpdatedSlots) == 0
}

// Scene is the materialized state produced by applying mutations.
type Scene struct {
	id      types.SceneId
	version uint64
	tag     types.VersionTag

	nodes     map[types.NodeHandle]*node
	slots     map[types.DataSlotId]*DataSlot
	resources map[types.ResourceHash]int
}

// Create an empty scene at version 0.
func New(id types.SceneId) *Scene {
	return &Scene{
		id:        id,
		nodes:     make(map[types.NodeHandle]*node),
		slots:     make(map[types.DataSlotId]*DataSlot),
		resources: make(map[types.ResourceHash]int),
	}
}

func (s *Scene) Id() types.SceneId { return s.id }
func (s *Scene) Version() uint64 { return s.version }
func (s *Scene) Tag() types.VersionTag { return s.tag }
func (s *Scene) NodeCount() int { return len(s.nodes) }
func (s *Scene) SlotCount() int { return len(s.slots) }
func (s *Scene) HasNode(h types.NodeHandle) bool {
	_, ok := s.nodes[h]
	return ok
}

// Property returns a node property.
func (s *Scene) Property(h types.NodeHandle, key string) (Value, bool) {
	n, ok := s.nodes[h]
	if !ok {
		return Value{}, false
	}
	v, ok := n.props[key]
	return v, ok
}

// Children returns a copy of the ordered child list of a node.
func (s *Scene) Children(h types.NodeHandle) []types.NodeHandle {
	n, ok := s.nodes[h]
	if !ok {
		return nil
	}
	return append([]types.NodeHandle(nil), n.children...)
}

// Parent returns the parent of a node if it has one.
func (s *Scene) Parent(h types.NodeHandle) (types.NodeHandle, bool) {
	n, ok := s.nodes[h]
	if !ok || !n.hasParent {
		return 0, false
	}
	return n.parent, true
}

// Resources returns the resources referenced by the scene sorted by hash.
func (s *Scene) Resources() []types.ResourceHash {
	out := maps.Keys(s.resources)
	sortHashes(out)
	return out
}

// ResourceRefs returns how many node references a resource has in this scene.
func (s *Scene) ResourceRefs(h types.ResourceHash) int {
	return s.resources[h]
}

// NodeResources returns the resources referenced by a node sorted by hash.
func (s *Scene) NodeResources(h types.NodeHandle) []types.ResourceHash {
	n, ok := s.nodes[h]
	if !ok {
		return nil
	}
	out := maps.Keys(n.resources)
	sortHashes(out)
	return out
}

// Slot returns a copy of a data slot.
func (s *Scene) Slot(id types.DataSlotId) (DataSlot, bool) {
	ds, ok := s.slots[id]
	if !ok {
		return DataSlot{}, false
	}
	return *ds, true
}

// Slots returns copies of all data slots sorted by id.
func (s *Scene) Slots() []DataSlot {
	out := make([]DataSlot, 0, len(s.slots))
	for _, ds := range s.slots {
		out = append(out, *ds)
	}
	slices.SortFunc(out, func(a, b DataSlot) int { return int(a.Id) - int(b.Id) })
	return out
}

// SlotValue returns the effective value of a data slot.
func (s *Scene) SlotValue(id types.DataSlotId) (Value, bool) {
	ds, ok := s.slots[id]
	if !ok {
		return Value{}, false
	}
	return ds.Current(), true
}

// SetLinkedValue overrides a consumer slot value with a value received
// through a link. Linked values are renderer-local and never snapshotted.
func (s *Scene) SetLinkedValue(id types.DataSlotId, v Value) error {
	ds, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, id)
	}
	if ds.Kind != SlotConsumer {
		return fmt.Errorf("%w: slot %d is a %s", ErrInvalidMutation, id, ds.Kind)
	}
	if v.Kind != ds.Type.ValueKind() {
		return fmt.Errorf("%w: slot %d expects %s; got %s", ErrValueKind, id, ds.Type.ValueKind(), v.Kind)
	}
	ds.linked = v.Normalized()
	ds.hasLinked = true
	return nil
}

// ClearLinkedValue reverts a consumer slot to its own value.
func (s *Scene) ClearLinkedValue(id types.DataSlotId) {
	if ds, ok := s.slots[id]; ok {
		ds.linked = Value{}
		ds.hasLinked = false
	}
}

// Apply a single mutation. A failed mutation leaves the scene unchanged.
func (s *Scene) Apply(m Mutation) error {
	j := newJournal()
	if err := s.apply(m, j); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// ApplyFlush applies every mutation in f or none of them. Delta flushes must
// continue from the current version; resync flushes replace the scene state.
func (s *Scene) ApplyFlush(f Flush) (Changes, error) {
	if f.Scene != s.id {
		return Changes{}, fmt.Errorf("%w: %s != %s", ErrWrongScene, f.Scene, s.id)
	}
	if f.Resync {
		return s.replace(f)
	}
	if f.Since != s.version {
		return Changes{}, fmt.Errorf("%w: at v%d, flush continues from v%d", ErrVersionGap, s.version, f.Since)
	}

	j := newJournal()
	for index, m := range f.Mutations {
		if err := s.apply(m, j); err != nil {
			j.rollback()
			return Changes{}, fmt.Errorf("scene: mutation %d (%s) of %s: %w", index, m, &f, err)
		}
	}

	s.version = f.Version
	s.tag = f.Tag
	return j.changes(s), nil
}

// Snapshot returns a mutation list that recreates the current scene state
// when applied to an empty scene. The output is deterministic.
func (s *Scene) Snapshot() []Mutation {
	out := make([]Mutation, 0, len(s.nodes)*2+len(s.slots)*2)

	handles := maps.Keys(s.nodes)
	slices.Sort(handles)

	for _, h := range handles {
		out = append(out, AllocateNode(h))
		n := s.nodes[h]
		keys := maps.Keys(n.props)
		slices.Sort(keys)
		for _, key := range keys {
			out = append(out, SetProperty(h, key, n.props[key]))
		}
	}
	for _, h := range handles {
		for _, child := range s.nodes[h].children {
			out = append(out, AddChild(h, child))
		}
	}
	for _, h := range handles {
		n := s.nodes[h]
		hashes := maps.Keys(n.resources)
		sortHashes(hashes)
		for _, res := range hashes {
			for i := 0; i < n.resources[res]; i++ {
				out = append(out, SetResource(h, res))
			}
		}
	}

	slotIds := maps.Keys(s.slots)
	slices.Sort(slotIds)
	for _, id := range slotIds {
		ds := s.slots[id]
		out = append(out, AllocateDataSlot(id, ds.Kind, ds.Type))
		if ds.written {
			out = append(out, SetDataSlotValue(id, ds.Value))
		}
	}
	return out
}

// SnapshotFlush wraps Snapshot into a resync flush at the current version.
func (s *Scene) SnapshotFlush() Flush {
	mutations := s.Snapshot()
	return Flush{
		Scene:     s.id,
		Since:     0,
		Version:   s.version,
		Tag:       s.tag,
		Resync:    true,
		Mutations: mutations,
		Resources: referencedResources(mutations),
	}
}

// Build the resync state in a scratch scene and swap it in on success.
func (s *Scene) replace(f Flush) (Changes, error) {
	fresh := New(s.id)
	j := newJournal()
	for index, m := range f.Mutations {
		if err := fresh.apply(m, j); err != nil {
			return Changes{}, fmt.Errorf("scene: mutation %d (%s) of %s: %w", index, m, &f, err)
		}
	}

	var changes Changes
	for h := range s.resources {
		if fresh.resources[h] == 0 {
			changes.RemovedResources = append(changes.RemovedResources, h)
		}
	}
	for h := range fresh.resources {
		if s.resources[h] == 0 {
			changes.AddedResources = append(changes.AddedResources, h)
		}
	}
	sortHashes(changes.AddedResources)
	sortHashes(changes.RemovedResources)

	for id, old := range s.slots {
		ds, ok := fresh.slots[id]
		if !ok || ds.Kind != old.Kind || ds.Type != old.Type {
			changes.RemovedSlots = append(changes.RemovedSlots, id)
			continue
		}
		ds.linked, ds.hasLinked = old.linked, old.hasLinked
	}
	for id, ds := range fresh.slots {
		if old, ok := s.slots[id]; !ok || ds.Kind != old.Kind || ds.Type != old.Type {
			changes.AddedSlots = append(changes.AddedSlots, *ds)
		}
		changes.UpdatedSlots = append(changes.UpdatedSlots, id)
	}
	slices.Sort(changes.RemovedSlots)
	slices.Sort(changes.UpdatedSlots)
	slices.SortFunc(changes.AddedSlots, func(a, b DataSlot) int { return int(a.Id) - int(b.Id) })

	s.nodes = fresh.nodes
	s.slots = fresh.slots
	s.resources = fresh.resources
	s.version = f.Version
	s.tag = f.Tag
	return changes, nil
}

func (s *Scene) apply(m Mutation, j *journal) error {
	switch m.Op {
	case OpAllocateNode:
		if _, exists := s.nodes[m.Node]; exists {
			return fmt.Errorf("%w: %d", ErrNodeExists, m.Node)
		}
		s.nodes[m.Node] = &node{
			props:     make(map[string]Value),
			resources: make(map[types.ResourceHash]int),
		}
		j.record(func() { delete(s.nodes, m.Node) })
	case OpReleaseNode:
		return s.releaseNode(m.Node, j)
	case OpAddChild:
		return s.addChild(m.Node, m.Child, j)
	case OpRemoveChild:
		return s.removeChild(m.Node, m.Child, j)
	case OpSetProperty:
		n, err := s.node(m.Node)
		if err != nil {
			return err
		}
		prev, existed := n.props[m.Key]
		if m.Value.Kind == ValueNone {
			delete(n.props, m.Key)
		} else {
			n.props[m.Key] = m.Value.Normalized()
		}
		j.record(func() {
			if existed {
				n.props[m.Key] = prev
			} else {
				delete(n.props, m.Key)
			}
		})
	case OpAllocateDataSlot:
		if _, exists := s.slots[m.Slot]; exists {
			return fmt.Errorf("%w: %d", ErrSlotExists, m.Slot)
		}
		if m.SlotKind != SlotProvider && m.SlotKind != SlotConsumer {
			return fmt.Errorf("%w: slot kind %s", ErrInvalidMutation, m.SlotKind)
		}
		if m.SlotType.ValueKind() == ValueNone {
			return fmt.Errorf("%w: slot type %s", ErrInvalidMutation, m.SlotType)
		}
		ds := &DataSlot{Id: m.Slot, Kind: m.SlotKind, Type: m.SlotType, Value: Value{Kind: m.SlotType.ValueKind()}}
		s.slots[m.Slot] = ds
		j.slotAdded(m.Slot)
		j.record(func() { delete(s.slots, m.Slot) })
	case OpReleaseDataSlot:
		ds, ok := s.slots[m.Slot]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownSlot, m.Slot)
		}
		delete(s.slots, m.Slot)
		j.slotRemoved(m.Slot)
		j.record(func() { s.slots[m.Slot] = ds })
	case OpSetDataSlotValue:
		ds, ok := s.slots[m.Slot]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownSlot, m.Slot)
		}
		if m.Value.Kind != ds.Type.ValueKind() {
			return fmt.Errorf("%w: slot %d expects %s; got %s", ErrValueKind, m.Slot, ds.Type.ValueKind(), m.Value.Kind)
		}
		prev, wasWritten := ds.Value, ds.written
		ds.Value = m.Value.Normalized()
		ds.written = true
		j.slotUpdated(m.Slot)
		j.record(func() { ds.Value, ds.written = prev, wasWritten })
	case OpSetResource:
		n, err := s.node(m.Node)
		if err != nil {
			return err
		}
		if m.Resource.IsZero() {
			return fmt.Errorf("%w: zero resource hash", ErrInvalidMutation)
		}
		s.refNodeResource(n, m.Resource, 1, j)
	case OpReleaseResource:
		n, err := s.node(m.Node)
		if err != nil {
			return err
		}
		if n.resources[m.Resource] == 0 {
			return fmt.Errorf("%w: node %d, resource %s", ErrUnknownResource, m.Node, m.Resource.Short())
		}
		s.refNodeResource(n, m.Resource, -1, j)
	default:
		return fmt.Errorf("%w: op %s", ErrInvalidMutation, m.Op)
	}
	return nil
}

func (s *Scene) node(h types.NodeHandle) (*node, error) {
	n, ok := s.nodes[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	return n, nil
}

func (s *Scene) releaseNode(h types.NodeHandle, j *journal) error {
	n, err := s.node(h)
	if err != nil {
		return err
	}

	if n.hasParent {
		if err := s.removeChild(n.parent, h, j); err != nil {
			return err
		}
	}
	for len(n.children) > 0 {
		if err := s.removeChild(h, n.children[len(n.children)-1], j); err != nil {
			return err
		}
	}
	for res, count := range n.resources {
		s.refNodeResource(n, res, -count, j)
	}

	delete(s.nodes, h)
	j.record(func() { s.nodes[h] = n })
	return nil
}

func (s *Scene) addChild(parent, child types.NodeHandle, j *journal) error {
	p, err := s.node(parent)
	if err != nil {
		return err
	}
	c, err := s.node(child)
	if err != nil {
		return err
	}
	if parent == child || c.hasParent {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidParent, parent, child)
	}
	// Reject if parent is a descendant of child.
	for cur := p; cur.hasParent; {
		if cur.parent == child {
			return fmt.Errorf("%w: %d is a descendant of %d", ErrInvalidParent, parent, child)
		}
		cur = s.nodes[cur.parent]
	}

	p.children = append(p.children, child)
	c.parent, c.hasParent = parent, true
	j.record(func() {
		p.children = p.children[:len(p.children)-1]
		c.parent, c.hasParent = 0, false
	})
	return nil
}

func (s *Scene) removeChild(parent, child types.NodeHandle, j *journal) error {
	p, err := s.node(parent)
	if err != nil {
		return err
	}
	c, err := s.node(child)
	if err != nil {
		return err
	}
	if !c.hasParent || c.parent != parent {
		return fmt.Errorf("%w: %d is not a child of %d", ErrInvalidParent, child, parent)
	}

	index := slices.Index(p.children, child)
	p.children = slices.Delete(p.children, index, index+1)
	c.parent, c.hasParent = 0, false
	j.record(func() {
		p.children = slices.Insert(p.children, index, child)
		c.parent, c.hasParent = parent, true
	})
	return nil
}

func (s *Scene) refNodeResource(n *node, res types.ResourceHash, delta int, j *journal) {
	j.resourceTouched(res, s.resources[res])

	n.resources[res] += delta
	if n.resources[res] == 0 {
		delete(n.resources, res)
	}
	s.resources[res] += delta
	if s.resources[res] == 0 {
		delete(s.resources, res)
	}

	j.record(func() {
		n.resources[res] -= delta
		if n.resources[res] == 0 {
			delete(n.resources, res)
		}
		s.resources[res] -= delta
		if s.resources[res] == 0 {
			delete(s.resources, res)
		}
	})
}

func sortHashes(hashes []types.ResourceHash) {
	slices.SortFunc(hashes, func(a, b types.ResourceHash) int { return bytes.Compare(a[:], b[:]) })
}
