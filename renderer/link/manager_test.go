package link

import (
	"errors"
	"reflect"
	"testing"

	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
)

const (
	providerSlot types.DataSlotId = 1
	consumerSlot types.DataSlotId = 2
)

func ref(id types.SceneId, slot types.DataSlotId) SlotRef {
	return SlotRef{Scene: id, Slot: slot}
}

// Each scene gets a float provider and a float consumer slot.
func newTestManager(t *testing.T, scenes ...types.SceneId) *Manager {
	m := NewManager()
	for _, id := range scenes {
		if err := m.AddSlot(ref(id, providerSlot), scene.SlotProvider, scene.SlotDataFloat); err != nil {
			t.Fatal(err)
		}
		if err := m.AddSlot(ref(id, consumerSlot), scene.SlotConsumer, scene.SlotDataFloat); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestCycleRejectionLeavesLinksUntouched(t *testing.T) {
	const a, b, c = 1, 2, 3
	m := newTestManager(t, a, b, c)

	if err := m.CreateDataLink(ref(a, providerSlot), ref(b, consumerSlot)); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateDataLink(ref(b, providerSlot), ref(c, consumerSlot)); err != nil {
		t.Fatal(err)
	}
	before := m.Links()

	err := m.CreateDataLink(ref(c, providerSlot), ref(a, consumerSlot))
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != ReasonCycle || !errors.Is(err, ErrCycle) {
		t.Fatalf("expected a cycle rejection; got %v", err)
	}

	if !reflect.DeepEqual(before, m.Links()) {
		t.Fatalf("expected links to be untouched; got %v", m.Links())
	}
	if _, linked := m.ProviderOf(ref(a, consumerSlot)); linked {
		t.Fatal("expected consumer slot of scene a to stay unlinked")
	}
	if m.Dependencies().HasDependencyAsConsumer(a) {
		t.Fatal("expected dependency graph to be untouched")
	}
}

func TestLinkRejections(t *testing.T) {
	type spec struct {
		provider SlotRef
		consumer SlotRef
		exp      Reason
	}

	m := newTestManager(t, 1, 2, 3)
	m.AddSlot(ref(1, 10), scene.SlotProvider, scene.SlotTransformation)
	if err := m.CreateDataLink(ref(1, providerSlot), ref(2, consumerSlot)); err != nil {
		t.Fatal(err)
	}

	specs := []spec{
		{ref(1, 10), ref(3, consumerSlot), ReasonTypeMismatch},
		{ref(3, providerSlot), ref(2, consumerSlot), ReasonSlotOccupied},
		{ref(1, providerSlot), ref(1, consumerSlot), ReasonCycle},
		{ref(2, providerSlot), ref(1, consumerSlot), ReasonCycle},
		{ref(9, providerSlot), ref(3, consumerSlot), ReasonUnknownSlot},
		{ref(1, providerSlot), ref(3, 99), ReasonUnknownSlot},
		{ref(3, consumerSlot), ref(1, providerSlot), ReasonSlotKind},
	}

	for index, s := range specs {
		err := m.CreateDataLink(s.provider, s.consumer)
		var rejected *RejectedError
		if !errors.As(err, &rejected) || rejected.Reason != s.exp {
			t.Fatalf("[spec %d] expected rejection %s; got %v", index, s.exp, err)
		}
		if len(m.Links()) != 1 {
			t.Fatalf("[spec %d] expected the existing link to be the only one; got %v", index, m.Links())
		}
	}
}

func TestRemoveDataLink(t *testing.T) {
	m := newTestManager(t, 1, 2)
	if _, err := m.RemoveDataLink(ref(2, consumerSlot)); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked; got %v", err)
	}

	m.CreateDataLink(ref(1, providerSlot), ref(2, consumerSlot))
	provider, err := m.RemoveDataLink(ref(2, consumerSlot))
	if err != nil || provider != ref(1, providerSlot) {
		t.Fatalf("expected provider %s; got %s, %v", ref(1, providerSlot), provider, err)
	}

	// The reverse direction is valid once the link is gone.
	if err = m.CreateDataLink(ref(2, providerSlot), ref(1, consumerSlot)); err != nil {
		t.Fatalf("expected reverse link to be accepted; got %v", err)
	}
}

func TestRemoveSceneAndSlotPurgeLinks(t *testing.T) {
	m := newTestManager(t, 1, 2, 3)
	m.CreateDataLink(ref(1, providerSlot), ref(2, consumerSlot))
	m.CreateDataLink(ref(2, providerSlot), ref(3, consumerSlot))

	removed := m.RemoveSlot(ref(3, consumerSlot))
	if len(removed) != 1 || removed[0].Consumer != ref(3, consumerSlot) {
		t.Fatalf("expected link to slot 3:2 to be removed; got %v", removed)
	}

	removed = m.RemoveScene(2)
	if len(removed) != 1 || removed[0].Provider != ref(1, providerSlot) {
		t.Fatalf("expected link into scene 2 to be removed; got %v", removed)
	}
	if m.HasSlot(ref(2, providerSlot)) || len(m.Links()) != 0 {
		t.Fatalf("expected scene 2 to be purged; links left: %v", m.Links())
	}
	if !m.Dependencies().IsEmpty() {
		t.Fatalf("expected no scene dependencies; got %v", m.Dependencies().ScenesInOrder())
	}
}

func TestPropagate(t *testing.T) {
	const a, b, c = 1, 2, 3
	m := newTestManager(t, a, b, c)
	m.CreateDataLink(ref(b, providerSlot), ref(c, consumerSlot))
	m.CreateDataLink(ref(a, providerSlot), ref(b, consumerSlot))

	values := map[SlotRef]scene.Value{
		ref(a, providerSlot): scene.FloatValue(1),
		ref(b, providerSlot): scene.FloatValue(2),
	}
	readyScenes := map[types.SceneId]bool{a: true, b: true, c: false}

	read := func(r SlotRef) (scene.Value, bool) {
		v, ok := values[r]
		return v, ok
	}
	write := func(r SlotRef, v scene.Value) {
		values[r] = v
	}
	ready := func(id types.SceneId) bool { return readyScenes[id] }

	if written := m.Propagate(read, write, ready); written != 1 {
		t.Fatalf("expected a single value to be written; got %d", written)
	}
	if values[ref(b, consumerSlot)] != scene.FloatValue(1) {
		t.Fatalf("expected b to receive the value of a")
	}
	if _, ok := values[ref(c, consumerSlot)]; ok {
		t.Fatal("expected no propagation into a scene that is not ready")
	}

	readyScenes[c] = true
	if written := m.Propagate(read, write, ready); written != 2 {
		t.Fatalf("expected two values to be written; got %d", written)
	}
	if values[ref(c, consumerSlot)] != scene.FloatValue(2) {
		t.Fatalf("expected c to receive the value of b")
	}
}
