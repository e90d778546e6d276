package scene

import (
	"errors"
	"testing"

	"github.com/achilleasa/scenerelay/types"
)

func TestMutationLogBuildFlush(t *testing.T) {
	l := NewMutationLog(7)
	l.Append(AllocateNode(1))
	l.Append(SetProperty(1, "alpha", FloatValue(0.5)))
	v1 := l.Seal(11)

	l.Append(AllocateNode(2))
	l.Append(SetResource(2, hashOf(3)))
	v2 := l.Seal(12)

	l.Append(AllocateNode(3))
	if l.Pending() != 1 {
		t.Fatalf("expected 1 pending mutation; got %d", l.Pending())
	}

	type spec struct {
		since   uint64
		expOps  []Op
		expRes  int
		expErr  error
		expVers uint64
	}
	specs := []spec{
		{0, []Op{OpAllocateNode, OpSetProperty, OpAllocateNode, OpSetResource}, 1, nil, v2},
		{v1, []Op{OpAllocateNode, OpSetResource}, 1, nil, v2},
		{v2, []Op{}, 0, nil, v2},
		{v2 + 1, nil, 0, ErrUnknownVersion, 0},
	}

	for index, s := range specs {
		f, err := l.BuildFlush(s.since)
		if !errors.Is(err, s.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
		if err != nil {
			continue
		}
		if f.Version != s.expVers || f.Since != s.since || f.Scene != 7 || f.Tag != 12 {
			t.Fatalf("[spec %d] unexpected flush header: %s", index, &f)
		}
		if len(f.Mutations) != len(s.expOps) {
			t.Fatalf("[spec %d] expected %d mutations; got %d", index, len(s.expOps), len(f.Mutations))
		}
		for i, op := range s.expOps {
			if f.Mutations[i].Op != op {
				t.Fatalf("[spec %d] expected mutation %d to be %s; got %s", index, i, op, f.Mutations[i].Op)
			}
		}
		if len(f.Resources) != s.expRes {
			t.Fatalf("[spec %d] expected %d referenced resources; got %d", index, s.expRes, len(f.Resources))
		}
	}
}

func TestMutationLogFlushDoesNotAlias(t *testing.T) {
	l := NewMutationLog(1)
	l.Append(AllocateNode(1))
	l.Seal(0)

	f, _ := l.BuildFlush(0)
	f.Mutations[0].Node = 99

	f2, _ := l.BuildFlush(0)
	if f2.Mutations[0].Node != 1 {
		t.Fatal("expected log contents to be unaffected by flush edits")
	}
}

func TestMutationLogCompaction(t *testing.T) {
	l := NewMutationLog(1)
	for i := 0; i < 10; i++ {
		l.Append(AllocateNode(types.NodeHandle(i)))
		l.Seal(0)
	}

	if err := l.Compact(4); err != nil {
		t.Fatal(err)
	}
	if l.BaseVersion() != 4 || l.Len() != 6 {
		t.Fatalf("expected base version 4 with 6 retained entries; got %d / %d", l.BaseVersion(), l.Len())
	}

	if _, err := l.BuildFlush(3); !errors.Is(err, ErrVersionCompacted) {
		t.Fatalf("expected ErrVersionCompacted; got %v", err)
	}

	f, err := l.BuildFlush(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Mutations) != 6 || f.Mutations[0].Node != 4 {
		t.Fatalf("expected 6 mutations starting at node 4; got %v", f.Mutations)
	}

	// Appends keep working after compaction.
	l.Append(AllocateNode(10))
	v := l.Seal(0)
	f, err = l.BuildFlush(v - 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Mutations) != 1 || f.Mutations[0].Node != 10 {
		t.Fatalf("expected a single mutation for node 10; got %v", f.Mutations)
	}

	if err = l.Compact(99); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected ErrUnknownVersion; got %v", err)
	}
}

func TestMutationLogDiscardPending(t *testing.T) {
	l := NewMutationLog(1)
	l.Append(AllocateNode(1))
	l.Seal(0)
	l.Append(AllocateNode(2))
	l.Append(AllocateNode(3))

	if pending := l.PendingMutations(); len(pending) != 2 || pending[0].Node != 2 {
		t.Fatalf("expected 2 pending mutations starting at node 2; got %v", pending)
	}
	if dropped := l.DiscardPending(); dropped != 2 {
		t.Fatalf("expected 2 dropped mutations; got %d", dropped)
	}
	if l.Pending() != 0 || l.Len() != 1 {
		t.Fatalf("expected only the sealed mutation to remain; got %d pending / %d retained", l.Pending(), l.Len())
	}

	l.Append(AllocateNode(4))
	v := l.Seal(0)
	f, err := l.BuildFlush(v - 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Mutations) != 1 || f.Mutations[0].Node != 4 {
		t.Fatalf("expected a single mutation for node 4; got %v", f.Mutations)
	}
}

func hashOf(b byte) types.ResourceHash {
	var h types.ResourceHash
	for i := range h {
		h[i] = b
	}
	return h
}
