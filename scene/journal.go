package scene

import (
	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/slices"
)

// journal records undo steps while a batch of mutations is applied together
// with enough bookkeeping to compute the resulting Changes.
type journal struct {
	undo []func()

	// Scene-wide resource ref count observed before the first touch.
	resourceBefore map[types.ResourceHash]int
	resourceOrder  []types.ResourceHash

	// Slot existence before the first touch.
	slotExisted map[types.DataSlotId]bool
	slotOrder   []types.DataSlotId
	slotsUpdated map[types.DataSlotId]struct{}

	// Slots released and allocated again within the batch.
	slotReplaced map[types.DataSlotId]struct{}
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

// Undo every recorded step in reverse order.
func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func (j *journal) resourceTouched(res types.ResourceHash, before int) {
	if j.resourceBefore == nil {
		j.resourceBefore = make(map[types.ResourceHash]int)
	}
	if _, seen := j.resourceBefore[res]; seen {
		return
	}
	j.resourceBefore[res] = before
	j.resourceOrder = append(j.resourceOrder, res)
}

func (j *journal) slotTouched(id types.DataSlotId, existed bool) {
	if j.slotExisted == nil {
		j.slotExisted = make(map[types.DataSlotId]bool)
	}
	if _, seen := j.slotExisted[id]; seen {
		return
	}
	j.slotExisted[id] = existed
	j.slotOrder = append(j.slotOrder, id)
}

func (j *journal) slotAdded(id types.DataSlotId) {
	if existed, seen := j.slotExisted[id]; seen && existed {
		if j.slotReplaced == nil {
			j.slotReplaced = make(map[types.DataSlotId]struct{})
		}
		j.slotReplaced[id] = struct{}{}
	}
	j.slotTouched(id, false)
	j.markUpdated(id)
}

func (j *journal) slotRemoved(id types.DataSlotId) {
	j.slotTouched(id, true)
}

func (j *journal) slotUpdated(id types.DataSlotId) {
	j.slotTouched(id, true)
	j.markUpdated(id)
}

func (j *journal) markUpdated(id types.DataSlotId) {
	if j.slotsUpdated == nil {
		j.slotsUpdated = make(map[types.DataSlotId]struct{})
	}
	j.slotsUpdated[id] = struct{}{}
}

// Compute the net effect of the journaled mutations against the current
// scene state.
func (j *journal) changes(s *Scene) Changes {
	var c Changes
	for _, res := range j.resourceOrder {
		before, after := j.resourceBefore[res], s.resources[res]
		switch {
		case before == 0 && after > 0:
			c.AddedResources = append(c.AddedResources, res)
		case before > 0 && after == 0:
			c.RemovedResources = append(c.RemovedResources, res)
		}
	}

	for _, id := range j.slotOrder {
		ds, exists := s.slots[id]
		existed := j.slotExisted[id]
		switch {
		case !existed && exists:
			c.AddedSlots = append(c.AddedSlots, *ds)
		case existed && !exists:
			c.RemovedSlots = append(c.RemovedSlots, id)
		case existed && exists:
			if _, replaced := j.slotReplaced[id]; !replaced {
				break
			}
			c.RemovedSlots = append(c.RemovedSlots, id)
			c.AddedSlots = append(c.AddedSlots, *ds)
		}
		if _, ok := j.slotsUpdated[id]; ok && exists {
			c.UpdatedSlots = append(c.UpdatedSlots, id)
		}
	}
	slices.Sort(c.UpdatedSlots)
	return c
}
