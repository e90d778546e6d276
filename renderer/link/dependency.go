package link

import (
	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DependencyChecker keeps the scene-level provider->consumer graph acyclic.
//
// A topological order of all scenes taking part in a dependency is
// maintained incrementally (Pearce-Kelly): adding an edge that agrees with
// the current order is O(1); otherwise only the scenes between the two
// endpoints in the order are visited and renumbered. Removing an edge never
// invalidates the order.
type DependencyChecker struct {
	// Edge multiplicity; several slot links may join the same two scenes.
	out map[types.SceneId]map[types.SceneId]int
	in  map[types.SceneId]map[types.SceneId]int

	ord     map[types.SceneId]int
	nextOrd int
}

// Create an empty dependency checker.
func NewDependencyChecker() *DependencyChecker {
	return &DependencyChecker{
		out: make(map[types.SceneId]map[types.SceneId]int),
		in:  make(map[types.SceneId]map[types.SceneId]int),
		ord: make(map[types.SceneId]int),
	}
}

// AddDependency records that consumer depends on provider. It returns false
// and leaves the graph untouched if the dependency would close a cycle.
func (dc *DependencyChecker) AddDependency(provider, consumer types.SceneId) bool {
	if provider == consumer {
		return false
	}
	if dc.out[provider][consumer] > 0 {
		dc.out[provider][consumer]++
		dc.in[consumer][provider]++
		return true
	}

	dc.addNode(provider)
	dc.addNode(consumer)

	lb, ub := dc.ord[consumer], dc.ord[provider]
	if lb < ub {
		forward, ok := dc.collectForward(consumer, provider, ub)
		if !ok {
			dc.pruneNode(provider)
			dc.pruneNode(consumer)
			return false
		}
		backward := dc.collectBackward(provider, lb)
		dc.reorder(backward, forward)
	}

	if dc.out[provider] == nil {
		dc.out[provider] = make(map[types.SceneId]int)
	}
	if dc.in[consumer] == nil {
		dc.in[consumer] = make(map[types.SceneId]int)
	}
	dc.out[provider][consumer] = 1
	dc.in[consumer][provider] = 1
	return true
}

// RemoveDependency drops one provider->consumer dependency.
func (dc *DependencyChecker) RemoveDependency(provider, consumer types.SceneId) {
	count := dc.out[provider][consumer]
	if count == 0 {
		return
	}
	if count > 1 {
		dc.out[provider][consumer]--
		dc.in[consumer][provider]--
		return
	}
	delete(dc.out[provider], consumer)
	delete(dc.in[consumer], provider)
	dc.pruneNode(provider)
	dc.pruneNode(consumer)
}

// RemoveScene drops every dependency the scene takes part in.
func (dc *DependencyChecker) RemoveScene(id types.SceneId) {
	for consumer := range dc.out[id] {
		delete(dc.in[consumer], id)
		dc.pruneNode(consumer)
	}
	for provider := range dc.in[id] {
		delete(dc.out[provider], id)
		dc.pruneNode(provider)
	}
	delete(dc.out, id)
	delete(dc.in, id)
	delete(dc.ord, id)
}

// HasDependencyAsConsumer returns true if the scene consumes data from any
// other scene.
func (dc *DependencyChecker) HasDependencyAsConsumer(id types.SceneId) bool {
	return len(dc.in[id]) > 0
}

// ScenesInOrder returns every scene taking part in a dependency so that
// providers always precede their consumers.
func (dc *DependencyChecker) ScenesInOrder() []types.SceneId {
	scenes := maps.Keys(dc.ord)
	slices.SortFunc(scenes, dc.byOrd)
	return scenes
}

func (dc *DependencyChecker) byOrd(a, b types.SceneId) int {
	return dc.ord[a] - dc.ord[b]
}

func (dc *DependencyChecker) IsEmpty() bool {
	return len(dc.ord) == 0
}

func (dc *DependencyChecker) addNode(id types.SceneId) {
	if _, ok := dc.ord[id]; ok {
		return
	}
	dc.ord[id] = dc.nextOrd
	dc.nextOrd++
}

// Scenes without edges leave the order.
func (dc *DependencyChecker) pruneNode(id types.SceneId) {
	if len(dc.out[id]) != 0 || len(dc.in[id]) != 0 {
		return
	}
	delete(dc.out, id)
	delete(dc.in, id)
	delete(dc.ord, id)
}

// Forward search from start over scenes ordered at or before ub. Reaching
// target means the new edge closes a cycle.
func (dc *DependencyChecker) collectForward(start, target types.SceneId, ub int) ([]types.SceneId, bool) {
	visited := map[types.SceneId]bool{start: true}
	stack := []types.SceneId{start}
	var found []types.SceneId
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		found = append(found, cur)
		for next := range dc.out[cur] {
			if next == target {
				return nil, false
			}
			if !visited[next] && dc.ord[next] < ub {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return found, true
}

// Backward search from start over scenes ordered after lb.
func (dc *DependencyChecker) collectBackward(start types.SceneId, lb int) []types.SceneId {
	visited := map[types.SceneId]bool{start: true}
	stack := []types.SceneId{start}
	var found []types.SceneId
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		found = append(found, cur)
		for prev := range dc.in[cur] {
			if !visited[prev] && dc.ord[prev] > lb {
				visited[prev] = true
				stack = append(stack, prev)
			}
		}
	}
	return found
}

// Reassign the order slots held by the affected scenes so that every
// backward scene precedes every forward scene while keeping the relative
// order inside each set.
func (dc *DependencyChecker) reorder(backward, forward []types.SceneId) {
	slices.SortFunc(backward, dc.byOrd)
	slices.SortFunc(forward, dc.byOrd)

	affected := append(append([]types.SceneId(nil), backward...), forward...)
	slots := make([]int, 0, len(affected))
	for _, id := range affected {
		slots = append(slots, dc.ord[id])
	}
	slices.Sort(slots)

	for i, id := range affected {
		dc.ord[id] = slots[i]
	}
}
