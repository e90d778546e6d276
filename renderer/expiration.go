package renderer

import (
	"time"

	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type expiration struct {
	// Expiration of the last applied flush and of the content that was
	// drawn last. Zero values are not monitored.
	applied  time.Time
	rendered time.Time

	expired bool
}

// expirationMonitor reports scenes whose applied, drawn or queued content
// outlived the expiration timestamp set by the producer.
type expirationMonitor struct {
	scenes map[types.SceneId]*expiration
}

func newExpirationMonitor() *expirationMonitor {
	return &expirationMonitor{
		scenes: make(map[types.SceneId]*expiration),
	}
}

func (m *expirationMonitor) get(id types.SceneId) *expiration {
	e, ok := m.scenes[id]
	if !ok {
		e = &expiration{}
		m.scenes[id] = e
	}
	return e
}

// Record the expiration carried by an applied flush.
func (m *expirationMonitor) flushApplied(id types.SceneId, ts time.Time) {
	m.get(id).applied = ts
}

// The scene was drawn with the content of its last applied flush.
func (m *expirationMonitor) rendered(id types.SceneId) {
	if e, ok := m.scenes[id]; ok {
		e.rendered = e.applied
	}
}

func (m *expirationMonitor) hidden(id types.SceneId) {
	if e, ok := m.scenes[id]; ok {
		e.rendered = time.Time{}
	}
}

// Stop monitoring a scene. It returns true if the scene was expired.
func (m *expirationMonitor) stop(id types.SceneId) bool {
	e, ok := m.scenes[id]
	delete(m.scenes, id)
	return ok && e.expired
}

// Expiration of the content a scene was last drawn with and whether the
// scene is reported as expired.
func (m *expirationMonitor) status(id types.SceneId) (time.Time, bool) {
	e, ok := m.scenes[id]
	if !ok {
		return time.Time{}, false
	}
	return e.rendered, e.expired
}

// Check every monitored scene against now. Queued flushes that have not
// been applied yet are passed in through pending. Each scene is reported
// once when it expires and once when it recovers.
func (m *expirationMonitor) check(now time.Time, pending map[types.SceneId][]time.Time) (expired, recovered []types.SceneId) {
	ids := maps.Keys(m.scenes)
	slices.Sort(ids)
	for _, id := range ids {
		e := m.scenes[id]
		outdated := isPast(e.applied, now) || isPast(e.rendered, now)
		for _, ts := range pending[id] {
			outdated = outdated || isPast(ts, now)
		}

		switch {
		case outdated && !e.expired:
			e.expired = true
			expired = append(expired, id)
		case !outdated && e.expired:
			e.expired = false
			recovered = append(recovered, id)
		}
	}
	return expired, recovered
}

func isPast(ts, now time.Time) bool {
	return !ts.IsZero() && ts.Before(now)
}
