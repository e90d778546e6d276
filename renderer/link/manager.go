package link

import (
	"errors"
	"fmt"

	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/slices"
)

var (
	ErrTypeMismatch = errors.New("links: slot types are incompatible")
	ErrSlotOccupied = errors.New("links: consumer slot already linked")
	ErrCycle        = errors.New("links: link would create a dependency cycle")
	ErrUnknownSlot  = errors.New("links: unknown data slot")
	ErrSlotKind     = errors.New("links: slot has the wrong direction")
	ErrNotLinked    = errors.New("links: consumer slot is not linked")
	ErrSlotExists   = errors.New("links: data slot already registered")
)

// Reason explains why a link request was rejected.
type Reason uint8

const (
	ReasonTypeMismatch Reason = iota + 1
	ReasonSlotOccupied
	ReasonCycle
	ReasonUnknownSlot
	ReasonSlotKind
)

var reasonErrors = map[Reason]error{
	ReasonTypeMismatch: ErrTypeMismatch,
	ReasonSlotOccupied: ErrSlotOccupied,
	ReasonCycle:        ErrCycle,
	ReasonUnknownSlot:  ErrUnknownSlot,
	ReasonSlotKind:     ErrSlotKind,
}

func (r Reason) String() string {
	switch r {
	case ReasonTypeMismatch:
		return "TypeMismatch"
	case ReasonSlotOccupied:
		return "SlotOccupied"
	case ReasonCycle:
		return "Cycle"
	case ReasonUnknownSlot:
		return "UnknownSlot"
	case ReasonSlotKind:
		return "SlotKind"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// RejectedError is returned when a link request fails validation.
type RejectedError struct {
	Reason   Reason
	Provider SlotRef
	Consumer SlotRef
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("links: cannot link %s -> %s: %s", e.Provider, e.Consumer, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return reasonErrors[e.Reason] == target
}

// SlotRef addresses a data slot across scenes.
type SlotRef struct {
	Scene types.SceneId
	Slot  types.DataSlotId
}

func (r SlotRef) String() string {
	return fmt.Sprintf("%d:%d", uint64(r.Scene), uint32(r.Slot))
}

func (r SlotRef) compare(other SlotRef) int {
	switch {
	case r.Scene < other.Scene:
		return -1
	case r.Scene > other.Scene:
		return 1
	case r.Slot < other.Slot:
		return -1
	case r.Slot > other.Slot:
		return 1
	}
	return 0
}

func byConsumer(a, b Link) int {
	return a.Consumer.compare(b.Consumer)
}

// Link binds a provider slot to a consumer slot.
type Link struct {
	Provider SlotRef
	Consumer SlotRef
}

type slotInfo struct {
	kind     scene.SlotKind
	slotType scene.SlotType
}

// Manager tracks data slots of all known scenes and the links between them.
// It is owned by the render thread.
type Manager struct {
	logger log.Logger

	slots map[SlotRef]slotInfo

	// consumer -> provider and provider -> consumers.
	providerOf  map[SlotRef]SlotRef
	consumersOf map[SlotRef]map[SlotRef]struct{}

	deps *DependencyChecker
}

// Create an empty link manager.
func NewManager() *Manager {
	return &Manager{
		logger:      log.New("links"),
		slots:       make(map[SlotRef]slotInfo),
		providerOf:  make(map[SlotRef]SlotRef),
		consumersOf: make(map[SlotRef]map[SlotRef]struct{}),
		deps:        NewDependencyChecker(),
	}
}

// AddSlot registers a data slot.
func (m *Manager) AddSlot(ref SlotRef, kind scene.SlotKind, slotType scene.SlotType) error {
	if _, exists := m.slots[ref]; exists {
		return fmt.Errorf("%w: %s", ErrSlotExists, ref)
	}
	m.slots[ref] = slotInfo{kind: kind, slotType: slotType}
	return nil
}

// RemoveSlot unregisters a data slot and returns the links that were
// removed with it.
func (m *Manager) RemoveSlot(ref SlotRef) []Link {
	if _, exists := m.slots[ref]; !exists {
		return nil
	}

	var removed []Link
	if provider, linked := m.providerOf[ref]; linked {
		m.unlink(provider, ref)
		removed = append(removed, Link{Provider: provider, Consumer: ref})
	}
	for _, consumer := range m.consumers(ref) {
		m.unlink(ref, consumer)
		removed = append(removed, Link{Provider: ref, Consumer: consumer})
	}
	delete(m.slots, ref)
	return removed
}

// HasSlot returns true if the slot is registered.
func (m *Manager) HasSlot(ref SlotRef) bool {
	_, ok := m.slots[ref]
	return ok
}

// CreateDataLink binds provider to consumer. The request is validated in
// full before anything changes; a rejection is reported as *RejectedError.
func (m *Manager) CreateDataLink(provider, consumer SlotRef) error {
	if err := m.validate(provider, consumer); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			metrics.LinkRejections.WithLabelValues(rejected.Reason.String()).Inc()
		}
		m.logger.Warningf("%v", err)
		return err
	}

	m.providerOf[consumer] = provider
	if m.consumersOf[provider] == nil {
		m.consumersOf[provider] = make(map[SlotRef]struct{})
	}
	m.consumersOf[provider][consumer] = struct{}{}
	metrics.LinksActive.Inc()
	m.logger.Infof("linked %s -> %s", provider, consumer)
	return nil
}

func (m *Manager) validate(provider, consumer SlotRef) error {
	reject := func(reason Reason) error {
		return &RejectedError{Reason: reason, Provider: provider, Consumer: consumer}
	}

	p, ok := m.slots[provider]
	if !ok {
		return reject(ReasonUnknownSlot)
	}
	c, ok := m.slots[consumer]
	if !ok {
		return reject(ReasonUnknownSlot)
	}
	if p.kind != scene.SlotProvider || c.kind != scene.SlotConsumer {
		return reject(ReasonSlotKind)
	}
	if p.slotType != c.slotType {
		return reject(ReasonTypeMismatch)
	}
	if _, linked := m.providerOf[consumer]; linked {
		return reject(ReasonSlotOccupied)
	}
	// The dependency is only committed if it passes the cycle check.
	if !m.deps.AddDependency(provider.Scene, consumer.Scene) {
		return reject(ReasonCycle)
	}
	return nil
}

// RemoveDataLink removes the link bound to consumer and returns its provider.
func (m *Manager) RemoveDataLink(consumer SlotRef) (SlotRef, error) {
	provider, linked := m.providerOf[consumer]
	if !linked {
		return SlotRef{}, fmt.Errorf("%w: %s", ErrNotLinked, consumer)
	}
	m.unlink(provider, consumer)
	m.logger.Infof("unlinked %s -> %s", provider, consumer)
	return provider, nil
}

// RemoveScene unregisters every slot of a scene and returns the links that
// were removed.
func (m *Manager) RemoveScene(id types.SceneId) []Link {
	var refs []SlotRef
	for ref := range m.slots {
		if ref.Scene == id {
			refs = append(refs, ref)
		}
	}
	slices.SortFunc(refs, SlotRef.compare)

	var removed []Link
	for _, ref := range refs {
		removed = append(removed, m.RemoveSlot(ref)...)
	}
	m.deps.RemoveScene(id)
	return removed
}

// ProviderOf returns the provider bound to consumer.
func (m *Manager) ProviderOf(consumer SlotRef) (SlotRef, bool) {
	p, ok := m.providerOf[consumer]
	return p, ok
}

// Links returns all links sorted by consumer.
func (m *Manager) Links() []Link {
	out := make([]Link, 0, len(m.providerOf))
	for consumer, provider := range m.providerOf {
		out = append(out, Link{Provider: provider, Consumer: consumer})
	}
	slices.SortFunc(out, byConsumer)
	return out
}

// Dependencies exposes the scene dependency graph.
func (m *Manager) Dependencies() *DependencyChecker {
	return m.deps
}

// Propagate copies provider values to their linked consumers. Scenes are
// visited in dependency order so chained links observe values written
// earlier in the same pass. Links are skipped unless both scenes are ready.
// It returns the number of values written.
func (m *Manager) Propagate(read func(SlotRef) (scene.Value, bool), write func(SlotRef, scene.Value), ready func(types.SceneId) bool) int {
	byConsumerScene := make(map[types.SceneId][]Link)
	for consumer, provider := range m.providerOf {
		byConsumerScene[consumer.Scene] = append(byConsumerScene[consumer.Scene], Link{Provider: provider, Consumer: consumer})
	}

	written := 0
	for _, id := range m.deps.ScenesInOrder() {
		links := byConsumerScene[id]
		if len(links) == 0 || !ready(id) {
			continue
		}
		slices.SortFunc(links, byConsumer)
		for _, l := range links {
			if !ready(l.Provider.Scene) {
				continue
			}
			v, ok := read(l.Provider)
			if !ok {
				continue
			}
			write(l.Consumer, v)
			written++
		}
	}
	return written
}

func (m *Manager) consumers(provider SlotRef) []SlotRef {
	out := make([]SlotRef, 0, len(m.consumersOf[provider]))
	for consumer := range m.consumersOf[provider] {
		out = append(out, consumer)
	}
	slices.SortFunc(out, SlotRef.compare)
	return out
}

func (m *Manager) unlink(provider, consumer SlotRef) {
	delete(m.providerOf, consumer)
	delete(m.consumersOf[provider], consumer)
	if len(m.consumersOf[provider]) == 0 {
		delete(m.consumersOf, provider)
	}
	m.deps.RemoveDependency(provider.Scene, consumer.Scene)
	metrics.LinksActive.Dec()
}
