package producer

import (
	"sync"

	"github.com/achilleasa/scenerelay/types"
)

// resourceLedger remembers which resource payloads each peer has received
// so that payloads shared between scenes are sent once per peer.
type resourceLedger struct {
	mu   sync.Mutex
	sent map[types.Guid]map[types.ResourceHash]struct{}
}

func newResourceLedger() *resourceLedger {
	return &resourceLedger{
		sent: make(map[types.Guid]map[types.ResourceHash]struct{}),
	}
}

// Mark a resource as sent to peer. Returns false if it already was.
func (l *resourceLedger) mark(peer types.Guid, hash types.ResourceHash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	sent, ok := l.sent[peer]
	if !ok {
		sent = make(map[types.ResourceHash]struct{})
		l.sent[peer] = sent
	}
	if _, done := sent[hash]; done {
		return false
	}
	sent[hash] = struct{}{}
	return true
}

func (l *resourceLedger) unmark(peer types.Guid, hash types.ResourceHash) {
	l.mu.Lock()
	delete(l.sent[peer], hash)
	l.mu.Unlock()
}

func (l *resourceLedger) forget(peer types.Guid) {
	l.mu.Lock()
	delete(l.sent, peer)
	l.mu.Unlock()
}
