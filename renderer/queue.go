package renderer

import (
	"sync"
	"time"

	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/types"
)

// CommandQueue hands commands from any number of producing goroutines to a
// single consuming render goroutine. Enqueue never blocks and commands are
// delivered in enqueue order.
type CommandQueue struct {
	mu          sync.Mutex
	cmds        []Command
	interrupted bool

	// Buffered wake-up signal; a pending signal is never lost.
	wake chan struct{}
}

// Create an empty command queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends a command and wakes a blocked consumer.
func (q *CommandQueue) Enqueue(cmd Command) {
	q.mu.Lock()
	q.cmds = append(q.cmds, cmd)
	depth := len(q.cmds)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.signal()
}

// TrySwap returns all queued commands without blocking.
func (q *CommandQueue) TrySwap() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.swapLocked()
}

// BlockingSwap waits until at least one command is queued, the timeout
// elapses or the queue is interrupted. A timeout returns no commands and no
// error. An interrupt returns ErrInterrupted; the interrupt is consumed by
// the call that observes it.
func (q *CommandQueue) BlockingSwap(timeout time.Duration) ([]Command, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.interrupted {
			q.interrupted = false
			q.mu.Unlock()
			return nil, ErrInterrupted
		}
		if len(q.cmds) != 0 {
			cmds := q.swapLocked()
			q.mu.Unlock()
			return cmds, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-timer.C:
			return nil, nil
		}
	}
}

// Interrupt wakes a blocked consumer without delivering a command.
func (q *CommandQueue) Interrupt() {
	q.mu.Lock()
	q.interrupted = true
	q.mu.Unlock()
	q.signal()
}

// DiscardScene drops every queued flush of a scene and returns the number of
// dropped commands. Commands for other scenes keep their order.
func (q *CommandQueue) DiscardScene(id types.SceneId) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.cmds[:0]
	for _, cmd := range q.cmds {
		if cmd.Kind == CmdApplyFlush && cmd.Scene == id {
			continue
		}
		kept = append(kept, cmd)
	}
	dropped := len(q.cmds) - len(kept)
	for i := len(kept); i < len(q.cmds); i++ {
		q.cmds[i] = Command{}
	}
	q.cmds = kept
	metrics.QueueDepth.Set(float64(len(q.cmds)))
	return dropped
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

func (q *CommandQueue) swapLocked() []Command {
	cmds := q.cmds
	q.cmds = nil
	metrics.QueueDepth.Set(0)
	return cmds
}

func (q *CommandQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
