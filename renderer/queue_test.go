package renderer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
)

func TestQueueOrderPerProducer(t *testing.T) {
	const (
		numProducers = 8
		numCommands  = 500
	)

	q := NewCommandQueue()
	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(producer types.SceneId) {
			defer wg.Done()
			for i := 1; i <= numCommands; i++ {
				q.Enqueue(SetRenderOrder(producer, i))
			}
		}(types.SceneId(p))
	}

	last := make(map[types.SceneId]int)
	received := 0
	deadline := time.Now().Add(10 * time.Second)
	for received < numProducers*numCommands {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after receiving %d commands", received)
		}
		cmds, err := q.BlockingSwap(10 * time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		for _, cmd := range cmds {
			if cmd.Order != last[cmd.Scene]+1 {
				t.Fatalf("producer %d: expected command %d; got %d", cmd.Scene, last[cmd.Scene]+1, cmd.Order)
			}
			last[cmd.Scene] = cmd.Order
			received++
		}
	}
	wg.Wait()

	if left := q.TrySwap(); len(left) != 0 {
		t.Fatalf("expected no duplicate commands; got %d extra", len(left))
	}
	for p := 0; p < numProducers; p++ {
		if last[types.SceneId(p)] != numCommands {
			t.Fatalf("producer %d: expected %d commands; got %d", p, numCommands, last[types.SceneId(p)])
		}
	}
}

func TestBlockingSwapTimeout(t *testing.T) {
	q := NewCommandQueue()

	start := time.Now()
	cmds, err := q.BlockingSwap(20 * time.Millisecond)
	if err != nil || cmds != nil {
		t.Fatalf("expected no commands and no error; got %v, %v", cmds, err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected to wait for the timeout; waited %s", elapsed)
	}
}

func TestBlockingSwapWakesOnEnqueue(t *testing.T) {
	q := NewCommandQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(Unpublish(4))
	}()

	cmds, err := q.BlockingSwap(5 * time.Second)
	if err != nil || len(cmds) != 1 || cmds[0].Kind != CmdUnpublish {
		t.Fatalf("expected a single unpublish command; got %v, %v", cmds, err)
	}
}

func TestInterrupt(t *testing.T) {
	q := NewCommandQueue()
	result := make(chan error, 1)
	go func() {
		_, err := q.BlockingSwap(time.Minute)
		result <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Interrupt()

	select {
	case err := <-result:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("expected ErrInterrupted; got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not wake the consumer")
	}

	// The interrupt is consumed by the call that observed it.
	if _, err := q.BlockingSwap(time.Millisecond); err != nil {
		t.Fatalf("expected interrupt to be cleared; got %v", err)
	}
}

func TestDiscardScene(t *testing.T) {
	q := NewCommandQueue()
	q.Enqueue(ApplyFlush(scene.Flush{Scene: 1, Version: 1}))
	q.Enqueue(ApplyFlush(scene.Flush{Scene: 2, Version: 1}))
	q.Enqueue(SetSceneState(1, 0))
	q.Enqueue(ApplyFlush(scene.Flush{Scene: 1, Version: 2}))
	q.Enqueue(ApplyFlush(scene.Flush{Scene: 2, Version: 2}))

	if dropped := q.DiscardScene(1); dropped != 2 {
		t.Fatalf("expected 2 dropped flushes; got %d", dropped)
	}

	cmds := q.TrySwap()
	expKinds := []CommandKind{CmdApplyFlush, CmdSetSceneState, CmdApplyFlush}
	if len(cmds) != len(expKinds) {
		t.Fatalf("expected %d commands; got %d", len(expKinds), len(cmds))
	}
	for index, kind := range expKinds {
		if cmds[index].Kind != kind {
			t.Fatalf("[cmd %d] expected %s; got %s", index, kind, cmds[index].Kind)
		}
	}
	if cmds[0].Flush.Version != 1 || cmds[2].Flush.Version != 2 {
		t.Fatal("expected flushes of scene 2 to keep their order")
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue; got %d", q.Len())
	}
}

func TestThroughputScheduler(t *testing.T) {
	sch := NewThroughputScheduler()

	// No budget admits everything.
	sch.Begin(0)
	for i := 0; i < 10; i++ {
		if !sch.Admit(1000) {
			t.Fatal("expected unlimited budget to admit every flush")
		}
	}

	// Without history only the measured time counts.
	sch.Begin(10 * time.Millisecond)
	if !sch.Admit(9) {
		t.Fatal("expected first flush to be admitted")
	}
	sch.Record(9, 4*time.Millisecond)
	if !sch.Admit(9) {
		t.Fatal("expected second flush to fit")
	}
	sch.Record(9, 4*time.Millisecond)

	// 0.4ms per mutation from now on.
	sch.Begin(10 * time.Millisecond)
	if !sch.Admit(1000) {
		t.Fatal("expected first flush of an iteration to always be admitted")
	}
	sch.Record(9, 4*time.Millisecond)
	if !sch.Admit(9) {
		t.Fatal("expected a 4ms flush to fit in the remaining 6ms")
	}
	sch.Record(9, 4*time.Millisecond)
	if sch.Admit(9) {
		t.Fatal("expected a 4ms flush to be deferred with 2ms left")
	}
}
