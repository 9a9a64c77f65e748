package listener

import (
	"sync"
	"testing"
	"time"
)

func TestPairKey_Unordered(t *testing.T) {
	if pairKey("a", "b") != pairKey("b", "a") {
		t.Error("pair key must be order-independent")
	}
	if pairKey("a", "b") == pairKey("a", "c") {
		t.Error("distinct pairs must not collide")
	}
}

func TestPairExecutor_FIFOWithinKey(t *testing.T) {
	e := newPairExecutor()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		e.Submit("pair", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	e.Wait()

	if len(order) != 20 {
		t.Fatalf("ran %d tasks, want 20", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("position %d ran task %d, want submission order", i, got)
		}
	}
}

func TestPairExecutor_KeysRunConcurrently(t *testing.T) {
	e := newPairExecutor()

	gate := make(chan struct{})
	done := make(chan struct{})

	// The first key blocks until the second key's task proves it ran.
	e.Submit("pair-a", func() { <-gate })
	e.Submit("pair-b", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task on a distinct key was blocked by another key")
	}
	close(gate)
	e.Wait()
}

func TestPairExecutor_WaitCoversQueuedTasks(t *testing.T) {
	e := newPairExecutor()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		e.Submit("pair", func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	e.Wait()

	if ran != 5 {
		t.Errorf("Wait returned with %d of 5 tasks finished", ran)
	}
}
