package listener

import (
	"sync"
)

// pairKey returns the unordered key for a (persona, human) pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// pairExecutor runs tasks FIFO per key and concurrently across keys. It
// is the per-pair serialization that keeps replies in event-acceptance
// order and prevents interleaved duplicates for one conversation.
type pairExecutor struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newPairExecutor() *pairExecutor {
	return &pairExecutor{queues: make(map[string][]func())}
}

// Submit enqueues fn for its key. Tasks for the same key run one at a
// time in submission order; distinct keys run in parallel.
func (e *pairExecutor) Submit(key string, fn func()) {
	e.mu.Lock()
	if q, running := e.queues[key]; running {
		e.queues[key] = append(q, fn)
		e.mu.Unlock()
		return
	}
	e.queues[key] = nil
	e.mu.Unlock()

	e.wg.Add(1)
	go e.drain(key, fn)
}

func (e *pairExecutor) drain(key string, fn func()) {
	defer e.wg.Done()
	for {
		fn()

		e.mu.Lock()
		q := e.queues[key]
		if len(q) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		fn = q[0]
		e.queues[key] = q[1:]
		e.mu.Unlock()
	}
}

// Wait blocks until every queued task has finished.
func (e *pairExecutor) Wait() {
	e.wg.Wait()
}
