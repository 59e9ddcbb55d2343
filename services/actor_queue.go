package services

import (
	"fmt"
	"sync"
	"time"
)

// ActorQueue serializes every mutating action for the same player into a
// strict FIFO, one in flight at a time, while actions for different players
// run fully in parallel. This is what turns two concurrent clicks from one
// player into one logical sequence — without it both would read the same
// pre-increment balance and each add a reward on top of it.
type ActorQueue struct {
	mu          sync.Mutex
	queues      map[string][]*queuedAction
	active      map[string]bool
	waitTimeout time.Duration
}

type queuedAction struct {
	enqueuedAt time.Time
	run        func() (any, error)
	result     chan actionResult
}

type actionResult struct {
	value any
	err   error
}

func NewActorQueue(waitTimeout time.Duration) *ActorQueue {
	return &ActorQueue{
		queues:      make(map[string][]*queuedAction),
		active:      make(map[string]bool),
		waitTimeout: waitTimeout,
	}
}

// Enqueue appends run to the actor's queue and blocks until it executed or
// expired. An action that waits past the queue's ceiling is rejected with
// ErrQueueTimeout and never runs — executing it stale would be worse than
// dropping it.
func (q *ActorQueue) Enqueue(actorID string, run func() (any, error)) (any, error) {
	entry := &queuedAction{
		enqueuedAt: time.Now(),
		run:        run,
		result:     make(chan actionResult, 1),
	}

	q.mu.Lock()
	q.queues[actorID] = append(q.queues[actorID], entry)
	if !q.active[actorID] {
		q.active[actorID] = true
		go q.drain(actorID)
	}
	q.mu.Unlock()

	res := <-entry.result
	return res.value, res.err
}

// Depth reports how many actions are waiting for the actor, the in-flight
// one excluded.
func (q *ActorQueue) Depth(actorID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[actorID])
}

// drain pops and runs the actor's actions until the queue empties. A failed
// or panicking action reports to its own caller only; the next action still
// proceeds, so no actor queue is ever left stuck.
func (q *ActorQueue) drain(actorID string) {
	for {
		q.mu.Lock()
		list := q.queues[actorID]
		if len(list) == 0 {
			q.active[actorID] = false
			delete(q.queues, actorID)
			q.mu.Unlock()
			return
		}
		entry := list[0]
		q.queues[actorID] = list[1:]
		q.mu.Unlock()

		if time.Since(entry.enqueuedAt) > q.waitTimeout {
			entry.result <- actionResult{err: ErrQueueTimeout}
			continue
		}
		entry.result <- runRecovered(entry.run)
	}
}

func runRecovered(run func() (any, error)) (res actionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = actionResult{err: fmt.Errorf("queued action panicked: %v", r)}
		}
	}()
	v, err := run()
	return actionResult{value: v, err: err}
}
