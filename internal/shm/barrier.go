// Package shm provides the shared sample memory of the receiver: a circular
// multi-antenna sample buffer, per-consumer cursors into it, and the epoch
// barrier that time-partitions access between the producer and consumers.
package shm

import "sync"

// Barrier is a reusable rendezvous for a fixed number of participants.
// Every call to Wait blocks until all participants of the current generation
// have arrived, then all are released together and the barrier resets.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	arrived    int
	generation uint64
}

// NewBarrier creates a barrier for n participants. n must be positive.
func NewBarrier(n int) *Barrier {
	if n <= 0 {
		panic("shm: barrier needs at least one participant")
	}
	b := &Barrier{parties: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all participants have called Wait for this generation.
// It returns the generation number that was completed.
func (b *Barrier) Wait() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.generation
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.generation++
		b.cond.Broadcast()
		return gen
	}
	for gen == b.generation {
		b.cond.Wait()
	}
	return gen
}

// Parties reports the number of participants.
func (b *Barrier) Parties() int { return b.parties }

// Generation reports how many times the barrier has been completed.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
