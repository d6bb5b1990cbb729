package shm

// Cursor is one consumer's view of the SampleBuffer: its own read position
// and its bookkeeping of where the writer was when the last epoch was
// published. A Cursor belongs to a single goroutine.
type Cursor struct {
	capacity int
	readSize int
	readPtr  int
	writePtr int
	dropped  uint64
	position uint64
}

// NewCursor creates a cursor positioned at the start of buf.
func NewCursor(buf *SampleBuffer) *Cursor {
	return &Cursor{capacity: buf.capacity, readSize: buf.readSize}
}

// AdvanceWriter records that the producer published one more read unit. It
// is called exactly once after every crossing of the data-available barrier.
// The producer's next unit is written while this consumer processes, so a
// consumer that has fallen a full buffer behind loses its oldest read unit;
// unread data therefore never exceeds capacity-readSize.
func (c *Cursor) AdvanceWriter() {
	if over := c.UnreadSampleCount() + 2*c.readSize - c.capacity; over > 0 {
		c.readPtr = (c.readPtr + over) % c.capacity
		c.dropped += uint64(over)
		c.position += uint64(over)
	}
	c.writePtr = (c.writePtr + c.readSize) % c.capacity
}

// UnreadSampleCount returns the published samples this consumer has not yet
// consumed.
func (c *Cursor) UnreadSampleCount() int {
	if c.readPtr <= c.writePtr {
		return c.writePtr - c.readPtr
	}
	return c.capacity - c.readPtr + c.writePtr
}

// Consume advances the read position by n samples, clamped to what is unread,
// and returns the number consumed.
func (c *Cursor) Consume(n int) int {
	if unread := c.UnreadSampleCount(); n > unread {
		n = unread
	}
	if n < 0 {
		n = 0
	}
	c.readPtr = (c.readPtr + n) % c.capacity
	c.position += uint64(n)
	return n
}

// Position is the absolute stream index of the sample at ReadPtr, counting
// consumed and dropped samples since the first commit.
func (c *Cursor) Position() uint64 { return c.position }

// ReadPtr is the buffer index of the next unread sample.
func (c *Cursor) ReadPtr() int { return c.readPtr }

// WritePtr is the consumer's copy of the published writer position.
func (c *Cursor) WritePtr() int { return c.writePtr }

// Dropped reports how many samples were discarded because the consumer fell
// behind the producer.
func (c *Cursor) Dropped() uint64 { return c.dropped }
