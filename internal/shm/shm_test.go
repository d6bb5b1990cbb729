package shm

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleBufferRejectsBadGeometry(t *testing.T) {
	_, err := NewSampleBuffer(100, 30, 1)
	assert.Error(t, err)
	_, err = NewSampleBuffer(100, 100, 1)
	assert.Error(t, err)
	_, err = NewSampleBuffer(100, 10, 0)
	assert.Error(t, err)
	b, err := NewSampleBuffer(100, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 100, b.Capacity())
	assert.Equal(t, 2, b.Antennas())
}

func TestSegmentWrapsAndDeinterleaves(t *testing.T) {
	b, err := NewSampleBuffer(8, 4, 2)
	require.NoError(t, err)
	for u := 0; u < 2; u++ {
		unit := b.WriteUnit()
		for i := 0; i < 4; i++ {
			n := float64(u*4 + i)
			unit[2*i] = complex(n, 0)
			unit[2*i+1] = complex(0, n)
		}
		b.CommitUnit()
	}
	seg := b.Segment(nil, 6, 4, 0)
	assert.Equal(t, []complex128{6, 7, 0, 1}, seg)
	seg = b.Segment(seg, 6, 2, 1)
	assert.Equal(t, []complex128{complex(0, 6), complex(0, 7)}, seg)
	assert.Equal(t, []complex128{5, complex(0, 5)}, b.Row(nil, 13))

	blk := b.Block(nil, 7, 2)
	assert.Equal(t, []complex128{7, complex(0, 7), 0, 0}, blk)
	blk = b.Block(blk, 2, 2)
	assert.Equal(t, []complex128{2, complex(0, 2), 3, complex(0, 3)}, blk)
}

func TestCursorUnreadAndConsume(t *testing.T) {
	b, err := NewSampleBuffer(40, 10, 1)
	require.NoError(t, err)
	c := NewCursor(b)
	assert.Equal(t, 0, c.UnreadSampleCount())

	c.AdvanceWriter()
	c.AdvanceWriter()
	assert.Equal(t, 20, c.UnreadSampleCount())
	assert.Equal(t, 15, c.Consume(15))
	assert.Equal(t, 5, c.UnreadSampleCount())
	assert.Equal(t, 5, c.Consume(50))
	assert.Equal(t, 0, c.UnreadSampleCount())
	assert.Equal(t, uint64(20), c.Position())

	// Wrap: read=20, write=0 after two more units.
	c.AdvanceWriter()
	c.AdvanceWriter()
	assert.Equal(t, 0, c.WritePtr())
	assert.Equal(t, 20, c.UnreadSampleCount())
}

func TestCursorDropsOldestWhenStarved(t *testing.T) {
	b, err := NewSampleBuffer(40, 10, 1)
	require.NoError(t, err)
	c := NewCursor(b)
	for i := 0; i < 10; i++ {
		c.AdvanceWriter()
		assert.LessOrEqual(t, c.UnreadSampleCount(), 30)
	}
	assert.Equal(t, 30, c.UnreadSampleCount())
	assert.Equal(t, uint64(70), c.Dropped())
	assert.Equal(t, uint64(70), c.Position())
	assert.Equal(t, 30, c.Consume(30))
	assert.Equal(t, uint64(100), c.Position())
}

func TestBarrierReleasesAllParties(t *testing.T) {
	const parties, rounds = 4, 50
	bar := NewBarrier(parties)
	var count atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < parties; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				count.Add(1)
				bar.Wait()
				// Everyone incremented before anyone passed.
				assert.GreaterOrEqual(t, count.Load(), int64((r+1)*parties))
				bar.Wait()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(2*rounds), bar.Generation())
}

// A producer and two consumers driving the two-barrier handshake must agree
// on the writer position after every epoch.
func TestHandshakeWriterPosition(t *testing.T) {
	const epochs = 25
	b, err := NewSampleBuffer(50, 10, 1)
	require.NoError(t, err)
	dataReady := NewBarrier(3)
	consumed := NewBarrier(3)
	var running atomic.Bool
	running.Store(true)

	cursors := []*Cursor{NewCursor(b), NewCursor(b)}
	var wg sync.WaitGroup
	for _, c := range cursors {
		wg.Add(1)
		go func(c *Cursor) {
			defer wg.Done()
			dataReady.Wait()
			c.AdvanceWriter()
			for running.Load() {
				consumed.Wait()
				c.Consume(7)
				dataReady.Wait()
				c.AdvanceWriter()
			}
		}(c)
	}

	b.CommitUnit()
	dataReady.Wait()
	for k := 1; k < epochs; k++ {
		consumed.Wait()
		b.CommitUnit()
		if k == epochs-1 {
			running.Store(false)
		}
		dataReady.Wait()
	}
	wg.Wait()

	for _, c := range cursors {
		assert.Equal(t, (epochs*10)%50, c.WritePtr())
		assert.Less(t, c.UnreadSampleCount(), b.Capacity())
	}
}
