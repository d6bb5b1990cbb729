package shm

import "fmt"

// SampleBuffer is a circular store of complex baseband samples for one or
// more antennas. Samples are interleaved: sample i of antenna a lives at
// i*nAnt+a.
//
// The buffer itself does no locking. The producer writes the read unit that
// follows the published writer position while consumers read behind it, and
// the epoch barriers guarantee those regions never overlap.
type SampleBuffer struct {
	data     []complex128
	nAnt     int
	capacity int // samples per antenna
	readSize int // samples per antenna per epoch
	writePos int // producer's private write position
}

// NewSampleBuffer allocates capacity samples per antenna, split into read
// units of readSize samples. capacity must be a positive multiple of readSize.
func NewSampleBuffer(capacity, readSize, nAnt int) (*SampleBuffer, error) {
	if nAnt <= 0 {
		return nil, fmt.Errorf("antenna count must be positive, got %d", nAnt)
	}
	if readSize <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("capacity (%d) and read size (%d) must be positive", capacity, readSize)
	}
	if capacity%readSize != 0 {
		return nil, fmt.Errorf("capacity %d is not a multiple of read size %d", capacity, readSize)
	}
	if capacity < 2*readSize {
		return nil, fmt.Errorf("capacity %d must hold at least two read units of %d", capacity, readSize)
	}
	return &SampleBuffer{
		data:     make([]complex128, capacity*nAnt),
		nAnt:     nAnt,
		capacity: capacity,
		readSize: readSize,
	}, nil
}

// Capacity is the number of samples per antenna the buffer holds.
func (b *SampleBuffer) Capacity() int { return b.capacity }

// ReadSize is the number of samples per antenna in one epoch.
func (b *SampleBuffer) ReadSize() int { return b.readSize }

// Antennas is the number of interleaved antenna streams.
func (b *SampleBuffer) Antennas() int { return b.nAnt }

// WriteUnit returns the slice the producer fills for the next epoch
// (readSize*nAnt interleaved samples). The slice aliases the buffer.
// Because capacity is a multiple of readSize a unit never wraps.
func (b *SampleBuffer) WriteUnit() []complex128 {
	start := b.writePos * b.nAnt
	return b.data[start : start+b.readSize*b.nAnt]
}

// CommitUnit advances the producer's write position by one read unit.
func (b *SampleBuffer) CommitUnit() {
	b.writePos = (b.writePos + b.readSize) % b.capacity
}

// Segment copies n samples of antenna ant starting at start (wrapping) into
// dst, growing it if needed, and returns it.
func (b *SampleBuffer) Segment(dst []complex128, start, n, ant int) []complex128 {
	if cap(dst) < n {
		dst = make([]complex128, n)
	}
	dst = dst[:n]
	idx := start % b.capacity
	for i := 0; i < n; i++ {
		dst[i] = b.data[idx*b.nAnt+ant]
		idx++
		if idx == b.capacity {
			idx = 0
		}
	}
	return dst
}

// Row copies the nAnt samples at position i into dst.
func (b *SampleBuffer) Row(dst []complex128, i int) []complex128 {
	if cap(dst) < b.nAnt {
		dst = make([]complex128, b.nAnt)
	}
	dst = dst[:b.nAnt]
	idx := (i % b.capacity) * b.nAnt
	copy(dst, b.data[idx:idx+b.nAnt])
	return dst
}

// Block copies n interleaved rows starting at start (wrapping) into dst,
// growing it if needed, and returns it.
func (b *SampleBuffer) Block(dst []complex128, start, n int) []complex128 {
	total := n * b.nAnt
	if cap(dst) < total {
		dst = make([]complex128, total)
	}
	dst = dst[:total]
	idx := start % b.capacity
	first := n
	if idx+n > b.capacity {
		first = b.capacity - idx
	}
	copy(dst, b.data[idx*b.nAnt:(idx+first)*b.nAnt])
	copy(dst[first*b.nAnt:], b.data[:(n-first)*b.nAnt])
	return dst
}
