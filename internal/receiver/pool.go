package receiver

import "sync"

const numPRN = 32

// PRNPool hands out GPS PRNs so that no two channels search the same
// satellite. It implements channel.PRNAssigner.
type PRNPool struct {
	mu    sync.Mutex
	owner map[uint8]int
}

// NewPRNPool marks initial[i] as owned by channel i.
func NewPRNPool(initial []uint8) *PRNPool {
	p := &PRNPool{owner: make(map[uint8]int, len(initial))}
	for ch, prn := range initial {
		p.owner[prn] = ch
	}
	return p
}

// NextPRN releases current and returns the next free PRN after it, wrapping
// from 32 back to 1.
func (p *PRNPool) NextPRN(channelID int, current uint8) (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 1; i < numPRN; i++ {
		cand := uint8((int(current)-1+i)%numPRN + 1)
		if _, used := p.owner[cand]; used {
			continue
		}
		if owner, ok := p.owner[current]; ok && owner == channelID {
			delete(p.owner, current)
		}
		p.owner[cand] = channelID
		return cand, true
	}
	return 0, false
}

// Owner returns the channel holding prn.
func (p *PRNPool) Owner(prn uint8) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.owner[prn]
	return ch, ok
}
