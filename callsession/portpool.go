// SPDX-License-Identifier: MPL-2.0

package callsession

import (
	"errors"
	"sync"
)

var ErrPortPoolExhausted = errors.New("callsession: no available ports in range")

// PortPool allocates even-numbered RTP ports (RTCP always takes port+1)
// from a fixed range, generalizing the teacher's package-level
// RTPPortStart/RTPPortEnd atomics into an explicit, lockable,
// releasable type so multiple sessions can share one pool safely.
type PortPool struct {
	mu     sync.Mutex
	start  int
	end    int
	offset int
	inUse  map[int]bool
}

// NewPortPool returns a pool handing out even ports in [start, end).
func NewPortPool(start, end int) *PortPool {
	return &PortPool{
		start: start,
		end:   end,
		inUse: make(map[int]bool),
	}
}

// Allocate returns the next free even port in range, scanning forward
// from the last handed-out offset (round-robin, like the teacher),
// skipping ports still marked in use.
func (p *PortPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.end <= p.start {
		return 0, ErrPortPoolExhausted
	}

	span := p.end - p.start
	for i := 0; i < span; i += 2 {
		port := p.start + (p.offset+i)%span
		if port%2 != 0 {
			port++
		}
		if port >= p.end {
			continue
		}
		if p.inUse[port] {
			continue
		}
		p.inUse[port] = true
		p.offset = (port + 2 - p.start) % span
		return port, nil
	}
	return 0, ErrPortPoolExhausted
}

// Release returns port to the pool.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}
