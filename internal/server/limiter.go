package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per participant.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *limiterPool) allow(participantID string) bool {
	p.mu.Lock()
	l, ok := p.limiters[participantID]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[participantID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
