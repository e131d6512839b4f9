package stats

import (
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakers holds one circuit breaker per upstream host
type breakers struct {
	threshold int64
	interval  time.Duration

	mu sync.RWMutex
	m  map[string]*circuit.Breaker
}

func newBreakers(threshold int64, interval time.Duration) *breakers {
	return &breakers{
		threshold: threshold,
		interval:  interval,
		m:         make(map[string]*circuit.Breaker),
	}
}

func (b *breakers) get(host string) *circuit.Breaker {
	b.mu.RLock()
	breaker, ok := b.m[host]
	b.mu.RUnlock()
	if ok {
		return breaker
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, ok := b.m[host]; ok {
		return breaker
	}

	// The open interval doubles on every failed probe up to ten intervals
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = b.interval
	expBackoff.MaxInterval = 10 * b.interval
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(b.threshold),
	})
	b.m[host] = breaker
	return breaker
}

func (b *breakers) states() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make(map[string]string, len(b.m))
	for host, breaker := range b.m {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
