package service

import "sync"

// circuitBreaker tracks consecutive ledger failures so the limiter can stop
// hammering a dead store:
//   - after failureThreshold consecutive failures the circuit opens and
//     checks are served by the in-memory fallback ledger;
//   - after successThreshold consecutive primary successes it closes again.
//
// Routing to the fallback bounds how long the service runs with no quota
// enforcement at all: fail-open covers only the probing requests, not the
// whole outage.
type circuitBreaker struct {
	mu               sync.Mutex
	open             bool
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
}

func newCircuitBreaker(failureThreshold, successThreshold int) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
	}
}

func (c *circuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// RecordFailure returns true when this failure transitions the circuit open.
func (c *circuitBreaker) RecordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.successCount = 0
	if c.open {
		return false
	}
	if c.failureCount >= c.failureThreshold {
		c.open = true
		return true
	}
	return false
}

// RecordSuccess returns true when this success transitions the circuit closed.
func (c *circuitBreaker) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		c.failureCount = 0
		return false
	}
	c.successCount++
	if c.successCount >= c.successThreshold {
		c.open = false
		c.failureCount = 0
		c.successCount = 0
		return true
	}
	return false
}
