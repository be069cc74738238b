package ratelimit

import (
	"golang.org/x/time/rate"
)

type Decision int

const (
	// Message may be processed
	Allow Decision = iota
	// Over budget; drop the message
	Drop
	// Sustained abuse; close the connection
	Disconnect
)

// Limiter is a per-connection message budget that escalates to a disconnect
// after too many rejected messages.
type Limiter struct {
	limiter       *rate.Limiter
	violations    int
	maxViolations int
}

func NewLimiter(perSecond float64, burst int, maxViolations int) *Limiter {
	return &Limiter{
		limiter:       rate.NewLimiter(rate.Limit(perSecond), burst),
		maxViolations: maxViolations,
	}
}

// Check is called once per received message. Not safe for concurrent use;
// each connection has a single reader.
func (l *Limiter) Check() Decision {
	if l.limiter.Allow() {
		return Allow
	}
	l.violations++
	if l.maxViolations > 0 && l.violations > l.maxViolations {
		return Disconnect
	}
	return Drop
}

func (l *Limiter) Violations() int {
	return l.violations
}
