// Package ratelimit provides target-rate admission for time-boxed workloads
// and a request-rate cap for the RPC client.
package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Admission computes how many submissions are due at a target rate.
//
// Unlike a token bucket, admission is cumulative: the caller issues the
// shortfall between what should have been issued since Start and what
// actually was, so a slow tick is caught up on the next one.
type Admission struct {
	Rate  float64 // submissions per second
	Start time.Time

	// Schedule, when set, replaces the flat Rate.
	Schedule Schedule
}

// Schedule reports the cumulative submissions due after elapsed.
type Schedule interface {
	Due(elapsed time.Duration) float64
}

// NewAdmission creates an Admission starting now.
func NewAdmission(ratePerSec float64) *Admission {
	return &Admission{Rate: ratePerSec, Start: time.Now()}
}

// Expected returns floor(rate * elapsed seconds), or the floor of the
// schedule's due count.
func (a *Admission) Expected(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	if a.Schedule != nil {
		return max(0, int(math.Floor(a.Schedule.Due(elapsed))))
	}
	if a.Rate <= 0 {
		return 0
	}
	return int(math.Floor(a.Rate * elapsed.Seconds()))
}

// Shortfall returns how many submissions are owed after issued have been sent.
// Never negative.
func (a *Admission) Shortfall(elapsed time.Duration, issued int) int {
	return max(0, a.Expected(elapsed)-issued)
}

// Admit returns the shortfall at now, clamped to available in-flight slots.
func (a *Admission) Admit(now time.Time, issued, available int) int {
	return min(a.Shortfall(now.Sub(a.Start), issued), max(0, available))
}

// NewRPCLimiter returns a limiter capping RPC requests per second.
// A non-positive rps disables the cap and returns nil.
func NewRPCLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(math.Ceil(rps)))
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
