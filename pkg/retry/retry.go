// Package retry implements the retry_n policy object described in spec.md
// §9: {interval, warn_at, err_at, give_up} applied by the event loop around
// any retryable call. It is grounded in the teacher's health.Status /
// health.Config pair (pkg/health/health.go in the teacher tree), generalized
// from "mark unhealthy after N consecutive failures" to "escalate log
// severity, then give up after N failures" with an explicit backoff clock
// instead of a fixed interval.
package retry

import "time"

// Policy is {interval, warn_at, err_at, give_up} from spec.md §9.
type Policy struct {
	// Interval is the base delay between attempts.
	Interval time.Duration

	// WarnAt is the failure count at which the caller should log at
	// WARNING instead of INFO.
	WarnAt int

	// ErrAt is the failure count at which the caller should log at ERROR.
	ErrAt int

	// GiveUp is the failure count at which the event/job is finally
	// dropped. Zero means retry indefinitely (spec.md §7).
	GiveUp int
}

// DefaultPolicy mirrors the teacher's health.DefaultConfig: sane values for
// a component that hasn't configured its own thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Interval: 30 * time.Second,
		WarnAt:   1,
		ErrAt:    3,
		GiveUp:   0,
	}
}

// Severity is the log level a failure count should be reported at.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// SeverityFor returns the severity to log a failure at, given the number of
// consecutive failures observed so far.
func (p Policy) SeverityFor(failureCount int) Severity {
	switch {
	case p.ErrAt > 0 && failureCount >= p.ErrAt:
		return SeverityError
	case p.WarnAt > 0 && failureCount >= p.WarnAt:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// ShouldGiveUp reports whether failureCount has reached the give-up
// threshold. GiveUp == 0 means never give up.
func (p Policy) ShouldGiveUp(failureCount int) bool {
	return p.GiveUp > 0 && failureCount >= p.GiveUp
}

// NextAttempt returns the time of the next retry attempt given the current
// failure count, applying simple linear backoff capped at 10x the base
// interval. The unit of backoff is the policy's Interval; the executor's
// own poll interval is not consulted.
func (p Policy) NextAttempt(now time.Time, failureCount int) time.Time {
	multiplier := failureCount
	if multiplier < 1 {
		multiplier = 1
	}
	if multiplier > 10 {
		multiplier = 10
	}
	return now.Add(p.Interval * time.Duration(multiplier))
}

// Outcome is Evaluate's classification of one failed attempt. Nothing in
// this package sleeps or loops — per spec.md §9 the event loop schedules
// retries via next_poll_at, not via blocking time.sleep — so the caller
// decides what to do next from the Outcome.
type Outcome struct {
	Err          error
	FailureCount int
	Severity     Severity
	GiveUp       bool
	RetryAt      time.Time
}

// Evaluate classifies one failed attempt against the policy, given the
// failure count observed so far (including this attempt) and the current
// time.
func (p Policy) Evaluate(err error, failureCount int, now time.Time) Outcome {
	return Outcome{
		Err:          err,
		FailureCount: failureCount,
		Severity:     p.SeverityFor(failureCount),
		GiveUp:       p.ShouldGiveUp(failureCount),
		RetryAt:      p.NextAttempt(now, failureCount),
	}
}
