// Package retrypolicy turns a (policy, attempt number, last outcome) triple
// into a retry decision. It is a pure function, grounded on the teacher's
// worker.go retryDelay — but unlike that function, it applies no jitter by
// default, matching the deterministic-backoff requirement the dispatcher's
// callers depend on.
package retrypolicy

import (
	"math"
	"time"

	"github.com/cronback-oss/cronback/internal/domain"
)

// Decision is the outcome of evaluating a retry policy after one attempt.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// maxDelayCeiling bounds exponential backoff so a misconfigured policy can
// never produce a multi-day delay.
const maxDelayCeiling = 24 * time.Hour

// Evaluate decides whether attemptNum (1-based, the attempt that just ran)
// should be retried, and after what delay. A nil policy falls back to a
// single attempt with no retry — callers that want the dispatcher's
// cell-wide default must supply it explicitly via Default().
func Evaluate(policy *domain.RetryPolicy, attemptNum int, outcome domain.AttemptOutcome) Decision {
	if policy == nil {
		return Decision{ShouldRetry: false}
	}
	if attemptNum >= policy.MaxNumAttempts {
		return Decision{ShouldRetry: false}
	}

	switch policy.Kind {
	case domain.RetryExponential:
		delay := time.Duration(float64(policy.DelayS)*math.Pow(2, float64(attemptNum-1))) * time.Second
		ceiling := time.Duration(policy.MaxDelayS) * time.Second
		if ceiling <= 0 || ceiling > maxDelayCeiling {
			ceiling = maxDelayCeiling
		}
		if delay > ceiling {
			delay = ceiling
		}
		return Decision{ShouldRetry: true, Delay: delay}
	case domain.RetrySimple:
		return Decision{ShouldRetry: true, Delay: time.Duration(policy.DelayS) * time.Second}
	default:
		return Decision{ShouldRetry: false}
	}
}

// Default is the dispatcher-wide fallback policy applied when a trigger's
// action carries no explicit retry policy: three attempts total, a flat
// 30 second delay, no jitter.
func Default() *domain.RetryPolicy {
	return &domain.RetryPolicy{
		Kind:           domain.RetrySimple,
		MaxNumAttempts: 3,
		DelayS:         30,
	}
}
