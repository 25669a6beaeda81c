package core

import (
	"math"
	"math/rand"
	"time"
)

// Delay computes the wait before the next attempt. retry is 0-indexed: the
// first wait (after the first failed attempt) uses retry 0, so callers pass
// completed attempts minus one. Results are capped at the policy's MaxDelay
// before jitter is added.
func Delay(p RetryPolicy, retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	initial := p.InitialDelay.Std()
	maxDelay := p.MaxDelay.Std()

	var d time.Duration
	switch p.Strategy {
	case StrategyLinear:
		d = capDelay(float64(initial)*float64(retry+1), maxDelay)
	case StrategyFibonacci:
		d = fibonacciDelay(initial, retry, maxDelay)
	case StrategyAggressive:
		d = capDelay(float64(initial)*math.Pow(3, float64(retry)), maxDelay)
	default:
		base := p.ExponentialBase
		if base <= 1 {
			base = 2.0
		}
		d = capDelay(float64(initial)*math.Pow(base, float64(retry)), maxDelay)
	}

	if p.Jitter {
		d += jitterFor(d, p.JitterMin, p.JitterMax)
	}
	return d
}

func capDelay(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// fibonacciDelay walks the sequence seeded with initial as both of the first
// two terms, stopping early once the cap is reached.
func fibonacciDelay(initial time.Duration, retry int, maxDelay time.Duration) time.Duration {
	a, b := initial, initial
	for i := 0; i < retry; i++ {
		a, b = b, a+b
		if maxDelay > 0 && a >= maxDelay {
			return maxDelay
		}
		if a < 0 {
			return maxDelay
		}
	}
	return a
}

// jitterFor returns a uniform random addition in [min*d, max*d], spreading
// concurrently-retrying operations apart.
func jitterFor(d time.Duration, min, max float64) time.Duration {
	if max <= 0 || max < min {
		return 0
	}
	frac := min + rand.Float64()*(max-min)
	return time.Duration(frac * float64(d))
}
