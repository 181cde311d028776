package jobqueue

import (
	"math"
	"math/rand"
	"time"

	"github.com/smallbiznis/railzway-benefits/internal/config"
)

// Backoff returns the exponential delay for the given attempt (1-based) with
// symmetric jitter, capped at cfg.BackoffMax.
func Backoff(attempt int, cfg config.WorkerConfig, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if random == nil {
		random = rand.Float64
	}

	raw := float64(cfg.BackoffBase) * math.Pow(2, float64(attempt-1))
	delay := cfg.BackoffMax
	if raw < float64(cfg.BackoffMax) {
		delay = time.Duration(raw)
	}

	if cfg.JitterFactor > 0 {
		jitter := float64(delay) * cfg.JitterFactor
		delay = time.Duration(float64(delay) + (random()*2-1)*jitter)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
