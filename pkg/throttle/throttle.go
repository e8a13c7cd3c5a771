package throttle

import (
	"context"
	"math/rand"
	"time"
)

// Sleeper paces outbound sends. The worker sleeps once after every delivery
// attempt; implementations decide for how long.
type Sleeper interface {
	Sleep(ctx context.Context) error
}

// Jitter sleeps a uniformly random duration in [Min, Max). The WhatsApp
// gateway flags fixed-cadence senders as automation, so the delay between
// messages has to look human.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func NewJitter(min, max time.Duration) *Jitter {
	if max < min {
		max = min
	}
	return &Jitter{Min: min, Max: max}
}

func (j *Jitter) Sleep(ctx context.Context) error {
	delay := j.Min
	if span := j.Max - j.Min; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// None skips the delay entirely. Used in tests.
type None struct{}

func (None) Sleep(ctx context.Context) error {
	return ctx.Err()
}
