package consensus

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var ErrNoCandidates = errors.New("no leader candidates")

// LeaderElector decides which candidate seals the next block. It returns
// once the winner's wait has elapsed, or early with ctx.Err().
type LeaderElector interface {
	ElectLeader(ctx context.Context, candidates []string) (string, time.Duration, error)
}

// Rand is the randomness RandomDelay draws wait times from.
type Rand interface {
	Int63n(n int64) int64
}

// RandomDelay is an elapsed-time style elector: every candidate draws a
// uniform wait in [Min, Max] and the shortest wait wins. The wait is a
// stand-in for leader election, not a verifiable proof.
type RandomDelay struct {
	min  time.Duration
	max  time.Duration
	mu   sync.Mutex
	rand Rand
}

func NewRandomDelay(min, max time.Duration, r Rand) *RandomDelay {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomDelay{min: min, max: max, rand: r}
}

func (e *RandomDelay) ElectLeader(ctx context.Context, candidates []string) (string, time.Duration, error) {
	winner := ""
	var wait time.Duration
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		d := e.draw()
		if winner == "" || d < wait {
			winner, wait = c, d
		}
	}
	if winner == "" {
		return "", 0, ErrNoCandidates
	}
	if err := sleep(ctx, wait); err != nil {
		return "", 0, err
	}
	return winner, wait, nil
}

func (e *RandomDelay) draw() time.Duration {
	span := int64(e.max - e.min)
	if span <= 0 {
		return e.min
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.min + time.Duration(e.rand.Int63n(span+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
