package linker

import (
	"context"
	"time"
)

// Stabilizer blocks until the files under root have stopped growing, or gives
// up. It reports whether stability was observed.
type Stabilizer interface {
	Wait(ctx context.Context, root string) bool
}

// PollingStabilizer compares media file sizes between polls.
type PollingStabilizer struct {
	Initial  time.Duration
	Interval time.Duration
	Polls    int
	Required int
}

// DefaultStabilizer waits 2s, then polls up to 5 times at 1s intervals for 2
// consecutive stable reads.
func DefaultStabilizer() *PollingStabilizer {
	return &PollingStabilizer{
		Initial:  2 * time.Second,
		Interval: time.Second,
		Polls:    5,
		Required: 2,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Wait implements Stabilizer. The first poll has nothing to compare against
// and counts as stable. Files that appear between polls do not break
// stability; only a size change of a known file does.
func (p *PollingStabilizer) Wait(ctx context.Context, root string) bool {
	if !sleep(ctx, p.Initial) {
		return false
	}

	var last map[string]int64
	stable := 0
	for i := 0; i < p.Polls; i++ {
		if !sleep(ctx, p.Interval) {
			return false
		}
		current := mediaSizes(root)
		if last == nil || sameSizes(last, current) {
			stable++
			if stable >= p.Required {
				return true
			}
		} else {
			stable = 0
		}
		last = current
	}
	return stable >= p.Required
}

func sameSizes(prev, cur map[string]int64) bool {
	for path, size := range cur {
		if old, ok := prev[path]; ok && old != size {
			return false
		}
	}
	return true
}

// NoWait is a Stabilizer that returns immediately.
type NoWait struct{}

func (NoWait) Wait(context.Context, string) bool { return true }
