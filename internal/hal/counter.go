// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package hal

import (
	"sync"
	"time"
)

const (
	// resetGap is the longest pause between two readings for which a
	// counter decrease may still be interpreted as a hardware wraparound.
	// Anything slower is treated as a counter reset (device power-cycle,
	// driver reload).
	resetGap = 60 * time.Second

	// wrapBoundaryFraction bounds how close to the counter limits both
	// readings must be for a decrease to count as a genuine wraparound:
	// the previous reading within 10% of max, the new one within 10% of
	// zero.
	wrapBoundaryFraction = 0.1
)

// WraparoundCounter reconstructs a monotonically increasing total from a
// bounded hardware counter that periodically wraps past its maximum value.
// Hardware energy registers (RAPL in particular) are often 32-bit and wrap
// every few minutes under load; this type accumulates across wraps while
// distinguishing wraps from external counter resets.
//
// All methods are safe for concurrent use, but a single counter must be fed
// from a single raw-value stream; interleaving readings from two sources
// defeats the wraparound heuristic.
type WraparoundCounter struct {
	mu sync.Mutex

	name          string
	maxValue      uint64
	lastRaw       uint64
	accumulated   uint64
	wraparounds   uint32
	lastTimestamp time.Time
	initialized   bool
}

// Statistics is a point-in-time snapshot of a counter's internal state.
type Statistics struct {
	Accumulated   uint64
	Wraparounds   uint32
	LastRaw       uint64
	MaxValue      uint64
	LastTimestamp time.Time
	Initialized   bool
	Name          string
}

// NewWraparoundCounter creates an uninitialized counter that wraps at
// maxValue (inclusive). The name is used only for diagnostics.
func NewWraparoundCounter(maxValue uint64, name string) *WraparoundCounter {
	return &WraparoundCounter{
		name:     name,
		maxValue: maxValue,
	}
}

// Initialize baselines the counter on its first reading. Any previously
// accumulated total is discarded.
func (c *WraparoundCounter) Initialize(raw uint64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initLocked(raw, ts)
}

func (c *WraparoundCounter) initLocked(raw uint64, ts time.Time) {
	c.lastRaw = raw
	c.accumulated = 0
	c.wraparounds = 0
	c.lastTimestamp = ts
	c.initialized = true
}

// Update folds a new raw reading into the accumulated total and returns the
// total. The first call on an uninitialized counter baselines it and
// returns 0.
//
// A reading lower than the previous one is ambiguous: the counter either
// wrapped past maxValue or was reset underneath us. A decrease is accepted
// as a wraparound only when the reading arrives within resetGap of the
// previous one and both values sit near the wrap boundary; every other
// decrease re-baselines the counter. Accepting an implausible low-to-low
// jump as a wrap would silently corrupt the total, so reset is the
// fallback.
func (c *WraparoundCounter) Update(raw uint64, ts time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		c.initLocked(raw, ts)
		return 0
	}

	if raw < c.lastRaw {
		if c.isWraparound(raw, ts) {
			c.wraparounds++
			c.accumulated += (c.maxValue - c.lastRaw) + raw
		} else {
			c.initLocked(raw, ts)
			return c.accumulated
		}
	} else {
		c.accumulated += raw - c.lastRaw
	}

	c.lastRaw = raw
	c.lastTimestamp = ts

	return c.accumulated
}

// isWraparound classifies a counter decrease as wraparound vs. reset.
// Caller must hold c.mu.
func (c *WraparoundCounter) isWraparound(raw uint64, ts time.Time) bool {
	if ts.Sub(c.lastTimestamp) > resetGap {
		return false
	}

	distanceFromZero := float64(raw) / float64(c.maxValue)
	distanceFromMax := float64(c.maxValue-c.lastRaw) / float64(c.maxValue)

	return distanceFromZero < wrapBoundaryFraction && distanceFromMax < wrapBoundaryFraction
}

// Accumulated returns the running total reconstructed so far.
func (c *WraparoundCounter) Accumulated() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accumulated
}

// Wraparounds returns the number of wraparounds detected since the counter
// was last initialized.
func (c *WraparoundCounter) Wraparounds() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wraparounds
}

// Reset returns the counter to the uninitialized state with a zeroed total.
// It is idempotent.
func (c *WraparoundCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accumulated = 0
	c.wraparounds = 0
	c.initialized = false
}

// Statistics returns a consistent snapshot of all counter fields.
func (c *WraparoundCounter) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Statistics{
		Accumulated:   c.accumulated,
		Wraparounds:   c.wraparounds,
		LastRaw:       c.lastRaw,
		MaxValue:      c.maxValue,
		LastTimestamp: c.lastTimestamp,
		Initialized:   c.initialized,
		Name:          c.name,
	}
}
