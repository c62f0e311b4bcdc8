// SPDX-FileCopyrightText: 2025 The JouleTrack Authors
// SPDX-License-Identifier: Apache-2.0

package hal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounterFirstUpdateBaselines(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	total := c.Update(100, now)
	assert.Equal(t, uint64(0), total, "first update must baseline, not accumulate")

	stats := c.Statistics()
	assert.True(t, stats.Initialized)
	assert.Equal(t, uint64(100), stats.LastRaw)
	assert.Equal(t, uint32(0), stats.Wraparounds)
}

func TestCounterMonotonicIncrease(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	c.Initialize(10, now)

	readings := []uint64{20, 35, 35, 100, 250}
	prev := uint64(10)
	expected := uint64(0)

	for _, raw := range readings {
		now = now.Add(100 * time.Millisecond)
		expected += raw - prev
		total := c.Update(raw, now)
		assert.Equal(t, expected, total)
		prev = raw
	}
	assert.Equal(t, uint32(0), c.Wraparounds())
}

func TestCounterWraparound(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	c.Initialize(250, now)

	// 250 -> 5 on a 255-max counter: (255-250)+5 = 10
	total := c.Update(5, now.Add(100*time.Millisecond))
	assert.Equal(t, uint64(10), total)
	assert.Equal(t, uint32(1), c.Wraparounds())
}

func TestCounterResetOnLongGap(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	c.Initialize(250, now)
	c.Update(253, now.Add(time.Second))

	// plausible wrap values, but the reading is 2 minutes late
	total := c.Update(5, now.Add(2*time.Minute))
	assert.Equal(t, uint64(0), total, "reset zeroes the accumulated total")
	assert.Equal(t, uint32(0), c.Wraparounds())

	stats := c.Statistics()
	assert.Equal(t, uint64(5), stats.LastRaw, "reset re-baselines on the new reading")
	assert.Equal(t, uint64(0), stats.Accumulated)
}

func TestCounterResetOnImplausibleDrop(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	c.Initialize(200, now)

	// 200 -> 50 in 10ms: neither value is near the wrap boundary
	total := c.Update(50, now.Add(10*time.Millisecond))
	assert.Equal(t, uint64(0), total)
	assert.Equal(t, uint32(0), c.Wraparounds())
	assert.Equal(t, uint64(50), c.Statistics().LastRaw)
}

func TestCounterMultipleWraparounds(t *testing.T) {
	c := NewWraparoundCounter(1000, "test")
	now := time.Now()

	c.Initialize(950, now)

	now = now.Add(time.Second)
	total := c.Update(20, now) // (1000-950)+20 = 70
	assert.Equal(t, uint64(70), total)

	now = now.Add(time.Second)
	total = c.Update(980, now) // +960
	assert.Equal(t, uint64(1030), total)

	now = now.Add(time.Second)
	total = c.Update(30, now) // (1000-980)+30 = 50
	assert.Equal(t, uint64(1080), total)

	assert.Equal(t, uint32(2), c.Wraparounds())
}

func TestCounterReset(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	c.Initialize(10, now)
	c.Update(100, now.Add(time.Second))
	assert.Equal(t, uint64(90), c.Accumulated())

	c.Reset()
	assert.Equal(t, uint64(0), c.Accumulated())
	assert.Equal(t, uint32(0), c.Wraparounds())
	assert.False(t, c.Statistics().Initialized)

	// idempotent
	c.Reset()
	assert.False(t, c.Statistics().Initialized)

	// next update baselines again
	total := c.Update(42, now.Add(2*time.Second))
	assert.Equal(t, uint64(0), total)
	assert.True(t, c.Statistics().Initialized)
}

func TestCounterEqualReadingAccumulatesNothing(t *testing.T) {
	c := NewWraparoundCounter(255, "test")
	now := time.Now()

	c.Initialize(100, now)
	total := c.Update(100, now.Add(time.Second))
	assert.Equal(t, uint64(0), total)
	assert.Equal(t, uint32(0), c.Wraparounds())
}
