package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "got %v", got)
	assert.Zero(t, got.Nanosecond())
}

func TestFixedClock(t *testing.T) {
	t.Parallel()

	paris := time.FixedZone("CET", 3600)
	at := time.Date(2025, 11, 18, 10, 30, 0, 0, paris)
	clk := Fixed(at)

	assert.Equal(t, at.UTC(), clk.Now())
	assert.Equal(t, clk.Now(), clk.Now())
}
