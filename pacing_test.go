package camrelay_test

import (
	"testing"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacingClock(t *testing.T) {
	c, err := camrelay.NewPacingClock(camrelay.FrameRate{Num: 30, Den: 1})
	require.NoError(t, err)

	delta := time.Duration(33_333_333)
	assert.Equal(t, delta, c.Interval())

	var pts, duration time.Duration
	for range 5 {
		pts, duration = c.Next()
	}
	assert.Equal(t, 4*delta, pts)
	assert.Equal(t, delta, duration)
	assert.Equal(t, uint64(5), c.Count())

	c.Reset()
	pts, _ = c.Next()
	assert.Zero(t, pts)
}

func TestPacingClockIsExactMultiple(t *testing.T) {
	for _, rate := range []camrelay.FrameRate{
		{Num: 25, Den: 1},
		{Num: 30, Den: 1},
		{Num: 60, Den: 1},
		{Num: 30000, Den: 1001},
		{Num: 1, Den: 2},
	} {
		c, err := camrelay.NewPacingClock(rate)
		require.NoError(t, err)
		for n := range 1000 {
			pts, duration := c.Next()
			assert.Equal(t, time.Duration(n)*c.Interval(), pts)
			assert.Equal(t, c.Interval(), duration)
		}
	}
}

func TestNewPacingClockRejectsInvalidRates(t *testing.T) {
	for _, rate := range []camrelay.FrameRate{
		{Num: 0, Den: 1},
		{Num: 30, Den: 0},
		{Num: -1, Den: 1},
		{Num: 2_000_000_000, Den: 1},
	} {
		_, err := camrelay.NewPacingClock(rate)
		assert.Error(t, err, rate)
	}
}

func TestParseFrameRate(t *testing.T) {
	fr, err := camrelay.ParseFrameRate("30")
	assert.NoError(t, err)
	assert.Equal(t, camrelay.FrameRate{Num: 30, Den: 1}, fr)

	fr, err = camrelay.ParseFrameRate("30000/1001")
	assert.NoError(t, err)
	assert.Equal(t, camrelay.FrameRate{Num: 30000, Den: 1001}, fr)
	assert.Equal(t, time.Duration(33_366_666), fr.Interval())

	for _, s := range []string{"", "abc", "30/", "0/1", "30/-1"} {
		_, err = camrelay.ParseFrameRate(s)
		assert.Error(t, err, s)
	}
}
