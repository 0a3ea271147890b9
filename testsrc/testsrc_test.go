package testsrc

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceRendersFrames(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d, err := New(Size(16, 4), Format(camrelay.RGB), FrameRate(camrelay.FrameRate{Num: 10, Den: 1}))
		require.NoError(t, err)

		start := time.Now()
		var frames []camrelay.Frame
		for range 5 {
			f, err := d.Acquire(context.Background())
			require.NoError(t, err)
			frames = append(frames, f)
		}
		elapsed := time.Since(start)
		assert.InDelta(t, float64(400*time.Millisecond), float64(elapsed), float64(time.Millisecond))

		for _, f := range frames {
			assert.Equal(t, 16, f.Width)
			assert.Equal(t, 4, f.Height)
			assert.Equal(t, camrelay.RGB, f.Format)
			assert.Len(t, f.Data, 16*4*3)
			assert.Zero(t, f.Seq)
		}
		assert.NotEqual(t, frames[0].Data, frames[1].Data)
		assert.NoError(t, d.Close())

		_, err = d.Acquire(context.Background())
		assert.Error(t, err)
	})
}

func TestDeviceInjectsMisses(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d, err := New(Size(8, 8), Format(camrelay.GRAY8), MissEvery(3))
		require.NoError(t, err)

		var misses int
		for range 9 {
			_, err := d.Acquire(context.Background())
			if errors.Is(err, camrelay.ErrTransientMiss) {
				misses++
				continue
			}
			assert.NoError(t, err)
		}
		assert.Equal(t, 3, misses)
	})
}

func TestDeviceAcquireHonoursContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d, err := New(FrameRate(camrelay.FrameRate{Num: 1, Den: 10}))
		require.NoError(t, err)

		_, err = d.Acquire(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err = d.Acquire(ctx)
		assert.Error(t, err)
	})
}

func TestDeviceWithSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		d, err := New(Size(4, 4), MissEvery(2))
		require.NoError(t, err)

		var delivered []camrelay.TimedFrame
		transport := camrelay.TransportFunc(func(tf camrelay.TimedFrame) error {
			delivered = append(delivered, tf)
			return nil
		})
		s, err := camrelay.StartSession(d, transport, camrelay.DefaultConfig())
		require.NoError(t, err)

		for range 10 {
			_, err := s.Demand(0)
			require.NoError(t, err)
		}
		assert.NoError(t, s.Stop())

		require.NotEmpty(t, delivered)
		for i, tf := range delivered {
			assert.Equal(t, uint64(i), tf.Offset)
			if i > 0 {
				assert.Greater(t, tf.Seq, delivered[i-1].Seq)
			}
		}
		assert.Equal(t, camrelay.Stopped, s.State())
	})
}

func TestOptionsValidate(t *testing.T) {
	_, err := New(Size(0, 10))
	assert.Error(t, err)
	_, err = New(Format(camrelay.I420))
	assert.Error(t, err)
	_, err = New(MissEvery(-1))
	assert.Error(t, err)
	_, err = New(FrameRate(camrelay.FrameRate{}))
	assert.Error(t, err)
}
