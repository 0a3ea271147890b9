package camrelay_test

import (
	"math/rand/v2"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(seq uint64) camrelay.Frame {
	return camrelay.Frame{Seq: seq, Width: 2, Height: 2, Format: camrelay.GRAY8, Data: []byte{0, 1, 2, 3}}
}

func TestRelayDropsOldest(t *testing.T) {
	r, err := camrelay.NewRelay(3, camrelay.DropOldest)
	require.NoError(t, err)

	for i := uint64(1); i <= 4; i++ {
		assert.NoError(t, r.Put(frame(i)))
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(1), r.Stats().Overflows)

	for _, want := range []uint64{2, 3, 4} {
		f, err := r.Take(time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, want, f.Seq)
	}
}

func TestRelayDropsNewest(t *testing.T) {
	r, err := camrelay.NewRelay(3, camrelay.DropNewest)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		assert.NoError(t, r.Put(frame(i)))
	}
	assert.Equal(t, uint64(2), r.Stats().Overflows)

	for _, want := range []uint64{1, 2, 3} {
		f, err := r.Take(time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, want, f.Seq)
	}
}

func TestRelayKeepsNewestFrames(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 10} {
		r, err := camrelay.NewRelay(capacity, camrelay.DropOldest)
		require.NoError(t, err)

		puts := capacity + 1 + rand.IntN(50)
		for i := 1; i <= puts; i++ {
			assert.NoError(t, r.Put(frame(uint64(i))))
			assert.LessOrEqual(t, r.Len(), capacity)
		}
		assert.Equal(t, uint64(puts-capacity), r.Stats().Overflows)

		want := uint64(puts - capacity + 1)
		for range capacity {
			f, err := r.Take(time.Millisecond)
			assert.NoError(t, err)
			assert.Equal(t, want, f.Seq)
			want++
		}
	}
}

func TestRelayTakeTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r, err := camrelay.NewRelay(3, camrelay.DropOldest)
		require.NoError(t, err)

		start := time.Now()
		_, err = r.Take(250 * time.Millisecond)
		assert.ErrorIs(t, err, camrelay.ErrDeliveryTimeout)
		assert.Equal(t, 250*time.Millisecond, time.Since(start))
		assert.Equal(t, uint64(1), r.Stats().Timeouts)
	})
}

func TestRelayTakeWaitsForPut(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r, err := camrelay.NewRelay(3, camrelay.DropOldest)
		require.NoError(t, err)

		go func() {
			time.Sleep(100 * time.Millisecond)
			assert.NoError(t, r.Put(frame(7)))
		}()

		start := time.Now()
		f, err := r.Take(time.Second)
		assert.NoError(t, err)
		assert.Equal(t, uint64(7), f.Seq)
		assert.Equal(t, 100*time.Millisecond, time.Since(start))
	})
}

func TestRelayCloseWakesTake(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r, err := camrelay.NewRelay(3, camrelay.DropOldest)
		require.NoError(t, err)

		errs := make(chan error, 1)
		go func() {
			_, err := r.Take(time.Hour)
			errs <- err
		}()
		synctest.Wait()

		start := time.Now()
		r.Close()
		assert.ErrorIs(t, <-errs, camrelay.ErrRelayClosed)
		assert.Zero(t, time.Since(start))

		assert.ErrorIs(t, r.Put(frame(1)), camrelay.ErrRelayClosed)
		_, err = r.Take(time.Second)
		assert.ErrorIs(t, err, camrelay.ErrRelayClosed)
		r.Close()
	})
}

func TestRelayConcurrentOrdering(t *testing.T) {
	r, err := camrelay.NewRelay(4, camrelay.DropOldest)
	require.NoError(t, err)

	const n = 10_000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			assert.NoError(t, r.Put(frame(i)))
		}
	}()

	var last uint64
	for last < n {
		f, err := r.Take(time.Second)
		require.NoError(t, err)
		assert.Greater(t, f.Seq, last)
		last = f.Seq
	}
	wg.Wait()

	stats := r.Stats()
	assert.Equal(t, uint64(n), stats.Puts)
	assert.Equal(t, stats.Puts, stats.Takes+stats.Overflows+uint64(r.Len()))
}

func TestNewRelayValidatesCapacity(t *testing.T) {
	_, err := camrelay.NewRelay(0, camrelay.DropOldest)
	assert.Error(t, err)
	_, err = camrelay.NewRelay(camrelay.MaxRelayCapacity+1, camrelay.DropOldest)
	assert.Error(t, err)
	_, err = camrelay.NewRelay(1, camrelay.DropPolicy(7))
	assert.Error(t, err)
}

func TestParseDropPolicy(t *testing.T) {
	p, err := camrelay.ParseDropPolicy("drop-newest")
	assert.NoError(t, err)
	assert.Equal(t, camrelay.DropNewest, p)

	p, err = camrelay.ParseDropPolicy("")
	assert.NoError(t, err)
	assert.Equal(t, camrelay.DropOldest, p)

	_, err = camrelay.ParseDropPolicy("drop-random")
	assert.Error(t, err)
}
