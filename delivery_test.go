package camrelay_test

import (
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/camrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, transport camrelay.Transport) (*camrelay.Relay, *camrelay.PacingClock, *camrelay.DeliveryAdapter) {
	t.Helper()
	relay, err := camrelay.NewRelay(3, camrelay.DropOldest)
	require.NoError(t, err)
	clock, err := camrelay.NewPacingClock(camrelay.FrameRate{Num: 30, Den: 1})
	require.NoError(t, err)
	adapter, err := camrelay.NewDeliveryAdapter(relay, clock, transport, time.Second)
	require.NoError(t, err)
	return relay, clock, adapter
}

func TestDeliveryAdapterStampsFrames(t *testing.T) {
	transport := &recordingTransport{}
	relay, clock, adapter := newTestAdapter(t, transport)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, relay.Put(frame(i)))
	}
	for range 3 {
		ok, err := adapter.Demand(4096)
		assert.NoError(t, err)
		assert.True(t, ok)
	}

	require.Len(t, transport.frames, 3)
	for i, tf := range transport.frames {
		assert.Equal(t, uint64(i+1), tf.Seq)
		assert.Equal(t, uint64(i), tf.Offset)
		assert.Equal(t, time.Duration(i)*clock.Interval(), tf.PTS)
		assert.Equal(t, clock.Interval(), tf.Duration)
	}
	assert.Equal(t, uint64(3), adapter.Delivered())
	assert.Equal(t, 2*clock.Interval(), adapter.LastPTS())
}

func TestDeliveryAdapterTimeoutDoesNotAdvanceClock(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		transport := &recordingTransport{}
		relay, clock, adapter := newTestAdapter(t, transport)

		start := time.Now()
		ok, err := adapter.Demand(0)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, time.Second, time.Since(start))
		assert.Empty(t, transport.frames)
		assert.Zero(t, clock.Count())
		assert.Equal(t, uint64(1), adapter.Skipped())

		require.NoError(t, relay.Put(frame(1)))
		ok, err = adapter.Demand(0)
		assert.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, transport.frames, 1)
		assert.Zero(t, transport.frames[0].PTS)
	})
}

func TestDeliveryAdapterRefusesAfterFail(t *testing.T) {
	transport := &recordingTransport{}
	relay, clock, adapter := newTestAdapter(t, transport)
	require.NoError(t, relay.Put(frame(1)))

	fatal := &camrelay.FatalSourceError{Cause: errUnplugged}
	adapter.Fail(fatal)
	adapter.Fail(camrelay.ErrSessionStopped)

	ok, err := adapter.Demand(0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errUnplugged)
	assert.Equal(t, 1, relay.Len())
	assert.Zero(t, clock.Count())
	assert.Empty(t, transport.frames)
}

func TestDeliveryAdapterClosedRelay(t *testing.T) {
	relay, _, adapter := newTestAdapter(t, &recordingTransport{})
	relay.Close()

	ok, err := adapter.Demand(0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, camrelay.ErrSessionStopped)
}

func TestDeliveryAdapterTransportError(t *testing.T) {
	errBroken := errors.New("broken pipe")
	relay, _, adapter := newTestAdapter(t, &recordingTransport{err: errBroken})
	require.NoError(t, relay.Put(frame(1)))

	ok, err := adapter.Demand(0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errBroken)
	assert.NoError(t, adapter.Err())
	assert.Zero(t, adapter.Delivered())
}

func TestNewDeliveryAdapterValidates(t *testing.T) {
	relay, clock, _ := newTestAdapter(t, &recordingTransport{})
	_, err := camrelay.NewDeliveryAdapter(relay, clock, nil, time.Second)
	assert.Error(t, err)
	_, err = camrelay.NewDeliveryAdapter(relay, clock, &recordingTransport{}, 0)
	assert.Error(t, err)
}
