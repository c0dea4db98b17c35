package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelLifecycle(t *testing.T) {
	var activated, closed int
	c := NewChannel(func() { activated++ }, func() { closed++ })

	assert.Equal(t, ChannelUninitialized, c.State())

	require.NoError(t, c.Activate())
	assert.Equal(t, ChannelActive, c.State())
	assert.Equal(t, 1, activated)

	// The Uninitialized -> Active transition happens exactly once.
	assert.Error(t, c.Activate())
	assert.Equal(t, 1, activated)

	require.NoError(t, c.Close())
	assert.Equal(t, ChannelClosed, c.State())
	assert.Equal(t, 1, closed)

	assert.ErrorIs(t, c.Close(), ErrChannelClosed)
	assert.Equal(t, 1, closed, "close hook must run exactly once")
	assert.ErrorIs(t, c.Activate(), ErrChannelClosed)
}

func TestCloseBeforeActivate(t *testing.T) {
	var closed int
	c := NewChannel(nil, func() { closed++ })

	// A handshake the channel rejects closes straight from Uninitialized.
	require.NoError(t, c.Close())
	assert.Equal(t, 1, closed)
	assert.ErrorIs(t, c.Activate(), ErrChannelClosed)
}

func TestSingleListener(t *testing.T) {
	c := NewChannel(nil, nil)

	_, _, err := c.AttachListener()
	assert.ErrorIs(t, err, ErrChannelNotActive)

	require.NoError(t, c.Activate())

	_, release, err := c.AttachListener()
	require.NoError(t, err)

	_, _, err = c.AttachListener()
	assert.ErrorIs(t, err, ErrListenerAttached)

	release()
	_, release2, err := c.AttachListener()
	require.NoError(t, err)
	release2()
}

func TestPublishOrderAndBestEffort(t *testing.T) {
	c := NewChannel(nil, nil)
	require.NoError(t, c.Activate())

	// No listener attached: pushes are dropped, not buffered.
	require.NoError(t, c.Publish([]byte("lost")))

	stream, release, err := c.AttachListener()
	require.NoError(t, err)
	defer release()

	require.NoError(t, c.Publish([]byte("one")))
	require.NoError(t, c.Publish([]byte("two")))
	require.NoError(t, c.Publish([]byte("three")))

	assert.Equal(t, "one", string(<-stream))
	assert.Equal(t, "two", string(<-stream))
	assert.Equal(t, "three", string(<-stream))

	select {
	case msg := <-stream:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}

func TestCloseCancelsPendingListener(t *testing.T) {
	c := NewChannel(nil, nil)
	require.NoError(t, c.Activate())

	stream, release, err := c.AttachListener()
	require.NoError(t, err)
	defer release()

	require.NoError(t, c.Close())

	_, open := <-stream
	assert.False(t, open, "close must end the listener's stream")
	assert.ErrorIs(t, c.Publish([]byte("late")), ErrChannelClosed)
}
