package sessions

import (
	"errors"
	"sync"
)

// ChannelState is the lifecycle position of a session's transport channel.
type ChannelState string

const (
	// ChannelUninitialized exists only for the duration of the handshake
	// request that is creating the session.
	ChannelUninitialized ChannelState = "uninitialized"
	// ChannelActive accepts repeated write-channel calls and at most one
	// live listen connection.
	ChannelActive ChannelState = "active"
	// ChannelClosed is terminal; every further operation fails.
	ChannelClosed ChannelState = "closed"
)

var (
	// ErrChannelClosed is returned for any operation on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelNotActive is returned when an operation requires an
	// activated channel.
	ErrChannelNotActive = errors.New("channel not active")
	// ErrListenerAttached is returned when a second listen connection is
	// attempted while one is live.
	ErrListenerAttached = errors.New("listener already attached")
)

// listenerBuffer bounds in-flight pushes per listener. Delivery is
// best-effort at-most-once, so overflow drops rather than blocks.
const listenerBuffer = 32

// Channel binds a session's HTTP requests into one logical bidirectional
// conversation. It moves Uninitialized -> Active exactly once, on handshake
// completion, and Active -> Closed exactly once, on terminate or fatal
// protocol error. The activate and close hooks let the registry publish and
// release the session at precisely those transitions.
type Channel struct {
	mu       sync.Mutex
	state    ChannelState
	listener chan []byte

	onActivate func()
	onClose    func()
}

// NewChannel constructs an uninitialized channel. onActivate fires on the
// single Uninitialized -> Active transition; onClose fires exactly once when
// the channel reaches Closed, on every exit path.
func NewChannel(onActivate, onClose func()) *Channel {
	return &Channel{state: ChannelUninitialized, onActivate: onActivate, onClose: onClose}
}

// State returns the channel's current lifecycle position.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Activate completes the handshake. It succeeds exactly once; activating a
// closed or already-active channel is an error.
func (c *Channel) Activate() error {
	c.mu.Lock()
	if c.state != ChannelUninitialized {
		state := c.state
		c.mu.Unlock()
		if state == ChannelClosed {
			return ErrChannelClosed
		}
		return errors.New("channel already active")
	}
	c.state = ChannelActive
	hook := c.onActivate
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// Close transitions to Closed and runs the cleanup hook. Idempotent: only
// the first call observes success; later calls return ErrChannelClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == ChannelClosed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.state = ChannelClosed
	if c.listener != nil {
		close(c.listener)
		c.listener = nil
	}
	hook := c.onClose
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// AttachListener reserves the channel's single live listen connection and
// returns the ordered push stream plus a release function the caller must
// invoke when the connection ends. The stream is closed by Close, which also
// cancels any pending attachment.
func (c *Channel) AttachListener() (<-chan []byte, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == ChannelClosed:
		return nil, nil, ErrChannelClosed
	case c.state != ChannelActive:
		return nil, nil, ErrChannelNotActive
	case c.listener != nil:
		return nil, nil, ErrListenerAttached
	}

	ch := make(chan []byte, listenerBuffer)
	c.listener = ch

	release := func() {
		c.mu.Lock()
		if c.listener == ch {
			c.listener = nil
		}
		c.mu.Unlock()
	}
	return ch, release, nil
}

// Publish delivers a server-to-client push to the attached listener in
// production order. With no listener attached, or with the listener's buffer
// full, the push is dropped.
func (c *Channel) Publish(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ChannelClosed {
		return ErrChannelClosed
	}
	if c.listener == nil {
		return nil
	}
	select {
	case c.listener <- msg:
	default:
	}
	return nil
}
