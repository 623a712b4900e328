/*Package dmabuf provides streaming buffer allocation over named DMA
channels.

The Pool models the DMA engine's channel table: a fixed set of named
channels, each claimable by at most one buffer at a time.  Backends claim a
channel on behalf of a streaming device, attach the resulting buffer, and
free it when the device detaches.  The scatter-gather mechanics behind a
channel are outside this package; only the claim/attach/free lifecycle is
modeled here.
*/
package dmabuf

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoSuchChannel is returned for a channel name the pool does not know
	ErrNoSuchChannel = errors.New("no such DMA channel")

	// ErrChannelClaimed is returned when the channel is held by another buffer
	ErrChannelClaimed = errors.New("DMA channel already claimed")
)

// Direction is the data direction of a buffer
type Direction int

const (
	// DirIn moves samples from the hardware to memory
	DirIn Direction = iota

	// DirOut moves samples from memory to the hardware (DAC output)
	DirOut
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// Device is the streaming device a buffer attaches to
type Device interface {
	// AttachBuffer gives the device its streaming buffer.  A device holds
	// at most one; attaching a second fails
	AttachBuffer(b *Buffer) error

	// DetachBuffer drops the attached buffer
	DetachBuffer()

	// SetHardwareBuffered marks whether the device streams through
	// hardware-managed buffering
	SetHardwareBuffered(on bool)
}

// Pool is a table of named DMA channels
type Pool struct {
	mu      sync.Mutex
	claimed map[string]bool
}

// NewPool returns a pool with the given channel names, all unclaimed
func NewPool(channels ...string) *Pool {
	claimed := make(map[string]bool, len(channels))
	for _, c := range channels {
		claimed[c] = false
	}
	return &Pool{claimed: claimed}
}

// Claim takes exclusive hold of a channel and returns its buffer
func (p *Pool) Claim(channel string) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	held, ok := p.claimed[channel]
	if !ok {
		return nil, fmt.Errorf("%q: %w", channel, ErrNoSuchChannel)
	}
	if held {
		return nil, fmt.Errorf("%q: %w", channel, ErrChannelClaimed)
	}
	p.claimed[channel] = true
	return &Buffer{pool: p, channel: channel}, nil
}

// Buffer is a streaming buffer bound to one DMA channel and one direction
type Buffer struct {
	pool    *Pool
	channel string
	dir     Direction
	freed   bool
}

// Channel returns the DMA channel name backing the buffer
func (b *Buffer) Channel() string {
	return b.channel
}

// Direction returns the buffer's data direction
func (b *Buffer) Direction() Direction {
	return b.dir
}

// SetDirection fixes the buffer's data direction
func (b *Buffer) SetDirection(d Direction) {
	b.dir = d
}

// Free releases the buffer's channel back to the pool.  Freeing twice is a
// no-op
func (b *Buffer) Free() {
	if b.freed {
		return
	}
	b.freed = true
	b.pool.mu.Lock()
	b.pool.claimed[b.channel] = false
	b.pool.mu.Unlock()
}
