/*Package serialreg exposes a register bus over a serial or TCP bridge.

Converter chips like the AD9739A are controlled through a small serial
protocol bridge (an MCU or a terminal server port) rather than a memory
mapped window.  The Bridge speaks a fixed 12-byte framed transaction
protocol with a CRC-16/XMODEM checksum and implements regmap.Accessor, so a
driver cannot tell it apart from a memory mapped core.

Transactions are paced with a token bucket so a tight poll loop cannot
outrun the bridge MCU's UART.
*/
package serialreg

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/open-instrument/daccore/regmap"
	"github.com/open-instrument/daccore/util"
)

// Bridge is a register bus behind a serial line or TCP socket
type Bridge struct {
	// Addr is the device file (serial) or host:port (TCP) of the bridge
	Addr string

	// Serial selects RS-232 (true) or TCP (false)
	Serial bool

	// Baud is the serial line rate; zero means 115200
	Baud int

	// Timeout bounds connect and per-transaction I/O; zero means 3s
	Timeout time.Duration

	conn    io.ReadWriteCloser
	limiter *rate.Limiter
}

// NewBridge returns an unopened bridge paced at txnPerSec transactions per
// second; zero disables pacing
func NewBridge(addr string, serialMode bool, txnPerSec int) *Bridge {
	b := &Bridge{Addr: addr, Serial: serialMode}
	if txnPerSec > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(txnPerSec), 1)
	}
	return b
}

func (b *Bridge) timeout() time.Duration {
	if b.Timeout == 0 {
		return 3 * time.Second
	}
	return b.Timeout
}

func (b *Bridge) baud() int {
	if b.Baud == 0 {
		return 115200
	}
	return b.Baud
}

// Open connects to the bridge, retrying with exponential backoff for up to
// the connect window
func (b *Bridge) Open() error {
	op := func() error {
		var err error
		if b.Serial {
			b.conn, err = serial.OpenPort(&serial.Config{
				Name:        b.Addr,
				Baud:        b.baud(),
				ReadTimeout: b.timeout(),
			})
		} else {
			b.conn, err = util.TCPSetup(b.Addr, b.timeout())
		}
		return err
	}
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
}

// Close hangs up the bridge connection
func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func (b *Bridge) txn(op byte, addr uint16, val uint32) (uint32, error) {
	if b.conn == nil {
		return 0, fmt.Errorf("bridge %s not open", b.Addr)
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(context.Background()); err != nil {
			return 0, err
		}
	}
	if _, err := b.conn.Write(encodeFrame(op, addr, val)); err != nil {
		return 0, err
	}
	resp := make([]byte, FrameLen)
	if _, err := io.ReadFull(b.conn, resp); err != nil {
		return 0, err
	}
	rop, raddr, rval, err := decodeFrame(resp)
	if err != nil {
		return 0, err
	}
	if rop != op|respFlag || raddr != addr {
		return 0, fmt.Errorf("response op %#x addr %#x to request op %#x addr %#x: %w",
			rop, raddr, op, addr, ErrBadFrame)
	}
	return rval, nil
}

// Read performs one read transaction
func (b *Bridge) Read(reg uint32) (uint32, error) {
	return b.txn(opRead, uint16(reg), 0)
}

// Write performs one write transaction
func (b *Bridge) Write(reg, val uint32) error {
	_, err := b.txn(opWrite, uint16(reg), val)
	return err
}

var _ regmap.Accessor = (*Bridge)(nil)
