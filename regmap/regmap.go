/*Package regmap provides bus-addressed register access for converter and
FPGA core drivers.

A RegMap wraps an Accessor, which performs the raw bus transaction (memory
mapped I/O, a serial register bridge, or a mock register file in tests), and
layers on the usual read/modify/write helpers, atomic multi-register writes,
and polling a register bit with a bounded timeout.

The Config carries an accessibility predicate; reads and writes of registers
the predicate rejects fail before touching the bus.  Converter chips mark
reserved registers this way so a bad address never makes it onto the wire.
*/
package regmap

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInaccessible is returned for reads or writes of a register the
	// accessibility predicate rejects
	ErrInaccessible = errors.New("register is not accessible")

	// ErrPollTimeout is returned by PollTimeout when the deadline lapses
	// before the masked bits assert
	ErrPollTimeout = errors.New("timeout expired polling register")

	// ErrBus wraps any error bubbled up from the Accessor
	ErrBus = errors.New("bus error")
)

// Accessor performs raw register transactions on some bus
type Accessor interface {
	// Read returns the value of a register
	Read(reg uint32) (uint32, error)

	// Write stores a value to a register
	Write(reg, val uint32) error
}

// Op is one register write in a sequence
type Op struct {
	Reg uint32
	Val uint32
}

// Config describes the register space behind an accessor
type Config struct {
	// MaxRegister is the highest valid register address
	MaxRegister uint32

	// Stride is the spacing between consecutive registers.  Zero is
	// treated as one (byte addressed parts)
	Stride uint32

	// Readable reports whether a register may be read.  nil permits all
	Readable func(reg uint32) bool

	// Writeable reports whether a register may be written.  nil permits all
	Writeable func(reg uint32) bool
}

// RegMap provides derived operations over an Accessor
type RegMap struct {
	acc Accessor
	cfg Config

	// Sleep is used for settle delays and poll intervals.  It defaults to
	// time.Sleep and may be replaced in tests
	Sleep func(time.Duration)

	// Now is the clock used for poll deadlines.  It defaults to time.Now
	Now func() time.Time
}

// New returns a RegMap over the given accessor
func New(acc Accessor, cfg Config) *RegMap {
	return &RegMap{acc: acc, cfg: cfg, Sleep: time.Sleep, Now: time.Now}
}

func (rm *RegMap) checkCommon(reg uint32) error {
	if rm.cfg.MaxRegister != 0 && reg > rm.cfg.MaxRegister {
		return fmt.Errorf("register 0x%X beyond max 0x%X: %w", reg, rm.cfg.MaxRegister, ErrInaccessible)
	}
	if rm.cfg.Stride > 1 && reg%rm.cfg.Stride != 0 {
		return fmt.Errorf("register 0x%X not aligned to stride %d: %w", reg, rm.cfg.Stride, ErrInaccessible)
	}
	return nil
}

func (rm *RegMap) checkRead(reg uint32) error {
	if err := rm.checkCommon(reg); err != nil {
		return err
	}
	if rm.cfg.Readable != nil && !rm.cfg.Readable(reg) {
		return fmt.Errorf("register 0x%X: %w", reg, ErrInaccessible)
	}
	return nil
}

func (rm *RegMap) checkWrite(reg uint32) error {
	if err := rm.checkCommon(reg); err != nil {
		return err
	}
	if rm.cfg.Writeable != nil && !rm.cfg.Writeable(reg) {
		return fmt.Errorf("register 0x%X: %w", reg, ErrInaccessible)
	}
	return nil
}

// Read returns the value of a register
func (rm *RegMap) Read(reg uint32) (uint32, error) {
	if err := rm.checkRead(reg); err != nil {
		return 0, err
	}
	val, err := rm.acc.Read(reg)
	if err != nil {
		return 0, fmt.Errorf("read of 0x%X: %v: %w", reg, err, ErrBus)
	}
	return val, nil
}

// Write stores a value to a register
func (rm *RegMap) Write(reg, val uint32) error {
	if err := rm.checkWrite(reg); err != nil {
		return err
	}
	if err := rm.acc.Write(reg, val); err != nil {
		return fmt.Errorf("write of 0x%X: %v: %w", reg, err, ErrBus)
	}
	return nil
}

// UpdateBits replaces the masked field of a register, leaving the other
// bits as they were
func (rm *RegMap) UpdateBits(reg, mask, val uint32) error {
	old, err := rm.Read(reg)
	if err != nil {
		return err
	}
	return rm.Write(reg, (old&^mask)|(val&mask))
}

// SetBits asserts the masked bits of a register
func (rm *RegMap) SetBits(reg, mask uint32) error {
	return rm.UpdateBits(reg, mask, mask)
}

// ClearBits deasserts the masked bits of a register
func (rm *RegMap) ClearBits(reg, mask uint32) error {
	return rm.UpdateBits(reg, mask, 0)
}

// MultiWrite performs a sequence of register writes, stopping at the first
// failure
func (rm *RegMap) MultiWrite(seq []Op) error {
	for _, op := range seq {
		if err := rm.Write(op.Reg, op.Val); err != nil {
			return err
		}
	}
	return nil
}

// PollTimeout reads a register until any of the masked bits assert, sleeping
// interval between reads.  It fails with ErrPollTimeout once timeout has
// elapsed without the condition holding.  An interval of zero busy-polls.
func (rm *RegMap) PollTimeout(reg, mask uint32, interval, timeout time.Duration) error {
	deadline := rm.Now().Add(timeout)
	for {
		val, err := rm.Read(reg)
		if err != nil {
			return err
		}
		if val&mask != 0 {
			return nil
		}
		if rm.Now().After(deadline) {
			return fmt.Errorf("register 0x%X mask 0x%X after %v: %w", reg, mask, timeout, ErrPollTimeout)
		}
		if interval > 0 {
			rm.Sleep(interval)
		}
	}
}
