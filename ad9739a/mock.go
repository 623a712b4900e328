package ad9739a

import (
	"sync"

	"github.com/open-instrument/daccore/regmap"
)

// SimChip emulates the AD9739A register file for tests and the mock mode of
// the servers.  It answers the ID register with a configurable chip ID and
// asserts the Mu lock status bit once the Mu controller enable bit has been
// written, unless told never to lock.
type SimChip struct {
	mu   sync.Mutex
	regs map[uint32]uint32

	// MuNeverLocks keeps the lock status bit deasserted forever, to
	// exercise the retry-then-fail path
	MuNeverLocks bool

	// Writes is every register write, oldest first
	Writes []regmap.Op
}

// NewSimChip returns a sim chip reporting the genuine chip ID
func NewSimChip() *SimChip {
	return &SimChip{regs: map[uint32]uint32{RegID: ChipID}}
}

// Set stores a register value without recording a write, for test setup
// (e.g. a bogus chip ID)
func (s *SimChip) Set(reg, val uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = val
}

// Read returns the register value, emulating the Mu lock status
func (s *SimChip) Read(reg uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg == RegMuStat1 {
		if !s.MuNeverLocks && s.regs[RegMuCnt1]&MuEnBit != 0 {
			return s.regs[reg] | MuLockBit, nil
		}
		return s.regs[reg] &^ MuLockBit, nil
	}
	return s.regs[reg], nil
}

// Write stores the value and records the transaction
func (s *SimChip) Write(reg, val uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = val
	s.Writes = append(s.Writes, regmap.Op{Reg: reg, Val: val})
	return nil
}

var _ regmap.Accessor = (*SimChip)(nil)
