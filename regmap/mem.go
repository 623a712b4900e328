package regmap

import "sync"

// Mem is an in-memory register file implementing Accessor.  It backs the
// mock modes of the servers and the driver tests.  Writes are recorded in
// order so tests can assert on the exact transaction sequence.
type Mem struct {
	mu   sync.Mutex
	regs map[uint32]uint32

	// Writes is every write issued to the file, oldest first
	Writes []Op
}

// NewMem returns a register file; seed holds the power-on values
func NewMem(seed map[uint32]uint32) *Mem {
	regs := make(map[uint32]uint32, len(seed))
	for k, v := range seed {
		regs[k] = v
	}
	return &Mem{regs: regs}
}

// Read returns the current value of a register, zero if never written
func (m *Mem) Read(reg uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[reg], nil
}

// Write stores a value and records it in Writes
func (m *Mem) Write(reg, val uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg] = val
	m.Writes = append(m.Writes, Op{Reg: reg, Val: val})
	return nil
}

// Set stores a value without recording it, for test setup
func (m *Mem) Set(reg, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg] = val
}

// Get returns the current value of a register
func (m *Mem) Get(reg uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[reg]
}
