package axidac

import "github.com/open-instrument/daccore/regmap"

// NewSim returns an in-memory register file reporting the given core
// version, for tests and the mock mode of the servers
func NewSim(version uint32) *regmap.Mem {
	return regmap.NewMem(map[uint32]uint32{RegVersion: version})
}
