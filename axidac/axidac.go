/*Package axidac drives the Analog Devices generic AXI DAC FPGA IP core and
registers it as a streaming backend.

Register map:
	https://wiki.analog.com/resources/fpga/docs/axi_dac_ip#register_map

The core is forced into reset at probe time regardless of what state the
bitstream left it in; it is up to the bound frontend to enable it.  Register
offsets are generation-specific, so probing validates the core's reported
major version against the one the platform declares and refuses to register
an adapter for a generation it does not understand.
*/
package axidac

import (
	"fmt"
	"log"
	"time"

	"github.com/open-instrument/daccore/backend"
	"github.com/open-instrument/daccore/dmabuf"
	"github.com/open-instrument/daccore/regmap"
	"github.com/open-instrument/daccore/topology"
)

// Core-level registers
const (
	// RegVersion reports the IP core version, packed major<<16|minor<<8|patch
	RegVersion = 0x0000

	// RegRstn holds the reset and clock-enable controls
	RegRstn = 0x0040
)

// RegRstn bits
var (
	// RstnCEN gates the clock (active low in hardware, hence the name)
	RstnCEN = regmap.Bit(2)

	// RstnMMCM releases the clock-domain (MMCM) reset
	RstnMMCM = regmap.Bit(1)

	// Rstn releases the full core reset (the run bit)
	Rstn = regmap.Bit(0)

	// DataSelMask is the data source select field of a channel control register
	DataSelMask = regmap.Mask(3, 0)
)

// Channel data source select values
const (
	dataSelInternalTone = 0
	dataSelDMA          = 2
)

// settleDelay is the wait between releasing the clock-domain reset and
// asserting the run bit
const settleDelay = 10 * time.Microsecond

// Per-channel registers, one 0x40 block per channel
func regChanCntrl1(ch int) uint32 { return 0x0400 + uint32(ch)*0x40 } // tone scale
func regChanCntrl2(ch int) uint32 { return 0x0404 + uint32(ch)*0x40 } // tone phase
func regChanCntrl3(ch int) uint32 { return 0x0408 + uint32(ch)*0x40 } // tone frequency

// RegChanCntrl7 returns the data source select register of a channel
func RegChanCntrl7(ch int) uint32 { return 0x0418 + uint32(ch)*0x40 }

// VersionMajor unpacks the major field of a version word
func VersionMajor(v uint32) uint32 { return v >> 16 & 0xFF }

// VersionMinor unpacks the minor field of a version word
func VersionMinor(v uint32) uint32 { return v >> 8 & 0xFF }

// VersionPatch unpacks the patch letter of a version word
func VersionPatch(v uint32) byte { return byte(v & 0xFF) }

// PackVersion packs a version word from its parts
func PackVersion(major, minor uint32, patch byte) uint32 {
	return major<<16 | minor<<8 | uint32(patch)
}

func fmtVersion(v uint32) string {
	return fmt.Sprintf("%d.%02d.%c", VersionMajor(v), VersionMinor(v), VersionPatch(v))
}

// Config describes one core instance
type Config struct {
	// Name is the topology identity to register under
	Name string

	// ExpectedVersion is the packed version the platform declares for this
	// register layout; only the major field is compared
	ExpectedVersion uint32

	// NChannels is the number of DAC channels the core synthesizes
	NChannels int

	// Node optionally supplies device properties (e.g. dma-names)
	Node *topology.Node

	// Pool allocates the streaming buffers RequestBuffer hands out
	Pool *dmabuf.Pool

	// Sleep overrides the settle delay sleep, for tests
	Sleep func(time.Duration)
}

// Core is an AXI DAC adapter implementing backend.Backend
type Core struct {
	rm  *regmap.RegMap
	cfg Config
	reg *backend.Registry

	version     uint32
	running     bool
	chanEnabled []bool
	formats     []backend.DataFormat
}

// New probes the core behind acc and registers it with reg.  The core is
// held in reset, its version register is read, and a major version mismatch
// aborts registration with backend.ErrIncompatibleVersion.
func New(acc regmap.Accessor, cfg Config, reg *backend.Registry) (*Core, error) {
	if cfg.NChannels <= 0 {
		cfg.NChannels = 1
	}
	rm := regmap.New(acc, regmap.Config{MaxRegister: 0x0800, Stride: 4})
	if cfg.Sleep != nil {
		rm.Sleep = cfg.Sleep
	}
	c := &Core{
		rm:          rm,
		cfg:         cfg,
		reg:         reg,
		chanEnabled: make([]bool, cfg.NChannels),
		formats:     make([]backend.DataFormat, cfg.NChannels),
	}

	// force the core into reset; registers stay accessible
	if err := rm.Write(RegRstn, 0); err != nil {
		return nil, err
	}

	ver, err := rm.Read(RegVersion)
	if err != nil {
		return nil, err
	}
	if VersionMajor(ver) != VersionMajor(cfg.ExpectedVersion) {
		return nil, fmt.Errorf("major version mismatch, expected %s reported %s: %w",
			fmtVersion(cfg.ExpectedVersion), fmtVersion(ver), backend.ErrIncompatibleVersion)
	}
	c.version = ver

	if err := reg.Register(cfg.Name, c); err != nil {
		return nil, err
	}
	log.Printf("AXI DAC IP core (%s) probed as %q", fmtVersion(ver), cfg.Name)
	return c, nil
}

// Version returns the packed version word the core reported at probe
func (c *Core) Version() uint32 {
	return c.version
}

// Close disables the core and revokes its registration.  The owning handle
// (if any) must have been released first.
func (c *Core) Close() error {
	err := c.Disable()
	c.reg.Unregister(c.cfg.Name)
	return err
}

// Enable brings the core from held-in-reset to running: the clock-domain
// reset is released alone, the domain is given a settle delay, then the run
// bit is asserted.  Enabling a running core is a no-op.
func (c *Core) Enable() error {
	if c.running {
		return nil
	}
	if err := c.rm.SetBits(RegRstn, RstnMMCM); err != nil {
		return err
	}
	c.rm.Sleep(settleDelay)
	if err := c.rm.SetBits(RegRstn, Rstn|RstnMMCM); err != nil {
		return err
	}
	c.running = true
	return nil
}

// Disable returns the core to held-in-reset by clearing every control bit.
// No drain is attempted; callers demux channel traffic first.  Disabling a
// core that was never enabled is a no-op that succeeds.
func (c *Core) Disable() error {
	if err := c.rm.Write(RegRstn, 0); err != nil {
		return err
	}
	c.running = false
	return nil
}

func (c *Core) checkChan(ch int) error {
	if ch < 0 || ch >= c.cfg.NChannels {
		return fmt.Errorf("channel %d of %d: %w", ch, c.cfg.NChannels, backend.ErrInvalidChannel)
	}
	return nil
}

// ChanEnable gates a channel on
func (c *Core) ChanEnable(ch int) error {
	if err := c.checkChan(ch); err != nil {
		return err
	}
	c.chanEnabled[ch] = true
	return nil
}

// ChanDisable gates a channel off
func (c *Core) ChanDisable(ch int) error {
	if err := c.checkChan(ch); err != nil {
		return err
	}
	c.chanEnabled[ch] = false
	return nil
}

// DataFormatSet configures how raw sample words map to signed values on a
// channel.  The core formats two's complement or offset binary; anything
// else is rejected.
func (c *Core) DataFormatSet(ch int, f backend.DataFormat) error {
	if err := c.checkChan(ch); err != nil {
		return err
	}
	switch f.Type {
	case backend.TwosComplement, backend.OffsetBinary:
	default:
		return fmt.Errorf("data type %d: %w", f.Type, backend.ErrInvalidArgument)
	}
	c.formats[ch] = f
	return nil
}

// DataSourceSet switches a channel between the internal tone generator and
// the DMA FIFO
func (c *Core) DataSourceSet(ch int, src backend.DataSource) error {
	if err := c.checkChan(ch); err != nil {
		return err
	}
	switch src {
	case backend.SourceInternalTone:
		return c.rm.UpdateBits(RegChanCntrl7(ch), DataSelMask, dataSelInternalTone)
	case backend.SourceExternal:
		return c.rm.UpdateBits(RegChanCntrl7(ch), DataSelMask, dataSelDMA)
	default:
		return fmt.Errorf("data source %d: %w", src, backend.ErrInvalidArgument)
	}
}

// RequestBuffer claims the core's DMA channel and attaches an output buffer
// to dev.  The channel name comes from the dma-names topology property,
// falling back to "tx".  On any failure nothing stays half-attached.
func (c *Core) RequestBuffer(dev dmabuf.Device) (*dmabuf.Buffer, error) {
	name := "tx"
	if c.cfg.Node != nil {
		name = c.cfg.Node.Property("dma-names", "tx")
	}
	if c.cfg.Pool == nil {
		return nil, fmt.Errorf("no DMA pool configured: %w", backend.ErrResourceUnavailable)
	}
	buf, err := c.cfg.Pool.Claim(name)
	if err != nil {
		return nil, fmt.Errorf("could not get DMA buffer %q: %v: %w", name, err, backend.ErrResourceUnavailable)
	}
	buf.SetDirection(dmabuf.DirOut)
	dev.SetHardwareBuffered(true)
	if err := dev.AttachBuffer(buf); err != nil {
		dev.SetHardwareBuffered(false)
		buf.Free()
		return nil, fmt.Errorf("attaching DMA buffer %q: %v: %w", name, err, backend.ErrResourceUnavailable)
	}
	return buf, nil
}

// FreeBuffer releases a buffer obtained from RequestBuffer
func (c *Core) FreeBuffer(buf *dmabuf.Buffer) {
	buf.Free()
}

// ReadRaw reads a tone attribute from the channel's DDS registers
func (c *Core) ReadRaw(ch int, attr backend.Attribute) (int64, error) {
	if err := c.checkChan(ch); err != nil {
		return 0, err
	}
	reg, err := c.attrReg(attr)
	if err != nil {
		return 0, err
	}
	v, err := c.rm.Read(reg(ch))
	return int64(v), err
}

// WriteRaw writes a tone attribute to the channel's DDS registers
func (c *Core) WriteRaw(ch int, attr backend.Attribute, val int64) error {
	if err := c.checkChan(ch); err != nil {
		return err
	}
	reg, err := c.attrReg(attr)
	if err != nil {
		return err
	}
	if val < 0 || val > int64(^uint32(0)) {
		return fmt.Errorf("value %d out of register range: %w", val, backend.ErrInvalidArgument)
	}
	return c.rm.Write(reg(ch), uint32(val))
}

// attrReg maps an attribute to its per-channel register.  Attributes the
// core does not implement are an error, never a silent zero.
func (c *Core) attrReg(attr backend.Attribute) (func(int) uint32, error) {
	switch attr {
	case backend.AttrScale:
		return regChanCntrl1, nil
	case backend.AttrPhase:
		return regChanCntrl2, nil
	case backend.AttrFrequency:
		return regChanCntrl3, nil
	default:
		return nil, fmt.Errorf("attribute %v: %w", attr, backend.ErrInvalidArgument)
	}
}

var _ backend.Backend = (*Core)(nil)
