/*Package backend defines the capability contract between converter frontends
and the data-movement cores that feed them, and the registry frontends use to
bind a core.

A backend is an FPGA-resident IP block that moves sample data between the
DMA engine and the physical bus toward the converter.  Frontends never name a
concrete backend type; they resolve a topology reference through a Registry
and drive whatever comes back through the Backend interface.

Every backend implementation must satisfy the whole interface.  Operations
that a given core genuinely cannot perform fail with ErrInvalidArgument;
silently succeeding with a zero value is not an acceptable implementation of
an attribute.
*/
package backend

import (
	"fmt"

	"github.com/open-instrument/daccore/dmabuf"
)

// DataType is the representation of raw sample words on a channel
type DataType int

const (
	// TwosComplement marks signed two's complement samples
	TwosComplement DataType = iota

	// OffsetBinary marks offset-binary samples
	OffsetBinary
)

// DataFormat describes how raw sample words map to signed sample values on
// one channel
type DataFormat struct {
	Type DataType

	// SignExtend tells whether samples are sign extended to the storage width
	SignExtend bool

	// Enable turns the formatting stage on.  When false no formatting happens
	Enable bool
}

// DataSource selects what feeds a channel
type DataSource int

const (
	// SourceInternalTone feeds the channel from the core's internally
	// generated waveform.  It is the reset-time and stream-stop default so
	// a channel is never left silently expecting DMA data that will not come
	SourceInternalTone DataSource = iota

	// SourceExternal feeds the channel from the DMA FIFO
	SourceExternal
)

func (s DataSource) String() string {
	switch s {
	case SourceInternalTone:
		return "internal-tone"
	case SourceExternal:
		return "external"
	default:
		return fmt.Sprintf("DataSource(%d)", int(s))
	}
}

// Attribute names a scalar channel attribute
type Attribute int

const (
	// AttrScale is the output scale of a channel
	AttrScale Attribute = iota

	// AttrPhase is the phase of a channel
	AttrPhase

	// AttrFrequency is the tone frequency of a channel
	AttrFrequency

	// AttrSampleRate is the converter sample rate
	AttrSampleRate
)

var attrNames = map[string]Attribute{
	"scale":       AttrScale,
	"phase":       AttrPhase,
	"frequency":   AttrFrequency,
	"sample-rate": AttrSampleRate,
}

// ParseAttribute maps an attribute name from the wire ("scale", "phase",
// "frequency", "sample-rate") to its Attribute
func ParseAttribute(s string) (Attribute, error) {
	a, ok := attrNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown attribute %q: %w", s, ErrInvalidArgument)
	}
	return a, nil
}

func (a Attribute) String() string {
	for s, v := range attrNames {
		if v == a {
			return s
		}
	}
	return fmt.Sprintf("Attribute(%d)", int(a))
}

// Backend is the fixed operation set every data-movement core implements
type Backend interface {
	// Enable brings the core out of reset and into its running state.
	// It is idempotent
	Enable() error

	// Disable returns the core to its held-in-reset state.  It is safe to
	// call on a core that was never enabled
	Disable() error

	// ChanEnable gates one channel on
	ChanEnable(ch int) error

	// ChanDisable gates one channel off
	ChanDisable(ch int) error

	// DataFormatSet configures the sample format of one channel
	DataFormatSet(ch int, f DataFormat) error

	// DataSourceSet switches the data source mux of one channel.  Callers
	// must arrange an active DMA buffer before switching to SourceExternal;
	// the core does not enforce it
	DataSourceSet(ch int, src DataSource) error

	// RequestBuffer claims a streaming buffer and attaches it to the device.
	// Not reentrant for one device without an intervening FreeBuffer
	RequestBuffer(dev dmabuf.Device) (*dmabuf.Buffer, error)

	// FreeBuffer releases a buffer obtained from RequestBuffer
	FreeBuffer(buf *dmabuf.Buffer)

	// ReadRaw reads a scalar channel attribute
	ReadRaw(ch int, attr Attribute) (int64, error)

	// WriteRaw writes a scalar channel attribute
	WriteRaw(ch int, attr Attribute, val int64) error
}
