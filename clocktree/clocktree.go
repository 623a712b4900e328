/*Package clocktree models the clock service drivers consume.

Drivers only ever ask for two things: enable my clock, and tell me its rate.
The Fixed implementation covers boards where the converter clock is a fixed
oscillator or is programmed out of band.
*/
package clocktree

import "errors"

// ErrNotEnabled is returned by Rate when the clock was never enabled
var ErrNotEnabled = errors.New("clock not enabled")

// Clock is one input clock of a device
type Clock interface {
	// Enable ungates the clock
	Enable() error

	// Disable gates the clock again
	Disable()

	// Rate returns the current rate in Hz
	Rate() (uint64, error)
}

// Fixed is a clock with an immutable rate
type Fixed struct {
	hz      uint64
	enabled bool
}

// NewFixed returns a fixed-rate clock, initially gated
func NewFixed(hz uint64) *Fixed {
	return &Fixed{hz: hz}
}

// Enable ungates the clock
func (f *Fixed) Enable() error {
	f.enabled = true
	return nil
}

// Disable gates the clock
func (f *Fixed) Disable() {
	f.enabled = false
}

// Rate returns the fixed rate.  The clock must be enabled; querying a gated
// clock is a sequencing error in the caller
func (f *Fixed) Rate() (uint64, error) {
	if !f.enabled {
		return 0, ErrNotEnabled
	}
	return f.hz, nil
}

// Enabled reports whether the clock is currently ungated
func (f *Fixed) Enabled() bool {
	return f.enabled
}
