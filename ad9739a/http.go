package ad9739a

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"strconv"

	"github.com/open-instrument/daccore/backend"
	"github.com/open-instrument/daccore/server"

	"goji.io/pat"
)

// HTTPWrapper exposes the composite device (chip + bound backend) as one
// streaming channel with scalar attributes.  BindRoutes the RouteTable onto
// a mux to serve it.
type HTTPWrapper struct {
	// DAC is the underlying device that is wrapped
	DAC *AD9739A

	// RouteTable maps patterns to handlers
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns a wrapper with the route table pre-configured
func NewHTTPWrapper(urlStem string, d *AD9739A) HTTPWrapper {
	w := HTTPWrapper{DAC: d}
	rt := server.RouteTable{
		pat.Get(urlStem + "sample-rate"):       w.HTTPSampleRate,
		pat.Get(urlStem + "attr/:ch/:attr"):    w.HTTPReadAttr,
		pat.Post(urlStem + "attr/:ch/:attr"):   w.HTTPWriteAttr,
		pat.Post(urlStem + "stream/start"):     w.HTTPStreamStart,
		pat.Post(urlStem + "stream/stop"):      w.HTTPStreamStop,
		pat.Get(urlStem + "hardware-buffered"): w.HTTPHardwareBuffered,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// httpCode maps driver errors onto HTTP statuses; bad arguments are the
// client's fault
func httpCode(err error) int {
	if errors.Is(err, backend.ErrInvalidChannel) || errors.Is(err, backend.ErrInvalidArgument) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func chanAttr(r *http.Request) (int, backend.Attribute, error) {
	ch, err := strconv.Atoi(pat.Param(r, "ch"))
	if err != nil {
		return 0, 0, err
	}
	attr, err := backend.ParseAttribute(pat.Param(r, "attr"))
	if err != nil {
		return 0, 0, err
	}
	return ch, attr, nil
}

// HTTPSampleRate returns the DAC sample rate in Hz as JSON
func (h HTTPWrapper) HTTPSampleRate(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Int, Int: int(h.DAC.SampleRate())}
	hp.EncodeAndRespond(w, r)
}

// HTTPReadAttr reads a scalar channel attribute plucked from the URL and
// returns it as JSON
func (h HTTPWrapper) HTTPReadAttr(w http.ResponseWriter, r *http.Request) {
	ch, attr, err := chanAttr(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	val, err := h.DAC.ReadRaw(ch, attr)
	if err != nil {
		http.Error(w, err.Error(), httpCode(err))
		return
	}
	hp := server.HumanPayload{T: types.Int, Int: int(val)}
	hp.EncodeAndRespond(w, r)
}

// HTTPWriteAttr writes a scalar channel attribute from json {'int': value}
func (h HTTPWrapper) HTTPWriteAttr(w http.ResponseWriter, r *http.Request) {
	ch, attr, err := chanAttr(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	input := server.IntT{}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := h.DAC.WriteRaw(ch, attr, int64(input.Int)); err != nil {
		http.Error(w, err.Error(), httpCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPStreamStart muxes channel 0 to the DMA source and enables the backend
func (h HTTPWrapper) HTTPStreamStart(w http.ResponseWriter, r *http.Request) {
	if err := h.DAC.StreamStart(); err != nil {
		http.Error(w, err.Error(), httpCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPStreamStop restores the internal tone on channel 0
func (h HTTPWrapper) HTTPStreamStop(w http.ResponseWriter, r *http.Request) {
	if err := h.DAC.StreamStop(); err != nil {
		http.Error(w, err.Error(), httpCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPHardwareBuffered reports whether the device streams through hardware
// buffering
func (h HTTPWrapper) HTTPHardwareBuffered(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: h.DAC.HardwareBuffered()}
	hp.EncodeAndRespond(w, r)
}
