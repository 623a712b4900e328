package backend

import (
	"errors"
	"testing"

	"github.com/open-instrument/daccore/dmabuf"
)

// fakeBackend counts capability calls so tests can tell whether a handle
// forwarded or refused
type fakeBackend struct {
	enables  int
	disables int
}

func (f *fakeBackend) Enable() error  { f.enables++; return nil }
func (f *fakeBackend) Disable() error { f.disables++; return nil }

func (f *fakeBackend) ChanEnable(ch int) error { return nil }

func (f *fakeBackend) ChanDisable(ch int) error { return nil }

func (f *fakeBackend) DataFormatSet(ch int, d DataFormat) error { return nil }

func (f *fakeBackend) DataSourceSet(ch int, s DataSource) error { return nil }
func (f *fakeBackend) RequestBuffer(dev dmabuf.Device) (*dmabuf.Buffer, error) {
	return nil, nil
}
func (f *fakeBackend) FreeBuffer(buf *dmabuf.Buffer) {}
func (f *fakeBackend) ReadRaw(ch int, attr Attribute) (int64, error) {
	return 42, nil
}
func (f *fakeBackend) WriteRaw(ch int, attr Attribute, val int64) error { return nil }

func TestRegisterDuplicateIdentity(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("axi-dac0", &fakeBackend{}); err != nil {
		t.Fatal(err)
	}
	err := r.Register("axi-dac0", &fakeBackend{})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("got %v, expected ErrAlreadyRegistered", err)
	}
}

func TestBindUnknownName(t *testing.T) {
	r := NewRegistry()
	_, err := r.Bind("dac0", "axi-dac0")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, expected ErrNotFound", err)
	}
}

func TestBindIsExclusive(t *testing.T) {
	r := NewRegistry()
	r.Register("axi-dac0", &fakeBackend{})
	h, err := r.Bind("dac0", "axi-dac0")
	if err != nil {
		t.Fatal(err)
	}
	if h.Owner() != "dac0" {
		t.Errorf("handle owner %q, expected dac0", h.Owner())
	}
	if _, err := r.Bind("dac1", "axi-dac0"); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second bind gave %v, expected ErrAlreadyBound", err)
	}
}

func TestReleaseAllowsRebind(t *testing.T) {
	r := NewRegistry()
	r.Register("axi-dac0", &fakeBackend{})
	h, err := r.Bind("dac0", "axi-dac0")
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	h.Release() // idempotent, safe to defer alongside explicit teardown
	h2, err := r.Bind("dac1", "axi-dac0")
	if err != nil {
		t.Fatalf("rebind after release gave %v", err)
	}
	if h2.Owner() != "dac1" {
		t.Errorf("handle owner %q, expected dac1", h2.Owner())
	}
}

func TestCallsAfterRelease(t *testing.T) {
	fake := &fakeBackend{}
	r := NewRegistry()
	r.Register("axi-dac0", fake)
	h, _ := r.Bind("dac0", "axi-dac0")
	h.Release()

	if err := h.Enable(); !errors.Is(err, ErrHandleReleased) {
		t.Errorf("Enable gave %v, expected ErrHandleReleased", err)
	}
	if _, err := h.ReadRaw(0, AttrScale); !errors.Is(err, ErrHandleReleased) {
		t.Errorf("ReadRaw gave %v, expected ErrHandleReleased", err)
	}
	if _, err := h.Backend(); !errors.Is(err, ErrHandleReleased) {
		t.Errorf("Backend gave %v, expected ErrHandleReleased", err)
	}
	if fake.enables != 0 {
		t.Errorf("released handle forwarded %d enables", fake.enables)
	}
}

func TestHandleForwards(t *testing.T) {
	fake := &fakeBackend{}
	r := NewRegistry()
	r.Register("axi-dac0", fake)
	h, _ := r.Bind("dac0", "axi-dac0")

	if err := h.Enable(); err != nil {
		t.Fatal(err)
	}
	if fake.enables != 1 {
		t.Errorf("backend saw %d enables, expected 1", fake.enables)
	}
	v, err := h.ReadRaw(0, AttrScale)
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Errorf("read %d through handle, expected 42", v)
	}
}

func TestUnregisterUnknownIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Unregister("never-registered")
}

func TestParseAttribute(t *testing.T) {
	for s, want := range map[string]Attribute{
		"scale":       AttrScale,
		"phase":       AttrPhase,
		"frequency":   AttrFrequency,
		"sample-rate": AttrSampleRate,
	} {
		got, err := ParseAttribute(s)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%q parsed as %v, expected %v", s, got, want)
		}
	}
	if _, err := ParseAttribute("gain"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown attribute gave %v, expected ErrInvalidArgument", err)
	}
}
