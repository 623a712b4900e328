package backend

import (
	"fmt"
	"sync"

	"github.com/open-instrument/daccore/dmabuf"
)

// Registry is the table of registered backend instances.  Backends register
// themselves under their topology identity at probe time; frontends bind by
// that identity.  One mutex guards the whole table; register and bind are
// rare, short operations that only happen while devices probe or detach.
type Registry struct {
	mu       sync.Mutex
	backends map[string]*registered
}

type registered struct {
	name  string
	back  Backend
	bound bool
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{backends: map[string]*registered{}}
}

// Register inserts a backend under its topology identity.  It fails with
// ErrAlreadyRegistered if the identity is taken.  The registering device is
// expected to call Unregister from its own teardown; Unregister is also the
// unwind step when a later stage of the device's probe fails.
func (r *Registry) Register(name string, b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrAlreadyRegistered)
	}
	r.backends[name] = &registered{name: name, back: b}
	return nil
}

// Unregister removes a backend from the table.  Removing an unknown name is
// a no-op
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, name)
}

// Bind claims exclusive use of the named backend for owner.  It fails with
// ErrNotFound if nothing is registered under name and ErrAlreadyBound if
// another handle currently holds it.  The caller owns the returned handle
// and must release it (directly or via its own teardown) before the backend
// device may detach.
func (r *Registry) Bind(owner, name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	if e.bound {
		return nil, fmt.Errorf("%q: %w", name, ErrAlreadyBound)
	}
	e.bound = true
	return &Handle{r: r, e: e, owner: owner}, nil
}

// Handle is an exclusively owned reference to a bound backend.  It is valid
// between a successful Bind and Release; capability calls after Release fail
// with ErrHandleReleased.
type Handle struct {
	r        *Registry
	e        *registered
	owner    string
	released bool
}

// Owner returns the identity of the device holding the handle
func (h *Handle) Owner() string {
	return h.owner
}

// Release gives the backend up for rebinding.  Releasing twice is a no-op
// so it is safe to defer
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.r.mu.Lock()
	h.e.bound = false
	h.r.mu.Unlock()
}

func (h *Handle) ok() error {
	if h.released {
		return fmt.Errorf("%q held by %q: %w", h.e.name, h.owner, ErrHandleReleased)
	}
	return nil
}

// Backend returns the bound backend for direct capability calls
func (h *Handle) Backend() (Backend, error) {
	if err := h.ok(); err != nil {
		return nil, err
	}
	return h.e.back, nil
}

// Enable forwards to the bound backend
func (h *Handle) Enable() error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.Enable()
}

// Disable forwards to the bound backend
func (h *Handle) Disable() error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.Disable()
}

// ChanEnable forwards to the bound backend
func (h *Handle) ChanEnable(ch int) error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.ChanEnable(ch)
}

// ChanDisable forwards to the bound backend
func (h *Handle) ChanDisable(ch int) error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.ChanDisable(ch)
}

// DataFormatSet forwards to the bound backend
func (h *Handle) DataFormatSet(ch int, f DataFormat) error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.DataFormatSet(ch, f)
}

// DataSourceSet forwards to the bound backend
func (h *Handle) DataSourceSet(ch int, src DataSource) error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.DataSourceSet(ch, src)
}

// RequestBuffer forwards to the bound backend
func (h *Handle) RequestBuffer(dev dmabuf.Device) (*dmabuf.Buffer, error) {
	if err := h.ok(); err != nil {
		return nil, err
	}
	return h.e.back.RequestBuffer(dev)
}

// FreeBuffer forwards to the bound backend
func (h *Handle) FreeBuffer(buf *dmabuf.Buffer) {
	if h.released {
		return
	}
	h.e.back.FreeBuffer(buf)
}

// ReadRaw forwards to the bound backend
func (h *Handle) ReadRaw(ch int, attr Attribute) (int64, error) {
	if err := h.ok(); err != nil {
		return 0, err
	}
	return h.e.back.ReadRaw(ch, attr)
}

// WriteRaw forwards to the bound backend
func (h *Handle) WriteRaw(ch int, attr Attribute, val int64) error {
	if err := h.ok(); err != nil {
		return err
	}
	return h.e.back.WriteRaw(ch, attr, val)
}
