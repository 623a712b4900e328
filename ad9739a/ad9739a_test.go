package ad9739a

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/open-instrument/daccore/axidac"
	"github.com/open-instrument/daccore/backend"
	"github.com/open-instrument/daccore/clocktree"
	"github.com/open-instrument/daccore/dmabuf"
	"github.com/open-instrument/daccore/regmap"
	"github.com/open-instrument/daccore/topology"
)

// rig is a full simulated signal chain: sim chip, sim AXI core registered as
// axi-dac0, a fixed clock, and a one-channel DMA pool
type rig struct {
	chip    *SimChip
	coreMem *regmap.Mem
	core    *axidac.Core
	reg     *backend.Registry
	pool    *dmabuf.Pool
	clock   *clocktree.Fixed
	node    *topology.Node
}

func newRig(t *testing.T, clockHz uint64) *rig {
	t.Helper()
	r := &rig{
		chip:    NewSimChip(),
		coreMem: axidac.NewSim(axidac.PackVersion(9, 1, 'b')),
		reg:     backend.NewRegistry(),
		pool:    dmabuf.NewPool("tx"),
		clock:   clocktree.NewFixed(clockHz),
		node: &topology.Node{
			Name:     "dac0",
			Backends: []string{"axi-dac0"},
		},
	}
	core, err := axidac.New(r.coreMem, axidac.Config{
		Name:            "axi-dac0",
		ExpectedVersion: axidac.PackVersion(9, 1, 'b'),
		NChannels:       1,
		Pool:            r.pool,
		Sleep:           func(time.Duration) {},
	}, r.reg)
	if err != nil {
		t.Fatal(err)
	}
	r.core = core
	return r
}

func (r *rig) config() Config {
	return Config{
		Node:     r.node,
		Clock:    r.clock,
		Registry: r.reg,
		Sleep:    func(time.Duration) {},
	}
}

func countWrites(writes []regmap.Op, reg uint32) int {
	n := 0
	for _, op := range writes {
		if op.Reg == reg {
			n++
		}
	}
	return n
}

func TestProbeEndToEnd(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	cfg := r.config()
	var stages []string
	cfg.OnStage = func(s string) { stages = append(stages, s) }

	d, err := New(r.chip, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	want := []string{"identify", "reset", "clock-validate", "analog-config",
		"mu-lock", "skew-trim", "backend-bind", "buffer-ready", "operational"}
	if len(stages) != len(want) {
		t.Fatalf("stages %v, expected %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d was %q, expected %q", i, stages[i], want[i])
		}
	}

	if d.SampleRate() != 2000*1000*1000 {
		t.Errorf("sample rate %d, expected 2000000000", d.SampleRate())
	}
	if d.Backend() == nil || d.Backend().Owner() != "dac0" {
		t.Error("backend handle absent or owned by someone else")
	}
	buf := d.Buffer()
	if buf == nil {
		t.Fatal("no streaming buffer attached")
	}
	if buf.Channel() != "tx" || buf.Direction() != dmabuf.DirOut {
		t.Errorf("buffer %q %v, expected tx out", buf.Channel(), buf.Direction())
	}
	if !d.HardwareBuffered() {
		t.Error("device not marked hardware buffered")
	}

	// the analog defaults went out in the qualified order
	var analog []regmap.Op
	for _, op := range r.chip.Writes {
		if op.Reg >= RegCrossCnt1 && op.Reg <= RegMuCnt3 && op.Reg != RegMuCnt1 {
			analog = append(analog, op)
		}
	}
	if len(analog) < len(analogDefaults) {
		t.Fatalf("analog sequence incomplete: %v", analog)
	}
	for i, op := range analogDefaults {
		if analog[i] != op {
			t.Errorf("analog write %d was %v, expected %v", i, analog[i], op)
		}
	}
}

func TestStreamStartStop(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	d, err := New(r.chip, r.config())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.StreamStart(); err != nil {
		t.Fatal(err)
	}
	if got := r.coreMem.Get(axidac.RegChanCntrl7(0)); got&axidac.DataSelMask != 2 {
		t.Errorf("channel 0 mux 0x%X, expected DMA (2)", got&axidac.DataSelMask)
	}
	if got := r.coreMem.Get(axidac.RegRstn); got != axidac.Rstn|axidac.RstnMMCM {
		t.Errorf("core RSTN 0x%X after stream start, expected running", got)
	}

	if err := d.StreamStop(); err != nil {
		t.Fatal(err)
	}
	if got := r.coreMem.Get(axidac.RegChanCntrl7(0)); got&axidac.DataSelMask != 0 {
		t.Errorf("channel 0 mux 0x%X after stop, expected internal tone (0)", got&axidac.DataSelMask)
	}
}

func TestIdentifyMismatch(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	r.chip.Set(RegID, 0x99)
	_, err := New(r.chip, r.config())
	if !errors.Is(err, backend.ErrUnrecognizedDevice) {
		t.Fatalf("got %v, expected ErrUnrecognizedDevice", err)
	}
	if len(r.chip.Writes) != 0 {
		t.Errorf("unrecognized chip was written to: %v", r.chip.Writes)
	}
	// nothing was bound
	h, err := r.reg.Bind("tester", "axi-dac0")
	if err != nil {
		t.Errorf("backend left bound after failed identify: %v", err)
	} else {
		h.Release()
	}
}

func TestClockRangeBounds(t *testing.T) {
	cases := []struct {
		hz uint64
		ok bool
	}{
		{MinClk, true},
		{MaxClk, true},
		{MinClk - 1, false},
		{MaxClk + 1, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.hz), func(t *testing.T) {
			r := newRig(t, tc.hz)
			d, err := New(r.chip, r.config())
			if tc.ok {
				if err != nil {
					t.Fatalf("probe at %d Hz failed: %v", tc.hz, err)
				}
				d.Close()
				return
			}
			if !errors.Is(err, backend.ErrInvalidConfiguration) {
				t.Fatalf("probe at %d Hz gave %v, expected ErrInvalidConfiguration", tc.hz, err)
			}
			if r.clock.Enabled() {
				t.Error("clock left enabled after failed validation")
			}
		})
	}
}

func TestMuLockExhaustsRetries(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	r.chip.MuNeverLocks = true
	_, err := New(r.chip, r.config())
	if !errors.Is(err, backend.ErrLockTimeout) {
		t.Fatalf("got %v, expected ErrLockTimeout", err)
	}
	if n := countWrites(r.chip.Writes, RegMuCnt4); n != lockTries {
		t.Errorf("%d writes of MU_CNT4, expected %d", n, lockTries)
	}
	if n := countWrites(r.chip.Writes, RegMuCnt1); n != lockTries {
		t.Errorf("%d enables of the Mu controller, expected %d", n, lockTries)
	}
	// nothing past mu-lock ran
	if n := countWrites(r.chip.Writes, RegLVDSRecCnt4); n != 0 {
		t.Errorf("skew trim ran after lock failure: %d writes", n)
	}
	if r.clock.Enabled() {
		t.Error("clock left enabled after failed lock")
	}
}

func TestSkewTrimRepeats(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	d, err := New(r.chip, r.config())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	var skews []regmap.Op
	for _, op := range r.chip.Writes {
		if op.Reg == RegLVDSRecCnt4 {
			skews = append(skews, op)
		}
	}
	if len(skews) != lockTries {
		t.Fatalf("%d skew writes, expected %d", len(skews), lockTries)
	}
	want := regmap.FieldPrep(FineDelSkewMask, fineDelSkew)
	for i, op := range skews {
		if op.Val&FineDelSkewMask != want {
			t.Errorf("skew write %d was 0x%X, expected field value 0x%X", i, op.Val, want)
		}
	}
}

// events interleaves register writes, sleeps, and reset line transitions so
// ordering across the three can be asserted
type events struct {
	chip *SimChip
	log  []string
}

func (e *events) Read(reg uint32) (uint32, error) { return e.chip.Read(reg) }

func (e *events) Write(reg, val uint32) error {
	e.log = append(e.log, fmt.Sprintf("write 0x%02X=0x%02X", reg, val))
	return e.chip.Write(reg, val)
}

func (e *events) sleep(d time.Duration) {
	e.log = append(e.log, fmt.Sprintf("sleep %v", d))
}

func (e *events) line(active bool) error {
	e.log = append(e.log, fmt.Sprintf("reset %v", active))
	return nil
}

func TestSoftResetPulse(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	ev := &events{chip: r.chip}
	cfg := r.config()
	cfg.Sleep = ev.sleep
	d, err := New(ev, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	// the first three events are the soft reset: assert, hold 40ns, deassert
	want := []string{
		fmt.Sprintf("write 0x%02X=0x%02X", uint32(RegMode), ResetBit),
		"sleep 40ns",
		fmt.Sprintf("write 0x%02X=0x%02X", uint32(RegMode), 0),
	}
	if len(ev.log) < len(want) {
		t.Fatalf("event log too short: %v", ev.log)
	}
	for i := range want {
		if ev.log[i] != want[i] {
			t.Errorf("event %d was %q, expected %q", i, ev.log[i], want[i])
		}
	}
}

func TestHardResetLine(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	ev := &events{chip: r.chip}
	r.node.AttachLine("reset", topology.LineFunc(ev.line))
	cfg := r.config()
	cfg.Sleep = ev.sleep
	d, err := New(ev, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	want := []string{"reset true", "sleep 40ns", "reset false"}
	if len(ev.log) < len(want) {
		t.Fatalf("event log too short: %v", ev.log)
	}
	for i := range want {
		if ev.log[i] != want[i] {
			t.Errorf("event %d was %q, expected %q", i, ev.log[i], want[i])
		}
	}
	// the soft reset path must not run when the board routes a line
	if n := countWrites(r.chip.Writes, RegMode); n != 0 {
		t.Errorf("%d MODE writes alongside the hard reset", n)
	}
}

func TestUnwindOnBindFailure(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	// take the backend first so backend-bind fails
	h, err := r.reg.Bind("elsewhere", "axi-dac0")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	_, err = New(r.chip, r.config())
	if !errors.Is(err, backend.ErrAlreadyBound) {
		t.Fatalf("got %v, expected ErrAlreadyBound", err)
	}
	if r.clock.Enabled() {
		t.Error("clock left enabled after failed bind")
	}
}

func TestUnwindOnBufferFailure(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	// claim the DMA channel out from under the probe
	buf, err := r.pool.Claim("tx")
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Free()

	_, err = New(r.chip, r.config())
	if !errors.Is(err, backend.ErrResourceUnavailable) {
		t.Fatalf("got %v, expected ErrResourceUnavailable", err)
	}
	if r.clock.Enabled() {
		t.Error("clock left enabled after failed buffer request")
	}
	// the handle was released; the backend can be bound again
	h, err := r.reg.Bind("tester", "axi-dac0")
	if err != nil {
		t.Errorf("backend left bound after unwind: %v", err)
	} else {
		h.Release()
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	d, err := New(r.chip, r.config())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if r.clock.Enabled() {
		t.Error("clock left enabled after close")
	}
	if d.Buffer() != nil || d.HardwareBuffered() {
		t.Error("buffer still attached after close")
	}
	if _, err := r.pool.Claim("tx"); err != nil {
		t.Errorf("DMA channel still claimed after close: %v", err)
	}
	h, err := r.reg.Bind("tester", "axi-dac0")
	if err != nil {
		t.Errorf("backend still bound after close: %v", err)
	} else {
		h.Release()
	}
}

func TestRawAttributes(t *testing.T) {
	r := newRig(t, 2000*1000*1000)
	d, err := New(r.chip, r.config())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	// sample-rate is served by the chip, not the core
	v, err := d.ReadRaw(0, backend.AttrSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2000*1000*1000 {
		t.Errorf("sample rate %d, expected 2000000000", v)
	}

	// tone attributes flow through to the core's DDS registers
	if err := d.WriteRaw(0, backend.AttrFrequency, 0x4000); err != nil {
		t.Fatal(err)
	}
	v, err = d.ReadRaw(0, backend.AttrFrequency)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x4000 {
		t.Errorf("frequency read back %d, expected 0x4000", v)
	}
}

func TestRegAccessible(t *testing.T) {
	for _, reg := range []uint32{0x05, 0x09, 0x0D, 0x0E, 0x2B, 0x2C, 0x2D, 0x31, 0x34} {
		if RegAccessible(reg) {
			t.Errorf("register 0x%02X accessible, expected reserved", reg)
		}
	}
	for _, reg := range []uint32{0x00, RegMuStat1, RegAnaCnt1, RegID} {
		if !RegAccessible(reg) {
			t.Errorf("register 0x%02X inaccessible, expected usable", reg)
		}
	}
}
