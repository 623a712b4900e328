package serialreg

import (
	"bytes"
	"errors"
	"testing"
)

// fakeBridge emulates the MCU on the far end of the wire: it decodes request
// frames, services them against a register map, and queues response frames
type fakeBridge struct {
	regs map[uint32]uint32
	resp bytes.Buffer

	// mangle corrupts responses to exercise the error paths
	mangle func([]byte) []byte
}

func (f *fakeBridge) Write(p []byte) (int, error) {
	op, addr, val, err := decodeFrame(p)
	if err != nil {
		return 0, err
	}
	switch op {
	case opWrite:
		f.regs[uint32(addr)] = val
	case opRead:
		val = f.regs[uint32(addr)]
	}
	out := encodeFrame(op|respFlag, addr, val)
	if f.mangle != nil {
		out = f.mangle(out)
	}
	f.resp.Write(out)
	return len(p), nil
}

func (f *fakeBridge) Read(p []byte) (int, error) {
	return f.resp.Read(p)
}

func (f *fakeBridge) Close() error { return nil }

func fakeConn() (*Bridge, *fakeBridge) {
	far := &fakeBridge{regs: map[uint32]uint32{}}
	b := NewBridge("fake", false, 0)
	b.conn = far
	return b, far
}

func TestBridgeReadWrite(t *testing.T) {
	b, far := fakeConn()
	if err := b.Write(0x35, 0x24); err != nil {
		t.Fatal(err)
	}
	if far.regs[0x35] != 0x24 {
		t.Errorf("far end register is 0x%X, expected 0x24", far.regs[0x35])
	}
	v, err := b.Read(0x35)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x24 {
		t.Errorf("read 0x%X, expected 0x24", v)
	}
}

func TestBridgeRejectsWrongEcho(t *testing.T) {
	b, far := fakeConn()
	far.mangle = func(out []byte) []byte {
		// response for a different register
		return encodeFrame(opRead|respFlag, 0x9999, 0)
	}
	if _, err := b.Read(0x35); !errors.Is(err, ErrBadFrame) {
		t.Errorf("got %v, expected ErrBadFrame", err)
	}
}

func TestBridgeRejectsCorruptResponse(t *testing.T) {
	b, far := fakeConn()
	far.mangle = func(out []byte) []byte {
		out[4] ^= 0x01
		return out
	}
	if _, err := b.Read(0x35); !errors.Is(err, ErrBadCRC) {
		t.Errorf("got %v, expected ErrBadCRC", err)
	}
}

func TestBridgeNotOpen(t *testing.T) {
	b := NewBridge("fake", false, 0)
	if _, err := b.Read(0); err == nil {
		t.Error("read on unopened bridge succeeded")
	}
	if err := b.Close(); err != nil {
		t.Errorf("close of unopened bridge gave %v", err)
	}
}
