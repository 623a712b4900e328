package serialreg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

// Wire format of one transaction, fixed 12 bytes:
//
//	[start][op][addr u16 BE][value u32 BE][crc16 u16 BE][end]
//
// The CRC (CRC-16/XMODEM, as used by the lab's other telegram protocols)
// covers op through value.  Responses echo the op with the high bit set.
const (
	frameStart = 0x0D
	frameEnd   = 0x0A

	// FrameLen is the fixed length of every frame on the wire
	FrameLen = 12

	opRead  = 0x01
	opWrite = 0x02

	respFlag = 0x80
)

var (
	// ErrBadFrame is returned for a frame with bad delimiters or length
	ErrBadFrame = errors.New("malformed frame")

	// ErrBadCRC is returned when the checksum does not match
	ErrBadCRC = errors.New("CRC mismatch")
)

var crcTable = crc.NewTable(crc.XMODEM)

// encodeFrame packs one transaction into its wire form
func encodeFrame(op byte, addr uint16, val uint32) []byte {
	buf := make([]byte, FrameLen)
	buf[0] = frameStart
	buf[1] = op
	binary.BigEndian.PutUint16(buf[2:4], addr)
	binary.BigEndian.PutUint32(buf[4:8], val)
	sum := crcTable.CalculateCRC(buf[1:8])
	binary.BigEndian.PutUint16(buf[8:10], uint16(sum))
	buf[10] = frameEnd
	// trailing pad byte keeps the frame word aligned for DMA'd UARTs
	buf[11] = 0
	return buf
}

// decodeFrame unpacks and validates one wire frame
func decodeFrame(buf []byte) (op byte, addr uint16, val uint32, err error) {
	if len(buf) != FrameLen {
		return 0, 0, 0, fmt.Errorf("length %d: %w", len(buf), ErrBadFrame)
	}
	if buf[0] != frameStart || buf[10] != frameEnd {
		return 0, 0, 0, fmt.Errorf("delimiters %#x %#x: %w", buf[0], buf[10], ErrBadFrame)
	}
	want := binary.BigEndian.Uint16(buf[8:10])
	got := uint16(crcTable.CalculateCRC(buf[1:8]))
	if want != got {
		return 0, 0, 0, fmt.Errorf("want %#x got %#x: %w", want, got, ErrBadCRC)
	}
	op = buf[1]
	addr = binary.BigEndian.Uint16(buf[2:4])
	val = binary.BigEndian.Uint32(buf[4:8])
	return op, addr, val, nil
}
