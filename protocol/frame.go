package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

const (
	Header0    byte = '#' // 0x23
	Header1    byte = 'S' // 0x53
	Terminator byte = '\n'

	FrameShortLength = 5  // header(2) + reg(1) + data(1) + terminator(1)
	FramePowerLength = 10 // header(2) + reg(1) + 3*int16 + terminator(1)
	FrameMaxLength   = FramePowerLength
)

type Frame struct {
	b [FrameMaxLength]byte
	l int
}

// Encode is pure and deterministic. Unknown command kind is a code error and panics.
func Encode(c Command) Frame {
	f := Frame{}
	reg, data := c.Kind.regData()
	f.b[0] = Header0
	f.b[1] = Header1
	f.b[2] = reg
	switch c.Kind {
	case KindSetPower:
		binary.LittleEndian.PutUint16(f.b[3:], uint16(c.X))
		binary.LittleEndian.PutUint16(f.b[5:], uint16(c.Y))
		binary.LittleEndian.PutUint16(f.b[7:], uint16(c.Z))
		f.b[9] = Terminator
		f.l = FramePowerLength
	case KindRun, KindStop, KindDataStreamOn, KindDataStreamOff, KindMtqOn, KindMtqOff:
		f.b[3] = data
		f.b[4] = Terminator
		f.l = FrameShortLength
	}
	return f
}

// Decode parses a complete frame, terminator included. Inverse of Encode.
func Decode(b []byte) (Command, error) {
	switch {
	case len(b) != FrameShortLength && len(b) != FramePowerLength:
		return Command{}, errors.NotValidf("frame=%x length=%d", b, len(b))
	case b[0] != Header0 || b[1] != Header1:
		return Command{}, errors.NotValidf("frame=%x header", b)
	case b[len(b)-1] != Terminator:
		return Command{}, errors.NotValidf("frame=%x terminator", b)
	}
	reg := b[2]
	if reg == RegSetPower {
		if len(b) != FramePowerLength {
			return Command{}, errors.NotValidf("frame=%x set power length=%d", b, len(b))
		}
		return SetPower(
			int16(binary.LittleEndian.Uint16(b[3:])),
			int16(binary.LittleEndian.Uint16(b[5:])),
			int16(binary.LittleEndian.Uint16(b[7:])),
		), nil
	}
	if len(b) != FrameShortLength {
		return Command{}, errors.NotValidf("frame=%x reg=%02x length=%d", b, reg, len(b))
	}
	for k := KindRun; k <= KindStop; k++ {
		if k == KindSetPower {
			continue
		}
		if r, d := k.regData(); r == reg && d == b[3] {
			return Command{Kind: k}, nil
		}
	}
	return Command{}, errors.NotValidf("frame=%x unknown reg=%02x data=%02x", b, reg, b[3])
}

func (self *Frame) Bytes() []byte { return self.b[:self.l] }
func (self *Frame) Len() int      { return self.l }

func (self *Frame) Equal(f2 *Frame) bool {
	return self.l == f2.l && bytes.Equal(self.Bytes(), f2.Bytes())
}

// Hex is the transmit console form, lowercase without spaces.
func (self *Frame) Hex() string { return hex.EncodeToString(self.Bytes()) }

// Format groups hex by 4 bytes for logs.
func (self *Frame) Format() string { return FormatHex(self.Bytes()) }

func FormatHex(b []byte) string {
	h := hex.EncodeToString(b)
	hlen := len(h)
	ss := make([]string, 0, (hlen/8)+1)
	for i := 0; i < hlen; i += 8 {
		hi := i + 8
		if hi > hlen {
			hi = hlen
		}
		ss = append(ss, h[i:hi])
	}
	return strings.Join(ss, " ")
}

// ParseHex accepts raw hex as typed by operator: case insensitive, whitespace ignored.
func ParseHex(s string) ([]byte, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return nil, errors.NotValidf("hex empty")
	}
	b, err := hex.DecodeString(compact)
	if err != nil {
		return nil, errors.Annotatef(err, "hex='%s'", s)
	}
	return b, nil
}
