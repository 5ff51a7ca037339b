// Package protocol encodes MTQ board control commands into wire frames.
//
// Frame layout:
//
//	'#' 'S' <reg_id> <payload> '\n'
//
// payload is one data byte, or X,Y,Z power as int16 little endian for SetPower.
// There is no escaping, newline byte inside payload would break framing.
package protocol

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindRun
	KindDataStreamOn
	KindDataStreamOff
	KindMtqOn
	KindSetPower
	KindMtqOff
	KindStop
)

// Bench range of MTQ power, enforced by callers, not by Encode.
const (
	PowerMin = 0
	PowerMax = 2000
)

// Register ids and fixed data bytes as the board firmware expects them.
const (
	RegControl    byte = 0x08
	RegDataStream byte = 0x20
	RegSetPower   byte = 0x38
	RegMtq        byte = 0x3a
)

// Command is a closed set: construct with Run(), SetPower(x,y,z), etc.
type Command struct {
	Kind    Kind
	X, Y, Z int16
}

func Run() Command           { return Command{Kind: KindRun} }
func DataStreamOn() Command  { return Command{Kind: KindDataStreamOn} }
func DataStreamOff() Command { return Command{Kind: KindDataStreamOff} }
func MtqOn() Command         { return Command{Kind: KindMtqOn} }
func MtqOff() Command        { return Command{Kind: KindMtqOff} }
func Stop() Command          { return Command{Kind: KindStop} }

func SetPower(x, y, z int16) Command {
	return Command{Kind: KindSetPower, X: x, Y: y, Z: z}
}

var kindNames = [...]string{
	KindInvalid:       "",
	KindRun:           "RUN",
	KindDataStreamOn:  "Data Stream ON",
	KindDataStreamOff: "Data Stream OFF",
	KindMtqOn:         "MTQ ON",
	KindSetPower:      "MTQ Set Power",
	KindMtqOff:        "MTQ OFF",
	KindStop:          "STOP",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && k != KindInvalid {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) Valid() bool { return k > KindInvalid && k <= KindStop }

// CommandNames lists display names in menu order.
func CommandNames() []string {
	names := make([]string, 0, len(kindNames)-1)
	for k := KindRun; k <= KindStop; k++ {
		names = append(names, k.String())
	}
	return names
}

func (c Command) String() string {
	if c.Kind == KindSetPower {
		return fmt.Sprintf("%s x=%d y=%d z=%d", c.Kind.String(), c.X, c.Y, c.Z)
	}
	return c.Kind.String()
}

// ParseCommand resolves display name, case insensitive.
// Power values of "MTQ Set Power" are left zero, caller fills them.
func ParseCommand(name string) (Command, error) {
	name = strings.TrimSpace(name)
	for k := KindRun; k <= KindStop; k++ {
		if strings.EqualFold(name, k.String()) {
			return Command{Kind: k}, nil
		}
	}
	return Command{}, errors.NotFoundf("command name='%s'", name)
}

// CheckPower validates bench range. Encode does not call it.
func CheckPower(x, y, z int) error {
	for i, v := range [3]int{x, y, z} {
		if v < PowerMin || v > PowerMax {
			return errors.NotValidf("power %c=%d out of range [%d,%d]", "XYZ"[i], v, PowerMin, PowerMax)
		}
	}
	return nil
}

// regData maps fixed commands to (reg_id, data byte).
func (k Kind) regData() (reg, data byte) {
	switch k {
	case KindRun:
		return RegControl, 0x01
	case KindStop:
		return RegControl, 0x00
	case KindDataStreamOn:
		return RegDataStream, 0x03
	case KindDataStreamOff:
		return RegDataStream, 0x00
	case KindMtqOn:
		return RegMtq, 0x01
	case KindMtqOff:
		return RegMtq, 0x00
	case KindSetPower:
		return RegSetPower, 0x00
	}
	panic(fmt.Sprintf("code error protocol: unknown command kind=%d", uint8(k)))
}
