package persist

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// Preset remembers last used connection and power setpoint.
// Not safe for concurrent use, owner guards it.
//
//	message Preset {
//	  string device = 1;
//	  int32 baud = 2;
//	  int32 power_x = 3;
//	  int32 power_y = 4;
//	  int32 power_z = 5;
//	}
type Preset struct {
	Device string `protobuf:"bytes,1,opt,name=device,proto3" json:"device,omitempty"`
	Baud   int32  `protobuf:"varint,2,opt,name=baud,proto3" json:"baud,omitempty"`
	PowerX int32  `protobuf:"varint,3,opt,name=power_x,json=powerX,proto3" json:"power_x,omitempty"`
	PowerY int32  `protobuf:"varint,4,opt,name=power_y,json=powerY,proto3" json:"power_y,omitempty"`
	PowerZ int32  `protobuf:"varint,5,opt,name=power_z,json=powerZ,proto3" json:"power_z,omitempty"`
}

func (m *Preset) Reset()         { *m = Preset{} }
func (m *Preset) String() string { return proto.CompactTextString(m) }
func (*Preset) ProtoMessage()    {}

func (m *Preset) MarshalBinary() ([]byte, error) { return proto.Marshal(m) }
func (m *Preset) UnmarshalBinary(b []byte) error { return proto.Unmarshal(b, m) }

func (m *Preset) Power() (x, y, z int16) {
	return int16(m.PowerX), int16(m.PowerY), int16(m.PowerZ)
}

func (m *Preset) SetPower(x, y, z int16) {
	m.PowerX, m.PowerY, m.PowerZ = int32(x), int32(y), int32(z)
}

func (m *Preset) Format() string {
	return fmt.Sprintf("device=%s baud=%d power=%d,%d,%d", m.Device, m.Baud, m.PowerX, m.PowerY, m.PowerZ)
}
