package tele

import (
	"github.com/golang/protobuf/proto"
	"github.com/temoto/mtq-tester/telemetry"
)

// Sample mirrors tele.proto, kept by hand since there is single small message.
type Sample struct {
	TimeUnixNano int64   `protobuf:"varint,1,opt,name=time_unix_nano,json=timeUnixNano,proto3" json:"time_unix_nano,omitempty"`
	DeviceTime   float64 `protobuf:"fixed64,2,opt,name=device_time,json=deviceTime,proto3" json:"device_time,omitempty"`
	X            float64 `protobuf:"fixed64,3,opt,name=x,proto3" json:"x,omitempty"`
	Y            float64 `protobuf:"fixed64,4,opt,name=y,proto3" json:"y,omitempty"`
	Z            float64 `protobuf:"fixed64,5,opt,name=z,proto3" json:"z,omitempty"`
	Device       string  `protobuf:"bytes,6,opt,name=device,proto3" json:"device,omitempty"`
}

func (m *Sample) Reset()         { *m = Sample{} }
func (m *Sample) String() string { return proto.CompactTextString(m) }
func (*Sample) ProtoMessage()    {}

func NewSample(device string, s telemetry.Sample) *Sample {
	return &Sample{
		TimeUnixNano: s.Time.UnixNano(),
		DeviceTime:   s.DeviceTime,
		X:            s.Values[0],
		Y:            s.Values[1],
		Z:            s.Values[2],
		Device:       device,
	}
}

// Connection state payload, single byte on state topic.
type State byte

const (
	StateDisconnected State = 0
	StateOnline       State = 1
)
