package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	SampleFields = 4 // device time, x, y, z
	Channels     = 3
)

var ChannelNames = [Channels]string{"Gyro X", "Gyro Y", "Gyro Z"}

// TimeSource selects which timestamp is used as display axis.
// The board reports its own time in the first field, bench PC has receipt time.
type TimeSource string

const (
	TimeLocal  TimeSource = "local"
	TimeDevice TimeSource = "device"
)

func ParseTimeSource(s string) (TimeSource, error) {
	switch TimeSource(s) {
	case "", TimeLocal:
		return TimeLocal, nil
	case TimeDevice:
		return TimeDevice, nil
	}
	return "", errors.NotValidf("time source='%s' (expected local|device)", s)
}

type Sample struct {
	Time       time.Time // local receipt
	DeviceTime float64
	Values     [Channels]float64
}

// Axis returns the x-axis value of sample as seconds.
func (s Sample) Axis(src TimeSource) float64 {
	if src == TimeDevice {
		return s.DeviceTime
	}
	return float64(s.Time.UnixNano()) / float64(time.Second)
}

// ParseSample accepts exactly 4 comma separated numbers, surrounding
// whitespace allowed. Anything else returns ok=false.
func ParseSample(line string, now time.Time) (Sample, bool) {
	fields := strings.Split(line, ",")
	if len(fields) != SampleFields {
		return Sample{}, false
	}
	var vs [SampleFields]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Sample{}, false
		}
		vs[i] = v
	}
	return Sample{
		Time:       now,
		DeviceTime: vs[0],
		Values:     [Channels]float64{vs[1], vs[2], vs[3]},
	}, true
}
