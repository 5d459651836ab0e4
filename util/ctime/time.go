package ctime

import (
	"errors"
	"strconv"
	"time"

	"github.com/chenjie199234/Websocket/util/common"
)

var ErrDurationFormatWrong = errors.New("Duration's format wrong,should be number(unit nanosecond) or string(format: 1h2m3s4ms5us6ns)")

// Duration works like time.Duration but marshals into the readable
// 1h2m3s4ms5us6ns form and unmarshals both that form and a plain
// nanosecond number,handy in json config files
type Duration time.Duration

func (d Duration) StdDuration() time.Duration {
	return time.Duration(d)
}

var units = [...]struct {
	one    time.Duration
	suffix string
}{
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "us"},
	{time.Nanosecond, "ns"},
}

// zero units are dropped,e.g. 1h0m5s comes out as 1h5s
func (d Duration) appendstr(b []byte) []byte {
	if d == 0 {
		return append(b, "0s"...)
	}
	dd := d.StdDuration()
	for _, unit := range units {
		if dd/unit.one > 0 {
			b = strconv.AppendInt(b, int64(dd/unit.one), 10)
			b = append(b, unit.suffix...)
			dd %= unit.one
		}
	}
	return b
}

func (d Duration) String() string {
	return common.BTS(d.appendstr(make([]byte, 0, 30)))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 32)
	b = append(b, '"')
	b = d.appendstr(b)
	b = append(b, '"')
	return b, nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return d.MarshalJSON()
}

func parse(data []byte) (Duration, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	if len(data) == 0 {
		return 0, nil
	}
	if data[0] == '"' || data[len(data)-1] == '"' {
		return 0, ErrDurationFormatWrong
	}
	if temp, e := time.ParseDuration(common.BTS(data)); e == nil {
		return Duration(temp), nil
	}
	if num, e := strconv.ParseInt(common.BTS(data), 10, 64); e == nil {
		return Duration(num), nil
	}
	return 0, ErrDurationFormatWrong
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	dd, e := parse(data)
	if e != nil {
		return e
	}
	*d = dd
	return nil
}

func (d *Duration) UnmarshalText(data []byte) error {
	dd, e := parse(data)
	if e != nil {
		return e
	}
	*d = dd
	return nil
}
