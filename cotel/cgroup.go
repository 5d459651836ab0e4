package cotel

import (
	"bytes"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/chenjie199234/Websocket/util/common"
)

type cgmode uint8

const (
	cgmodeNone cgmode = iota //no usable cgroup controller,gopsutil reads the host
	cgmodeV1
	cgmodeV2
)

// readCgroupInt reads a cgroup file holding one integer,surrounding whitespace is dropped
func readCgroupInt(path string) (int64, error) {
	raw, e := os.ReadFile(path)
	if e != nil {
		return 0, e
	}
	return strconv.ParseInt(common.BTS(bytes.TrimSpace(raw)), 10, 64)
}

// readCgroupStat pulls one field out of a flat keyed stat file,e.g. usage_usec from cpu.stat
func readCgroupStat(path, field string) (int64, error) {
	raw, e := os.ReadFile(path)
	if e != nil {
		return 0, e
	}
	for _, line := range strings.Split(common.BTS(raw), "\n") {
		if v, ok := strings.CutPrefix(line, field+" "); ok {
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	return 0, errors.New(field + " missing in " + path)
}
