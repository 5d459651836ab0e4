package cotel

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

var memlker sync.RWMutex
var memstat struct {
	total int64 //bytes,the cgroup limit caps it when one is set
	last  int64 //bytes,newest sample
	max   int64 //bytes,highest sample since the last collect
}

func init() {
	mode := memLimit()
	memlker.Lock()
	samplemem(mode)
	memlker.Unlock()
	go func() {
		tker := time.NewTicker(time.Millisecond * 100)
		for {
			<-tker.C
			memlker.Lock()
			samplemem(mode)
			memlker.Unlock()
		}
	}()
}

// collectMEM reports the total,last and max usage in bytes and opens a new report window
func collectMEM() (int64, int64, int64) {
	memlker.Lock()
	defer memlker.Unlock()
	total, last, max := memstat.total, memstat.last, memstat.max
	memstat.max = memstat.last
	return total, last, max
}

// GetMEM reports the total,last and max usage in bytes without touching the report window
func GetMEM() (int64, int64, int64) {
	memlker.RLock()
	defer memlker.RUnlock()
	return memstat.total, memstat.last, memstat.max
}

func memLimit() cgmode {
	hosttotal := func() int64 {
		m, e := mem.VirtualMemory()
		if e != nil {
			panic("[cotel.mem] get host memory info failed: " + e.Error())
		}
		return int64(m.Total)
	}
	if runtime.GOOS != "linux" {
		memstat.total = hosttotal()
		return cgmodeNone
	}
	//cgroup v2,"max" doesn't parse and means no limit
	if limit, e := readCgroupInt("/sys/fs/cgroup/memory.max"); e == nil {
		memstat.total = hosttotal()
		if limit > 0 && limit < memstat.total {
			memstat.total = limit
		}
		return cgmodeV2
	} else if _, e := os.Stat("/sys/fs/cgroup/memory.current"); e == nil {
		memstat.total = hosttotal()
		return cgmodeV2
	}
	//cgroup v1,no limit shows up as a huge page counter,the host total wins then
	if limit, e := readCgroupInt("/sys/fs/cgroup/memory/memory.limit_in_bytes"); e == nil {
		memstat.total = hosttotal()
		if limit > 0 && limit < memstat.total {
			memstat.total = limit
		}
		return cgmodeV1
	}
	memstat.total = hosttotal()
	return cgmodeNone
}

func samplemem(mode cgmode) {
	var usage int64
	switch mode {
	case cgmodeV2:
		n, e := readCgroupInt("/sys/fs/cgroup/memory.current")
		if e != nil {
			slog.Error("[cotel.mem] read /sys/fs/cgroup/memory.current failed", slog.String("error", e.Error()))
			return
		}
		usage = n
	case cgmodeV1:
		n, e := readCgroupInt("/sys/fs/cgroup/memory/memory.usage_in_bytes")
		if e != nil {
			slog.Error("[cotel.mem] read /sys/fs/cgroup/memory/memory.usage_in_bytes failed", slog.String("error", e.Error()))
			return
		}
		usage = n
	default:
		m, e := mem.VirtualMemory()
		if e != nil {
			return
		}
		usage = int64(m.Used)
	}
	memstat.last = usage
	if usage > memstat.max {
		memstat.max = usage
	}
}
