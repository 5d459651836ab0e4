package cotel

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chenjie199234/Websocket/util/common"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CPUNum is the usable core count,the cgroup quota caps it when one is set
var CPUNum float64

var cpulker sync.RWMutex
var cpustat struct {
	last float64 //newest sample
	max  float64 //highest sample since the last collect
	avg  float64 //average over the current report window

	//cgroup sample anchors,cpu time in nanosecond
	prevusage, winusage int64
	prevts, wints       int64
	//gopsutil sample anchors
	prevtotal, wintotal float64
	previdle, winidle   float64
}

func init() {
	mode := cpuLimit()
	cpulker.Lock()
	samplecpu(mode, time.Now().UnixNano())
	cpulker.Unlock()
	go func() {
		tker := time.NewTicker(time.Millisecond * 100)
		for {
			t := <-tker.C
			cpulker.Lock()
			samplecpu(mode, t.UnixNano())
			cpulker.Unlock()
		}
	}()
}

// collectCPU reports the last,max and avg usage and opens a new report window
func collectCPU() (float64, float64, float64) {
	cpulker.Lock()
	defer cpulker.Unlock()
	last, max, avg := cpustat.last, cpustat.max, cpustat.avg
	cpustat.max = cpustat.last
	cpustat.winusage = cpustat.prevusage
	cpustat.wints = cpustat.prevts
	cpustat.wintotal = cpustat.prevtotal
	cpustat.winidle = cpustat.previdle
	return last, max, avg
}

// GetCPU reports the last,max and avg usage without touching the report window
func GetCPU() (float64, float64, float64) {
	cpulker.RLock()
	defer cpulker.RUnlock()
	return cpustat.last, cpustat.max, cpustat.avg
}

func cpuLimit() cgmode {
	defer func() {
		if CPUNum == 0 {
			CPUNum = float64(runtime.NumCPU())
		}
	}()
	if runtime.GOOS != "linux" {
		return cgmodeNone
	}
	//cgroup v2,"max 100000" or "200000 100000",microsecond
	if raw, e := os.ReadFile("/sys/fs/cgroup/cpu.max"); e == nil {
		pieces := strings.Fields(common.BTS(raw))
		if len(pieces) == 2 && pieces[0] != "max" {
			quota, e1 := strconv.ParseInt(pieces[0], 10, 64)
			period, e2 := strconv.ParseInt(pieces[1], 10, 64)
			if e1 != nil || e2 != nil || period <= 0 {
				panic("[cotel.cpu] /sys/fs/cgroup/cpu.max data format wrong")
			}
			CPUNum = float64(quota) / float64(period)
		}
		return cgmodeV2
	}
	//cgroup v1,microsecond,quota -1 means no limit
	quota, e := readCgroupInt("/sys/fs/cgroup/cpu/cpu.cfs_quota_us")
	if e != nil || quota <= 0 {
		return cgmodeNone
	}
	period, e := readCgroupInt("/sys/fs/cgroup/cpu/cpu.cfs_period_us")
	if e != nil || period <= 0 {
		panic("[cotel.cpu] cpu quota is set but /sys/fs/cgroup/cpu/cpu.cfs_period_us is unusable")
	}
	CPUNum = float64(quota) / float64(period)
	return cgmodeV1
}

// now: timestamp in nanosecond
func samplecpu(mode cgmode, now int64) {
	switch mode {
	case cgmodeV2, cgmodeV1:
		var usage int64 //nanosecond
		if mode == cgmodeV2 {
			n, e := readCgroupStat("/sys/fs/cgroup/cpu.stat", "usage_usec")
			if e != nil {
				slog.Error("[cotel.cpu] read /sys/fs/cgroup/cpu.stat failed", slog.String("error", e.Error()))
				return
			}
			usage = n * int64(time.Microsecond)
		} else {
			n, e := readCgroupInt("/sys/fs/cgroup/cpu/cpuacct.usage")
			if e != nil {
				slog.Error("[cotel.cpu] read /sys/fs/cgroup/cpu/cpuacct.usage failed", slog.String("error", e.Error()))
				return
			}
			usage = n
		}
		if cpustat.prevts == 0 {
			cpustat.prevusage, cpustat.winusage = usage, usage
			cpustat.prevts, cpustat.wints = now, now
			return
		}
		cpustat.last = float64(usage-cpustat.prevusage) / CPUNum / float64(now-cpustat.prevts)
		cpustat.avg = float64(usage-cpustat.winusage) / CPUNum / float64(now-cpustat.wints)
		cpustat.prevusage, cpustat.prevts = usage, now
	default:
		times, e := cpu.Times(false)
		if e != nil || len(times) == 0 {
			return
		}
		total := times[0].User + times[0].System + times[0].Idle + times[0].Nice + times[0].Iowait + times[0].Irq + times[0].Softirq + times[0].Steal + times[0].Guest + times[0].GuestNice
		idle := times[0].Idle + times[0].Iowait
		if cpustat.wintotal == 0 {
			cpustat.prevtotal, cpustat.wintotal = total, total
			cpustat.previdle, cpustat.winidle = idle, idle
			return
		}
		cpustat.last = 1 - (idle-cpustat.previdle)/(total-cpustat.prevtotal)
		cpustat.avg = 1 - (idle-cpustat.winidle)/(total-cpustat.wintotal)
		cpustat.prevtotal, cpustat.previdle = total, idle
	}
	if cpustat.last > cpustat.max {
		cpustat.max = cpustat.last
	}
}
