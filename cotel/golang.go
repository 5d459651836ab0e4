package cotel

import (
	"runtime"
)

var gcpausetotal uint64

// getGo reports the goroutine count,the os thread count and the gc pause time
// spent since the last call
func getGo() (uint64, uint64, uint64) {
	goroutinenum := uint64(runtime.NumGoroutine())
	threadnum, _ := runtime.ThreadCreateProfile(nil)
	var meminfo runtime.MemStats
	runtime.ReadMemStats(&meminfo)
	pause := meminfo.PauseTotalNs - gcpausetotal
	gcpausetotal = meminfo.PauseTotalNs
	return goroutinenum, uint64(threadnum), pause
}
