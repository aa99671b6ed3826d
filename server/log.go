package server

import (
	"log"
	"sync/atomic"
)

// Log levels: 0 quiet, 1 errors, 2 warnings, 3 request lines, 4 debug
// traces. The level is process wide and may be swapped on reload.
var logLevel int32 = 1

// SetLogLevel sets the process-wide log verbosity.
func SetLogLevel(n int) {
	atomic.StoreInt32(&logLevel, int32(n))
}

func logf(level int, format string, args ...interface{}) {
	if int32(level) <= atomic.LoadInt32(&logLevel) {
		log.Printf(format, args...)
	}
}
