package logger

import "sync/atomic"

var (
	warnCount  int64
	errorCount int64
)

func recordWarn() {
	atomic.AddInt64(&warnCount, 1)
}

func recordError() {
	atomic.AddInt64(&errorCount, 1)
}

// Counts returns the number of warn and error lines written through Entry
// since process start.
func Counts() (warns int64, errors int64) {
	return atomic.LoadInt64(&warnCount), atomic.LoadInt64(&errorCount)
}
