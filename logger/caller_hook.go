package logger

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const maxCallerDepth = 24

// packagePath is the import path of this package, derived from a local type
// so the hook keeps working if the module is renamed.
var packagePath = reflect.TypeOf(Log{}).PkgPath()

// callerHook points entry.Caller at the first frame outside logrus and the
// Log/Entry wrappers, otherwise every line would report logger.go.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, maxCallerDepth)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(2, pcs)])
	for frame, more := frames.Next(); ; frame, more = frames.Next() {
		if frame.Function == "" {
			return nil
		}
		if !internalFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "github.com/sirupsen/logrus.") ||
		strings.HasPrefix(fn, packagePath+".") ||
		strings.HasPrefix(fn, "runtime.")
}
