package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the call site of an entry.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus.",
	"fundingheat/logger.",
}

// callSiteHook rewrites entry.Caller to the first frame that is not part of
// logrus or of the helpers in this package.
type callSiteHook struct{}

const maxCallDepth = 32

func (h *callSiteHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callSiteHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, maxCallDepth)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(2, pcs)])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

// isWrapperFrame reports whether frame belongs to a logging wrapper. Test
// files of this package count as call sites.
func isWrapperFrame(frame runtime.Frame) bool {
	if strings.HasSuffix(frame.File, "_test.go") {
		return false
	}
	for _, prefix := range wrapperPackages {
		if strings.HasPrefix(frame.Function, prefix) {
			return true
		}
	}
	return false
}
