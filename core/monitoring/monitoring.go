package monitoring

import (
	"fmt"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

// Safe runs fn and reports a panic to m instead of letting it crash the
// process. It is meant for best-effort background work.
func Safe(m Monitor, tags map[string]string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if m == nil {
				return
			}
			m.CaptureException(fmt.Errorf("panic: %v", r), tags)
		}
	}()
	fn()
}
