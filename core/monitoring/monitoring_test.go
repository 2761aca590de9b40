package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestSafeCapturesPanic(t *testing.T) {
	mon := &recordMonitor{}
	Safe(mon, map[string]string{"module": "gateway"}, func() { panic("boom") })
	assert.EqualError(t, mon.err, "panic: boom")
	assert.Equal(t, "gateway", mon.tags["module"])
}

func TestSafeNoPanic(t *testing.T) {
	mon := &recordMonitor{}
	ran := false
	Safe(mon, nil, func() { ran = true })
	assert.True(t, ran)
	assert.NoError(t, mon.err)
}

func TestSafeNilMonitor(t *testing.T) {
	assert.NotPanics(t, func() { Safe(nil, nil, func() { panic("x") }) })
}
