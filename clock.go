package loopstation

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type (
	// Clock is the single source of time for everything that schedules
	// callbacks: the ring buffer scheduler, quantized recording, master
	// playback staggering, gesture timeouts and the step sequencer.
	Clock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	Timer interface {
		Stop() bool
	}

	SystemClock struct{}
)

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NopLogger returns a logger that discards everything. Components use it when
// constructed with a nil logger.
func NopLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrNop returns log, or a discarding logger if log is nil.
func OrNop(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return NopLogger()
	}
	return log
}
