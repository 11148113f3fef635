package ratelimit

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically sweeps a ConnectionLimiter and/or AuthLimiter to
// bound their map sizes under a high-cardinality IP/key space. It is driven
// by github.com/robfig/cron rather than a bare time.Ticker so the interval
// can be expressed the same way listener schedules any other periodic job.
type Sweeper struct {
	cron *cron.Cron
	log  *logrus.Logger
}

// NewSweeper builds a Sweeper. log may be nil, in which case a disabled
// logger is used (matches the rest of the package's "explicit logger field,
// never a package global" convention, see SPEC_FULL.md §2.1).
func NewSweeper(log *logrus.Logger) *Sweeper {
	if log == nil {
		log = logrus.New()
		log.SetOutput(discardWriter{})
	}
	return &Sweeper{
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// AddConnectionLimiter schedules a connection limiter's Sweep every interval.
func (s *Sweeper) AddConnectionLimiter(l *ConnectionLimiter, interval time.Duration) {
	spec := everySpec(interval)
	s.cron.AddFunc(spec, func() {
		before := l.ActiveCount()
		l.Sweep()
		s.log.WithFields(logrus.Fields{
			"component": "ratelimit.connection",
			"before":    before,
			"after":     l.ActiveCount(),
		}).Debug("swept idle connection-limiter entries")
	})
}

// AddAuthLimiter schedules an auth limiter's Sweep every interval, treating
// any key idle (no failures, no lockout) for longer than idleAfter as
// eligible for removal.
func (s *Sweeper) AddAuthLimiter(l *AuthLimiter, interval, idleAfter time.Duration) {
	spec := everySpec(interval)
	s.cron.AddFunc(spec, func() {
		l.Sweep(time.Now(), idleAfter)
	})
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduled sweeps, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }

func everySpec(interval time.Duration) string {
	secs := int(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	return "@every " + time.Duration(secs*int(time.Second)).String()
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
