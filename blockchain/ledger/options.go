package ledger

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Option func(*Ledger)

// WithMaxPending bounds the pending pool. Zero means unbounded.
func WithMaxPending(n int) Option {
	return func(l *Ledger) {
		l.maxPending = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(l *Ledger) {
		l.log = log
	}
}
