// Package clock supplies the time source used to timestamp snapshots.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type Config struct {
	// Offset shifts the wall clock.
	Offset time.Duration
}

var DefaultConfig = Config{}

type clock struct {
	delta time.Duration
}

func (c clock) Now() time.Time {
	return time.Now().Add(c.delta)
}

func Make(config ...Config) Clock {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return clock{delta: cfg.Offset}
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mutex sync.Mutex
	now   time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Set(now time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = now
}
