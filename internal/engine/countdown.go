package engine

import (
	"sync"
	"time"
)

// countdown is the session's single repeating tick source. It invokes the
// tick callback once per period until stopped. Stop is idempotent and safe
// to call from inside the callback, which is how the session halts the
// countdown on the tick that reaches zero.
type countdown struct {
	stop chan struct{}
	once sync.Once
}

func startCountdown(period time.Duration, tick func()) *countdown {
	c := &countdown{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	return c
}

// Stop halts the tick source. Every exit from the in-progress state calls
// this so no tick can outlive its session.
func (c *countdown) Stop() {
	c.once.Do(func() { close(c.stop) })
}
