package streamhub

import "time"

// keepaliveTicker wraps time.Ticker so handler.go can treat a zero or
// negative interval (defensive, should never happen given CreateStream's
// default fallback) without panicking.
type keepaliveTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newKeepaliveTicker(interval time.Duration) *keepaliveTicker {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	t := time.NewTicker(interval)
	return &keepaliveTicker{t: t, c: t.C}
}

func (k *keepaliveTicker) stop() { k.t.Stop() }
