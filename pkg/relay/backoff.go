package relay

import "time"

// Backoff is the delay policy for upstream reconnect attempts. Delays double
// from Min up to Max; Attempts caps how many reconnects a session gets before
// it gives up and reports the failure to the client.
type Backoff struct {
	Min      time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff returns the policy used for provider sockets.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:      time.Second,
		Max:      30 * time.Second,
		Attempts: 5,
	}
}

// Next returns the delay before the given attempt (1-based) and whether the
// attempt is allowed at all.
func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.Attempts {
		return 0, false
	}

	d := b.Min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max, true
		}
	}
	if d > b.Max {
		d = b.Max
	}
	return d, true
}
