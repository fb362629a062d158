package verify

import "time"

// SetCacheClock replaces the result cache's clock.
func SetCacheClock(r *Resolver, now func() time.Time) {
	if r.cache != nil {
		r.cache.now = now
	}
}
