package issuance

import "time"

// SetSleep replaces the backoff sleeper.
func SetSleep(s *Saga, fn func(time.Duration)) { s.sleep = fn }
