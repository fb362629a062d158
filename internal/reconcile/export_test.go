package reconcile

import "time"

// SetClock replaces the worker's clock.
func SetClock(w *Worker, now func() time.Time) { w.now = now }
