package ledger

// Tamper exposes the in-place mutation hook to the external test package.
func Tamper(l *MemoryLedger, index int, locator string) { l.tamper(index, locator) }
