package wal

// lsnMonotonicHook is overridden by invariants_debug.go in debug builds to
// panic on any LSN ordering violation. It is a no-op otherwise.
var lsnMonotonicHook = func(prevLSN, newLSN uint64) {}
