// Package diagnose provides the engine's internal logging and metrics
// surface: a minimal structured logger for otherwise-swallowed failures
// (hook panics, callback panics) and a set of lock-free diagnostic
// counters that an external collector can pull via OpenTelemetry.
//
// Nothing here sits on the request hot path in the sense of blocking it;
// logging is reserved for genuinely exceptional conditions, and counter
// increments are single atomic adds.
package diagnose
