// Package rate implements the sliding-window attempt counters that guard
// login and refresh.
//
// # Window semantics
//
// Each key keeps a log of its recorded attempt times. An attempt at time t
// is admitted when fewer than Policy.Limit attempts were recorded in
// (t-Window, t]; there is no window boundary an attacker can straddle. A
// denied attempt is not recorded, so a key never holds more than
// Policy.Limit entries. Stale entries are pruned when the key is touched,
// by [Memory.Sweep], or by Redis key expiry.
//
// Key prefixes:
//   - login:id:   login per identity
//   - login:ip:   login per client IP
//   - refresh:id: refresh per identity
//   - refresh:ip: refresh per client IP
//
// # What this package must NOT do
//
//   - Decide which keys an operation charges (the engine does).
//   - Be imported outside the authcore module.
package rate
