// Package authcore issues, rotates and revokes the credential tokens that gate
// a multi-tenant API, and rate limits the attempts made against them.
//
// [Engine] is built through [Builder] and is safe for concurrent use. Its
// state machine per login is Anonymous → Authenticated → Rotated* → Revoked:
// Login opens a session lineage, each Refresh redeems the current refresh
// token exactly once for a new pair, and Logout, RevokeAllSessions or a
// detected replay end the lineage.
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config] and the value
// types. Token signing lives in token, lineage bookkeeping in session,
// identities in credential and password. Rate limiting and audit dispatch
// live under internal/.
//
// # What this package must NOT do
//
//   - Return a token pair before the matching session mutation committed.
//   - Tell callers whether an identity exists.
//   - Retry a rotation; a lost reply would be indistinguishable from reuse.
package authcore
