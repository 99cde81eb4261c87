// Package token encodes and verifies the signed, time-bounded bearer tokens
// handed out by authcore.
//
// Both access and refresh tokens are compact JWS (JWT) values carrying the
// identity, the session they belong to, their kind, and their issue and
// expiry instants. Verification is self-contained: it needs the signing key
// and a clock, never a server lookup.
//
// # What this package must NOT do
//
//   - Accept a token whose signature has not been verified, for any reason.
//   - Apply clock-skew leeway to anything other than time-based claims.
//   - Store or log raw refresh tokens; callers persist [HashToken] output only.
package token
