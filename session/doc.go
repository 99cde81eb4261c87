// Package session implements the session ledger: the record of every refresh
// token lineage issued by authcore.
//
// A lineage starts with the session created at login. Each refresh redeems the
// current record exactly once: the record is revoked with reason
// [ReasonRotated] and a child record carrying the next refresh-token hash is
// created in the same atomic step. Revoked parents keep their hash until the
// lineage is purged, which is what makes replay of a stale token detectable.
//
// The [Ledger] owns the rotation algorithm and serializes it per session ID.
// Persistence goes through the [Store] interface, whose Swap must be atomic
// with an optimistic version check; [MemoryStore], [RedisStore] and
// [PostgresStore] are provided.
package session
