// Package password hashes and verifies identity passwords.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>
//
// [Hasher.Verify] also accepts the bcrypt hashes ($2a$, $2b$, $2y$) written by
// the previous deployment, and recognises its "sha256:<salt>:<hex>" fallback
// hashes. Those digests were salted with a timestamp that was never stored,
// so they cannot be checked and yield [ErrUnverifiableHash]; the identity
// needs a password reset. [Hasher.NeedsUpgrade] reports any hash that is not
// Argon2id at the current parameters so callers can re-hash after a
// successful login.
//
// This package never logs, stores or returns plaintext.
package password
