// Package password hashes and verifies passwords with Argon2id.
//
// Hashes are PHC strings with unpadded base64 salt and key:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Every evaluation takes a slot from a fixed pool (Config.MaxConcurrent),
// so a login burst cannot allocate unbounded Argon2 memory. Waiting for a
// slot honours the caller's context.
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// This package does not store passwords, import other authlab packages, or
// log anything.
package password
