// Package password hashes and verifies LIEStudio user passwords with Argon2id
// and generates the random passwords handed out by password retrieval.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters than
// the current [Config] so the caller can rehash after the next successful
// login.
//
// This package never stores passwords and never logs them.
package password
