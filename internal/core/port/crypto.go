package port

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// RehashChecker reports whether an encoded hash should be upgraded to current parameters.
type RehashChecker interface {
	NeedsRehash(encoded string) bool
}
