package modules

// A Locker is a keyed, TTL'd mutual-exclusion primitive. It guards the
// import critical section on a secondary, and is advisory on a primary,
// where concurrent writers are additionally serialized by the clock ledger's
// uniqueness constraint.
type Locker interface {
	// Acquire takes the sync lock for a wallet, returning a token that
	// must be presented on release. Acquire fails with ErrLocked if the
	// lock is already held.
	Acquire(wallet Wallet) (token string, err error)

	// Release releases the sync lock for a wallet. Releasing with a stale
	// token, or releasing an unheld lock, is a no-op.
	Release(wallet Wallet, token string)

	// Held reports whether the sync lock for a wallet is currently held.
	Held(wallet Wallet) bool

	Close() error
}
