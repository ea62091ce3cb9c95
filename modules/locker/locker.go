// Package locker provides the keyed, TTL'd mutual exclusion that guards
// per-wallet sync operations. On a secondary the lock protects the import
// critical section; on a primary it is advisory, with the clock ledger's
// uniqueness constraint as the safety net against lock loss.
package locker

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/anthonymartin/audius-protocol/modules"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
	"github.com/NebulousLabs/threadgroup"
)

// lockKeyPrefix namespaces sync lock entries within the key store.
const lockKeyPrefix = "nodeSync:"

var (
	// ErrLocked is returned when the sync lock for a wallet is already
	// held elsewhere.
	ErrLocked = errors.New("sync already in progress for wallet")
)

type (
	// A KeyStore is the shared keyed store backing the lock: entries have
	// a value and an expiry. The in-process implementation below is the
	// default; a store shared between processes can be slotted in without
	// changing the lock discipline.
	KeyStore interface {
		// SetIfAbsent stores value under key with a TTL, failing if the
		// key already holds an unexpired value.
		SetIfAbsent(key, value string, ttl time.Duration) bool
		// Get returns the unexpired value under key.
		Get(key string) (string, bool)
		// CompareAndDelete removes key only if it currently holds value.
		CompareAndDelete(key, value string)
	}

	// Locker implements modules.Locker over a KeyStore.
	Locker struct {
		store KeyStore
		ttl   time.Duration
		tg    threadgroup.ThreadGroup
	}
)

// memEntry is a value with an expiry deadline.
type memEntry struct {
	value  string
	expiry time.Time
}

// MemStore is the in-process KeyStore. Expired entries are treated as
// absent immediately and reaped in the background.
type MemStore struct {
	entries map[string]memEntry
	mu      sync.Mutex
}

// NewMemStore creates an empty in-process key store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]memEntry)}
}

// SetIfAbsent stores value under key with a TTL, failing if the key already
// holds an unexpired value.
func (ms *MemStore) SetIfAbsent(key, value string, ttl time.Duration) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, exists := ms.entries[key]
	if exists && time.Now().Before(entry.expiry) {
		return false
	}
	ms.entries[key] = memEntry{value: value, expiry: time.Now().Add(ttl)}
	return true
}

// Get returns the unexpired value under key.
func (ms *MemStore) Get(key string) (string, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	entry, exists := ms.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return "", false
	}
	return entry.value, true
}

// CompareAndDelete removes key only if it currently holds value.
func (ms *MemStore) CompareAndDelete(key, value string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if entry, exists := ms.entries[key]; exists && entry.value == value {
		delete(ms.entries, key)
	}
}

// reap removes expired entries so that abandoned locks do not accumulate.
func (ms *MemStore) reap() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	now := time.Now()
	for key, entry := range ms.entries {
		if now.After(entry.expiry) {
			delete(ms.entries, key)
		}
	}
}

// New creates a Locker over the provided store. The TTL must exceed the
// maximum expected duration of a sync run; a lock that expires mid-import
// would let a second importer race the first.
func New(store KeyStore, ttl time.Duration) *Locker {
	l := &Locker{
		store: store,
		ttl:   ttl,
	}
	if ms, ok := store.(*MemStore); ok {
		go l.threadedReapLoop(ms)
	}
	return l
}

// threadedReapLoop periodically drops expired entries from a MemStore.
func (l *Locker) threadedReapLoop(ms *MemStore) {
	if l.tg.Add() != nil {
		return
	}
	defer l.tg.Done()
	for {
		select {
		case <-l.tg.StopChan():
			return
		case <-time.After(l.ttl):
		}
		ms.reap()
	}
}

// lockKey returns the store key for a wallet's sync lock.
func lockKey(wallet modules.Wallet) string {
	return lockKeyPrefix + string(wallet.Normalized())
}

// Acquire takes the sync lock for a wallet. The returned token must be
// presented on release; a random token prevents a stale holder from
// releasing a lock that has since expired and been reacquired.
func (l *Locker) Acquire(wallet modules.Wallet) (string, error) {
	token := persistentToken()
	if !l.store.SetIfAbsent(lockKey(wallet), token, l.ttl) {
		return "", ErrLocked
	}
	return token, nil
}

// Release releases the sync lock for a wallet. Releasing with a stale token
// or releasing an unheld lock is a no-op, so Release is safe to call on
// every exit path.
func (l *Locker) Release(wallet modules.Wallet, token string) {
	l.store.CompareAndDelete(lockKey(wallet), token)
}

// Held reports whether the sync lock for a wallet is currently held. Read
// probes use Held to answer 423 without attempting writes.
func (l *Locker) Held(wallet modules.Wallet) bool {
	_, held := l.store.Get(lockKey(wallet))
	return held
}

// Close stops the background reaper.
func (l *Locker) Close() error {
	return l.tg.Stop()
}

// persistentToken returns a random token for a lock acquisition.
func persistentToken() string {
	return hex.EncodeToString(fastrand.Bytes(16))
}
