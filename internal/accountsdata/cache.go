// Package accountsdata stores and gossips validator TIER1-proxy
// announcements: which peer(s) are authorized to carry traffic on behalf
// of an account for a given epoch.
package accountsdata

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/empower1/netcore/internal/routingtypes"
)

type (
	AccountID = routingtypes.AccountID
	PeerID    = routingtypes.PeerID
	Record    = routingtypes.AccountsDataRecord
)

// PublicKeyLookup resolves the current signing key announced for an
// account, used to verify record signatures before acceptance.
type PublicKeyLookup func(AccountID) (*ecdsa.PublicKey, bool)

// BanReason marks an error severe enough that the sender should be
// disconnected and banned.
type BanReason struct{ Reason string }

func (b *BanReason) Error() string { return fmt.Sprintf("accountsdata: ban: %s", b.Reason) }

// Cache holds the current best AccountsDataRecord per (account, epoch).
type Cache struct {
	mu     sync.RWMutex
	lookup PublicKeyLookup

	byAccount map[AccountID]map[string]Record // account -> epoch -> record
}

// New creates an empty accounts-data cache.
func New(lookup PublicKeyLookup) *Cache {
	return &Cache{lookup: lookup, byAccount: make(map[AccountID]map[string]Record)}
}

// Insert validates and merges a batch of signed records. Any record with a
// bad signature rejects the whole batch with a BanReason. Otherwise, for
// each (account, epoch), the record with the highest timestamp wins
// (lexicographic byte-order tiebreak on exact ties); accepted contains
// only the records that strictly improved the cache, which is exactly
// what callers should re-broadcast.
func (c *Cache) Insert(records []Record) (accepted []Record, err error) {
	for _, r := range records {
		pub, ok := c.lookup(r.AccountID)
		if !ok || !r.Verify(pub) {
			return nil, &BanReason{Reason: fmt.Sprintf("invalid accounts-data signature for account %s", r.AccountID)}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		epochs, ok := c.byAccount[r.AccountID]
		if !ok {
			epochs = make(map[string]Record)
			c.byAccount[r.AccountID] = epochs
		}
		existing, ok := epochs[r.EpochID]
		if ok && !r.Newer(existing) {
			continue // existing is the same or strictly better
		}
		if ok && recordEqual(existing, r) {
			continue // idempotent re-insert of an identical record
		}
		epochs[r.EpochID] = r
		accepted = append(accepted, r)
	}
	return accepted, nil
}

// ByAccount returns a copy of the epoch->record map currently held for
// account.
func (c *Cache) ByAccount(account AccountID) map[string]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.byAccount[account]
	out := make(map[string]Record, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ContainsAccountKey reports whether account has announced at least one
// record signable by pub (i.e. the current owner of the account's signing
// key is pub, checked indirectly by whether any stored record verifies).
func (c *Cache) ContainsAccountKey(account AccountID, pub *ecdsa.PublicKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.byAccount[account] {
		if r.Verify(pub) {
			return true
		}
	}
	return false
}

// Epochs lists the epoch ids for which account has an announced record
// signable by pub.
func (c *Cache) Epochs(account AccountID, pub *ecdsa.PublicKey) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for epoch, r := range c.byAccount[account] {
		if r.Verify(pub) {
			out = append(out, epoch)
		}
	}
	return out
}

// All returns every currently held record, across all accounts and
// epochs, for use by the TIER1 reconciliation loop's index-building step.
func (c *Cache) All() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Record
	for _, epochs := range c.byAccount {
		for _, r := range epochs {
			out = append(out, r)
		}
	}
	return out
}

// recordEqual reports whether two records serialize identically, used to
// make re-inserting an unchanged record a true no-op.
func recordEqual(a, b Record) bool {
	var bufA, bufB bytes.Buffer
	_ = gob.NewEncoder(&bufA).Encode(a)
	_ = gob.NewEncoder(&bufB).Encode(b)
	return bytes.Equal(bufA.Bytes(), bufB.Bytes())
}
