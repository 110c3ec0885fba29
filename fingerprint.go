package protocolbanks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// ItemFingerprint derives the idempotency key for one transfer. The
// timestamp is bucketed to the batch's creation instant, so re-submitting
// the same batch payload produces the same fingerprints while a genuinely
// new batch does not.
func ItemFingerprint(from, to, amount string, token TokenSymbol, chainID int, createdAt int64, nonce string) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%s", from, to, amount, token, chainID, createdAt, nonce)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

// FingerprintOutcome classifies a registry lookup.
type FingerprintOutcome int

const (
	// FingerprintNew means no prior success and nothing in flight; the
	// caller now holds the in-flight marker and must Complete or Release.
	FingerprintNew FingerprintOutcome = iota
	// FingerprintSettled means a prior execution already succeeded.
	FingerprintSettled
	// FingerprintInFlight means another worker is executing this transfer.
	FingerprintInFlight
)

// SettledTransfer is the cached record of a successful execution.
type SettledTransfer struct {
	TransactionHash string
	SettledAt       time.Time
}

// FingerprintRegistry enforces at-most-one-success per fingerprint across
// concurrent workers. Successful results are cached for the TTL; failures
// release the marker so a retry can proceed.
type FingerprintRegistry struct {
	mu       sync.Mutex
	settled  map[string]*SettledTransfer
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewFingerprintRegistry creates a registry with the given success TTL.
func NewFingerprintRegistry(ttl time.Duration) *FingerprintRegistry {
	return &FingerprintRegistry{
		settled:  make(map[string]*SettledTransfer),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// CheckAndMark atomically inspects the registry and claims the in-flight
// marker when the fingerprint is new. The returned channel is the caller's
// completion handle for FingerprintNew, or the wait handle for
// FingerprintInFlight.
func (r *FingerprintRegistry) CheckAndMark(fingerprint string) (FingerprintOutcome, *SettledTransfer, chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if expiry, exists := r.expiry[fingerprint]; exists {
		if time.Now().Before(expiry) {
			if result, ok := r.settled[fingerprint]; ok {
				return FingerprintSettled, result, nil
			}
		}
		delete(r.settled, fingerprint)
		delete(r.expiry, fingerprint)
	}

	if done, exists := r.inFlight[fingerprint]; exists {
		return FingerprintInFlight, nil, done
	}

	done := make(chan struct{})
	r.inFlight[fingerprint] = done
	return FingerprintNew, nil, done
}

// WaitForSettlement blocks until an in-flight execution finishes or ctx is
// done. A nil result means the other execution failed and the caller may
// claim the fingerprint itself.
func (r *FingerprintRegistry) WaitForSettlement(ctx context.Context, fingerprint string, done chan struct{}) (*SettledTransfer, error) {
	select {
	case <-done:
		return r.Get(fingerprint), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached success for a fingerprint, or nil.
func (r *FingerprintRegistry) Get(fingerprint string) *SettledTransfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, exists := r.expiry[fingerprint]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(r.settled, fingerprint)
		delete(r.expiry, fingerprint)
		return nil
	}
	return r.settled[fingerprint]
}

// Complete records a successful execution, drops the in-flight marker and
// wakes any waiters.
func (r *FingerprintRegistry) Complete(fingerprint string, result *SettledTransfer, done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settled[fingerprint] = result
	r.expiry[fingerprint] = time.Now().Add(r.ttl)
	delete(r.inFlight, fingerprint)
	close(done)

	r.cleanupExpiredLocked()
}

// Release drops the in-flight marker without caching, so the transfer can be
// retried. Waiters wake and find no result.
func (r *FingerprintRegistry) Release(fingerprint string, done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inFlight, fingerprint)
	close(done)
}

func (r *FingerprintRegistry) cleanupExpiredLocked() {
	now := time.Now()
	for fingerprint, expiry := range r.expiry {
		if now.After(expiry) {
			delete(r.settled, fingerprint)
			delete(r.expiry, fingerprint)
		}
	}
}
