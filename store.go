package protocolbanks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists batch and payment outcomes. The orchestrator writes through
// it after every item reaches a terminal status, so a crash mid-batch leaves
// an inspectable trail.
//
// MemoryStore suits single-instance deployments; implement Store over a
// shared backend when batch state must survive the process.
type Store interface {
	SaveBatch(ctx context.Context, batch *BatchRecord) error
	GetBatch(ctx context.Context, batchID string) (*BatchRecord, error)
	ListBatches(ctx context.Context, limit int) ([]*BatchRecord, error)

	SavePayment(ctx context.Context, payment *PaymentRecord) error
	GetPayment(ctx context.Context, paymentID string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, batchID string) ([]*PaymentRecord, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	batches  map[string]*BatchRecord
	payments map[string]*PaymentRecord
	// byBatch indexes payment IDs by batch for ListPayments.
	byBatch map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:  make(map[string]*BatchRecord),
		payments: make(map[string]*PaymentRecord),
		byBatch:  make(map[string][]string),
	}
}

// SaveBatch upserts a batch record.
func (s *MemoryStore) SaveBatch(_ context.Context, batch *BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *batch
	s.batches[batch.ID] = &c
	return nil
}

// GetBatch returns a batch record by ID.
func (s *MemoryStore) GetBatch(_ context.Context, batchID string) (*BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, NewSDKError(ErrBatchNotFound, ErrorCategoryBatch,
			"Batch not found: "+batchID)
	}
	c := *batch
	return &c, nil
}

// ListBatches returns up to limit batches, newest first.
func (s *MemoryStore) ListBatches(_ context.Context, limit int) ([]*BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]*BatchRecord, 0, len(s.batches))
	for _, batch := range s.batches {
		c := *batch
		batches = append(batches, &c)
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// SavePayment upserts a payment record, stamping UpdatedAt.
func (s *MemoryStore) SavePayment(_ context.Context, payment *PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *payment
	c.UpdatedAt = time.Now()
	if _, exists := s.payments[payment.ID]; !exists && payment.BatchID != "" {
		s.byBatch[payment.BatchID] = append(s.byBatch[payment.BatchID], payment.ID)
	}
	s.payments[payment.ID] = &c
	return nil
}

// GetPayment returns a payment record by ID.
func (s *MemoryStore) GetPayment(_ context.Context, paymentID string) (*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, NewSDKError(ErrBatchNotFound, ErrorCategoryBatch,
			"Payment not found: "+paymentID)
	}
	c := *payment
	return &c, nil
}

// ListPayments returns a batch's payments in insertion order.
func (s *MemoryStore) ListPayments(_ context.Context, batchID string) ([]*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byBatch[batchID]
	payments := make([]*PaymentRecord, 0, len(ids))
	for _, id := range ids {
		if payment, ok := s.payments[id]; ok {
			c := *payment
			payments = append(payments, &c)
		}
	}
	return payments, nil
}

var _ Store = (*MemoryStore)(nil)
