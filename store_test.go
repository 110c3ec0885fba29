package protocolbanks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBatchRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &BatchRecord{
		ID:            "batch_1",
		Status:        string(BatchProcessing),
		TotalItems:    3,
		TotalsByToken: map[TokenSymbol]string{TokenUSDC: "30.000000"},
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.SaveBatch(ctx, record))

	got, err := store.GetBatch(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Status, got.Status)

	// The store hands out copies, not aliases.
	got.Status = "mutated"
	again, err := store.GetBatch(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, string(BatchProcessing), again.Status)

	// Upsert replaces the record.
	record.Status = string(BatchCompleted)
	require.NoError(t, store.SaveBatch(ctx, record))
	final, err := store.GetBatch(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, string(BatchCompleted), final.Status)
}

func TestMemoryStoreBatchNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetBatch(context.Background(), "batch_missing")
	require.Error(t, err)
	assert.Equal(t, ErrBatchNotFound, ErrorCode(err))
}

func TestMemoryStoreListBatches(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveBatch(ctx, &BatchRecord{
			ID:        fmt.Sprintf("batch_%d", i),
			Status:    string(BatchCompleted),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	records, err := store.ListBatches(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "batch_4", records[0].ID)
	assert.Equal(t, "batch_3", records[1].ID)
	assert.Equal(t, "batch_2", records[2].ID)

	all, err := store.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestMemoryStorePaymentsByBatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SavePayment(ctx, &PaymentRecord{
			ID:      fmt.Sprintf("pay_%d", i),
			BatchID: "batch_1",
			Status:  string(BatchItemSucceeded),
		}))
	}
	require.NoError(t, store.SavePayment(ctx, &PaymentRecord{
		ID:      "pay_other",
		BatchID: "batch_2",
	}))

	payments, err := store.ListPayments(ctx, "batch_1")
	require.NoError(t, err)
	require.Len(t, payments, 3)
	for i, p := range payments {
		assert.Equal(t, fmt.Sprintf("pay_%d", i), p.ID)
		assert.False(t, p.UpdatedAt.IsZero())
	}

	got, err := store.GetPayment(ctx, "pay_other")
	require.NoError(t, err)
	assert.Equal(t, "batch_2", got.BatchID)

	_, err = store.GetPayment(ctx, "pay_missing")
	require.Error(t, err)
}

func TestMemoryStorePaymentUpsertKeepsIndex(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &PaymentRecord{ID: "pay_1", BatchID: "batch_1", Status: "executing"}
	require.NoError(t, store.SavePayment(ctx, record))

	record.Status = "succeeded"
	require.NoError(t, store.SavePayment(ctx, record))

	payments, err := store.ListPayments(ctx, "batch_1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "succeeded", payments[0].Status)
}
