package protocolbanks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrchestrator(t *testing.T, handler http.HandlerFunc, opts ...BatchOrchestratorOption) *BatchOrchestrator {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			serveToken(w)
			return
		}
		if handler != nil {
			handler(w, r)
			return
		}
		writeEnvelope(w, map[string]string{})
	}))
	t.Cleanup(server.Close)

	tr := testTransport(t, server.URL, nil)
	engine := NewX402Engine(tr, zerolog.Nop())
	opts = append([]BatchOrchestratorOption{WithAuditor(NewAuditor(io.Discard))}, opts...)
	return NewBatchOrchestrator(tr, engine, zerolog.Nop(), opts...)
}

func validRecipients(n int) []BatchRecipient {
	recipients := make([]BatchRecipient, n)
	for i := range recipients {
		// Distinct valid addresses: vary the last hex digit.
		addr := fmt.Sprintf("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d35%x", i%16)
		recipients[i] = BatchRecipient{
			Address: addr,
			Amount:  "10.00",
			Token:   TokenUSDC,
			ChainID: 8453,
		}
	}
	return recipients
}

func TestBatchValidateReportsAllFindings(t *testing.T) {
	o := testOrchestrator(t, nil)

	recipients := []BatchRecipient{
		{Address: testRecipientAddr, Amount: "10", Token: TokenUSDC, ChainID: 8453},
		{Address: "not-an-address", Amount: "10", Token: TokenUSDC, ChainID: 8453},
		{Address: testPayerAddr, Amount: "-5", Token: TokenUSDC, ChainID: 8453},
		{Address: testPayerAddr, Amount: "10", Token: "DOGE", ChainID: 99999},
	}

	findings, err := o.Validate(recipients)
	require.NoError(t, err)
	require.Len(t, findings, 3)

	// Findings come back in input order, each carrying every problem found.
	assert.Equal(t, 1, findings[0].Index)
	assert.Contains(t, findings[0].Errors[0], "Invalid address format")

	assert.Equal(t, 2, findings[1].Index)
	assert.Contains(t, findings[1].Errors, "Invalid amount (must be positive, max 1 billion)")
	assert.Contains(t, findings[1].Errors, "Duplicate address (appears 2 times)")

	assert.Equal(t, 3, findings[2].Index)
	assert.Contains(t, findings[2].Errors, "Unsupported token: DOGE")
	assert.Contains(t, findings[2].Errors, "Unsupported chain: 99999")
}

func TestBatchValidateEmpty(t *testing.T) {
	o := testOrchestrator(t, nil)

	_, err := o.Validate(nil)
	require.Error(t, err)
	assert.Equal(t, ErrBatchValidationFailed, ErrorCode(err))
}

func TestBatchExecuteRejectsInvalidWithoutExecuting(t *testing.T) {
	var transfers int32
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transfers" {
			atomic.AddInt32(&transfers, 1)
		}
		writeEnvelope(w, map[string]string{})
	})

	recipients := validRecipients(3)
	recipients[1].Address = "bogus"

	_, err := o.Execute(context.Background(), recipients, nil)
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, ErrBatchValidationFailed, sdkErr.Code)
	assert.NotNil(t, sdkErr.Details)
	assert.Equal(t, int32(0), atomic.LoadInt32(&transfers))
}

func TestBatchExecuteCeiling(t *testing.T) {
	o := testOrchestrator(t, nil)

	recipients := validRecipients(2)
	recipients[0].Amount = "600000000"
	recipients[1].Amount = "600000000"

	_, err := o.Execute(context.Background(), recipients, nil)
	require.Error(t, err)
	assert.Equal(t, ErrBatchCeilingExceeded, ErrorCode(err))
}

func TestBatchExecuteSuccess(t *testing.T) {
	var transfers int32
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transfers" {
			n := atomic.AddInt32(&transfers, 1)
			writeEnvelope(w, map[string]string{
				"transactionHash": fmt.Sprintf("0xtx%d", n),
				"status":          "completed",
			})
			return
		}
		writeEnvelope(w, map[string]string{})
	})

	recipients := validRecipients(4)
	result, err := o.Execute(context.Background(), recipients, &BatchOptions{From: testPayerAddr})
	require.NoError(t, err)

	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, 4, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 100, result.Progress())
	assert.Equal(t, map[TokenSymbol]string{TokenUSDC: "40.000000"}, result.TotalsByToken)

	for i, item := range result.Items {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, BatchItemSucceeded, item.Status)
		assert.NotEmpty(t, item.TransactionHash)
		assert.Len(t, item.IntegrityFingerprint, 64)
	}

	// Outcomes are persisted.
	record, err := o.Status(context.Background(), result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, string(BatchCompleted), record.Status)
	assert.Equal(t, 4, record.TotalItems)
	assert.Equal(t, 4, record.SuccessCount)
	require.NotNil(t, record.CompletedAt)

	payments, err := o.Payments(context.Background(), result.BatchID)
	require.NoError(t, err)
	assert.Len(t, payments, 4)
}

func TestBatchExecutePartialFailure(t *testing.T) {
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transfers" {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["amount"] == "666" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": false,
					"error": map[string]interface{}{
						"code":     ErrChainTransactionFailed,
						"category": "CHAIN",
						"message":  "Insufficient balance",
					},
				})
				return
			}
			writeEnvelope(w, map[string]string{"transactionHash": "0xok"})
			return
		}
		writeEnvelope(w, map[string]string{})
	})

	recipients := validRecipients(3)
	recipients[1].Amount = "666"

	result, err := o.Execute(context.Background(), recipients, nil)
	require.NoError(t, err)

	assert.Equal(t, BatchPartiallyFailed, result.Status)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)

	assert.Equal(t, BatchItemSucceeded, result.Items[0].Status)
	assert.Equal(t, BatchItemFailed, result.Items[1].Status)
	assert.Equal(t, BatchItemSucceeded, result.Items[2].Status)

	require.NotNil(t, result.Items[1].Error)
	assert.Equal(t, ErrChainTransactionFailed, result.Items[1].Error.Code)
}

func TestBatchExecuteAllFail(t *testing.T) {
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transfers" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error": map[string]interface{}{
					"code":     ErrChainRPCError,
					"category": "CHAIN",
					"message":  "RPC unavailable",
				},
			})
			return
		}
		writeEnvelope(w, map[string]string{})
	})

	result, err := o.Execute(context.Background(), validRecipients(2), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchFailed, result.Status)
	assert.Equal(t, 2, result.FailedCount)
}

func TestBatchExecuteGaslessPath(t *testing.T) {
	var settles int32
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/x402/settle":
			atomic.AddInt32(&settles, 1)
			writeEnvelope(w, map[string]interface{}{
				"transactionHash": "0xgasless",
				"status":          AuthorizationExecuted,
			})
		case "/transfers":
			t.Error("gasless-eligible item must not use the transfer endpoint")
		default:
			writeEnvelope(w, map[string]string{})
		}
	})

	signer := func(ctx context.Context, auth *Authorization) (string, string, error) {
		return testPayerAddr, testSignature(), nil
	}

	result, err := o.Execute(context.Background(), validRecipients(2), &BatchOptions{
		From:   testPayerAddr,
		Signer: signer,
	})
	require.NoError(t, err)

	assert.Equal(t, BatchCompleted, result.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&settles))
	for _, item := range result.Items {
		assert.Equal(t, "0xgasless", item.TransactionHash)
	}
}

func TestBatchExecuteCancelledBeforeScheduling(t *testing.T) {
	o := testOrchestrator(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Execute(ctx, validRecipients(3), nil)
	require.NoError(t, err)

	assert.Equal(t, BatchFailed, result.Status)
	for _, item := range result.Items {
		assert.Equal(t, BatchItemFailed, item.Status)
		require.NotNil(t, item.Error)
		assert.Contains(t, item.Error.Message, "cancelled")
	}
}

func TestBatchConcurrencyOption(t *testing.T) {
	var inflight, peak int32
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transfers" {
			n := atomic.AddInt32(&inflight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			defer atomic.AddInt32(&inflight, -1)
			writeEnvelope(w, map[string]string{"transactionHash": "0xok"})
			return
		}
		writeEnvelope(w, map[string]string{})
	}, WithConcurrency(2))

	result, err := o.Execute(context.Background(), validRecipients(8), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchCompleted, result.Status)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestCalculateTotal(t *testing.T) {
	o := testOrchestrator(t, nil)

	totals := o.CalculateTotal([]BatchRecipient{
		{Amount: "10.5", Token: TokenUSDC},
		{Amount: "4.5", Token: TokenUSDC},
		{Amount: "2", Token: TokenDAI},
	})

	assert.Equal(t, "15.000000", totals[TokenUSDC])
	assert.Equal(t, "2.000000", totals[TokenDAI])
}

func TestBatchListBatchesNewestFirst(t *testing.T) {
	o := testOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transfers" {
			writeEnvelope(w, map[string]string{"transactionHash": "0xok"})
			return
		}
		writeEnvelope(w, map[string]string{})
	})

	first, err := o.Execute(context.Background(), validRecipients(1), nil)
	require.NoError(t, err)
	second, err := o.Execute(context.Background(), validRecipients(1), nil)
	require.NoError(t, err)

	records, err := o.store.ListBatches(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.BatchID, records[0].ID)
	assert.Equal(t, first.BatchID, records[1].ID)
}
