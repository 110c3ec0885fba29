package protocolbanks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBatchConcurrency bounds parallel item execution unless overridden.
const DefaultBatchConcurrency = 5

// BatchOrchestrator drives multi-recipient settlement: validate everything
// up front, fingerprint each item, execute with bounded concurrency, persist
// outcomes and emit an audit trail. A validation failure rejects the whole
// batch before anything executes; a runtime failure is isolated to its item.
type BatchOrchestrator struct {
	transport   *Transport
	engine      *X402Engine
	store       Store
	auditor     *Auditor
	registry    *FingerprintRegistry
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// BatchOrchestratorOption customizes a BatchOrchestrator.
type BatchOrchestratorOption func(*BatchOrchestrator)

// WithConcurrency sets the worker pool size. Values below 1 keep the default.
func WithConcurrency(n int) BatchOrchestratorOption {
	return func(o *BatchOrchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithStore replaces the default in-memory store.
func WithStore(store Store) BatchOrchestratorOption {
	return func(o *BatchOrchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithAuditor replaces the default stdout auditor.
func WithAuditor(auditor *Auditor) BatchOrchestratorOption {
	return func(o *BatchOrchestrator) {
		if auditor != nil {
			o.auditor = auditor
		}
	}
}

// NewBatchOrchestrator creates an orchestrator. The fingerprint registry
// keeps successful settlements for an hour, matching the longest window a
// client is expected to retry within.
func NewBatchOrchestrator(transport *Transport, engine *X402Engine, log zerolog.Logger, opts ...BatchOrchestratorOption) *BatchOrchestrator {
	o := &BatchOrchestrator{
		transport:   transport,
		engine:      engine,
		store:       NewMemoryStore(),
		auditor:     NewAuditor(nil),
		registry:    NewFingerprintRegistry(time.Hour),
		concurrency: DefaultBatchConcurrency,
		log:         log.With().Str("component", "batch").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks every recipient and reports all findings, not just the
// first. Duplicate addresses are reported alongside structural problems.
func (o *BatchOrchestrator) Validate(recipients []BatchRecipient) ([]BatchValidationError, error) {
	if err := ValidateBatchSize(len(recipients)); err != nil {
		return nil, err
	}

	var findings []BatchValidationError
	for i, r := range recipients {
		var problems []string

		if r.Address == "" {
			problems = append(problems, "Address is required")
		} else if details := DetectHomoglyphs(r.Address); details != nil {
			problems = append(problems, "Address contains suspicious characters (possible homoglyph attack)")
		} else if !IsValidAddressForChain(r.Address, NumericChainID(r.ChainID)) {
			problems = append(problems, "Invalid address format")
		}

		if r.Amount == "" {
			problems = append(problems, "Amount is required")
		} else if !IsValidAmount(r.Amount) {
			problems = append(problems, "Invalid amount (must be positive, max 1 billion)")
		}

		if r.Token == "" {
			problems = append(problems, "Token is required")
		} else if !IsValidToken(r.Token) {
			problems = append(problems, fmt.Sprintf("Unsupported token: %s", r.Token))
		}

		if !IsValidChainID(NumericChainID(r.ChainID)) {
			problems = append(problems, fmt.Sprintf("Unsupported chain: %d", r.ChainID))
		}
		if len(r.Memo) > MaxMemoLength {
			problems = append(problems, fmt.Sprintf("Memo exceeds maximum length of %d characters", MaxMemoLength))
		}

		if len(problems) > 0 {
			findings = append(findings, BatchValidationError{Index: i, Address: r.Address, Errors: problems})
		}
	}

	findings = appendDuplicateFindings(findings, recipients)

	for i := 0; i < len(findings)-1; i++ {
		for j := i + 1; j < len(findings); j++ {
			if findings[i].Index > findings[j].Index {
				findings[i], findings[j] = findings[j], findings[i]
			}
		}
	}
	return findings, nil
}

// Execute runs the full pipeline and returns a report with items in
// submission order. Cancelling ctx stops scheduling new items; items already
// executing run to completion.
func (o *BatchOrchestrator) Execute(ctx context.Context, recipients []BatchRecipient, options *BatchOptions) (*BatchResult, error) {
	if options == nil {
		options = &BatchOptions{}
	}

	findings, err := o.Validate(recipients)
	if err != nil {
		return nil, err
	}
	if critical := criticalFindings(findings); len(critical) > 0 {
		return nil, NewSDKError(ErrBatchValidationFailed, ErrorCategoryBatch,
			fmt.Sprintf("%d of %d recipients failed validation", len(critical), len(recipients))).
			WithDetails(map[string]interface{}{"errors": critical})
	}

	totals, err := o.aggregateTotals(recipients)
	if err != nil {
		return nil, err
	}

	batchID := GenerateBatchID()
	createdAt := o.now()

	items := make([]BatchItem, len(recipients))
	for i, r := range recipients {
		items[i] = BatchItem{
			Index:            i,
			RecipientAddress: r.Address,
			Amount:           r.Amount,
			Token:            r.Token,
			ChainID:          r.ChainID,
			IntegrityFingerprint: ItemFingerprint(
				options.From, r.Address, r.Amount, r.Token, r.ChainID, createdAt.Unix(), strconv.Itoa(i)),
			Status: BatchItemPending,
		}
	}

	result := &BatchResult{
		BatchID:       batchID,
		Status:        BatchProcessing,
		Items:         items,
		TotalsByToken: totals,
		CreatedAt:     createdAt,
	}

	o.auditor.BatchCreated(batchID, len(items), totals)
	o.persistBatch(ctx, result)

	o.runItems(ctx, result, recipients, options)

	for i := range result.Items {
		switch result.Items[i].Status {
		case BatchItemSucceeded:
			result.SuccessCount++
		case BatchItemFailed:
			result.FailedCount++
		}
	}

	switch {
	case result.FailedCount == 0:
		result.Status = BatchCompleted
	case result.SuccessCount == 0:
		result.Status = BatchFailed
	default:
		result.Status = BatchPartiallyFailed
	}
	result.CompletedAt = o.now()

	o.persistBatch(ctx, result)
	o.auditor.BatchCompleted(batchID, string(result.Status), result.SuccessCount, result.FailedCount)
	o.log.Info().
		Str("batch_id", batchID).
		Str("status", string(result.Status)).
		Int("succeeded", result.SuccessCount).
		Int("failed", result.FailedCount).
		Msg("batch finished")

	return result, nil
}

// Status returns the persisted record for a batch.
func (o *BatchOrchestrator) Status(ctx context.Context, batchID string) (*BatchRecord, error) {
	return o.store.GetBatch(ctx, batchID)
}

// Payments returns the persisted item outcomes of a batch in input order.
func (o *BatchOrchestrator) Payments(ctx context.Context, batchID string) ([]*PaymentRecord, error) {
	return o.store.ListPayments(ctx, batchID)
}

// CalculateTotal sums requested amounts by token without executing anything.
func (o *BatchOrchestrator) CalculateTotal(recipients []BatchRecipient) map[TokenSymbol]string {
	byToken := make(map[TokenSymbol]float64)
	for _, r := range recipients {
		if amount, err := strconv.ParseFloat(r.Amount, 64); err == nil {
			byToken[r.Token] += amount
		}
	}
	totals := make(map[TokenSymbol]string, len(byToken))
	for token, amount := range byToken {
		totals[token] = strconv.FormatFloat(amount, 'f', 6, 64)
	}
	return totals
}

// runItems executes items through a bounded worker pool. The items slice is
// indexed, never appended to, so each worker writes only its own element.
func (o *BatchOrchestrator) runItems(ctx context.Context, result *BatchResult, recipients []BatchRecipient, options *BatchOptions) {
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	// In-flight executions finish even after ctx is cancelled.
	execCtx := context.WithoutCancel(ctx)

	for i := range result.Items {
		if ctx.Err() != nil {
			item := &result.Items[i]
			item.Status = BatchItemFailed
			item.Error = NewSDKError(ErrBatchValidationFailed, ErrorCategoryBatch,
				"Batch cancelled before item was scheduled")
			o.finishItem(execCtx, result.BatchID, item)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(item *BatchItem, recipient BatchRecipient) {
			defer wg.Done()
			defer func() { <-sem }()

			item.Status = BatchItemExecuting
			o.executeItem(execCtx, result.BatchID, item, recipient, options)
			o.finishItem(execCtx, result.BatchID, item)
		}(&result.Items[i], recipients[i])
	}
	wg.Wait()
}

// executeItem settles one transfer, consulting the fingerprint registry so a
// duplicate never succeeds twice.
func (o *BatchOrchestrator) executeItem(ctx context.Context, batchID string, item *BatchItem, recipient BatchRecipient, options *BatchOptions) {
	outcome, settled, done := o.registry.CheckAndMark(item.IntegrityFingerprint)
	switch outcome {
	case FingerprintSettled:
		item.Status = BatchItemSucceeded
		item.TransactionHash = settled.TransactionHash
		return
	case FingerprintInFlight:
		settled, err := o.registry.WaitForSettlement(ctx, item.IntegrityFingerprint, done)
		if err != nil {
			item.Status = BatchItemFailed
			item.Error = NewTimeoutError("Timed out waiting for duplicate in-flight transfer")
			return
		}
		if settled != nil {
			item.Status = BatchItemSucceeded
			item.TransactionHash = settled.TransactionHash
			return
		}
		// The other attempt failed; this one claims the fingerprint.
		o.executeItem(ctx, batchID, item, recipient, options)
		return
	}

	txHash, err := o.settle(ctx, recipient, item, options)
	if err != nil {
		o.registry.Release(item.IntegrityFingerprint, done)
		item.Status = BatchItemFailed
		item.Error = asSDKError(err)
		return
	}

	o.registry.Complete(item.IntegrityFingerprint, &SettledTransfer{
		TransactionHash: txHash,
		SettledAt:       o.now(),
	}, done)
	item.Status = BatchItemSucceeded
	item.TransactionHash = txHash
}

// settle picks the settlement path for one item. Gasless-eligible items go
// through the authorization engine when a signer is available; everything
// else posts a plain transfer.
func (o *BatchOrchestrator) settle(ctx context.Context, recipient BatchRecipient, item *BatchItem, options *BatchOptions) (string, error) {
	if options.Signer != nil && IsGaslessToken(recipient.ChainID, recipient.Token) {
		return o.settleGasless(ctx, recipient, options)
	}
	return o.settleTransfer(ctx, recipient, item, options)
}

func (o *BatchOrchestrator) settleGasless(ctx context.Context, recipient BatchRecipient, options *BatchOptions) (string, error) {
	auth, err := o.engine.CreateAuthorization(ctx, AuthorizationParams{
		To:         recipient.Address,
		Amount:     recipient.Amount,
		Token:      recipient.Token,
		ChainID:    recipient.ChainID,
		Preference: options.Preference,
	})
	if err != nil {
		return "", err
	}

	from, signature, err := options.Signer(ctx, auth)
	if err != nil {
		return "", NewSDKError(ErrCryptoSignatureFailed, ErrorCategoryCrypto,
			"Signer rejected authorization: "+err.Error())
	}

	auth, err = o.engine.SubmitSignature(ctx, auth.ID, from, signature)
	if err != nil {
		return "", err
	}
	if !IsTerminalStatus(auth.Status) {
		auth, err = o.engine.WaitForCompletion(ctx, auth.ID, 0)
		if err != nil {
			return "", err
		}
	}
	if auth.Status != AuthorizationExecuted {
		return "", NewSDKError(ErrX402RelayerError, ErrorCategoryX402,
			fmt.Sprintf("Authorization finished %s", auth.Status))
	}
	return auth.TransactionHash, nil
}

func (o *BatchOrchestrator) settleTransfer(ctx context.Context, recipient BatchRecipient, item *BatchItem, options *BatchOptions) (string, error) {
	body := map[string]interface{}{
		"to":          recipient.Address,
		"amount":      recipient.Amount,
		"token":       recipient.Token,
		"chainId":     recipient.ChainID,
		"memo":        recipient.Memo,
		"orderId":     recipient.OrderID,
		"fingerprint": item.IntegrityFingerprint,
	}
	if options.From != "" {
		body["from"] = options.From
	}
	if options.IdempotencyKey != "" {
		body["idempotencyKey"] = options.IdempotencyKey
	}

	var response struct {
		TransactionHash string `json:"transactionHash"`
		Status          string `json:"status"`
	}
	if err := o.transport.Post(ctx, "/transfers", body, &response); err != nil {
		return "", err
	}
	return response.TransactionHash, nil
}

// finishItem persists and audits one terminal item.
func (o *BatchOrchestrator) finishItem(ctx context.Context, batchID string, item *BatchItem) {
	batchItemsTotal.WithLabelValues(string(item.Status)).Inc()

	errMsg := ""
	if item.Error != nil {
		errMsg = item.Error.Message
	}
	o.auditor.ItemOutcome(batchID, item.Index, item.IntegrityFingerprint,
		string(item.Status), item.TransactionHash, errMsg)

	record := &PaymentRecord{
		ID:              GeneratePaymentID(),
		BatchID:         batchID,
		RecipientAddr:   item.RecipientAddress,
		Amount:          item.Amount,
		Token:           item.Token,
		ChainID:         item.ChainID,
		Status:          string(item.Status),
		TransactionHash: item.TransactionHash,
		Error:           errMsg,
		CreatedAt:       o.now(),
	}
	if err := o.store.SavePayment(ctx, record); err != nil {
		o.log.Warn().Err(err).Str("batch_id", batchID).Int("index", item.Index).Msg("payment persistence failed")
	}
}

func (o *BatchOrchestrator) persistBatch(ctx context.Context, result *BatchResult) {
	record := &BatchRecord{
		ID:            result.BatchID,
		Status:        string(result.Status),
		TotalItems:    len(result.Items),
		SuccessCount:  result.SuccessCount,
		FailedCount:   result.FailedCount,
		TotalsByToken: result.TotalsByToken,
		CreatedAt:     result.CreatedAt,
	}
	if !result.CompletedAt.IsZero() {
		completed := result.CompletedAt
		record.CompletedAt = &completed
	}
	if err := o.store.SaveBatch(ctx, record); err != nil {
		o.log.Warn().Err(err).Str("batch_id", result.BatchID).Msg("batch persistence failed")
	}
}

// aggregateTotals sums per-token amounts and enforces the per-token ceiling.
func (o *BatchOrchestrator) aggregateTotals(recipients []BatchRecipient) (map[TokenSymbol]string, error) {
	byToken := make(map[TokenSymbol]float64)
	for _, r := range recipients {
		amount, err := strconv.ParseFloat(r.Amount, 64)
		if err != nil {
			return nil, NewValidationError("Invalid amount: " + r.Amount)
		}
		byToken[r.Token] += amount
	}

	totals := make(map[TokenSymbol]string, len(byToken))
	for token, amount := range byToken {
		if amount > MaxAmount {
			return nil, NewSDKError(ErrBatchCeilingExceeded, ErrorCategoryBatch,
				fmt.Sprintf("Total %s for %s exceeds the %d ceiling",
					strconv.FormatFloat(amount, 'f', -1, 64), token, MaxAmount))
		}
		totals[token] = strconv.FormatFloat(amount, 'f', 6, 64)
	}
	return totals, nil
}

// criticalFindings filters out duplicate-address warnings, which do not
// block execution on their own.
func criticalFindings(findings []BatchValidationError) []BatchValidationError {
	var critical []BatchValidationError
	for _, f := range findings {
		for _, msg := range f.Errors {
			if !strings.Contains(msg, "Duplicate") {
				critical = append(critical, f)
				break
			}
		}
	}
	return critical
}

func appendDuplicateFindings(findings []BatchValidationError, recipients []BatchRecipient) []BatchValidationError {
	counts := make(map[string][]int)
	for i, r := range recipients {
		address := strings.ToLower(r.Address)
		if address != "" {
			counts[address] = append(counts[address], i)
		}
	}

	for address, indices := range counts {
		if len(indices) < 2 {
			continue
		}
		msg := fmt.Sprintf("Duplicate address (appears %d times)", len(indices))
		for _, index := range indices {
			found := false
			for i := range findings {
				if findings[i].Index == index {
					findings[i].Errors = append(findings[i].Errors, msg)
					found = true
					break
				}
			}
			if !found {
				findings = append(findings, BatchValidationError{
					Index:   index,
					Address: address,
					Errors:  []string{msg},
				})
			}
		}
	}
	return findings
}

// asSDKError coerces any error to an SDKError for item reports.
func asSDKError(err error) *SDKError {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		return sdkErr
	}
	return NewNetworkError(err.Error())
}
