package protocolbanks

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Auditor emits the tamper-evident trail of batch and authorization activity
// as structured JSON lines. One event per batch creation, per item outcome,
// and per batch completion.
type Auditor struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewAuditor writes audit events to w. A nil w defaults to stdout.
func NewAuditor(w io.Writer) *Auditor {
	if w == nil {
		w = os.Stdout
	}
	return &Auditor{
		logger: zerolog.New(w).With().Str("stream", "audit").Logger(),
	}
}

// Event writes one audit entry. Field maps are copied before logging so
// callers may reuse them.
func (a *Auditor) Event(event string, fields map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := a.logger.Info().
		Str("event", event).
		Time("ts", time.Now().UTC())
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Send()
}

// BatchCreated records a batch entering execution.
func (a *Auditor) BatchCreated(batchID string, items int, totals map[TokenSymbol]string) {
	a.Event("batch.created", map[string]interface{}{
		"batch_id": batchID,
		"items":    items,
		"totals":   totals,
	})
}

// ItemOutcome records one item reaching a terminal status.
func (a *Auditor) ItemOutcome(batchID string, index int, fingerprint, status, txHash, errMsg string) {
	fields := map[string]interface{}{
		"batch_id":    batchID,
		"index":       index,
		"fingerprint": fingerprint,
		"status":      status,
	}
	if txHash != "" {
		fields["transaction_hash"] = txHash
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	a.Event("batch.item", fields)
}

// BatchCompleted records the terminal batch status with summary counts.
func (a *Auditor) BatchCompleted(batchID, status string, success, failed int) {
	a.Event("batch."+status, map[string]interface{}{
		"batch_id":      batchID,
		"success_count": success,
		"failed_count":  failed,
	})
}
