package protocolbanks

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookTestSecret = "whsec_test_secret"

func paymentPayload(id string) string {
	return fmt.Sprintf(`{
		"id": "evt_%s",
		"type": "payment.completed",
		"timestamp": 1717200000,
		"data": {
			"paymentId": "pay_%s",
			"amount": "25.00",
			"token": "USDC",
			"chain": "base",
			"recipientAddress": "%s",
			"transactionHash": "0xabc"
		}
	}`, id, id, testRecipientAddr)
}

func TestWebhookVerifyRoundtrip(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)
	payload := paymentPayload("1")

	header := verifier.Sign(payload, 0)
	result := verifier.Verify(payload, header, 0)

	require.True(t, result.Valid)
	assert.True(t, result.TimestampValid)
	assert.Empty(t, result.Error)

	require.NotNil(t, result.Event)
	assert.Equal(t, "evt_1", result.Event.ID)
	assert.Equal(t, EventPaymentCompleted, result.Event.Type)
	assert.Equal(t, EventFamilyPayment, result.Event.Family)
	assert.Equal(t, EventOutcomeSuccess, result.Event.Outcome)
	assert.Equal(t, int64(1717200000), result.Event.Timestamp.Unix())
}

func TestWebhookVerifyTamperedPayload(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)
	payload := paymentPayload("1")

	header := verifier.Sign(payload, 0)
	tampered := paymentPayload("2")

	result := verifier.Verify(tampered, header, 0)
	assert.False(t, result.Valid)
	assert.True(t, result.TimestampValid)
	assert.Equal(t, "Invalid webhook signature", result.Error)
}

func TestWebhookVerifyWrongSecret(t *testing.T) {
	payload := paymentPayload("1")
	header := NewWebhookVerifier("other_secret").Sign(payload, 0)

	result := NewWebhookVerifier(webhookTestSecret).Verify(payload, header, 0)
	assert.False(t, result.Valid)
	assert.Equal(t, "Invalid webhook signature", result.Error)
}

func TestWebhookVerifyTimestampTolerance(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return base }

	payload := paymentPayload("1")

	// Exactly at the window edge passes; one second beyond fails. The stale
	// header is rejected before any signature math runs.
	atEdge := verifier.Sign(payload, base.Add(-DefaultTimestampTolerance*time.Second).Unix())
	assert.True(t, verifier.Verify(payload, atEdge, 0).Valid)

	beyond := verifier.Sign(payload, base.Add(-(DefaultTimestampTolerance+1)*time.Second).Unix())
	result := verifier.Verify(payload, beyond, 0)
	assert.False(t, result.Valid)
	assert.False(t, result.TimestampValid)
	assert.Equal(t, "Webhook timestamp is outside tolerance window", result.Error)

	// Future timestamps are bounded the same way.
	future := verifier.Sign(payload, base.Add((DefaultTimestampTolerance+1)*time.Second).Unix())
	assert.False(t, verifier.Verify(payload, future, 0).Valid)
}

func TestWebhookVerifyMalformedHeaderUniform(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)
	payload := paymentPayload("1")

	headers := []string{
		"",
		"garbage",
		"t=abc,v1=deadbeef",
		"t=1717200000",
		"v1=deadbeef",
		"t=,v1=",
		"t=1717200000,v2=deadbeef",
	}
	for _, header := range headers {
		result := verifier.Verify(payload, header, 0)
		assert.False(t, result.Valid, "header %q", header)
		assert.Equal(t, "Invalid signature format", result.Error, "header %q", header)
	}
}

func TestWebhookParseRejectsUnknownType(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	_, err := verifier.Parse(`{"id": "evt_1", "type": "payment.refunded", "data": {"paymentId": "pay_1"}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown webhook event type")

	_, err = verifier.Parse(`{"id": "evt_1", "type": "invoice.created", "data": {}}`)
	require.Error(t, err)

	_, err = verifier.Parse(`{"id": "evt_1", "type": "nodot", "data": {}}`)
	require.Error(t, err)
}

func TestWebhookParseRequiresIDAndType(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	_, err := verifier.Parse(`{"type": "payment.created", "data": {"paymentId": "pay_1"}}`)
	require.Error(t, err)
	assert.Equal(t, ErrValidRequiredField, ErrorCode(err))

	_, err = verifier.Parse(`{"id": "evt_1", "data": {"paymentId": "pay_1"}}`)
	require.Error(t, err)
	assert.Equal(t, ErrValidRequiredField, ErrorCode(err))
}

func TestWebhookParseSchemaViolation(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	// Payment events must carry a paymentId.
	_, err := verifier.Parse(`{"id": "evt_1", "type": "payment.created", "data": {"amount": "5"}}`)
	require.Error(t, err)
	assert.Equal(t, ErrValidInvalidFormat, ErrorCode(err))

	// Count fields must be non-negative integers.
	_, err = verifier.Parse(`{"id": "evt_1", "type": "batch.completed", "data": {"batchId": "batch_1", "completedCount": -1}}`)
	require.Error(t, err)
}

func TestWebhookClassifyEventTypes(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	tests := []struct {
		eventType string
		family    EventFamily
		outcome   EventOutcome
	}{
		{"payment.created", EventFamilyPayment, EventOutcomeCreated},
		{"payment.completed", EventFamilyPayment, EventOutcomeSuccess},
		{"payment.failed", EventFamilyPayment, EventOutcomeFailure},
		{"payment.expired", EventFamilyPayment, EventOutcomeFailure},
		{"batch.processing", EventFamilyBatch, EventOutcomeProgress},
		{"batch.completed", EventFamilyBatch, EventOutcomeSuccess},
		{"x402.signed", EventFamilyX402, EventOutcomeProgress},
		{"x402.executed", EventFamilyX402, EventOutcomeSuccess},
		{"x402.expired", EventFamilyX402, EventOutcomeFailure},
	}
	for _, tt := range tests {
		family, outcome, ok := classifyEventType(tt.eventType)
		require.True(t, ok, tt.eventType)
		assert.Equal(t, tt.family, family, tt.eventType)
		assert.Equal(t, tt.outcome, outcome, tt.eventType)
	}

	for _, eventType := range []string{"payment.signed", "batch.executed", "x402.processing", "payment.", ".created"} {
		assert.False(t, verifier.IsValidEventType(eventType), eventType)
	}
}

func TestWebhookEveryListedTypeClassifies(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)
	for _, eventType := range SupportedEventTypes {
		assert.True(t, verifier.IsValidEventType(string(eventType)), string(eventType))
	}
}

func TestWebhookTimestampNormalization(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return fixed }

	event, err := verifier.Parse(`{"id": "evt_1", "type": "payment.created", "timestamp": "2025-05-30T10:00:00Z", "data": {"paymentId": "pay_1"}}`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC), event.Timestamp)

	// Missing or unreadable timestamps fall back to receipt time.
	event, err = verifier.Parse(`{"id": "evt_1", "type": "payment.created", "data": {"paymentId": "pay_1"}}`)
	require.NoError(t, err)
	assert.Equal(t, fixed, event.Timestamp)
}

func TestParsePaymentEvent(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	event, err := verifier.Parse(paymentPayload("1"))
	require.NoError(t, err)

	data, err := ParsePaymentEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", data.PaymentID)
	assert.Equal(t, "25.00", data.Amount)
	assert.Equal(t, "USDC", data.Token)
	assert.Equal(t, "0xabc", data.TransactionHash)

	// Extractors guard on family.
	_, err = ParseBatchEvent(event)
	require.Error(t, err)
	_, err = ParseX402Event(event)
	require.Error(t, err)
}

func TestParseBatchEvent(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	event, err := verifier.Parse(`{
		"id": "evt_2",
		"type": "batch.completed",
		"data": {"batchId": "batch_1", "totalRecipients": 10, "completedCount": 9, "failedCount": 1}
	}`)
	require.NoError(t, err)

	data, err := ParseBatchEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "batch_1", data.BatchID)
	assert.Equal(t, 10, data.TotalRecipients)
	assert.Equal(t, 9, data.CompletedCount)
	assert.Equal(t, 1, data.FailedCount)
}

func TestParseX402Event(t *testing.T) {
	verifier := NewWebhookVerifier(webhookTestSecret)

	event, err := verifier.Parse(`{
		"id": "evt_3",
		"type": "x402.executed",
		"data": {"authorizationId": "x402_1", "chainId": 8453, "transactionHash": "0xfeed", "relayerFee": "0.01"}
	}`)
	require.NoError(t, err)

	data, err := ParseX402Event(event)
	require.NoError(t, err)
	assert.Equal(t, "x402_1", data.AuthorizationID)
	assert.Equal(t, 8453, data.ChainID)
	assert.Equal(t, "0xfeed", data.TransactionHash)
	assert.Equal(t, "0.01", data.RelayerFee)
}
