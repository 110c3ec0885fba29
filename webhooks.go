package protocolbanks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

const (
	// WebhookSignatureHeader carries the `t=...,v1=...` signature value.
	WebhookSignatureHeader = "X-PB-Signature"

	// DefaultTimestampTolerance is the replay window in seconds (5 minutes).
	DefaultTimestampTolerance = 300
)

// SupportedEventTypes lists every event type the verifier accepts.
var SupportedEventTypes = []WebhookEventType{
	EventPaymentCreated,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentExpired,
	EventBatchCreated,
	EventBatchProcessing,
	EventBatchCompleted,
	EventBatchFailed,
	EventX402Created,
	EventX402Signed,
	EventX402Executed,
	EventX402Failed,
	EventX402Expired,
}

// Event data schemas, one per family. Validation happens once at parse time
// so consumers can index into Data without re-checking shapes.
var (
	paymentEventSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["paymentId"],
		"properties": {
			"paymentId": {"type": "string", "minLength": 1},
			"amount": {"type": "string"},
			"token": {"type": "string"},
			"chain": {"type": "string"},
			"recipientAddress": {"type": "string"},
			"transactionHash": {"type": "string"}
		}
	}`)

	batchEventSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["batchId"],
		"properties": {
			"batchId": {"type": "string", "minLength": 1},
			"totalRecipients": {"type": "integer", "minimum": 0},
			"completedCount": {"type": "integer", "minimum": 0},
			"failedCount": {"type": "integer", "minimum": 0},
			"totalAmount": {"type": "string"}
		}
	}`)

	x402EventSchema = gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["authorizationId"],
		"properties": {
			"authorizationId": {"type": "string", "minLength": 1},
			"amount": {"type": "string"},
			"token": {"type": "string"},
			"chainId": {"type": "integer"},
			"transactionHash": {"type": "string"}
		}
	}`)
)

// WebhookVerifier authenticates inbound webhooks and parses their events.
type WebhookVerifier struct {
	secret string
	now    func() time.Time
}

// NewWebhookVerifier creates a verifier bound to a shared secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, now: time.Now}
}

// Verify authenticates a payload against its signature header. The timestamp
// window is checked before any signature math so replays are rejected
// cheaply; the HMAC comparison itself is constant time. A malformed header
// fails the same way regardless of which part is malformed.
func (v *WebhookVerifier) Verify(payload, header string, tolerance int) *WebhookVerificationResult {
	if tolerance <= 0 {
		tolerance = DefaultTimestampTolerance
	}

	timestamp, signature, ok := ParseWebhookSignature(header)
	if !ok {
		webhookVerificationsTotal.WithLabelValues("malformed").Inc()
		return &WebhookVerificationResult{
			Valid: false,
			Error: "Invalid signature format",
		}
	}

	if abs64(v.now().Unix()-timestamp) > int64(tolerance) {
		webhookVerificationsTotal.WithLabelValues("stale").Inc()
		return &WebhookVerificationResult{
			Valid:          false,
			TimestampValid: false,
			Error:          "Webhook timestamp is outside tolerance window",
		}
	}

	if !VerifyWebhookSignature(payload, signature, v.secret, timestamp) {
		webhookVerificationsTotal.WithLabelValues("bad_signature").Inc()
		return &WebhookVerificationResult{
			Valid:          false,
			TimestampValid: true,
			Error:          "Invalid webhook signature",
		}
	}

	event, err := v.Parse(payload)
	if err != nil {
		webhookVerificationsTotal.WithLabelValues("bad_payload").Inc()
		return &WebhookVerificationResult{
			Valid:          false,
			TimestampValid: true,
			Error:          err.Error(),
		}
	}

	webhookVerificationsTotal.WithLabelValues("valid").Inc()
	return &WebhookVerificationResult{
		Valid:          true,
		TimestampValid: true,
		Event:          event,
	}
}

// Parse decodes a payload into an event. The event kind is classified into
// its family and outcome exactly once here; unknown types are rejected.
func (v *WebhookVerifier) Parse(payload string) (*WebhookEvent, error) {
	var raw struct {
		ID        string                 `json:"id"`
		Type      string                 `json:"type"`
		Timestamp interface{}            `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
		Signature string                 `json:"signature"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			"Invalid webhook payload JSON")
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, NewSDKError(ErrValidRequiredField, ErrorCategoryValid,
			"Webhook payload missing required fields (id, type)")
	}

	family, outcome, ok := classifyEventType(raw.Type)
	if !ok {
		return nil, NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			"Unknown webhook event type: "+raw.Type)
	}

	if err := validateEventData(family, raw.Data); err != nil {
		return nil, err
	}

	return &WebhookEvent{
		ID:        raw.ID,
		Type:      WebhookEventType(raw.Type),
		Family:    family,
		Outcome:   outcome,
		Timestamp: normalizeTimestamp(raw.Timestamp, v.now),
		Data:      raw.Data,
		Signature: raw.Signature,
	}, nil
}

// Sign produces a signature header for a payload, mainly for tests and local
// webhook emitters. A zero timestamp means now.
func (v *WebhookVerifier) Sign(payload string, timestamp int64) string {
	if timestamp == 0 {
		timestamp = v.now().Unix()
	}
	sig := GenerateWebhookSignature(payload, v.secret, timestamp)
	return FormatWebhookSignature(sig, timestamp)
}

// IsValidEventType reports whether the verifier knows the event type.
func (v *WebhookVerifier) IsValidEventType(eventType string) bool {
	_, _, ok := classifyEventType(eventType)
	return ok
}

// classifyEventType decodes a dot-namespaced type into the closed family and
// outcome enums. Only listed combinations are accepted.
func classifyEventType(eventType string) (EventFamily, EventOutcome, bool) {
	parts := strings.SplitN(eventType, ".", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	var family EventFamily
	switch parts[0] {
	case "payment":
		family = EventFamilyPayment
	case "batch":
		family = EventFamilyBatch
	case "x402":
		family = EventFamilyX402
	default:
		return "", "", false
	}

	var outcome EventOutcome
	switch parts[1] {
	case "created":
		outcome = EventOutcomeCreated
	case "processing", "signed":
		outcome = EventOutcomeProgress
	case "completed", "executed":
		outcome = EventOutcomeSuccess
	case "failed", "expired":
		outcome = EventOutcomeFailure
	default:
		return "", "", false
	}

	for _, t := range SupportedEventTypes {
		if string(t) == eventType {
			return family, outcome, true
		}
	}
	return "", "", false
}

func validateEventData(family EventFamily, data map[string]interface{}) error {
	var schema gojsonschema.JSONLoader
	switch family {
	case EventFamilyPayment:
		schema = paymentEventSchema
	case EventFamilyBatch:
		schema = batchEventSchema
	case EventFamilyX402:
		schema = x402EventSchema
	default:
		return nil
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(data))
	if err != nil {
		return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			"Webhook data validation failed: "+err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			"Webhook data does not match schema: "+strings.Join(msgs, "; "))
	}
	return nil
}

func normalizeTimestamp(raw interface{}, now func() time.Time) time.Time {
	switch t := raw.(type) {
	case float64:
		return time.Unix(int64(t), 0)
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return now()
}

// ============================================================================
// Typed event data
// ============================================================================

// PaymentEventData is the decoded payload of a payment event.
type PaymentEventData struct {
	PaymentID        string `json:"paymentId"`
	Amount           string `json:"amount"`
	Token            string `json:"token"`
	Chain            string `json:"chain"`
	RecipientAddress string `json:"recipientAddress"`
	SenderAddress    string `json:"senderAddress,omitempty"`
	TransactionHash  string `json:"transactionHash,omitempty"`
	OrderID          string `json:"orderId,omitempty"`
	Memo             string `json:"memo,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BatchEventData is the decoded payload of a batch event.
type BatchEventData struct {
	BatchID         string `json:"batchId"`
	TotalRecipients int    `json:"totalRecipients"`
	CompletedCount  int    `json:"completedCount"`
	FailedCount     int    `json:"failedCount"`
	TotalAmount     string `json:"totalAmount"`
	Token           string `json:"token"`
	Chain           string `json:"chain"`
	Error           string `json:"error,omitempty"`
}

// X402EventData is the decoded payload of an x402 event.
type X402EventData struct {
	AuthorizationID string `json:"authorizationId"`
	Amount          string `json:"amount"`
	Token           string `json:"token"`
	ChainID         int    `json:"chainId"`
	FromAddress     string `json:"fromAddress"`
	ToAddress       string `json:"toAddress"`
	TransactionHash string `json:"transactionHash,omitempty"`
	RelayerFee      string `json:"relayerFee,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ParsePaymentEvent extracts typed payment data from an event.
func ParsePaymentEvent(event *WebhookEvent) (*PaymentEventData, error) {
	if event.Family != EventFamilyPayment {
		return nil, NewValidationError("Not a payment event")
	}
	data := &PaymentEventData{}
	if err := remarshal(event.Data, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseBatchEvent extracts typed batch data from an event.
func ParseBatchEvent(event *WebhookEvent) (*BatchEventData, error) {
	if event.Family != EventFamilyBatch {
		return nil, NewValidationError("Not a batch event")
	}
	data := &BatchEventData{}
	if err := remarshal(event.Data, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseX402Event extracts typed x402 data from an event.
func ParseX402Event(event *WebhookEvent) (*X402EventData, error) {
	if event.Family != EventFamilyX402 {
		return nil, NewValidationError("Not an x402 event")
	}
	data := &X402EventData{}
	if err := remarshal(event.Data, data); err != nil {
		return nil, err
	}
	return data, nil
}

func remarshal(src map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			"Event data not serializable")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewSDKError(ErrValidInvalidFormat, ErrorCategoryValid,
			"Event data does not match expected shape")
	}
	return nil
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
