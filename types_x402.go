package protocolbanks

import (
	"context"
	"time"
)

// ============================================================================
// Authorization Types
// ============================================================================

// AuthorizationStatus is the lifecycle state of a gasless transfer
// authorization. Transitions are monotonic; see statusRank.
type AuthorizationStatus string

const (
	AuthorizationPending   AuthorizationStatus = "pending"
	AuthorizationSigned    AuthorizationStatus = "signed"
	AuthorizationSubmitted AuthorizationStatus = "submitted"
	AuthorizationExecuted  AuthorizationStatus = "executed"
	AuthorizationFailed    AuthorizationStatus = "failed"
	AuthorizationExpired   AuthorizationStatus = "expired"
	AuthorizationCancelled AuthorizationStatus = "cancelled"
)

// statusRank orders lifecycle stages so stale poll responses can be
// discarded: an update never moves an authorization to a lower rank.
var statusRank = map[AuthorizationStatus]int{
	AuthorizationPending:   0,
	AuthorizationSigned:    1,
	AuthorizationSubmitted: 2,
	AuthorizationExecuted:  3,
	AuthorizationFailed:    3,
	AuthorizationExpired:   3,
	AuthorizationCancelled: 3,
}

// IsTerminalStatus reports whether no further transition is possible.
func IsTerminalStatus(status AuthorizationStatus) bool {
	switch status {
	case AuthorizationExecuted, AuthorizationFailed, AuthorizationExpired, AuthorizationCancelled:
		return true
	}
	return false
}

// TypedDataDomain is the EIP-712 domain separator of an authorization.
type TypedDataDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int    `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedDataTypes maps struct names to their field lists.
type TypedDataTypes map[string][]TypedDataField

// TransferAuthorizationMessage is the EIP-3009 TransferWithAuthorization
// message. From is blank until the external signer fills it in.
type TransferAuthorizationMessage struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// AuthorizationParams are the inputs to CreateAuthorization.
type AuthorizationParams struct {
	To      string
	Amount  string
	Token   TokenSymbol
	ChainID int
	// ValidFor bounds the authorization window in seconds.
	// Default DefaultValiditySeconds, capped at MaxValiditySeconds.
	ValidFor int
	// Preference overrides automatic route selection.
	Preference RoutePreference
}

// Authorization is a gasless transfer intent moving through its lifecycle.
type Authorization struct {
	ID              string                       `json:"id"`
	Domain          TypedDataDomain              `json:"domain"`
	Types           TypedDataTypes               `json:"types"`
	Message         TransferAuthorizationMessage `json:"message"`
	Status          AuthorizationStatus          `json:"status"`
	Signature       string                       `json:"signature,omitempty"`
	TransactionHash string                       `json:"transactionHash,omitempty"`
	Route           SettlementRoute              `json:"route,omitempty"`
	RelayerFee      string                       `json:"relayerFee,omitempty"`
	CreatedAt       time.Time                    `json:"createdAt"`
	ExpiresAt       time.Time                    `json:"expiresAt"`
}

// ============================================================================
// Settlement Route Types
// ============================================================================

// SettlementRoute is the explicit variant returned by ChooseRoute.
type SettlementRoute string

const (
	// RouteFacilitator settles through the zero-fee facilitator endpoint.
	RouteFacilitator SettlementRoute = "facilitator"
	// RouteRelayer settles through the fee-bearing relayer endpoint.
	RouteRelayer SettlementRoute = "relayer"
)

// RoutePreference is a caller's settlement preference. RouteAuto lets the
// engine pick.
type RoutePreference string

const (
	RouteAuto              RoutePreference = ""
	RoutePreferFacilitator RoutePreference = "facilitator"
	RoutePreferRelayer     RoutePreference = "relayer"
)

// ============================================================================
// Batch Types
// ============================================================================

// BatchItemStatus is a batch item's lifecycle state.
type BatchItemStatus string

const (
	BatchItemPending   BatchItemStatus = "pending"
	BatchItemExecuting BatchItemStatus = "executing"
	BatchItemSucceeded BatchItemStatus = "succeeded"
	BatchItemFailed    BatchItemStatus = "failed"
)

// BatchStatus is a batch's lifecycle state.
type BatchStatus string

const (
	BatchValidating      BatchStatus = "validating"
	BatchProcessing      BatchStatus = "processing"
	BatchCompleted       BatchStatus = "completed"
	BatchPartiallyFailed BatchStatus = "partially_failed"
	BatchFailed          BatchStatus = "failed"
)

// BatchRecipient is one requested transfer within a batch.
type BatchRecipient struct {
	Address string      `json:"address"`
	Amount  string      `json:"amount"`
	Token   TokenSymbol `json:"token"`
	ChainID int         `json:"chainId"`
	Memo    string      `json:"memo,omitempty"`
	OrderID string      `json:"orderId,omitempty"`
}

// BatchItem is one recipient's execution state. Items keep their input index
// so the final report preserves submission order.
type BatchItem struct {
	Index                int             `json:"index"`
	RecipientAddress     string          `json:"recipientAddress"`
	Amount               string          `json:"amount"`
	Token                TokenSymbol     `json:"token"`
	ChainID              int             `json:"chainId"`
	IntegrityFingerprint string          `json:"integrityFingerprint"`
	Status               BatchItemStatus `json:"status"`
	TransactionHash      string          `json:"transactionHash,omitempty"`
	Error                *SDKError       `json:"error,omitempty"`
}

// BatchValidationError describes why one recipient failed validation.
type BatchValidationError struct {
	Index   int      `json:"index"`
	Address string   `json:"address"`
	Errors  []string `json:"errors"`
}

// AuthorizationSigner produces a wallet signature for one authorization. The
// SDK never holds keys; batch runs that settle gasless items hand each
// authorization to this callback.
type AuthorizationSigner func(ctx context.Context, auth *Authorization) (fromAddress, signature string, err error)

// BatchOptions tune one orchestration run.
type BatchOptions struct {
	// From is the sending address stamped into item fingerprints.
	From string
	// Preference is forwarded to the authorization engine for gasless items.
	Preference RoutePreference
	// IdempotencyKey is forwarded to the backend on plain transfers.
	IdempotencyKey string
	// Signer enables the gasless path for eligible items. Without it every
	// item settles through the plain transfer endpoint.
	Signer AuthorizationSigner
}

// BatchResult is the final report of one orchestration run. Items appear in
// submission order regardless of execution interleaving.
type BatchResult struct {
	BatchID       string                 `json:"batchId"`
	Status        BatchStatus            `json:"status"`
	Items         []BatchItem            `json:"items"`
	TotalsByToken map[TokenSymbol]string `json:"totalsByToken"`
	SuccessCount  int                    `json:"successCount"`
	FailedCount   int                    `json:"failedCount"`
	CreatedAt     time.Time              `json:"createdAt"`
	CompletedAt   time.Time              `json:"completedAt"`
}

// Progress returns completion as a 0-100 percentage.
func (r *BatchResult) Progress() int {
	if len(r.Items) == 0 {
		return 0
	}
	done := 0
	for _, item := range r.Items {
		if item.Status == BatchItemSucceeded || item.Status == BatchItemFailed {
			done++
		}
	}
	return done * 100 / len(r.Items)
}

// ============================================================================
// Webhook Types
// ============================================================================

// EventFamily is the closed set of webhook event namespaces.
type EventFamily string

const (
	EventFamilyPayment EventFamily = "payment"
	EventFamilyBatch   EventFamily = "batch"
	EventFamilyX402    EventFamily = "x402"
)

// EventOutcome classifies what an event reports. Decoded once at parse time;
// consumers switch on it instead of re-inspecting the type string.
type EventOutcome string

const (
	EventOutcomeCreated  EventOutcome = "created"
	EventOutcomeProgress EventOutcome = "progress"
	EventOutcomeSuccess  EventOutcome = "success"
	EventOutcomeFailure  EventOutcome = "failure"
)

// WebhookEventType is a dot-namespaced event type.
type WebhookEventType string

const (
	EventPaymentCreated   WebhookEventType = "payment.created"
	EventPaymentCompleted WebhookEventType = "payment.completed"
	EventPaymentFailed    WebhookEventType = "payment.failed"
	EventPaymentExpired   WebhookEventType = "payment.expired"
	EventBatchCreated     WebhookEventType = "batch.created"
	EventBatchProcessing  WebhookEventType = "batch.processing"
	EventBatchCompleted   WebhookEventType = "batch.completed"
	EventBatchFailed      WebhookEventType = "batch.failed"
	EventX402Created      WebhookEventType = "x402.created"
	EventX402Signed       WebhookEventType = "x402.signed"
	EventX402Executed     WebhookEventType = "x402.executed"
	EventX402Failed       WebhookEventType = "x402.failed"
	EventX402Expired      WebhookEventType = "x402.expired"
)

// WebhookEvent is an inbound event, immutable once parsed. Family and
// Outcome are derived from Type exactly once during Parse.
type WebhookEvent struct {
	ID        string                 `json:"id"`
	Type      WebhookEventType       `json:"type"`
	Family    EventFamily            `json:"-"`
	Outcome   EventOutcome           `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Signature string                 `json:"signature,omitempty"`
}

// WebhookVerificationResult is the outcome of Verify. TimestampValid is
// reported separately so callers can distinguish replay from forgery.
type WebhookVerificationResult struct {
	Valid          bool          `json:"valid"`
	TimestampValid bool          `json:"timestampValid"`
	Event          *WebhookEvent `json:"event,omitempty"`
	Error          string        `json:"error,omitempty"`
}
