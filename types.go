// Package protocolbanks implements the merchant-side settlement SDK for
// ProtocolBanks: gasless (x402) transfer authorizations, batch settlement
// orchestration, and webhook verification, all sharing one transport and one
// error taxonomy.
//
// Example:
//
//	client, err := protocolbanks.NewClient(&protocolbanks.Config{
//		APIKey:    "pk_live_xxx",
//		APISecret: "sk_live_xxx",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	auth, err := client.X402.CreateAuthorization(ctx, protocolbanks.AuthorizationParams{
//		To:      "0x...",
//		Amount:  "100",
//		Token:   protocolbanks.TokenUSDC,
//		ChainID: 8453,
//	})
package protocolbanks

import "time"

// ============================================================================
// Chain & Token Types
// ============================================================================

// ChainID identifies a supported blockchain network. EVM networks use
// NumericChainID, non-EVM networks use StringChainID.
type ChainID interface {
	isChainID()
}

// NumericChainID is an EVM chain id (EIP-155).
type NumericChainID int

func (NumericChainID) isChainID() {}

// StringChainID names a non-EVM network.
type StringChainID string

func (StringChainID) isChainID() {}

const (
	ChainEthereum NumericChainID = 1
	ChainOptimism NumericChainID = 10
	ChainBSC      NumericChainID = 56
	ChainPolygon  NumericChainID = 137
	ChainBase     NumericChainID = 8453
	ChainArbitrum NumericChainID = 42161
)

const (
	ChainSolana  StringChainID = "solana"
	ChainBitcoin StringChainID = "bitcoin"
)

// TokenSymbol is a supported token ticker.
type TokenSymbol string

const (
	// DefaultToken is used when a payment link omits the token.
	DefaultToken TokenSymbol = "USDC"

	TokenUSDC  TokenSymbol = "USDC"
	TokenUSDT  TokenSymbol = "USDT"
	TokenDAI   TokenSymbol = "DAI"
	TokenETH   TokenSymbol = "ETH"
	TokenMATIC TokenSymbol = "MATIC"
	TokenBNB   TokenSymbol = "BNB"
	TokenSOL   TokenSymbol = "SOL"
	TokenBTC   TokenSymbol = "BTC"
)

// Environment selects the backend the transport talks to.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvSandbox    Environment = "sandbox"
	EnvTestnet    Environment = "testnet"
)

// ============================================================================
// Configuration
// ============================================================================

// RetryConfig controls the transport's backoff schedule for retryable
// failures (5xx, transport-level errors).
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default backoff schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// LimitsConfig bounds the transport's request scheduling.
type LimitsConfig struct {
	// MaxConcurrent caps requests in flight.
	MaxConcurrent int
	// MaxRequestsPerSecond caps request starts per rolling second.
	MaxRequestsPerSecond int
	// QueueSize bounds the FIFO admission queue. A request arriving while the
	// queue is full fails fast with PB_RATE_002 instead of growing the queue.
	QueueSize int
}

// DefaultLimitsConfig returns the default scheduling bounds.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxConcurrent:        10,
		MaxRequestsPerSecond: 10,
		QueueSize:            100,
	}
}

// Config is the top-level SDK configuration.
type Config struct {
	APIKey      string
	APISecret   string
	Environment Environment
	// BaseURL overrides the environment-derived API base URL.
	BaseURL string
	Timeout time.Duration
	Retry   *RetryConfig
	Limits  *LimitsConfig
	// TokenRefreshThreshold is how much remaining validity triggers a
	// credential refresh. Default 60s.
	TokenRefreshThreshold time.Duration

	DefaultChain ChainID

	// LinkBaseURL overrides the hosted payment page URL for generated links.
	LinkBaseURL string
	// WebhookSecret signs and verifies webhook payloads. Defaults to
	// APISecret when empty.
	WebhookSecret string
}

// ============================================================================
// Credential Types
// ============================================================================

// TokenPair is the short-lived bearer credential. It is owned exclusively by
// the transport, never handed to callers, and replaced wholesale on refresh.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ============================================================================
// Persistence Collaborator Shapes
// ============================================================================

// VendorRecord is the shape the orchestrator needs from vendor storage.
type VendorRecord struct {
	ID      string
	Address string
	Name    string
}

// PaymentRecord is one persisted transfer outcome.
type PaymentRecord struct {
	ID              string
	BatchID         string
	RecipientAddr   string
	Amount          string
	Token           TokenSymbol
	ChainID         int
	Status          string
	TransactionHash string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BatchRecord is the persisted batch-level summary. Summary counts are
// derivable from the item records; the store never invents them.
type BatchRecord struct {
	ID            string
	Status        string
	TotalItems    int
	SuccessCount  int
	FailedCount   int
	TotalsByToken map[TokenSymbol]string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
