package protocolbanks

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Client is the top-level SDK entry point. Each field is an independent
// module sharing one transport; construct it once and reuse it.
type Client struct {
	// Links generates and verifies signed payment links.
	Links *PaymentLinks

	// X402 manages gasless transfer authorizations.
	X402 *X402Engine

	// Batch orchestrates multi-recipient settlement.
	Batch *BatchOrchestrator

	// Webhooks authenticates and parses inbound webhooks.
	Webhooks *WebhookVerifier

	config    *Config
	transport *Transport
	log       zerolog.Logger
}

// ClientOption customizes a Client beyond what Config carries.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger      *zerolog.Logger
	logWriter   io.Writer
	auditWriter io.Writer
	store       Store
	concurrency int
}

// WithClientLogger sets the logger every module derives from.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = &log }
}

// WithLogWriter directs the default logger's output.
func WithLogWriter(w io.Writer) ClientOption {
	return func(o *clientOptions) { o.logWriter = w }
}

// WithAuditWriter directs the batch audit trail.
func WithAuditWriter(w io.Writer) ClientOption {
	return func(o *clientOptions) { o.auditWriter = w }
}

// WithClientStore sets the persistence backend for batch outcomes.
func WithClientStore(store Store) ClientOption {
	return func(o *clientOptions) { o.store = store }
}

// WithBatchConcurrency sets the batch worker pool size.
func WithBatchConcurrency(n int) ClientOption {
	return func(o *clientOptions) { o.concurrency = n }
}

// NewClient validates the configuration and wires the modules together.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.APIKey == "" {
		return nil, NewSDKError(ErrAuthInvalidAPIKey, ErrorCategoryAuth, "API key is required")
	}
	if config.APISecret == "" {
		return nil, NewSDKError(ErrAuthInvalidSecret, ErrorCategoryAuth, "API secret is required")
	}

	if config.Environment == "" {
		config.Environment = EnvProduction
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var options clientOptions
	for _, opt := range opts {
		opt(&options)
	}

	var log zerolog.Logger
	if options.logger != nil {
		log = *options.logger
	} else {
		w := options.logWriter
		if w == nil {
			w = os.Stderr
		}
		log = zerolog.New(w).With().Timestamp().Str("sdk", "protocolbanks").Logger()
	}

	transport := NewTransport(config).WithLogger(log)
	engine := NewX402Engine(transport, log)

	webhookSecret := config.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = config.APISecret
	}

	batchOpts := []BatchOrchestratorOption{
		WithAuditor(NewAuditor(options.auditWriter)),
	}
	if options.store != nil {
		batchOpts = append(batchOpts, WithStore(options.store))
	}
	if options.concurrency > 0 {
		batchOpts = append(batchOpts, WithConcurrency(options.concurrency))
	}

	return &Client{
		Links:     NewPaymentLinks(config.APISecret, config.LinkBaseURL),
		X402:      engine,
		Batch:     NewBatchOrchestrator(transport, engine, log, batchOpts...),
		Webhooks:  NewWebhookVerifier(webhookSecret),
		config:    config,
		transport: transport,
		log:       log,
	}, nil
}

// Close sweeps expired authorizations and releases transport resources. The
// client is unusable afterwards.
func (c *Client) Close() error {
	c.X402.CleanupExpired()
	return c.transport.Close()
}

// Environment returns the configured environment.
func (c *Client) Environment() Environment {
	return c.config.Environment
}

// DefaultChain returns the configured default chain, if any.
func (c *Client) DefaultChain() ChainID {
	return c.config.DefaultChain
}
