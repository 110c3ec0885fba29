package protocolbanks

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&Config{APISecret: "sk_x"})
	require.Error(t, err)
	assert.Equal(t, ErrAuthInvalidAPIKey, ErrorCode(err))

	_, err = NewClient(&Config{APIKey: "pk_x"})
	require.Error(t, err)
	assert.Equal(t, ErrAuthInvalidSecret, ErrorCode(err))
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient(&Config{
		APIKey:    "pk_x",
		APISecret: "sk_x",
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, EnvProduction, client.Environment())
	assert.Nil(t, client.DefaultChain())

	require.NotNil(t, client.Links)
	require.NotNil(t, client.X402)
	require.NotNil(t, client.Batch)
	require.NotNil(t, client.Webhooks)
}

func TestNewClientWiring(t *testing.T) {
	store := NewMemoryStore()
	var logBuf bytes.Buffer

	client, err := NewClient(&Config{
		APIKey:       "pk_x",
		APISecret:    "sk_x",
		Environment:  EnvSandbox,
		DefaultChain: ChainBase,
		Timeout:      5 * time.Second,
	},
		WithLogWriter(&logBuf),
		WithClientStore(store),
		WithBatchConcurrency(2),
	)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, EnvSandbox, client.Environment())
	assert.Equal(t, ChainBase, client.DefaultChain())
	assert.Same(t, store, client.Batch.store)
	assert.Equal(t, 2, client.Batch.concurrency)
}

func TestNewClientWebhookSecretFallback(t *testing.T) {
	client, err := NewClient(&Config{
		APIKey:    "pk_x",
		APISecret: "sk_x",
	})
	require.NoError(t, err)
	defer client.Close()

	// Without a dedicated webhook secret the API secret signs webhooks.
	payload := `{"id": "evt_1", "type": "payment.created", "data": {"paymentId": "pay_1"}}`
	header := client.Webhooks.Sign(payload, 0)
	assert.True(t, client.Webhooks.Verify(payload, header, 0).Valid)

	explicit, err := NewClient(&Config{
		APIKey:        "pk_x",
		APISecret:     "sk_x",
		WebhookSecret: "whsec_y",
	})
	require.NoError(t, err)
	defer explicit.Close()

	// A header signed with the API secret no longer verifies.
	assert.False(t, explicit.Webhooks.Verify(payload, header, 0).Valid)
}

func TestClientClose(t *testing.T) {
	client, err := NewClient(&Config{APIKey: "pk_x", APISecret: "sk_x"})
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}
