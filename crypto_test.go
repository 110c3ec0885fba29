package protocolbanks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIDs(t *testing.T) {
	payID := GeneratePaymentID()
	assert.True(t, strings.HasPrefix(payID, "pay_"))
	assert.Len(t, payID, 4+32)

	authID := GenerateAuthorizationID()
	assert.True(t, strings.HasPrefix(authID, "x402_"))

	batchID := GenerateBatchID()
	assert.True(t, strings.HasPrefix(batchID, "batch_"))
	assert.Len(t, batchID, 6+26)

	assert.NotEqual(t, GeneratePaymentID(), GeneratePaymentID())
}

func TestGenerateNonce(t *testing.T) {
	nonce := GenerateNonce()
	assert.True(t, strings.HasPrefix(nonce, "0x"))
	assert.Len(t, nonce, 2+64)
	assert.NotEqual(t, nonce, GenerateNonce())
}

func TestHMACSignVerify(t *testing.T) {
	sig := HMACSign("payload", "secret")
	assert.Len(t, sig, 64)
	assert.True(t, HMACVerify("payload", sig, "secret"))
	assert.False(t, HMACVerify("payload", sig, "other-secret"))
	assert.False(t, HMACVerify("tampered", sig, "secret"))
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	plaintext := []byte(`{"apiSecret":"sk_live_xxx"}`)

	ciphertext, err := Encrypt(plaintext, "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "sk_live")

	decrypted, err := Decrypt(ciphertext, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// Same plaintext encrypts differently every time (random salt and nonce).
	again, err := Encrypt(plaintext, "passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, ciphertext, again)
}

func TestDecryptFailures(t *testing.T) {
	ciphertext, err := Encrypt([]byte("data"), "passphrase")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := Decrypt(ciphertext, "wrong")
		require.Error(t, err)
		assert.Equal(t, ErrCryptoDecryptionFailed, ErrorCode(err))
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		tampered := append([]byte(nil), ciphertext...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := Decrypt(tampered, "passphrase")
		require.Error(t, err)
		assert.Equal(t, ErrCryptoDecryptionFailed, ErrorCode(err))
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := Decrypt(ciphertext[:10], "passphrase")
		require.Error(t, err)
		assert.Equal(t, ErrCryptoDecryptionFailed, ErrorCode(err))
	})
}

func TestWebhookSignatureHeader(t *testing.T) {
	sig := GenerateWebhookSignature(`{"id":"evt_1"}`, "whsec", 1700000000)
	header := FormatWebhookSignature(sig, 1700000000)
	assert.Equal(t, "t=1700000000,v1="+sig, header)

	ts, parsed, ok := ParseWebhookSignature(header)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), ts)
	assert.Equal(t, sig, parsed)

	assert.True(t, VerifyWebhookSignature(`{"id":"evt_1"}`, parsed, "whsec", ts))
	assert.False(t, VerifyWebhookSignature(`{"id":"evt_2"}`, parsed, "whsec", ts))
}

func TestParseWebhookSignatureMalformed(t *testing.T) {
	headers := []string{
		"",
		"garbage",
		"t=abc,v1=deadbeef",
		"t=1700000000",
		"v1=deadbeef",
		"t=,v1=",
	}
	for _, header := range headers {
		ts, sig, ok := ParseWebhookSignature(header)
		assert.False(t, ok, "header %q should be rejected", header)
		assert.Zero(t, ts)
		assert.Empty(t, sig)
	}
}

func TestPaymentLinkSignature(t *testing.T) {
	params := PaymentLinkSignatureParams{
		To:     "0x742D35CC6634c0532925A3B844bc9e7595F0BEB1",
		Amount: "100",
		Token:  TokenUSDC,
		Expiry: 1700000000000,
		Memo:   "invoice-42",
	}

	sig := GeneratePaymentLinkSignature(params, "secret")
	assert.Len(t, sig, 16)
	assert.True(t, VerifyPaymentLinkSignature(params, sig, "secret"))

	// Address case does not change the signature.
	lowered := params
	lowered.To = strings.ToLower(params.To)
	assert.Equal(t, sig, GeneratePaymentLinkSignature(lowered, "secret"))

	// Any signed field changing invalidates it.
	tampered := params
	tampered.Amount = "1000"
	assert.False(t, VerifyPaymentLinkSignature(tampered, sig, "secret"))
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "********", MaskSensitive("12345678"))
	assert.Equal(t, "sk_l********_xxx", MaskSensitive("sk_live_test_xxx"))
	assert.Equal(t, "***", MaskSensitive("abc"))
}
