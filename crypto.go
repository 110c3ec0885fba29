package protocolbanks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/hkdf"
)

// ============================================================================
// Random & ID Generation
// ============================================================================

// RandomBytes returns size cryptographically secure random bytes.
func RandomBytes(size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, NewSDKError(ErrCryptoKeyDerivationFailed, ErrorCategoryCrypto,
			"Secure random source unavailable")
	}
	return buf, nil
}

// RandomHex returns a hex string of size random bytes.
func RandomHex(size int) (string, error) {
	buf, err := RandomBytes(size)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// GeneratePaymentID returns a new pay_-prefixed UUID id.
func GeneratePaymentID() string {
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateAuthorizationID returns a new x402_-prefixed UUID id.
func GenerateAuthorizationID() string {
	return "x402_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateBatchID returns a new batch_-prefixed ULID. ULIDs sort by creation
// time, which keeps batch listings in submission order.
func GenerateBatchID() string {
	return "batch_" + ulid.Make().String()
}

// GenerateNonce returns a random 32-byte nonce as 0x-prefixed hex, the
// bytes32 nonce carried in a transfer authorization.
func GenerateNonce() string {
	nonce, err := RandomBytes(32)
	if err != nil {
		// rand.Read failing means the platform RNG is broken; fall back to
		// UUID entropy so authorization creation still produces unique nonces.
		return "0x" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	}
	return "0x" + hex.EncodeToString(nonce)
}

// ============================================================================
// HMAC Signatures
// ============================================================================

// HMACSign returns the hex HMAC-SHA256 of data under secret.
func HMACSign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// HMACVerify checks an HMAC-SHA256 signature in constant time.
func HMACVerify(data, signature, secret string) bool {
	return ConstantTimeEqual(signature, HMACSign(data, secret))
}

// ConstantTimeEqual compares two strings without leaking the position of the
// first differing byte.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SHA256Hex returns the hex SHA-256 of data.
func SHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// ============================================================================
// AEAD Encryption
// ============================================================================

const aeadSaltSize = 16

// Encrypt seals plaintext with AES-256-GCM under a key derived from secret
// via HKDF-SHA256. Output layout: salt || gcm nonce || ciphertext.
func Encrypt(plaintext []byte, secret string) ([]byte, error) {
	salt, err := RandomBytes(aeadSaltSize)
	if err != nil {
		return nil, err
	}
	aead, err := deriveAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, aeadSaltSize+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt. Authentication failure yields
// PB_CRYPTO_002 with no plaintext or key material in the message.
func Decrypt(payload []byte, secret string) ([]byte, error) {
	if len(payload) < aeadSaltSize {
		return nil, NewSDKError(ErrCryptoDecryptionFailed, ErrorCategoryCrypto,
			"Ciphertext too short")
	}
	salt := payload[:aeadSaltSize]
	aead, err := deriveAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	rest := payload[aeadSaltSize:]
	if len(rest) < aead.NonceSize() {
		return nil, NewSDKError(ErrCryptoDecryptionFailed, ErrorCategoryCrypto,
			"Ciphertext too short")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, NewSDKError(ErrCryptoDecryptionFailed, ErrorCategoryCrypto,
			"Decryption failed")
	}
	return plaintext, nil
}

func deriveAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), salt, []byte("protocolbanks-aead-v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, NewSDKError(ErrCryptoKeyDerivationFailed, ErrorCategoryCrypto,
			"Key derivation failed")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewSDKError(ErrCryptoKeyDerivationFailed, ErrorCategoryCrypto,
			"Key derivation failed")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewSDKError(ErrCryptoEncryptionFailed, ErrorCategoryCrypto,
			"Cipher initialization failed")
	}
	return aead, nil
}

// ============================================================================
// Webhook Signatures
// ============================================================================

// GenerateWebhookSignature signs timestamp + "." + payload.
func GenerateWebhookSignature(payload, secret string, timestamp int64) string {
	return HMACSign(fmt.Sprintf("%d.%s", timestamp, payload), secret)
}

// VerifyWebhookSignature checks a webhook signature in constant time.
func VerifyWebhookSignature(payload, signature, secret string, timestamp int64) bool {
	return ConstantTimeEqual(signature, GenerateWebhookSignature(payload, secret, timestamp))
}

// FormatWebhookSignature renders the composite header value "t=<ts>,v1=<sig>".
func FormatWebhookSignature(signature string, timestamp int64) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

// ParseWebhookSignature splits a "t=<ts>,v1=<sig>" header. ok is false for
// any malformed header; callers must not distinguish which part was bad.
func ParseWebhookSignature(header string) (timestamp int64, signature string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, "", false
			}
			timestamp = ts
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == 0 || signature == "" {
		return 0, "", false
	}
	return timestamp, signature, true
}

// ============================================================================
// Payment Link Signatures
// ============================================================================

// PaymentLinkSignatureParams are the signed fields of a payment link.
type PaymentLinkSignatureParams struct {
	To     string
	Amount string
	Token  TokenSymbol
	Expiry int64
	Memo   string
}

// GeneratePaymentLinkSignature signs the canonical sorted key=value string
// for a payment link and truncates to 16 hex chars for URL compactness.
func GeneratePaymentLinkSignature(params PaymentLinkSignatureParams, secret string) string {
	normalized := map[string]string{
		"amount": params.Amount,
		"expiry": strconv.FormatInt(params.Expiry, 10),
		"memo":   params.Memo,
		"to":     strings.ToLower(params.To),
		"token":  strings.ToUpper(string(params.Token)),
	}
	keys := make([]string, 0, len(normalized))
	for k := range normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+normalized[k])
	}
	sig := HMACSign(strings.Join(parts, "&"), secret)
	return sig[:16]
}

// VerifyPaymentLinkSignature checks a payment link signature in constant time.
func VerifyPaymentLinkSignature(params PaymentLinkSignatureParams, signature, secret string) bool {
	return ConstantTimeEqual(signature, GeneratePaymentLinkSignature(params, secret))
}

// MaskSensitive masks all but the first and last four characters of a
// credential for log output.
func MaskSensitive(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
