package protocolbanks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	solana "github.com/gagliardetto/solana-go"
)

// ============================================================================
// Address Validation
// ============================================================================

var (
	btcLegacyPattern  = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	btcSegwitPattern  = regexp.MustCompile(`^bc1[a-zA-HJ-NP-Z0-9]{25,89}$`)
	btcTaprootPattern = regexp.MustCompile(`^bc1p[a-zA-HJ-NP-Z0-9]{58}$`)
)

// Cyrillic characters that render like Latin ones. An address containing any
// of these is treated as a spoofing attempt, not a typo.
var cyrillicHomoglyphs = map[rune]rune{
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
}

// IsValidEthereumAddress reports whether address is a well-formed EVM
// address. Mixed-case addresses must carry a correct EIP-55 checksum;
// all-lowercase and all-uppercase forms are accepted as unchecksummed.
func IsValidEthereumAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	hexPart := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
	lower := strings.ToLower(hexPart)
	upper := strings.ToUpper(hexPart)
	if hexPart == lower || hexPart == upper {
		return true
	}
	// Mixed case: require the exact EIP-55 form.
	return common.HexToAddress(address).Hex() == "0x"+hexPart
}

// ChecksumAddress normalizes an EVM address to its EIP-55 checksummed form.
func ChecksumAddress(address string) (string, error) {
	if !IsValidEthereumAddress(address) {
		return "", NewSDKError(ErrLinkInvalidAddress, ErrorCategoryLink,
			"Invalid address format")
	}
	return common.HexToAddress(address).Hex(), nil
}

// IsValidSolanaAddress reports whether address decodes as an ed25519 public key.
func IsValidSolanaAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// IsValidBitcoinAddress reports whether address matches a known Bitcoin form.
func IsValidBitcoinAddress(address string) bool {
	return btcLegacyPattern.MatchString(address) ||
		btcSegwitPattern.MatchString(address) ||
		btcTaprootPattern.MatchString(address)
}

// IsValidAddress reports whether address is valid on any supported chain.
func IsValidAddress(address string) bool {
	return IsValidEthereumAddress(address) ||
		IsValidSolanaAddress(address) ||
		IsValidBitcoinAddress(address)
}

// IsValidAddressForChain reports whether address is valid on a specific chain.
func IsValidAddressForChain(address string, chain ChainID) bool {
	switch chain {
	case ChainSolana:
		return IsValidSolanaAddress(address)
	case ChainBitcoin:
		return IsValidBitcoinAddress(address)
	default:
		return IsValidEthereumAddress(address)
	}
}

// ValidateAddress validates an address, screening for homoglyphs first so a
// spoofed address is reported as spoofed rather than merely malformed.
func ValidateAddress(address string, chain ChainID) error {
	if address == "" {
		return NewSDKError(ErrLinkInvalidAddress, ErrorCategoryLink, "Address is required")
	}
	if details := DetectHomoglyphs(address); details != nil {
		return NewSDKError(ErrLinkHomoglyphDetected, ErrorCategoryLink,
			"Address contains suspicious characters (possible homoglyph attack)").
			WithDetails(details)
	}
	if chain != nil {
		if !IsValidAddressForChain(address, chain) {
			return NewSDKError(ErrLinkInvalidAddress, ErrorCategoryLink,
				"Invalid address format for chain")
		}
		return nil
	}
	if !IsValidAddress(address) {
		return NewSDKError(ErrLinkInvalidAddress, ErrorCategoryLink,
			"Invalid address format")
	}
	return nil
}

// ============================================================================
// Homoglyph Detection
// ============================================================================

// HomoglyphDetails reports where an address contains confusable characters.
type HomoglyphDetails struct {
	OriginalAddress    string              `json:"originalAddress"`
	DetectedCharacters []DetectedCharacter `json:"detectedCharacters"`
}

// DetectedCharacter is one confusable character occurrence.
type DetectedCharacter struct {
	Position          int    `json:"position"`
	Character         string `json:"character"`
	UnicodePoint      string `json:"unicodePoint"`
	ExpectedCharacter string `json:"expectedCharacter"`
}

// DetectHomoglyphs scans an address for Cyrillic confusables. Returns nil
// when the address is clean.
func DetectHomoglyphs(address string) *HomoglyphDetails {
	var detected []DetectedCharacter
	for i, r := range address {
		if expected, ok := cyrillicHomoglyphs[r]; ok {
			detected = append(detected, DetectedCharacter{
				Position:          i,
				Character:         string(r),
				UnicodePoint:      fmt.Sprintf("U+%04X", r),
				ExpectedCharacter: string(expected),
			})
		}
	}
	if len(detected) == 0 {
		return nil
	}
	return &HomoglyphDetails{
		OriginalAddress:    address,
		DetectedCharacters: detected,
	}
}

// ContainsNonASCII reports whether s contains any non-ASCII rune.
func ContainsNonASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// ============================================================================
// Amount Validation
// ============================================================================

// IsValidAmount reports whether amount parses as a positive decimal not
// exceeding MaxAmount.
func IsValidAmount(amount string) bool {
	if amount == "" {
		return false
	}
	val, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return false
	}
	return val > 0 && val <= MaxAmount
}

// ValidateAmount validates an amount string.
func ValidateAmount(amount string) error {
	if amount == "" {
		return NewSDKError(ErrLinkInvalidAmount, ErrorCategoryLink, "Amount is required")
	}
	val, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return NewSDKError(ErrLinkInvalidAmount, ErrorCategoryLink, "Invalid amount format")
	}
	if val <= 0 {
		return NewSDKError(ErrLinkInvalidAmount, ErrorCategoryLink, "Amount must be positive")
	}
	if val > MaxAmount {
		return NewSDKError(ErrLinkInvalidAmount, ErrorCategoryLink,
			"Amount exceeds maximum of 1 billion")
	}
	return nil
}

// ============================================================================
// Token / Chain / Expiry / Memo / Batch
// ============================================================================

// IsValidToken reports whether token is supported.
func IsValidToken(token TokenSymbol) bool {
	for _, t := range SupportedTokens() {
		if t == token {
			return true
		}
	}
	return false
}

// ValidateToken validates a token symbol.
func ValidateToken(token TokenSymbol) error {
	if token == "" {
		return NewSDKError(ErrLinkInvalidToken, ErrorCategoryLink, "Token is required")
	}
	if !IsValidToken(token) {
		return NewSDKError(ErrLinkInvalidToken, ErrorCategoryLink,
			"Unsupported token: "+string(token))
	}
	return nil
}

// IsValidChainID reports whether chain is supported.
func IsValidChainID(chain ChainID) bool {
	for _, c := range SupportedChains() {
		if c == chain {
			return true
		}
	}
	return false
}

// ValidateChainID validates a chain id. A nil chain is accepted because the
// chain is optional on most operations.
func ValidateChainID(chain ChainID) error {
	if chain == nil {
		return nil
	}
	if !IsValidChainID(chain) {
		return NewSDKError(ErrLinkInvalidChain, ErrorCategoryLink, "Unsupported chain")
	}
	return nil
}

// ValidateExpiryHours validates a payment link expiry.
func ValidateExpiryHours(hours int) error {
	if hours < MinExpiryHours || hours > MaxExpiryHours {
		return NewSDKError(ErrLinkInvalidExpiry, ErrorCategoryLink,
			fmt.Sprintf("Expiry hours must be between %d and %d", MinExpiryHours, MaxExpiryHours))
	}
	return nil
}

// ValidateMemo validates a memo.
func ValidateMemo(memo string) error {
	if len(memo) > MaxMemoLength {
		return NewSDKError(ErrValidOutOfRange, ErrorCategoryValid,
			fmt.Sprintf("Memo exceeds maximum length of %d characters", MaxMemoLength))
	}
	return nil
}

// ValidateBatchSize validates the recipient count of a batch.
func ValidateBatchSize(size int) error {
	if size == 0 {
		return NewSDKError(ErrBatchValidationFailed, ErrorCategoryBatch,
			"Batch cannot be empty")
	}
	if size > MaxBatchSize {
		return NewSDKError(ErrBatchSizeExceeded, ErrorCategoryBatch,
			fmt.Sprintf("Batch size exceeds maximum of %d", MaxBatchSize))
	}
	return nil
}

// NormalizeAddress lowercases an address for map keys and comparisons.
func NormalizeAddress(address string) string {
	return strings.ToLower(address)
}
