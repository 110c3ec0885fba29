package protocolbanks

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"
)

const (
	// DefaultValiditySeconds is the default authorization window (1 hour).
	DefaultValiditySeconds = 3600

	// MaxValiditySeconds caps the authorization window (24 hours).
	MaxValiditySeconds = 86400

	// MinValiditySeconds is the shortest accepted explicit window.
	MinValiditySeconds = 60

	// defaultPollInterval paces WaitForCompletion.
	defaultPollInterval = 2 * time.Second
)

// transferAuthorizationTypes is the EIP-3009 struct definition signed by the
// payer's wallet.
var transferAuthorizationTypes = TypedDataTypes{
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// X402Engine manages gasless transfer authorizations. It owns a local cache
// of in-flight authorizations; lifecycle updates are monotonic, so a stale
// backend poll never rewinds a status.
type X402Engine struct {
	transport *Transport

	mu    sync.RWMutex
	auths map[string]*Authorization

	log zerolog.Logger
	now func() time.Time
}

// NewX402Engine creates an engine bound to a transport.
func NewX402Engine(transport *Transport, log zerolog.Logger) *X402Engine {
	return &X402Engine{
		transport: transport,
		auths:     make(map[string]*Authorization),
		log:       log.With().Str("component", "x402").Logger(),
		now:       time.Now,
	}
}

// CreateAuthorization builds an unsigned EIP-712 authorization. The From
// field stays blank until the external signer fills it in; the SDK never
// touches private keys. Backend registration is best effort and does not
// block the caller.
func (e *X402Engine) CreateAuthorization(ctx context.Context, params AuthorizationParams) (*Authorization, error) {
	if err := e.validateParams(&params); err != nil {
		return nil, err
	}

	if !IsGaslessChain(params.ChainID) {
		return nil, NewSDKError(ErrX402UnsupportedChain, ErrorCategoryX402,
			fmt.Sprintf("Chain %d does not support gasless transfers", params.ChainID))
	}
	if !IsGaslessToken(params.ChainID, params.Token) {
		return nil, NewSDKError(ErrX402UnsupportedToken, ErrorCategoryX402,
			fmt.Sprintf("Token %s does not support gasless transfers on chain %d", params.Token, params.ChainID))
	}

	validFor := params.ValidFor
	if validFor == 0 {
		validFor = DefaultValiditySeconds
	}
	if validFor > MaxValiditySeconds {
		validFor = MaxValiditySeconds
	}

	now := e.now().Unix()
	validBefore := now + int64(validFor)
	nonce := GenerateNonce()

	decimals := TokenDecimals(params.Token)
	value := amountToBaseUnits(params.Amount, decimals)

	auth := &Authorization{
		ID: GenerateAuthorizationID(),
		Domain: TypedDataDomain{
			Name:              TokenName(params.Token),
			Version:           "2", // USDC contracts sign domain version 2
			ChainID:           params.ChainID,
			VerifyingContract: TokenContractAddress(NumericChainID(params.ChainID), params.Token),
		},
		Types: transferAuthorizationTypes,
		Message: TransferAuthorizationMessage{
			To:          checksummed(params.To),
			Value:       value,
			ValidAfter:  now,
			ValidBefore: validBefore,
			Nonce:       nonce,
		},
		Status:    AuthorizationPending,
		Route:     ChooseRoute(params.ChainID, params.Preference),
		CreatedAt: e.now(),
		ExpiresAt: time.Unix(validBefore, 0),
	}

	e.mu.Lock()
	e.auths[auth.ID] = auth
	e.mu.Unlock()

	go func() {
		err := e.transport.Post(context.Background(), "/x402/authorizations", map[string]interface{}{
			"id":          auth.ID,
			"chainId":     params.ChainID,
			"token":       params.Token,
			"to":          auth.Message.To,
			"amount":      params.Amount,
			"validBefore": validBefore,
			"nonce":       nonce,
			"route":       auth.Route,
		}, nil)
		if err != nil {
			e.log.Debug().Err(err).Str("authorization_id", auth.ID).Msg("backend registration skipped")
		}
	}()

	e.log.Info().
		Str("authorization_id", auth.ID).
		Int("chain_id", params.ChainID).
		Str("route", string(auth.Route)).
		Msg("authorization created")

	return e.snapshot(auth), nil
}

// SubmitSignature attaches the wallet signature and forwards the
// authorization to its settlement route. A facilitator failure surfaces as a
// hard failure; there is no silent fallback to the fee-bearing relayer.
func (e *X402Engine) SubmitSignature(ctx context.Context, authID, fromAddress, signature string) (*Authorization, error) {
	e.mu.Lock()
	auth, ok := e.auths[authID]
	if !ok {
		e.mu.Unlock()
		return nil, NewSDKError(ErrX402AuthorizationExpired, ErrorCategoryX402,
			"Authorization not found or expired")
	}

	if e.now().After(auth.ExpiresAt) {
		e.advanceLocked(auth, AuthorizationExpired)
		e.mu.Unlock()
		return nil, NewSDKError(ErrX402AuthorizationExpired, ErrorCategoryX402,
			"Authorization has expired")
	}
	if !isValidSignature(signature) {
		e.mu.Unlock()
		return nil, NewSDKError(ErrX402InvalidSignature, ErrorCategoryX402,
			"Invalid signature format")
	}
	if !IsValidEthereumAddress(fromAddress) {
		e.mu.Unlock()
		return nil, NewValidationError("Invalid from address: " + fromAddress)
	}
	if IsTerminalStatus(auth.Status) {
		status := auth.Status
		e.mu.Unlock()
		return nil, NewSDKError(ErrX402NotCancellable, ErrorCategoryX402,
			fmt.Sprintf("Authorization already %s", status))
	}

	auth.Message.From = checksummed(fromAddress)
	auth.Signature = signature
	e.advanceLocked(auth, AuthorizationSigned)
	route := auth.Route
	payload := map[string]interface{}{
		"authorizationId": auth.ID,
		"signature":       signature,
		"domain":          auth.Domain,
		"message":         auth.Message,
	}
	e.mu.Unlock()

	var response struct {
		TransactionHash string              `json:"transactionHash"`
		Status          AuthorizationStatus `json:"status"`
		RelayerFee      string              `json:"relayerFee"`
	}
	if err := e.transport.Post(ctx, settlementPath(route), payload, &response); err != nil {
		e.mu.Lock()
		e.advanceLocked(auth, AuthorizationFailed)
		e.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	e.advanceLocked(auth, response.Status)
	if response.TransactionHash != "" {
		auth.TransactionHash = response.TransactionHash
	}
	if response.RelayerFee != "" {
		auth.RelayerFee = response.RelayerFee
	}
	snap := e.snapshot(auth)
	e.mu.Unlock()

	e.log.Info().
		Str("authorization_id", authID).
		Str("route", string(route)).
		Str("status", string(snap.Status)).
		Msg("signature submitted")

	return snap, nil
}

// Status returns the current lifecycle state, refreshing non-terminal
// authorizations from the backend. Expiry is applied lazily on observation.
func (e *X402Engine) Status(ctx context.Context, authID string) (*Authorization, error) {
	e.mu.Lock()
	auth, ok := e.auths[authID]
	if ok {
		if e.now().After(auth.ExpiresAt) && auth.Status == AuthorizationPending {
			e.advanceLocked(auth, AuthorizationExpired)
		}
		if IsTerminalStatus(auth.Status) {
			snap := e.snapshot(auth)
			e.mu.Unlock()
			return snap, nil
		}
	}
	e.mu.Unlock()

	var remote Authorization
	err := e.transport.Get(ctx, "/x402/authorizations/"+authID, &remote)
	if !ok {
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		stored := remote
		e.auths[authID] = &stored
		snap := e.snapshot(&stored)
		e.mu.Unlock()
		return snap, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.advanceLocked(auth, remote.Status)
		if remote.TransactionHash != "" {
			auth.TransactionHash = remote.TransactionHash
		}
	}
	return e.snapshot(auth), nil
}

// WaitForCompletion polls until the authorization reaches a terminal status
// or ctx is done.
func (e *X402Engine) WaitForCompletion(ctx context.Context, authID string, interval time.Duration) (*Authorization, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		auth, err := e.Status(ctx, authID)
		if err != nil {
			return nil, err
		}
		if IsTerminalStatus(auth.Status) {
			return auth, nil
		}

		select {
		case <-ctx.Done():
			return nil, NewTimeoutError("Timed out waiting for authorization " + authID)
		case <-ticker.C:
		}
	}
}

// Cancel voids a pending or signed authorization. Terminal authorizations
// cannot be cancelled.
func (e *X402Engine) Cancel(ctx context.Context, authID string) error {
	e.mu.Lock()
	auth, ok := e.auths[authID]
	if !ok {
		e.mu.Unlock()
		return NewSDKError(ErrX402AuthorizationExpired, ErrorCategoryX402,
			"Authorization not found")
	}
	if auth.Status != AuthorizationPending && auth.Status != AuthorizationSigned {
		status := auth.Status
		e.mu.Unlock()
		return NewSDKError(ErrX402NotCancellable, ErrorCategoryX402,
			fmt.Sprintf("Cannot cancel authorization in %s status", status))
	}
	e.advanceLocked(auth, AuthorizationCancelled)
	e.mu.Unlock()

	// Best effort, the local state is already terminal.
	if err := e.transport.Post(ctx, "/x402/authorizations/"+authID+"/cancel", nil, nil); err != nil {
		e.log.Warn().Err(err).Str("authorization_id", authID).Msg("backend cancel failed")
	}
	return nil
}

// PendingAuthorizations lists authorizations still awaiting settlement.
func (e *X402Engine) PendingAuthorizations() []*Authorization {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var pending []*Authorization
	for _, auth := range e.auths {
		if auth.Status == AuthorizationPending || auth.Status == AuthorizationSigned {
			pending = append(pending, e.snapshot(auth))
		}
	}
	return pending
}

// CleanupExpired drops authorizations past their window from the local cache
// and returns how many were removed. Pending ones are marked expired first.
func (e *X402Engine) CleanupExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cleaned int
	for id, auth := range e.auths {
		if e.now().After(auth.ExpiresAt) {
			if auth.Status == AuthorizationPending {
				e.advanceLocked(auth, AuthorizationExpired)
			}
			delete(e.auths, id)
			cleaned++
		}
	}
	return cleaned
}

// TypedData returns the full EIP-712 payload for the wallet to sign, with
// the payer address substituted in.
func (e *X402Engine) TypedData(auth *Authorization, fromAddress string) apitypes.TypedData {
	return AuthorizationTypedData(auth, fromAddress)
}

// AuthorizationTypedData builds the EIP-712 payload for an authorization
// with the payer address substituted in.
func AuthorizationTypedData(auth *Authorization, fromAddress string) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              auth.Domain.Name,
			Version:           auth.Domain.Version,
			ChainId:           math.NewHexOrDecimal256(int64(auth.Domain.ChainID)),
			VerifyingContract: auth.Domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"from":        checksummed(fromAddress),
			"to":          auth.Message.To,
			"value":       mustBigInt(auth.Message.Value),
			"validAfter":  big.NewInt(auth.Message.ValidAfter),
			"validBefore": big.NewInt(auth.Message.ValidBefore),
			"nonce":       hexToBytes32(auth.Message.Nonce),
		},
	}

	for typeName, fields := range auth.Types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}
	typedData.Types["EIP712Domain"] = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	return typedData
}

// SigningHash computes the EIP-712 digest the wallet signs, so callers can
// verify a signature out of band.
func (e *X402Engine) SigningHash(auth *Authorization, fromAddress string) ([]byte, error) {
	return AuthorizationDigest(auth, fromAddress)
}

// AuthorizationDigest computes the EIP-712 digest for an authorization.
func AuthorizationDigest(auth *Authorization, fromAddress string) ([]byte, error) {
	typedData := AuthorizationTypedData(auth, fromAddress)

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, NewSDKError(ErrCryptoSignatureFailed, ErrorCategoryCrypto,
			"Failed to hash authorization message: "+err.Error())
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, NewSDKError(ErrCryptoSignatureFailed, ErrorCategoryCrypto,
			"Failed to hash domain: "+err.Error())
	}

	raw := append([]byte{0x19, 0x01}, domainSeparator...)
	raw = append(raw, structHash...)
	return ethcrypto.Keccak256(raw), nil
}

// advanceLocked applies a status transition, discarding any that would move
// backwards. A terminal status never changes. Caller holds e.mu.
func (e *X402Engine) advanceLocked(auth *Authorization, next AuthorizationStatus) {
	if next == "" {
		return
	}
	if IsTerminalStatus(auth.Status) {
		return
	}
	if statusRank[next] < statusRank[auth.Status] {
		e.log.Debug().
			Str("authorization_id", auth.ID).
			Str("current", string(auth.Status)).
			Str("stale", string(next)).
			Msg("discarding stale status update")
		return
	}
	auth.Status = next

	switch next {
	case AuthorizationExecuted:
		x402SettlementsTotal.WithLabelValues(string(auth.Route), "executed").Inc()
	case AuthorizationFailed:
		x402SettlementsTotal.WithLabelValues(string(auth.Route), "failed").Inc()
	case AuthorizationExpired:
		x402SettlementsTotal.WithLabelValues(string(auth.Route), "expired").Inc()
	}
}

// snapshot copies an authorization so callers cannot mutate cached state.
func (e *X402Engine) snapshot(auth *Authorization) *Authorization {
	c := *auth
	return &c
}

func (e *X402Engine) validateParams(params *AuthorizationParams) error {
	if err := ValidateAddress(params.To, NumericChainID(params.ChainID)); err != nil {
		return err
	}
	if err := ValidateAmount(params.Amount); err != nil {
		return err
	}
	if err := ValidateToken(params.Token); err != nil {
		return err
	}
	if params.ValidFor != 0 {
		if params.ValidFor < MinValiditySeconds || params.ValidFor > MaxValiditySeconds {
			return NewSDKError(ErrValidOutOfRange, ErrorCategoryValid,
				fmt.Sprintf("validFor must be between %d and %d seconds", MinValiditySeconds, MaxValiditySeconds))
		}
	}
	return nil
}

// amountToBaseUnits converts a decimal amount string to the token's smallest
// unit.
func amountToBaseUnits(amount string, decimals int) string {
	f := new(big.Float)
	f.SetString(amount)

	multiplier := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Mul(f, multiplier)

	result := new(big.Int)
	f.Int(result)
	return result.String()
}

// isValidSignature checks for a 65-byte 0x-prefixed hex signature.
func isValidSignature(signature string) bool {
	if len(signature) != 132 || !strings.HasPrefix(signature, "0x") {
		return false
	}
	_, err := hex.DecodeString(signature[2:])
	return err == nil
}

func hexToBytes32(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return make([]byte, 32)
	}
	return b
}

// checksummed returns the EIP-55 form of an already-validated address.
func checksummed(address string) string {
	if c, err := ChecksumAddress(address); err == nil {
		return c
	}
	return address
}

func mustBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
