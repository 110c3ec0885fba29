// Package evm provides a local-key EIP-712 signer for transfer
// authorizations. Production integrations should sign in the user's wallet;
// this signer exists for server-side wallets, tooling and tests.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	protocolbanks "github.com/everest-an/protocol-banks---web3-sub001"
)

// Signer signs transfer authorizations with an ECDSA private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex private key, with or without the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the signer's checksummed Ethereum address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign produces the 65-byte wallet signature over the authorization's
// EIP-712 digest, with v adjusted to 27/28.
func (s *Signer) Sign(auth *protocolbanks.Authorization) (string, error) {
	digest, err := protocolbanks.AuthorizationDigest(auth, s.Address())
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign digest: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// AuthorizationSigner adapts the signer to the batch orchestrator's
// callback shape.
func (s *Signer) AuthorizationSigner() protocolbanks.AuthorizationSigner {
	return func(_ context.Context, auth *protocolbanks.Authorization) (string, string, error) {
		signature, err := s.Sign(auth)
		if err != nil {
			return "", "", err
		}
		return s.Address(), signature, nil
	}
}
