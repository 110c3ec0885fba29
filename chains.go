package protocolbanks

// ============================================================================
// API Endpoints
// ============================================================================

const (
	// APIBaseURL is the production API base URL.
	APIBaseURL = "https://api.protocolbanks.com/v1"

	// SandboxAPIBaseURL is the sandbox API base URL.
	SandboxAPIBaseURL = "https://sandbox-api.protocolbanks.com/v1"

	// TestnetAPIBaseURL is the testnet API base URL.
	TestnetAPIBaseURL = "https://testnet-api.protocolbanks.com/v1"

	// PaymentLinkBaseURL is the base URL for hosted payment links.
	PaymentLinkBaseURL = "https://app.protocolbanks.com/pay"
)

// APIBaseURLFor returns the API base URL for an environment.
func APIBaseURLFor(env Environment) string {
	switch env {
	case EnvSandbox:
		return SandboxAPIBaseURL
	case EnvTestnet:
		return TestnetAPIBaseURL
	default:
		return APIBaseURL
	}
}

// ============================================================================
// Limits
// ============================================================================

const (
	// MaxBatchSize is the maximum number of recipients in a batch.
	MaxBatchSize = 500

	// MaxMemoLength is the maximum memo length in bytes.
	MaxMemoLength = 256

	// MaxAmount is the maximum single-transfer amount in token units.
	MaxAmount = 1_000_000_000

	// DefaultExpiryHours is the default payment link validity.
	DefaultExpiryHours = 24

	// MinExpiryHours and MaxExpiryHours bound payment link validity.
	MinExpiryHours = 1
	MaxExpiryHours = 168
)

// ============================================================================
// Chain Registry
// ============================================================================

// SupportedChains returns every chain the SDK accepts addresses for.
func SupportedChains() []ChainID {
	return []ChainID{
		ChainEthereum,
		ChainOptimism,
		ChainBSC,
		ChainPolygon,
		ChainBase,
		ChainArbitrum,
		ChainSolana,
		ChainBitcoin,
	}
}

// EVMChains returns the EVM chain ids.
func EVMChains() []NumericChainID {
	return []NumericChainID{
		ChainEthereum,
		ChainOptimism,
		ChainBSC,
		ChainPolygon,
		ChainBase,
		ChainArbitrum,
	}
}

// GaslessChains returns chains that support x402 gasless authorizations.
func GaslessChains() []NumericChainID {
	return []NumericChainID{
		ChainEthereum,
		ChainOptimism,
		ChainPolygon,
		ChainBase,
		ChainArbitrum,
	}
}

// GaslessTokens returns tokens that implement transfer-with-authorization.
func GaslessTokens() []TokenSymbol {
	return []TokenSymbol{TokenUSDC, TokenDAI}
}

// FacilitatorChains returns chains where the zero-fee facilitator route is
// available; elsewhere gasless settlement goes through the fee-bearing relayer.
func FacilitatorChains() []NumericChainID {
	return []NumericChainID{ChainBase, ChainPolygon, ChainArbitrum}
}

// SupportedTokens returns every supported token symbol.
func SupportedTokens() []TokenSymbol {
	return []TokenSymbol{
		TokenUSDC, TokenUSDT, TokenDAI, TokenETH,
		TokenMATIC, TokenBNB, TokenSOL, TokenBTC,
	}
}

// ChainsForToken returns the chains a token is accepted on.
func ChainsForToken(token TokenSymbol) []ChainID {
	var chains []ChainID
	for _, chain := range SupportedChains() {
		for _, t := range TokensForChain(chain) {
			if t == token {
				chains = append(chains, chain)
				break
			}
		}
	}
	return chains
}

// TokensForChain returns the tokens accepted on a chain.
func TokensForChain(chain ChainID) []TokenSymbol {
	switch chain {
	case ChainEthereum:
		return []TokenSymbol{TokenUSDC, TokenUSDT, TokenDAI, TokenETH}
	case ChainPolygon:
		return []TokenSymbol{TokenUSDC, TokenUSDT, TokenDAI, TokenMATIC}
	case ChainBase:
		return []TokenSymbol{TokenUSDC, TokenUSDT, TokenETH}
	case ChainArbitrum:
		return []TokenSymbol{TokenUSDC, TokenUSDT, TokenDAI, TokenETH}
	case ChainOptimism:
		return []TokenSymbol{TokenUSDC, TokenUSDT, TokenDAI, TokenETH}
	case ChainBSC:
		return []TokenSymbol{TokenUSDC, TokenUSDT, TokenDAI, TokenBNB}
	case ChainSolana:
		return []TokenSymbol{TokenSOL, TokenUSDC}
	case ChainBitcoin:
		return []TokenSymbol{TokenBTC}
	default:
		return nil
	}
}

// TokenDecimals returns the decimal places for a token.
func TokenDecimals(token TokenSymbol) int {
	switch token {
	case TokenUSDC, TokenUSDT:
		return 6
	case TokenBTC:
		return 8
	case TokenSOL:
		return 9
	default:
		return 18
	}
}

// TokenName returns the EIP-712 domain name registered by the token contract.
func TokenName(token TokenSymbol) string {
	names := map[TokenSymbol]string{
		TokenUSDC:  "USD Coin",
		TokenUSDT:  "Tether USD",
		TokenDAI:   "Dai Stablecoin",
		TokenETH:   "Ethereum",
		TokenMATIC: "Polygon",
		TokenBNB:   "BNB",
		TokenSOL:   "Solana",
		TokenBTC:   "Bitcoin",
	}
	if name, ok := names[token]; ok {
		return name
	}
	return string(token)
}

// USDCAddresses maps EVM chain ids to the canonical USDC contract.
var USDCAddresses = map[NumericChainID]string{
	ChainEthereum: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	ChainPolygon:  "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
	ChainBase:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	ChainArbitrum: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	ChainOptimism: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
	ChainBSC:      "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
}

// DAIAddresses maps EVM chain ids to the canonical DAI contract.
var DAIAddresses = map[NumericChainID]string{
	ChainEthereum: "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	ChainPolygon:  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
	ChainArbitrum: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
	ChainOptimism: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1",
}

// TokenContractAddress returns the verifying contract for a gasless token on
// an EVM chain, or "" when the pair is not deployed.
func TokenContractAddress(chainID NumericChainID, token TokenSymbol) string {
	switch token {
	case TokenUSDC:
		return USDCAddresses[chainID]
	case TokenDAI:
		return DAIAddresses[chainID]
	default:
		return ""
	}
}

// IsGaslessChain reports whether the chain supports x402.
func IsGaslessChain(chainID int) bool {
	for _, c := range GaslessChains() {
		if int(c) == chainID {
			return true
		}
	}
	return false
}

// IsGaslessToken reports whether token supports transfer-with-authorization
// on the given chain.
func IsGaslessToken(chainID int, token TokenSymbol) bool {
	if !IsGaslessChain(chainID) {
		return false
	}
	for _, t := range GaslessTokens() {
		if t == token {
			return TokenContractAddress(NumericChainID(chainID), token) != ""
		}
	}
	return false
}

// IsFacilitatorChain reports whether the zero-fee facilitator route serves
// the chain.
func IsFacilitatorChain(chainID int) bool {
	for _, c := range FacilitatorChains() {
		if int(c) == chainID {
			return true
		}
	}
	return false
}
