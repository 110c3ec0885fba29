package protocolbanks

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PaymentLinkParams describe a hosted payment page request.
type PaymentLinkParams struct {
	To            string
	Amount        string
	Token         TokenSymbol
	Chain         ChainID
	ExpiryHours   int
	Memo          string
	OrderID       string
	CallbackURL   string
	AllowedChains []ChainID
	AllowedTokens []TokenSymbol
}

// PaymentLink is a signed, expiring payment URL.
type PaymentLink struct {
	URL       string            `json:"url"`
	ShortURL  string            `json:"shortUrl"`
	Params    PaymentLinkParams `json:"params"`
	Signature string            `json:"signature"`
	ExpiresAt time.Time         `json:"expiresAt"`
	CreatedAt time.Time         `json:"createdAt"`
	PaymentID string            `json:"paymentId"`
}

// LinkVerificationResult reports link integrity, expiry and tamper findings.
type LinkVerificationResult struct {
	Valid             bool               `json:"valid"`
	Expired           bool               `json:"expired"`
	TamperedFields    []string           `json:"tamperedFields"`
	Params            *PaymentLinkParams `json:"params,omitempty"`
	Error             string             `json:"error,omitempty"`
	HomoglyphDetected bool               `json:"homoglyphDetected,omitempty"`
	HomoglyphDetails  *HomoglyphDetails  `json:"homoglyphDetails,omitempty"`
}

// PaymentLinks generates and verifies signed payment links. Links are
// self-contained: the signature covers recipient, amount, token, expiry and
// memo, so any tampering is detectable without backend state.
type PaymentLinks struct {
	apiSecret string
	baseURL   string
	now       func() time.Time
}

// NewPaymentLinks creates a link module signing with apiSecret.
func NewPaymentLinks(apiSecret, baseURL string) *PaymentLinks {
	if baseURL == "" {
		baseURL = PaymentLinkBaseURL
	}
	return &PaymentLinks{apiSecret: apiSecret, baseURL: baseURL, now: time.Now}
}

// Generate creates a signed payment link.
func (l *PaymentLinks) Generate(params PaymentLinkParams) (*PaymentLink, error) {
	if err := l.validateParams(&params); err != nil {
		return nil, err
	}

	token := params.Token
	if token == "" {
		token = DefaultToken
	}
	expiryHours := params.ExpiryHours
	if expiryHours == 0 {
		expiryHours = DefaultExpiryHours
	}

	now := l.now()
	expiresAt := now.Add(time.Duration(expiryHours) * time.Hour)
	expiryMs := expiresAt.UnixMilli()
	paymentID := GeneratePaymentID()

	signature := GeneratePaymentLinkSignature(PaymentLinkSignatureParams{
		To:     params.To,
		Amount: params.Amount,
		Token:  token,
		Expiry: expiryMs,
		Memo:   params.Memo,
	}, l.apiSecret)

	return &PaymentLink{
		URL:       l.buildURL(&params, token, expiryMs, signature, paymentID),
		ShortURL:  strings.Replace(l.baseURL, "/pay", "", 1) + "/p/" + paymentID[4:12],
		Params:    params,
		Signature: signature,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		PaymentID: paymentID,
	}, nil
}

// Verify checks a link's signature and expiry. Homoglyphs in the recipient
// address fail verification before any signature math.
func (l *PaymentLinks) Verify(linkURL string) *LinkVerificationResult {
	parsed, err := l.parseURL(linkURL)
	if err != nil {
		return &LinkVerificationResult{
			Valid:          false,
			TamperedFields: []string{},
			Error:          "Invalid payment link URL format",
		}
	}

	params, signature, expiry := parsed.params, parsed.signature, parsed.expiry

	if details := DetectHomoglyphs(params.To); details != nil {
		return &LinkVerificationResult{
			Valid:             false,
			TamperedFields:    []string{"to"},
			Params:            params,
			Error:             "Homoglyph attack detected in address",
			HomoglyphDetected: true,
			HomoglyphDetails:  details,
		}
	}

	expired := l.now().UnixMilli() > expiry

	token := params.Token
	if token == "" {
		token = DefaultToken
	}
	expected := GeneratePaymentLinkSignature(PaymentLinkSignatureParams{
		To:     params.To,
		Amount: params.Amount,
		Token:  token,
		Expiry: expiry,
		Memo:   params.Memo,
	}, l.apiSecret)
	signatureValid := ConstantTimeEqual(signature, expected)

	var tamperedFields []string
	if !signatureValid {
		tamperedFields = append(tamperedFields, "signature")
	}

	var errMsg string
	if expired {
		errMsg = "Payment link has expired"
	} else if !signatureValid {
		errMsg = "Payment link signature is invalid"
	}

	return &LinkVerificationResult{
		Valid:          signatureValid && !expired,
		Expired:        expired,
		TamperedFields: tamperedFields,
		Params:         params,
		Error:          errMsg,
	}
}

// Parse extracts the parameters from a link without verifying it.
func (l *PaymentLinks) Parse(linkURL string) (*PaymentLinkParams, error) {
	parsed, err := l.parseURL(linkURL)
	if err != nil {
		return nil, NewValidationError("Invalid payment link URL format")
	}
	return parsed.params, nil
}

// SupportedChains returns chains accepting a token.
func (l *PaymentLinks) SupportedChains(token TokenSymbol) []ChainID {
	return ChainsForToken(token)
}

// SupportedTokens returns tokens accepted on a chain.
func (l *PaymentLinks) SupportedTokens(chain ChainID) []TokenSymbol {
	return TokensForChain(chain)
}

func (l *PaymentLinks) validateParams(params *PaymentLinkParams) error {
	if err := ValidateAddress(params.To, params.Chain); err != nil {
		return err
	}
	if err := ValidateAmount(params.Amount); err != nil {
		return err
	}
	if params.Token != "" {
		if err := ValidateToken(params.Token); err != nil {
			return err
		}
	}
	if params.Chain != nil {
		if err := ValidateChainID(params.Chain); err != nil {
			return err
		}
	}
	if params.ExpiryHours != 0 {
		if err := ValidateExpiryHours(params.ExpiryHours); err != nil {
			return err
		}
	}
	if params.Memo != "" {
		if err := ValidateMemo(params.Memo); err != nil {
			return err
		}
	}
	for _, chain := range params.AllowedChains {
		if err := ValidateChainID(chain); err != nil {
			return err
		}
	}
	for _, token := range params.AllowedTokens {
		if err := ValidateToken(token); err != nil {
			return err
		}
	}
	return nil
}

func (l *PaymentLinks) buildURL(params *PaymentLinkParams, token TokenSymbol, expiry int64, signature, paymentID string) string {
	u, _ := url.Parse(l.baseURL)
	q := u.Query()

	q.Set("to", params.To)
	q.Set("amount", params.Amount)
	q.Set("token", string(token))
	q.Set("exp", strconv.FormatInt(expiry, 10))
	q.Set("sig", signature)
	q.Set("id", paymentID)

	if params.Chain != nil {
		q.Set("chain", fmt.Sprintf("%v", params.Chain))
	}
	if params.Memo != "" {
		q.Set("memo", params.Memo)
	}
	if params.OrderID != "" {
		q.Set("orderId", params.OrderID)
	}
	if params.CallbackURL != "" {
		q.Set("callback", params.CallbackURL)
	}
	if len(params.AllowedChains) > 0 {
		var chains []string
		for _, c := range params.AllowedChains {
			chains = append(chains, fmt.Sprintf("%v", c))
		}
		q.Set("chains", strings.Join(chains, ","))
	}
	if len(params.AllowedTokens) > 0 {
		var tokens []string
		for _, t := range params.AllowedTokens {
			tokens = append(tokens, string(t))
		}
		q.Set("tokens", strings.Join(tokens, ","))
	}

	u.RawQuery = q.Encode()
	return u.String()
}

type parsedLink struct {
	params    *PaymentLinkParams
	signature string
	expiry    int64
}

func (l *PaymentLinks) parseURL(linkURL string) (*parsedLink, error) {
	u, err := url.Parse(linkURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()

	to := q.Get("to")
	amount := q.Get("amount")
	signature := q.Get("sig")
	expiryStr := q.Get("exp")
	if to == "" || amount == "" || signature == "" || expiryStr == "" {
		return nil, fmt.Errorf("missing required parameters")
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry timestamp")
	}

	tokenStr := q.Get("token")
	if tokenStr == "" {
		tokenStr = string(DefaultToken)
	}

	var chain ChainID
	if chainStr := q.Get("chain"); chainStr != "" {
		if chainNum, err := strconv.Atoi(chainStr); err == nil {
			chain = NumericChainID(chainNum)
		} else {
			chain = StringChainID(chainStr)
		}
	}

	var allowedChains []ChainID
	if chainsStr := q.Get("chains"); chainsStr != "" {
		for _, c := range strings.Split(chainsStr, ",") {
			if chainNum, err := strconv.Atoi(c); err == nil {
				allowedChains = append(allowedChains, NumericChainID(chainNum))
			} else {
				allowedChains = append(allowedChains, StringChainID(c))
			}
		}
	}

	var allowedTokens []TokenSymbol
	if tokensStr := q.Get("tokens"); tokensStr != "" {
		for _, t := range strings.Split(tokensStr, ",") {
			allowedTokens = append(allowedTokens, TokenSymbol(t))
		}
	}

	// Approximate remaining validity for display purposes.
	expiryHours := int((expiry - l.now().UnixMilli()) / (60 * 60 * 1000))
	if expiryHours < 1 {
		expiryHours = 1
	}

	return &parsedLink{
		params: &PaymentLinkParams{
			To:            to,
			Amount:        amount,
			Token:         TokenSymbol(tokenStr),
			Chain:         chain,
			ExpiryHours:   expiryHours,
			Memo:          q.Get("memo"),
			OrderID:       q.Get("orderId"),
			CallbackURL:   q.Get("callback"),
			AllowedChains: allowedChains,
			AllowedTokens: allowedTokens,
		},
		signature: signature,
		expiry:    expiry,
	}, nil
}
