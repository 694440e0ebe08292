package wallet

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const paymentScheme = "ethereum"

// PaymentRequest is the payload carried by a receive QR code.
type PaymentRequest struct {
	Address  string
	Amount   decimal.Decimal
	Currency Currency
	HasTerms bool
}

// BuildPaymentURI encodes an address and optional payment terms as an
// ethereum: URI suitable for QR rendering.
func BuildPaymentURI(address string, amount decimal.Decimal, currency Currency) (string, error) {
	if !isHexAddress(address) {
		return "", ErrInvalidRecipient
	}
	uri := paymentScheme + ":" + address
	if amount.IsPositive() && currency != "" {
		q := url.Values{}
		q.Set("amount", amount.String())
		q.Set("currency", string(currency))
		uri += "?" + q.Encode()
	}
	return uri, nil
}

// ParsePaymentURI decodes an ethereum: URI or a bare hex address.
// Malformed amounts and unknown currencies are dropped rather than
// failing the whole payload; an invalid address always fails.
func ParsePaymentURI(data string) (PaymentRequest, error) {
	raw := strings.TrimSpace(data)
	if !strings.HasPrefix(raw, paymentScheme+":") {
		if isHexAddress(raw) {
			return PaymentRequest{Address: raw}, nil
		}
		return PaymentRequest{}, fmt.Errorf("parse payment uri: %w", ErrInvalidRecipient)
	}

	rest := strings.TrimPrefix(raw, paymentScheme+":")
	addr, query, _ := strings.Cut(rest, "?")
	if !isHexAddress(addr) {
		return PaymentRequest{}, fmt.Errorf("parse payment uri: %w", ErrInvalidRecipient)
	}

	req := PaymentRequest{Address: addr}
	if query == "" {
		return req, nil
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return req, nil
	}
	if v := params.Get("amount"); v != "" {
		if amount, err := decimal.NewFromString(v); err == nil && amount.IsPositive() {
			if c, err := ParseCurrency(params.Get("currency")); err == nil {
				req.Amount = amount
				req.Currency = c
				req.HasTerms = true
			}
		}
	}
	return req, nil
}

// isHexAddress is the structural 0x-prefixed 20-byte hex check. Kept
// local so the model package does not depend on the chain client.
func isHexAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
