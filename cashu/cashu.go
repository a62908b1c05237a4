// Package cashu contains the core structs and logic
// for ingesting Cashu ecash tokens.
package cashu

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/bits"
)

type Unit int

const (
	Sat Unit = iota

	BOLT11_METHOD = "bolt11"
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidTokenFormat      = errors.New("invalid token format")
	ErrUnsupportedTokenVersion = errors.New("unsupported token version")
	ErrInvalidUnit             = errors.New("invalid unit")
	ErrAmountOverflow          = errors.New("token amount overflows")
)

// Cashu Proof. See https://github.com/cashubtc/nuts/blob/main/00.md#proof
// Id is the keyset id and C the commitment, both hex encoded.
type Proof struct {
	Amount  uint64 `json:"amount"`
	Id      string `json:"id"`
	Secret  string `json:"secret"`
	C       string `json:"C"`
	Witness string `json:"witness,omitempty"`
	// doing pointer here so that omitempty works.
	// an empty struct would still get marshalled
	DLEQ *DLEQProof `json:"dleq,omitempty"`
}

type Proofs []Proof

type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// Amount returns the total amount from
// the array of Proof. Decoded tokens are checked not to overflow; use
// CheckedAmount for proofs from elsewhere.
func (proofs Proofs) Amount() uint64 {
	var totalAmount uint64 = 0
	for _, proof := range proofs {
		totalAmount += proof.Amount
	}
	return totalAmount
}

// CheckedAmount returns the total amount of proofs and false if the sum
// overflows uint64.
func (proofs Proofs) CheckedAmount() (uint64, bool) {
	var totalAmount uint64
	for _, proof := range proofs {
		sum, carry := bits.Add64(totalAmount, proof.Amount, 0)
		if carry != 0 {
			return 0, false
		}
		totalAmount = sum
	}
	return totalAmount, true
}

// Token is a group of proofs issued under a single keyset.
type Token struct {
	KeysetId string
	Proofs   Proofs
}

// ParsedPayload is the normalized form of any supported token version.
// It always references exactly one mint. Tokens holds one entry per
// keyset group in the order they appear in the encoded token.
type ParsedPayload struct {
	Mint   string
	Tokens []Token
	Unit   string
	Memo   string
}

func (p ParsedPayload) Amount() uint64 {
	var totalAmount uint64
	for _, token := range p.Tokens {
		totalAmount += token.Proofs.Amount()
	}
	return totalAmount
}

func (p ParsedPayload) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, token := range p.Tokens {
		proofs = append(proofs, token.Proofs...)
	}
	return proofs
}

// DecodedToken is either a *TokenV3 (legacy cashuA) or a *TokenV4 (cashuB).
// Values are only produced by the validating decoders in this package.
type DecodedToken interface {
	Payload() ParsedPayload
	Mint() string
	Amount() uint64
	Serialize() (string, error)

	decodedToken()
}

// DecodeToken strips any cashu URI prefix from tokenstr and decodes it
// according to its version prefix.
func DecodeToken(tokenstr string) (DecodedToken, error) {
	version, normalized, err := ParsePrefix(tokenstr)
	if err != nil {
		return nil, err
	}

	switch version {
	case VersionA:
		return DecodeLegacyToken(normalized)
	case VersionB:
		return DecodeTokenV4(normalized)
	default:
		return nil, fmt.Errorf("%w: unknown token version", ErrInvalidTokenFormat)
	}
}

// DecodeCashuTokens decodes a raw scanned token string into its
// normalized payload.
func DecodeCashuTokens(raw string) (ParsedPayload, error) {
	token, err := DecodeToken(raw)
	if err != nil {
		return ParsedPayload{}, err
	}
	return token.Payload(), nil
}

func decodeBase64URL(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: error decoding token: %v", ErrInvalidTokenFormat, err)
		}
	}
	return data, nil
}

func validateProofs(proofs Proofs) error {
	for i, proof := range proofs {
		if proof.Amount == 0 {
			return fmt.Errorf("%w: proof %d has non-positive amount", ErrInvalidTokenFormat, i)
		}
	}
	if _, ok := proofs.CheckedAmount(); !ok {
		return fmt.Errorf("%w: %w", ErrInvalidTokenFormat, ErrAmountOverflow)
	}
	return nil
}

// validateTotal checks that the amounts of all token groups add up
// without overflowing.
func validateTotal(tokens []Token) error {
	var total uint64
	for _, token := range tokens {
		amount, ok := token.Proofs.CheckedAmount()
		if !ok {
			return fmt.Errorf("%w: %w", ErrInvalidTokenFormat, ErrAmountOverflow)
		}
		sum, carry := bits.Add64(total, amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: %w", ErrInvalidTokenFormat, ErrAmountOverflow)
		}
		total = sum
	}
	return nil
}

type CashuErrCode int

// Error represents an error returned by the mint
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Error codes relevant to melting
const (
	StandardErrCode CashuErrCode = 10000

	InvalidProofErrCode     CashuErrCode = 10003
	ProofAlreadyUsedErrCode CashuErrCode = 11001
	UnitErrCode             CashuErrCode = 11005
	PaymentMethodErrCode    CashuErrCode = 11007

	MeltQuoteAlreadyPaidErrCode CashuErrCode = 20006
	InvoiceErrCode              CashuErrCode = 20008
	MeltQuoteErrCode            CashuErrCode = 20009
)

var (
	StandardErr                  = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                 = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	PaymentMethodNotSupportedErr = Error{Detail: "payment method not supported", Code: PaymentMethodErrCode}
	UnitNotSupportedErr          = Error{Detail: "unit not supported", Code: UnitErrCode}
	ProofAlreadyUsedErr          = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	NoProofsProvided             = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	QuoteNotExistErr             = Error{Detail: "quote does not exist", Code: MeltQuoteErrCode}
	MeltQuoteAlreadyPaid         = Error{Detail: "quote already paid", Code: MeltQuoteAlreadyPaidErrCode}
)
