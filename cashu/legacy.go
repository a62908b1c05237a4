package cashu

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// TokenV3 is a legacy cashuA token. V2 tokens are normalized into this
// shape when decoded.
// See https://github.com/cashubtc/nuts/blob/main/00.md#v3-tokens
type TokenV3 struct {
	Token []TokenV3Proof `json:"token"`
	Unit  string         `json:"unit,omitempty"`
	Memo  string         `json:"memo,omitempty"`
}

type TokenV3Proof struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

// legacy v2 mint entry
type tokenV2Mint struct {
	URL string   `json:"url"`
	Ids []string `json:"ids"`
}

func NewTokenV3(proofs Proofs, mint string, unit Unit) (TokenV3, error) {
	if unit != Sat {
		return TokenV3{}, ErrInvalidUnit
	}

	tokenProof := TokenV3Proof{Mint: mint, Proofs: proofs}
	return TokenV3{Token: []TokenV3Proof{tokenProof}, Unit: unit.String()}, nil
}

// DecodeLegacyToken decodes a cashuA token. Both v3 ({token: [...]}) and
// v2 ({proofs, mints}) bodies are accepted; v1 (a bare JSON array) is
// rejected with ErrUnsupportedTokenVersion.
func DecodeLegacyToken(tokenstr string) (*TokenV3, error) {
	if !strings.HasPrefix(tokenstr, legacyTokenPrefix) {
		return nil, fmt.Errorf("%w: missing %v prefix", ErrInvalidTokenFormat, legacyTokenPrefix)
	}

	tokenBytes, err := decodeBase64URL(tokenstr[len(legacyTokenPrefix):])
	if err != nil {
		return nil, err
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(tokenBytes, &body); err != nil {
		if isJSONArray(tokenBytes) {
			return nil, fmt.Errorf("%w: v1 cashu tokens are not supported", ErrUnsupportedTokenVersion)
		}
		return nil, fmt.Errorf("%w: error unmarshaling token: %v", ErrInvalidTokenFormat, err)
	}

	var token *TokenV3
	if raw, ok := body["token"]; ok && isJSONArray(raw) {
		token, err = decodeV3Body(tokenBytes)
	} else if raw, ok := body["mints"]; ok && isJSONArray(raw) {
		token, err = decodeV2Body(body)
	} else {
		return nil, fmt.Errorf("%w: No valid ecash proofs found", ErrInvalidTokenFormat)
	}
	if err != nil {
		return nil, err
	}

	if err := validateProofs(token.Token[0].Proofs); err != nil {
		return nil, err
	}
	return token, nil
}

func decodeV3Body(tokenBytes []byte) (*TokenV3, error) {
	var token TokenV3
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("%w: error unmarshaling token: %v", ErrInvalidTokenFormat, err)
	}
	if len(token.Token) == 0 || len(token.Token[0].Mint) == 0 {
		return nil, fmt.Errorf("%w: No valid ecash proofs found", ErrInvalidTokenFormat)
	}
	if token.Token[0].Proofs == nil {
		token.Token[0].Proofs = Proofs{}
	}
	return &token, nil
}

func decodeV2Body(body map[string]json.RawMessage) (*TokenV3, error) {
	var mints []tokenV2Mint
	if err := json.Unmarshal(body["mints"], &mints); err != nil {
		return nil, fmt.Errorf("%w: invalid mints: %v", ErrInvalidTokenFormat, err)
	}
	if len(mints) == 0 || len(mints[0].URL) == 0 {
		return nil, fmt.Errorf("%w: No valid ecash proofs found", ErrInvalidTokenFormat)
	}

	proofs := Proofs{}
	raw, ok := body["proofs"]
	if !ok || !isJSONArray(raw) {
		return nil, fmt.Errorf("%w: No valid ecash proofs found", ErrInvalidTokenFormat)
	}
	if err := json.Unmarshal(raw, &proofs); err != nil {
		return nil, fmt.Errorf("%w: invalid proofs: %v", ErrInvalidTokenFormat, err)
	}

	return &TokenV3{Token: []TokenV3Proof{{Mint: mints[0].URL, Proofs: proofs}}}, nil
}

func isJSONArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func (t *TokenV3) decodedToken() {}

// Payload normalizes the token using its first mint entry.
func (t *TokenV3) Payload() ParsedPayload {
	proofs := t.Token[0].Proofs
	return ParsedPayload{
		Mint:   t.Token[0].Mint,
		Tokens: []Token{{KeysetId: commonKeysetId(proofs), Proofs: proofs}},
		Unit:   t.Unit,
		Memo:   t.Memo,
	}
}

func (t *TokenV3) Mint() string {
	return t.Token[0].Mint
}

func (t *TokenV3) Amount() uint64 {
	return t.Token[0].Proofs.Amount()
}

func (t *TokenV3) Serialize() (string, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	token := legacyTokenPrefix + base64.URLEncoding.EncodeToString(jsonBytes)
	return token, nil
}

// commonKeysetId returns the keyset id shared by all proofs, or an empty
// string if there are none or they span more than one keyset.
func commonKeysetId(proofs Proofs) string {
	if len(proofs) == 0 {
		return ""
	}
	id := proofs[0].Id
	for _, proof := range proofs[1:] {
		if proof.Id != id {
			return ""
		}
	}
	return id
}
