package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elnosh/nutmelt/cbor"
	fxcbor "github.com/fxamacker/cbor/v2"
)

// TokenV4 is a cashuB token.
// See https://github.com/cashubtc/nuts/blob/main/00.md#v4-tokens
type TokenV4 struct {
	TokenProofs []TokenV4Proof `json:"t"`
	Memo        string         `json:"d,omitempty"`
	MintURL     string         `json:"m"`
	Unit        string         `json:"u"`
}

type TokenV4Proof struct {
	Id     []byte    `json:"i"`
	Proofs []ProofV4 `json:"p"`
}

func (tp *TokenV4Proof) MarshalJSON() ([]byte, error) {
	tokenProof := struct {
		Id     string    `json:"i"`
		Proofs []ProofV4 `json:"p"`
	}{
		Id:     hex.EncodeToString(tp.Id),
		Proofs: tp.Proofs,
	}
	return json.Marshal(tokenProof)
}

type ProofV4 struct {
	Amount  uint64  `json:"a"`
	Secret  string  `json:"s"`
	C       []byte  `json:"c"`
	Witness string  `json:"w,omitempty"`
	DLEQ    *DLEQV4 `json:"d,omitempty"`
}

func (p *ProofV4) MarshalJSON() ([]byte, error) {
	proof := struct {
		Amount  uint64  `json:"a"`
		Secret  string  `json:"s"`
		C       string  `json:"c"`
		Witness string  `json:"w,omitempty"`
		DLEQ    *DLEQV4 `json:"d,omitempty"`
	}{
		Amount:  p.Amount,
		Secret:  p.Secret,
		C:       hex.EncodeToString(p.C),
		Witness: p.Witness,
		DLEQ:    p.DLEQ,
	}
	return json.Marshal(proof)
}

type DLEQV4 struct {
	E []byte `json:"e"`
	S []byte `json:"s"`
	R []byte `json:"r,omitempty"`
}

func (d *DLEQV4) MarshalJSON() ([]byte, error) {
	dleq := DLEQProof{
		E: hex.EncodeToString(d.E),
		S: hex.EncodeToString(d.S),
		R: hex.EncodeToString(d.R),
	}
	return json.Marshal(dleq)
}

// NewTokenV4 groups proofs by keyset id, keeping the order in which
// each keyset first appears.
func NewTokenV4(proofs Proofs, mint string, unit Unit) (TokenV4, error) {
	if unit != Sat {
		return TokenV4{}, ErrInvalidUnit
	}

	proofsV4 := make([]TokenV4Proof, 0)
	index := make(map[string]int)
	for _, proof := range proofs {
		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid C: %v", err)
		}
		proofV4 := ProofV4{
			Amount:  proof.Amount,
			Secret:  proof.Secret,
			C:       C,
			Witness: proof.Witness,
		}
		if proof.DLEQ != nil {
			dleq, err := dleqToV4(proof.DLEQ)
			if err != nil {
				return TokenV4{}, err
			}
			proofV4.DLEQ = dleq
		}

		i, ok := index[proof.Id]
		if !ok {
			keysetIdBytes, err := hex.DecodeString(proof.Id)
			if err != nil {
				return TokenV4{}, fmt.Errorf("invalid keyset id: %v", err)
			}
			i = len(proofsV4)
			index[proof.Id] = i
			proofsV4 = append(proofsV4, TokenV4Proof{Id: keysetIdBytes})
		}
		proofsV4[i].Proofs = append(proofsV4[i].Proofs, proofV4)
	}

	return TokenV4{MintURL: mint, Unit: unit.String(), TokenProofs: proofsV4}, nil
}

func dleqToV4(dleq *DLEQProof) (*DLEQV4, error) {
	e, err := hex.DecodeString(dleq.E)
	if err != nil {
		return nil, fmt.Errorf("invalid e in DLEQ proof: %v", err)
	}
	s, err := hex.DecodeString(dleq.S)
	if err != nil {
		return nil, fmt.Errorf("invalid s in DLEQ proof: %v", err)
	}
	r, err := hex.DecodeString(dleq.R)
	if err != nil {
		return nil, fmt.Errorf("invalid r in DLEQ proof: %v", err)
	}
	return &DLEQV4{E: e, S: s, R: r}, nil
}

// DecodeTokenV4 decodes a cashuB token. The CBOR body is decoded into a
// generic value tree which is then checked field by field; any missing or
// mistyped field fails with ErrInvalidTokenFormat.
func DecodeTokenV4(tokenstr string) (*TokenV4, error) {
	if !strings.HasPrefix(tokenstr, v4TokenPrefix) {
		return nil, fmt.Errorf("%w: missing %v prefix", ErrInvalidTokenFormat, v4TokenPrefix)
	}

	tokenBytes, err := decodeBase64URL(tokenstr[len(v4TokenPrefix):])
	if err != nil {
		return nil, err
	}

	tree, err := cbor.Decode(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTokenFormat, err)
	}

	token, err := tokenV4FromTree(tree)
	if err != nil {
		return nil, err
	}
	if err := validateTotal(token.Payload().Tokens); err != nil {
		return nil, err
	}
	return token, nil
}

func tokenV4FromTree(tree any) (*TokenV4, error) {
	root, ok := tree.(map[any]any)
	if !ok {
		return nil, invalidV4("token is not a map")
	}

	var token TokenV4
	if token.MintURL, ok = root["m"].(string); !ok {
		return nil, invalidV4("missing mint url 'm'")
	}
	if token.Unit, ok = root["u"].(string); !ok {
		return nil, invalidV4("missing unit 'u'")
	}
	if memo, present := root["d"]; present {
		if token.Memo, ok = memo.(string); !ok {
			return nil, invalidV4("memo 'd' is not a string")
		}
	}

	tokenProofs, ok := root["t"].([]any)
	if !ok {
		return nil, invalidV4("missing token proofs 't'")
	}

	token.TokenProofs = make([]TokenV4Proof, len(tokenProofs))
	for i, item := range tokenProofs {
		tokenProof, err := tokenV4ProofFromTree(item)
		if err != nil {
			return nil, fmt.Errorf("t[%d]: %w", i, err)
		}
		token.TokenProofs[i] = tokenProof
	}

	return &token, nil
}

func tokenV4ProofFromTree(item any) (TokenV4Proof, error) {
	m, ok := item.(map[any]any)
	if !ok {
		return TokenV4Proof{}, invalidV4("token proof is not a map")
	}

	var tokenProof TokenV4Proof
	if tokenProof.Id, ok = m["i"].([]byte); !ok {
		return TokenV4Proof{}, invalidV4("missing keyset id 'i'")
	}
	proofs, ok := m["p"].([]any)
	if !ok {
		return TokenV4Proof{}, invalidV4("missing proofs 'p'")
	}

	tokenProof.Proofs = make([]ProofV4, len(proofs))
	for j, p := range proofs {
		proof, err := proofV4FromTree(p)
		if err != nil {
			return TokenV4Proof{}, fmt.Errorf("p[%d]: %w", j, err)
		}
		tokenProof.Proofs[j] = proof
	}
	return tokenProof, nil
}

func proofV4FromTree(item any) (ProofV4, error) {
	m, ok := item.(map[any]any)
	if !ok {
		return ProofV4{}, invalidV4("proof is not a map")
	}

	var proof ProofV4
	if proof.Amount, ok = m["a"].(uint64); !ok {
		return ProofV4{}, invalidV4("missing amount 'a'")
	}
	if proof.Amount == 0 {
		return ProofV4{}, invalidV4("amount 'a' must be positive")
	}
	if proof.Secret, ok = m["s"].(string); !ok {
		return ProofV4{}, invalidV4("missing secret 's'")
	}
	if proof.C, ok = m["c"].([]byte); !ok {
		return ProofV4{}, invalidV4("missing commitment 'c'")
	}
	if witness, present := m["w"]; present {
		if proof.Witness, ok = witness.(string); !ok {
			return ProofV4{}, invalidV4("witness 'w' is not a string")
		}
	}
	if d, present := m["d"]; present {
		dleq, err := dleqV4FromTree(d)
		if err != nil {
			return ProofV4{}, err
		}
		proof.DLEQ = dleq
	}
	return proof, nil
}

func dleqV4FromTree(item any) (*DLEQV4, error) {
	m, ok := item.(map[any]any)
	if !ok {
		return nil, invalidV4("dleq 'd' is not a map")
	}

	var dleq DLEQV4
	fields := []struct {
		key string
		dst *[]byte
	}{
		{"e", &dleq.E},
		{"s", &dleq.S},
		{"r", &dleq.R},
	}
	for _, field := range fields {
		value, present := m[field.key]
		if !present {
			continue
		}
		b, ok := value.([]byte)
		if !ok {
			return nil, invalidV4(fmt.Sprintf("dleq '%v' is not a byte string", field.key))
		}
		*field.dst = b
	}
	return &dleq, nil
}

func invalidV4(detail string) error {
	return fmt.Errorf("%w: %v", ErrInvalidTokenFormat, detail)
}

func (t *TokenV4) decodedToken() {}

func (t *TokenV4) Payload() ParsedPayload {
	tokens := make([]Token, len(t.TokenProofs))
	for i, tokenV4Proof := range t.TokenProofs {
		keysetId := hex.EncodeToString(tokenV4Proof.Id)
		proofs := make(Proofs, len(tokenV4Proof.Proofs))
		for j, proofV4 := range tokenV4Proof.Proofs {
			proof := Proof{
				Amount:  proofV4.Amount,
				Id:      keysetId,
				Secret:  proofV4.Secret,
				C:       hex.EncodeToString(proofV4.C),
				Witness: proofV4.Witness,
			}
			if proofV4.DLEQ != nil {
				proof.DLEQ = &DLEQProof{
					E: hex.EncodeToString(proofV4.DLEQ.E),
					S: hex.EncodeToString(proofV4.DLEQ.S),
					R: hex.EncodeToString(proofV4.DLEQ.R),
				}
			}
			proofs[j] = proof
		}
		tokens[i] = Token{KeysetId: keysetId, Proofs: proofs}
	}

	return ParsedPayload{
		Mint:   t.MintURL,
		Tokens: tokens,
		Unit:   t.Unit,
		Memo:   t.Memo,
	}
}

func (t *TokenV4) Mint() string {
	return t.MintURL
}

func (t *TokenV4) Amount() uint64 {
	var totalAmount uint64
	for _, tokenProof := range t.TokenProofs {
		for _, proof := range tokenProof.Proofs {
			totalAmount += proof.Amount
		}
	}
	return totalAmount
}

func (t *TokenV4) Serialize() (string, error) {
	cborData, err := fxcbor.Marshal(t)
	if err != nil {
		return "", err
	}

	token := v4TokenPrefix + base64.RawURLEncoding.EncodeToString(cborData)
	return token, nil
}
