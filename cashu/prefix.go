package cashu

import (
	"fmt"
	"strings"
)

type TokenVersion int

const (
	VersionA TokenVersion = iota + 1
	VersionB
)

const (
	legacyTokenPrefix = "cashuA"
	v4TokenPrefix     = "cashuB"
)

func (v TokenVersion) String() string {
	switch v {
	case VersionA:
		return legacyTokenPrefix
	case VersionB:
		return v4TokenPrefix
	default:
		return "unknown"
	}
}

// uri prefixes are stripped in this order
var uriPrefixes = []string{"web+cashu://", "cashu://", "cashu:"}

// ParsePrefix strips the known URI prefixes from raw and returns the token
// version along with the normalized token string (still carrying its
// cashuA or cashuB prefix).
func ParsePrefix(raw string) (TokenVersion, string, error) {
	token := strings.TrimSpace(raw)
	for _, prefix := range uriPrefixes {
		token = strings.TrimPrefix(token, prefix)
	}

	switch {
	case strings.HasPrefix(token, legacyTokenPrefix):
		return VersionA, token, nil
	case strings.HasPrefix(token, v4TokenPrefix):
		return VersionB, token, nil
	default:
		return 0, "", fmt.Errorf("%w: unrecognized token prefix", ErrInvalidTokenFormat)
	}
}
