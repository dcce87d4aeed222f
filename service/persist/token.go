package persist

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

const (
	// URITypeIPFS represents an IPFS URI
	URITypeIPFS URIType = "ipfs"
	// URITypeIPFSGateway represents an IPFS Gateway URI
	URITypeIPFSGateway URIType = "ipfs-gateway"
	// URITypeHTTP represents an HTTP URI
	URITypeHTTP URIType = "http"
	// URITypeJSON represents a JSON URI
	URITypeJSON URIType = "json"
	// URITypeNone represents no URI
	URITypeNone URIType = "none"
	// URITypeUnknown represents an unknown URI type
	URITypeUnknown URIType = "unknown"
)

// TokenID represents the ID of a token within its registry as a lowercase hex string
type TokenID string

// URIType represents a token URI
type URIType string

// AssetRef names the exact ownership unit being sold: a registry and a token within it
type AssetRef struct {
	Registry Address `json:"registry"`
	TokenID  TokenID `json:"token_id"`
}

// NewTokenID returns the token ID for the given integer
func NewTokenID(i uint64) TokenID {
	return TokenID(new(big.Int).SetUint64(i).Text(16))
}

// TokenIDFromBigInt returns the token ID for the given big integer
func TokenIDFromBigInt(i *big.Int) TokenID {
	if i == nil {
		return TokenID("0")
	}
	return TokenID(i.Text(16))
}

// ParseTokenID parses a token ID given either as a 0x prefixed hex string or a base 10 integer
func ParseTokenID(s string) (TokenID, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	it, ok := new(big.Int).SetString(s, base)
	if !ok || it.Sign() < 0 {
		return "", fmt.Errorf("invalid token ID: %s", s)
	}
	return TokenIDFromBigInt(it), nil
}

func (t TokenID) String() string {
	trimmed := strings.TrimLeft(strings.TrimPrefix(strings.ToLower(string(t)), "0x"), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// BigInt returns the token ID as a big.Int
func (t TokenID) BigInt() *big.Int {
	it, ok := new(big.Int).SetString(t.String(), 16)
	if !ok {
		return big.NewInt(0)
	}
	return it
}

// IsZero returns whether the token ID is the zero sentinel
func (t TokenID) IsZero() bool {
	return t.BigInt().Sign() == 0
}

// Value implements the driver.Valuer interface for token IDs
func (t TokenID) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan implements the sql.Scanner interface for token IDs
func (t *TokenID) Scan(src interface{}) error {
	if src == nil {
		*t = TokenID("")
		return nil
	}
	switch v := src.(type) {
	case string:
		*t = TokenID(v)
	case []byte:
		*t = TokenID(string(v))
	default:
		return fmt.Errorf("invalid token ID: %v", src)
	}
	return nil
}

// NewAssetRef returns a normalized asset reference
func NewAssetRef(registry Address, tokenID TokenID) AssetRef {
	return AssetRef{Registry: registry.Normalize(), TokenID: TokenID(tokenID.String())}
}

// Normalize returns the canonical form of the reference, suitable as a map key
func (a AssetRef) Normalize() AssetRef {
	return NewAssetRef(a.Registry, a.TokenID)
}

func (a AssetRef) String() string {
	n := a.Normalize()
	return fmt.Sprintf("%s+%s", n.Registry, n.TokenID)
}

// IsZero returns whether the reference is missing its registry or points at the zero token
func (a AssetRef) IsZero() bool {
	return a.Registry.IsZero() || a.TokenID.IsZero()
}

func (uri URIType) String() string {
	asString := strings.TrimSpace(string(uri))
	if strings.HasPrefix(asString, "http") || strings.HasPrefix(asString, "ipfs") {
		unescaped, err := url.QueryUnescape(asString)
		if err == nil && unescaped != asString {
			return unescaped
		}
	}
	return asString
}

// Type returns the type of the URI
func (uri URIType) Type() URIType {
	asString := uri.String()
	switch {
	case strings.HasPrefix(asString, "ipfs"), strings.HasPrefix(asString, "Qm"), strings.HasPrefix(asString, "baf"):
		return URITypeIPFS
	case strings.Contains(asString, "/ipfs/"):
		return URITypeIPFSGateway
	case strings.HasPrefix(asString, "http"):
		return URITypeHTTP
	case strings.HasPrefix(asString, "{"):
		return URITypeJSON
	case asString == "":
		return URITypeNone
	default:
		return URITypeUnknown
	}
}
