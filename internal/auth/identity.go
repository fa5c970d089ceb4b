package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// IdentityKind is the explicit discriminant of an Identity.
type IdentityKind uint8

const (
	KindAddress IdentityKind = iota + 1
	KindContract
)

func (k IdentityKind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindContract:
		return "contract"
	default:
		return "unknown"
	}
}

// Identity is either an externally owned address or a contract id.
// Two identities with the same bytes but different kinds are distinct.
type Identity struct {
	Kind IdentityKind
	ID   [32]byte
}

func AddressIdentity(id [32]byte) Identity {
	return Identity{Kind: KindAddress, ID: id}
}

func ContractIdentity(id [32]byte) Identity {
	return Identity{Kind: KindContract, ID: id}
}

// IsZero reports whether the identity was never set.
func (i Identity) IsZero() bool {
	return i.Kind == 0
}

func (i Identity) String() string {
	return i.Kind.String() + ":0x" + hex.EncodeToString(i.ID[:])
}

// ParseIdentity parses "address:0x<64 hex>" or "contract:0x<64 hex>".
func ParseIdentity(s string) (Identity, error) {
	kindStr, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("identity %q: missing kind prefix", s)
	}

	var kind IdentityKind
	switch kindStr {
	case "address":
		kind = KindAddress
	case "contract":
		kind = KindContract
	default:
		return Identity{}, fmt.Errorf("identity %q: unknown kind %q", s, kindStr)
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(idStr, "0x"))
	if err != nil {
		return Identity{}, fmt.Errorf("identity %q: %w", s, err)
	}
	if len(raw) != 32 {
		return Identity{}, fmt.Errorf("identity %q: want 32 bytes, got %d", s, len(raw))
	}

	id := Identity{Kind: kind}
	copy(id.ID[:], raw)
	return id, nil
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
