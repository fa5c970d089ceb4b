// internal/math/uint.go
package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrArithmetic is wrapped by every ArithmeticError.
var ErrArithmetic = errors.New("fixed-point arithmetic error")

// ArithmeticError is raised (as a panic value) on overflow, underflow or
// division by zero. The vault recovers it and reverts the operation.
type ArithmeticError struct {
	Op string
	X  string
	Y  string
}

func (e ArithmeticError) Error() string {
	return fmt.Sprintf("fixed-point %s: x=%s y=%s", e.Op, e.X, e.Y)
}

func (e ArithmeticError) Unwrap() error { return ErrArithmetic }

// Uint is an unsigned 256-bit integer with value semantics.
// Every operation returns a fresh Uint and never mutates its operands.
type Uint struct {
	u uint256.Int
}

var pow10 [78]Uint

func init() {
	ten := uint256.NewInt(10)
	pow10[0] = NewUint(1)
	for i := 1; i < len(pow10); i++ {
		pow10[i].u.Mul(&pow10[i-1].u, ten)
	}
}

func NewUint(v uint64) Uint {
	return Uint{u: *uint256.NewInt(v)}
}

func Zero() Uint { return Uint{} }

// Exp10 returns 10^n. n must be below 78.
func Exp10(n uint8) Uint {
	if int(n) >= len(pow10) {
		panic(ArithmeticError{Op: "exp10", X: fmt.Sprint(n)})
	}
	return pow10[n]
}

// UintFromBig converts a non-negative big.Int. ok is false when b is
// negative or does not fit in 256 bits.
func UintFromBig(b *big.Int) (Uint, bool) {
	if b.Sign() < 0 {
		return Uint{}, false
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return Uint{}, false
	}
	return Uint{u: *u}, true
}

// UintFromString parses a base-10 integer string.
func UintFromString(s string) (Uint, error) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Uint{}, fmt.Errorf("parse uint %q: %w", s, err)
	}
	return Uint{u: *u}, nil
}

// MustUint parses s or panics. Intended for constants and tests.
func MustUint(s string) Uint {
	u, err := UintFromString(s)
	if err != nil {
		panic(err)
	}
	return u
}

func Min(a, b Uint) Uint {
	if a.LT(b) {
		return a
	}
	return b
}

func Max(a, b Uint) Uint {
	if a.GT(b) {
		return a
	}
	return b
}

func (a Uint) Add(b Uint) Uint {
	var z Uint
	if _, overflow := z.u.AddOverflow(&a.u, &b.u); overflow {
		panic(ArithmeticError{Op: "add overflow", X: a.String(), Y: b.String()})
	}
	return z
}

func (a Uint) Sub(b Uint) Uint {
	var z Uint
	if _, underflow := z.u.SubOverflow(&a.u, &b.u); underflow {
		panic(ArithmeticError{Op: "sub underflow", X: a.String(), Y: b.String()})
	}
	return z
}

// SubFloor returns a-b, or zero when b > a.
func (a Uint) SubFloor(b Uint) Uint {
	if b.GTE(a) {
		return Uint{}
	}
	return a.Sub(b)
}

func (a Uint) Mul(b Uint) Uint {
	var z Uint
	if _, overflow := z.u.MulOverflow(&a.u, &b.u); overflow {
		panic(ArithmeticError{Op: "mul overflow", X: a.String(), Y: b.String()})
	}
	return z
}

// Div truncates toward zero.
func (a Uint) Div(b Uint) Uint {
	if b.IsZero() {
		panic(ArithmeticError{Op: "div by zero", X: a.String(), Y: b.String()})
	}
	var z Uint
	z.u.Div(&a.u, &b.u)
	return z
}

// MulDiv returns a*b/c with a 512-bit intermediate product, truncated.
func (a Uint) MulDiv(b, c Uint) Uint {
	if c.IsZero() {
		panic(ArithmeticError{Op: "muldiv by zero", X: a.String(), Y: b.String()})
	}
	var z Uint
	if _, overflow := z.u.MulDivOverflow(&a.u, &b.u, &c.u); overflow {
		panic(ArithmeticError{Op: "muldiv overflow", X: a.String(), Y: b.String()})
	}
	return z
}

// AbsDiff returns |a-b| and whether a is strictly greater than b.
func (a Uint) AbsDiff(b Uint) (Uint, bool) {
	if a.GT(b) {
		return a.Sub(b), true
	}
	return b.Sub(a), false
}

func (a Uint) Cmp(b Uint) int {
	return a.u.Cmp(&b.u)
}

func (a Uint) LT(b Uint) bool {
	return a.u.Lt(&b.u)
}

func (a Uint) LTE(b Uint) bool {
	return !a.u.Gt(&b.u)
}

func (a Uint) GT(b Uint) bool {
	return a.u.Gt(&b.u)
}

func (a Uint) GTE(b Uint) bool {
	return !a.u.Lt(&b.u)
}

func (a Uint) EQ(b Uint) bool {
	return a.u.Eq(&b.u)
}

func (a Uint) IsZero() bool {
	return a.u.IsZero()
}

func (a Uint) Uint64() uint64 {
	return a.u.Uint64()
}

func (a Uint) IsUint64() bool {
	return a.u.IsUint64()
}

func (a Uint) BigInt() *big.Int {
	return a.u.ToBig()
}

// Bytes returns the 32-byte big-endian encoding used for state hashing.
func (a Uint) Bytes() [32]byte { return a.u.Bytes32() }

func (a Uint) String() string { return a.u.Dec() }

func (a Uint) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a *Uint) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	u, err := UintFromString(s)
	if err != nil {
		return err
	}
	*a = u
	return nil
}
