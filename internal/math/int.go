package math

import "fmt"

// Int is a signed value kept as sign and magnitude. Zero is never negative.
type Int struct {
	Mag Uint `json:"value"`
	Neg bool `json:"is_neg"`
}

func NewInt(mag Uint, neg bool) Int {
	if mag.IsZero() {
		neg = false
	}
	return Int{Mag: mag, Neg: neg}
}

// Add returns i + u.
func (i Int) Add(u Uint) Int {
	if !i.Neg {
		return NewInt(i.Mag.Add(u), false)
	}
	diff, magGreater := i.Mag.AbsDiff(u)
	return NewInt(diff, magGreater)
}

// Sub returns i - u.
func (i Int) Sub(u Uint) Int {
	if i.Neg {
		return NewInt(i.Mag.Add(u), true)
	}
	diff, magGreater := i.Mag.AbsDiff(u)
	return NewInt(diff, !magGreater)
}

func (i Int) IsNegative() bool {
	return i.Neg
}

func (i Int) IsZero() bool {
	return i.Mag.IsZero()
}

func (i Int) String() string {
	if i.Neg {
		return fmt.Sprintf("-%s", i.Mag)
	}
	return i.Mag.String()
}
