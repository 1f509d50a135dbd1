package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Money is an amount in the smallest unit of its asset.
//
// Examples:
//   - 3000 RWF = Money{Asset: RWF, Atomic: 3000}
//   - 12.50 KES = Money{Asset: KES, Atomic: 1250}
type Money struct {
	Asset  Asset
	Atomic int64
}

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrAssetMismatch occurs when operating on different assets.
	ErrAssetMismatch = errors.New("money: asset mismatch")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrDivisionByZero occurs when dividing by zero.
	ErrDivisionByZero = errors.New("money: division by zero")
)

// Zero returns a zero amount for the given asset.
func Zero(asset Asset) Money {
	return Money{Asset: asset}
}

// New creates a Money from atomic units.
func New(asset Asset, atomic int64) Money {
	return Money{Asset: asset, Atomic: atomic}
}

// FromAtomic creates Money from an atomic units string.
func FromAtomic(asset Asset, atomic string) (Money, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(atomic), 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return Money{Asset: asset, Atomic: value}, nil
}

// ToMajor renders the amount with the asset's decimal places.
//
//	Money{RWF, 3000}.ToMajor() -> "3000"
//	Money{KES, 1250}.ToMajor() -> "12.50"
func (m Money) ToMajor() string {
	if m.Asset.Decimals == 0 {
		return strconv.FormatInt(m.Atomic, 10)
	}

	divisor := int64(math.Pow10(int(m.Asset.Decimals)))
	integerPart := m.Atomic / divisor
	fractionalPart := m.Atomic % divisor
	sign := ""
	if m.Atomic < 0 {
		sign = "-"
		integerPart = -integerPart
		fractionalPart = -fractionalPart
	}

	frac := strconv.FormatInt(fractionalPart, 10)
	if pad := int(m.Asset.Decimals) - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	return sign + strconv.FormatInt(integerPart, 10) + "." + frac
}

// ToAtomic returns the atomic units as a string.
func (m Money) ToAtomic() string {
	return strconv.FormatInt(m.Atomic, 10)
}

// Add returns the sum of two Money values.
func (m Money) Add(other Money) (Money, error) {
	if m.Asset.Code != other.Asset.Code {
		return Money{}, fmt.Errorf("%w: cannot add %s and %s", ErrAssetMismatch, m.Asset.Code, other.Asset.Code)
	}
	result := m.Atomic + other.Atomic
	if (result > m.Atomic) != (other.Atomic > 0) {
		return Money{}, ErrOverflow
	}
	return Money{Asset: m.Asset, Atomic: result}, nil
}

// Sub returns the difference of two Money values.
func (m Money) Sub(other Money) (Money, error) {
	if m.Asset.Code != other.Asset.Code {
		return Money{}, fmt.Errorf("%w: cannot subtract %s and %s", ErrAssetMismatch, m.Asset.Code, other.Asset.Code)
	}
	result := m.Atomic - other.Atomic
	if (result < m.Atomic) != (other.Atomic > 0) {
		return Money{}, ErrOverflow
	}
	return Money{Asset: m.Asset, Atomic: result}, nil
}

// Mul multiplies Money by an integer scalar.
func (m Money) Mul(multiplier int64) (Money, error) {
	bigResult := new(big.Int).Mul(big.NewInt(m.Atomic), big.NewInt(multiplier))
	if !bigResult.IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Asset: m.Asset, Atomic: bigResult.Int64()}, nil
}

// MulRatio returns m * num / den with half-up rounding.
func (m Money) MulRatio(num, den int64) (Money, error) {
	if den == 0 {
		return Money{}, ErrDivisionByZero
	}
	product := new(big.Int).Mul(big.NewInt(m.Atomic), big.NewInt(num))
	quo, rem := new(big.Int).QuoRem(product, big.NewInt(den), new(big.Int))

	// Half-up away from zero
	twice := new(big.Int).Mul(new(big.Int).Abs(rem), big.NewInt(2))
	if twice.Cmp(new(big.Int).Abs(big.NewInt(den))) >= 0 {
		if product.Sign()*sign(den) >= 0 {
			quo.Add(quo, big.NewInt(1))
		} else {
			quo.Sub(quo, big.NewInt(1))
		}
	}
	if !quo.IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Asset: m.Asset, Atomic: quo.Int64()}, nil
}

// MulPercent multiplies Money by a whole percentage (80 = 80%).
func (m Money) MulPercent(percent int64) (Money, error) {
	return m.MulRatio(percent, 100)
}

func sign(v int64) int {
	if v < 0 {
		return -1
	}
	return 1
}

// IsPositive returns true if amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.Atomic > 0
}

// IsZero returns true if amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Atomic == 0
}

// Equal returns true if m == other (same asset and amount).
func (m Money) Equal(other Money) bool {
	return m.Asset.Code == other.Asset.Code && m.Atomic == other.Atomic
}

// String returns a human-readable representation, e.g. "3000 RWF".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToMajor(), m.Asset.Code)
}
