package chain

import (
	"errors"
	"math/big"
	"strings"
)

// ErrPrecisionLoss is returned when rescaling an amount would drop non-zero digits.
var ErrPrecisionLoss = errors.New("amount cannot be represented at target decimals without loss")

// Amount is a token quantity in base units together with its denomination.
type Amount struct {
	Value    *big.Int
	Decimals int
	Symbol   string
}

// NewAmount creates an amount in base units.
func NewAmount(value *big.Int, decimals int, symbol string) Amount {
	if value == nil {
		value = new(big.Int)
	}
	return Amount{Value: new(big.Int).Set(value), Decimals: decimals, Symbol: symbol}
}

// ParseAmount parses a human decimal string ("1.5") into an Amount.
func ParseAmount(s string, decimals int, symbol string, invalidAmountErr error) (Amount, error) {
	value, err := ParseDecimalAmount(s, decimals, invalidAmountErr)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: value, Decimals: decimals, Symbol: symbol}, nil
}

// IsZero reports whether the amount is unset or zero.
func (a Amount) IsZero() bool {
	return a.Value == nil || a.Value.Sign() == 0
}

// Clone returns a deep copy of the amount.
func (a Amount) Clone() Amount {
	out := a
	if a.Value != nil {
		out.Value = new(big.Int).Set(a.Value)
	}
	return out
}

// Rescale converts the amount to a different number of decimals.
// Scaling down fails with ErrPrecisionLoss if it would drop non-zero digits.
func (a Amount) Rescale(decimals int) (Amount, error) {
	out := a.Clone()
	if out.Value == nil {
		out.Value = new(big.Int)
	}
	out.Decimals = decimals

	switch diff := decimals - a.Decimals; {
	case diff > 0:
		out.Value.Mul(out.Value, pow10(diff))
	case diff < 0:
		q, r := new(big.Int).QuoRem(out.Value, pow10(-diff), new(big.Int))
		if r.Sign() != 0 {
			return Amount{}, ErrPrecisionLoss
		}
		out.Value = q
	}
	return out, nil
}

// String formats the amount as "<decimal> <symbol>".
func (a Amount) String() string {
	s := FormatDecimalAmount(a.Value, a.Decimals)
	if a.Symbol == "" {
		return s
	}
	return s + " " + a.Symbol
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ParseDecimalAmount parses a decimal amount string to big.Int with the given decimal places.
// For example, "1.5" with 12 decimals returns 1500000000000.
// Digits beyond decimalPlaces are rejected rather than truncated.
func ParseDecimalAmount(amount string, decimalPlaces int, invalidAmountErr error) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") || strings.HasPrefix(amount, "+") {
		return nil, invalidAmountErr
	}

	intPart, decPart, hasDot := strings.Cut(amount, ".")
	if strings.Contains(decPart, ".") || (hasDot && decPart == "" && intPart == "") {
		return nil, invalidAmountErr
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || !isDigits(decPart) {
		return nil, invalidAmountErr
	}

	decPart = strings.TrimRight(decPart, "0")
	if len(decPart) > decimalPlaces {
		return nil, invalidAmountErr
	}
	decPart += strings.Repeat("0", decimalPlaces-len(decPart))

	result, ok := new(big.Int).SetString(intPart+decPart, 10)
	if !ok {
		return nil, invalidAmountErr
	}
	return result, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FormatDecimalAmount converts a big.Int to a human-readable string with the given decimal places.
// Trailing zeros after the decimal point are removed, as is a bare trailing point.
// For example, 1500000000000 with 12 decimals returns "1.5".
func FormatDecimalAmount(amount *big.Int, decimalPlaces int) string {
	if amount == nil {
		return "0"
	}
	if amount.Sign() < 0 {
		return "-" + FormatDecimalAmount(new(big.Int).Abs(amount), decimalPlaces)
	}

	str := amount.String()
	if decimalPlaces <= 0 {
		return str
	}
	if len(str) <= decimalPlaces {
		str = strings.Repeat("0", decimalPlaces-len(str)+1) + str
	}

	pos := len(str) - decimalPlaces
	frac := strings.TrimRight(str[pos:], "0")
	if frac == "" {
		return str[:pos]
	}
	return str[:pos] + "." + frac
}
