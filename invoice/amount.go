package invoice

import (
	"github.com/shopspring/decimal"
)

// Amount is a decimal number that keeps its scale when written as
// JSON: "230.50" is stored as "230.50", not "230.5".
type Amount struct {
	decimal.Decimal
}

// NewAmount returns d as Amount. Zero without fraction digits
// becomes the zero Amount, same as a field that was never set.
func NewAmount(d decimal.Decimal) Amount {
	if d.IsZero() && d.Exponent() == 0 {
		return Amount{}
	}
	return Amount{Decimal: d}
}

// RequireAmount parses s and panics if it's not a valid number
func RequireAmount(s string) Amount {
	return NewAmount(decimal.RequireFromString(s))
}

func (a Amount) String() string {
	if exp := a.Exponent(); exp < 0 {
		return a.StringFixed(-exp)
	}
	return a.Decimal.String()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalJSON(d []byte) error {
	var v decimal.Decimal
	if err := v.UnmarshalJSON(d); err != nil {
		return err
	}
	*a = NewAmount(v)
	return nil
}
