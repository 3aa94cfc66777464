package bpf

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/pkg/errors"
)

// Money is an amount in euro cents.
type Money int64

var (
	decimalCtx = func() *apd.Context {
		ctx := apd.BaseContext.WithPrecision(34)
		ctx.Rounding = apd.RoundHalfEven
		return ctx
	}()

	hundred = apd.New(100, 0)
)

// ParseMoney parses a decimal amount ("1250.5", "-3.10") into cents.
// Amounts with more than 2 decimals are rejected rather than rounded.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing amount %q", s)
	}
	var cents apd.Decimal
	if _, err = decimalCtx.Mul(&cents, d, hundred); err != nil {
		return 0, errors.Wrapf(err, "converting amount %q", s)
	}
	var integral apd.Decimal
	if _, err = decimalCtx.Quantize(&integral, &cents, 0); err != nil {
		return 0, errors.Wrapf(err, "converting amount %q", s)
	}
	if integral.Cmp(&cents) != 0 {
		return 0, errors.Errorf("amount %q has sub-cent precision", s)
	}
	v, err := integral.Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "amount %q out of range", s)
	}
	return Money(v), nil
}

// String formats m with 2 decimals and a dot separator: "1750.00".
func (m Money) String() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v/100, 10) + "." + twoDigits(v%100)
	if neg {
		return "-" + s
	}
	return s
}

// Display formats m the French way for documents: "1 750,00 €".
func (m Money) Display() string {
	neg := m < 0
	v := int64(m)
	if neg {
		v = -v
	}
	s := groupThousands(strconv.FormatInt(v/100, 10)) + "," + twoDigits(v%100) + " €"
	if neg {
		return "-" + s
	}
	return s
}

// MarshalText makes Money a decimal string in JSON, keeping cents exact for consumers.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Share returns part/total as a percentage with 2 decimals ("57.14").
// Computed from the accumulated integers, never accumulated itself.
func Share(part, total int64) string {
	if total == 0 {
		return "0.00"
	}
	var q apd.Decimal
	if _, err := decimalCtx.Quo(&q, apd.New(part*100, 0), apd.New(total, 0)); err != nil {
		return "0.00"
	}
	if _, err := decimalCtx.Quantize(&q, &q, -2); err != nil {
		return "0.00"
	}
	return q.Text('f')
}

// Hours formats a duration in minutes as decimal hours ("12.50").
func Hours(minutes int64) string {
	var q apd.Decimal
	if _, err := decimalCtx.Quo(&q, apd.New(minutes, 0), apd.New(60, 0)); err != nil {
		return "0.00"
	}
	if _, err := decimalCtx.Quantize(&q, &q, -2); err != nil {
		return "0.00"
	}
	return q.Text('f')
}

func twoDigits(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
