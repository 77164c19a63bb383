package telemetry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"experimentservice/internal/apperr"
	"experimentservice/internal/models"
)

const (
	KindLinear      = "linear"
	KindPolynomial  = "polynomial"
	KindLookupTable = "lookup_table"
)

const (
	ConversionClientProvided = "client_provided"
	ConversionConverted      = "converted"
	ConversionOutOfWindow    = "out_of_window"
	ConversionRawOnly        = "raw_only"
)

const reasonInvalidProfile = "invalid_conversion_profile"

type converter interface {
	convert(raw decimal.Decimal) (decimal.Decimal, bool)
}

// linear: physical = a*raw + b
type linear struct {
	A *decimal.Decimal `json:"a"`
	B *decimal.Decimal `json:"b"`
}

func (l linear) convert(raw decimal.Decimal) (decimal.Decimal, bool) {
	return l.A.Mul(raw).Add(*l.B), true
}

// polynomial: physical = sum(coefficients[i] * raw^i)
type polynomial struct {
	Coefficients []decimal.Decimal `json:"coefficients"`
}

func (p polynomial) convert(raw decimal.Decimal) (decimal.Decimal, bool) {
	// Horner's scheme from the highest degree down.
	out := decimal.Zero
	for i := len(p.Coefficients) - 1; i >= 0; i-- {
		out = out.Mul(raw).Add(p.Coefficients[i])
	}
	return out, true
}

// lookupTable interpolates linearly between points sorted by raw value.
// Readings outside the table do not convert.
type lookupTable struct {
	Points [][2]decimal.Decimal `json:"points"`
}

func (t lookupTable) convert(raw decimal.Decimal) (decimal.Decimal, bool) {
	pts := t.Points
	if raw.LessThan(pts[0][0]) || raw.GreaterThan(pts[len(pts)-1][0]) {
		return decimal.Zero, false
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i][0].GreaterThanOrEqual(raw) })
	if pts[i][0].Equal(raw) {
		return pts[i][1], true
	}
	lo, hi := pts[i-1], pts[i]
	frac := raw.Sub(lo[0]).Div(hi[0].Sub(lo[0]))
	return lo[1].Add(hi[1].Sub(lo[1]).Mul(frac)), true
}

// Profile is a parsed conversion profile ready to apply to readings.
type Profile struct {
	ID        string
	ValidFrom *time.Time
	ValidTo   *time.Time
	conv      converter
}

// ValidatePayload checks that payload is well formed for kind.
func ValidatePayload(kind string, payload []byte) error {
	_, err := parseConverter(kind, payload)
	return err
}

func NewProfile(p *models.ConversionProfile) (*Profile, error) {
	if p == nil {
		return nil, nil
	}
	conv, err := parseConverter(p.Kind, p.Payload)
	if err != nil {
		return nil, err
	}
	return &Profile{ID: p.ID, ValidFrom: p.ValidFrom, ValidTo: p.ValidTo, conv: conv}, nil
}

// Apply converts raw taken at ts. Readings outside the validity window or
// the converter's domain keep only their raw value.
func (p *Profile) Apply(ts time.Time, raw float64) (*float64, string) {
	if p == nil {
		return nil, ConversionRawOnly
	}
	if p.ValidFrom != nil && ts.Before(*p.ValidFrom) {
		return nil, ConversionOutOfWindow
	}
	if p.ValidTo != nil && !ts.Before(*p.ValidTo) {
		return nil, ConversionOutOfWindow
	}
	out, ok := p.conv.convert(decimal.NewFromFloat(raw))
	if !ok {
		return nil, ConversionOutOfWindow
	}
	v := out.InexactFloat64()
	return &v, ConversionConverted
}

func parseConverter(kind string, payload []byte) (converter, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	switch kind {
	case KindLinear:
		var l linear
		if err := json.Unmarshal(payload, &l); err != nil {
			return nil, invalidProfile("linear payload: %v", err)
		}
		if l.A == nil || l.B == nil {
			return nil, invalidProfile("linear payload needs a and b")
		}
		return l, nil
	case KindPolynomial:
		var p polynomial
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, invalidProfile("polynomial payload: %v", err)
		}
		if len(p.Coefficients) == 0 {
			return nil, invalidProfile("polynomial payload needs coefficients")
		}
		return p, nil
	case KindLookupTable:
		var t lookupTable
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, invalidProfile("lookup_table payload: %v", err)
		}
		if len(t.Points) < 2 {
			return nil, invalidProfile("lookup_table payload needs at least two points")
		}
		sort.Slice(t.Points, func(i, j int) bool { return t.Points[i][0].LessThan(t.Points[j][0]) })
		for i := 1; i < len(t.Points); i++ {
			if t.Points[i][0].Equal(t.Points[i-1][0]) {
				return nil, invalidProfile("lookup_table raw values must be distinct")
			}
		}
		return t, nil
	}
	return nil, invalidProfile("unknown conversion kind %q", kind)
}

func invalidProfile(format string, args ...any) error {
	return apperr.Validation(reasonInvalidProfile, format, args...)
}
