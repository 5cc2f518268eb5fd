// Package pricing computes order totals. Pure functions, no state.
//
// Tax is additive on the subtotal (tax = subtotal × rate). The alternative
// VAT-extraction model (vat = subtotal × rate/(1+rate)) is deliberately not
// used here; callers that need extracted VAT own that conversion.
package pricing

import "math"

type Method string

const (
	MethodCourier    Method = "COURIER"
	MethodCourierCOD Method = "COURIER_COD"
	MethodPickup     Method = "PICKUP"
)

const (
	DefaultFlatShipping = 3.50
	DefaultCODFee       = 4.00
	DefaultTaxRate      = 0.24
)

type Item struct {
	Price float64
	Qty   int
}

// Options override the marketplace defaults; nil means default.
type Options struct {
	BaseShipping *float64
	CODFee       *float64
	TaxRate      *float64
}

type Totals struct {
	Subtotal   float64 `json:"subtotal"`
	Shipping   float64 `json:"shipping"`
	CODFee     float64 `json:"cod_fee"`
	Tax        float64 `json:"tax"`
	GrandTotal float64 `json:"grand_total"`
}

// Round2 rounds to 2 decimals. Applied at every stage so float drift never
// reaches a displayed amount.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func Calc(items []Item, method Method, opts Options) Totals {
	var subtotal float64
	for _, it := range items {
		subtotal += it.Price * float64(it.Qty)
	}
	subtotal = Round2(subtotal)

	shipping := orDefault(opts.BaseShipping, DefaultFlatShipping)
	codFee := orDefault(opts.CODFee, DefaultCODFee)
	taxRate := orDefault(opts.TaxRate, DefaultTaxRate)

	if method == MethodPickup {
		shipping = 0
	}
	if method != MethodCourierCOD {
		codFee = 0
	}
	shipping = Round2(shipping)
	codFee = Round2(codFee)
	tax := Round2(subtotal * taxRate)

	return Totals{
		Subtotal:   subtotal,
		Shipping:   shipping,
		CODFee:     codFee,
		Tax:        tax,
		GrandTotal: Round2(subtotal + shipping + codFee + tax),
	}
}

func orDefault(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}
