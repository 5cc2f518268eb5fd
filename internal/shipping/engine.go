// Package shipping prices shipments from postal code, weight and volume.
// The engine is pure: one Config in, deterministic quotes out.
package shipping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agromarket/fulfillment/internal/pricing"
)

type ZoneRule struct {
	Prefix string `json:"prefix"`
	Zone   string `json:"zone"`
}

// Rate prices one (zone, method, weight range). MaxKg <= 0 means unbounded.
type Rate struct {
	Zone    string  `json:"zone"`
	Method  string  `json:"method"`
	MinKg   float64 `json:"min_kg"`
	MaxKg   float64 `json:"max_kg"`
	Cost    float64 `json:"cost"`
	EtaDays int     `json:"eta_days"`
}

type Config struct {
	Zones             []ZoneRule `json:"zones"`
	DefaultZone       string     `json:"default_zone"`
	Rates             []Rate     `json:"rates"`
	VolumetricDivisor float64    `json:"volumetric_divisor"`
	FlatBase          float64    `json:"flat_base"`
	CODFee            float64    `json:"cod_fee"`
	FreeThreshold     float64    `json:"free_threshold"` // 0 disables
}

type Item struct {
	Qty      int
	WeightKg float64
	LengthCm float64
	WidthCm  float64
	HeightCm float64
}

type Request struct {
	Method     pricing.Method
	PostalCode string
	Items      []Item
	Subtotal   float64
}

type Breakdown struct {
	ActualKg     float64 `json:"actual_kg"`
	VolumetricKg float64 `json:"volumetric_kg"`
	ChargeableKg float64 `json:"chargeable_kg"`
	BaseCost     float64 `json:"base_cost"`
	CODFee       float64 `json:"cod_fee"`
	EtaDays      int     `json:"eta_days"`
}

type Quote struct {
	Zone         string    `json:"zone"`
	ChargeableKg float64   `json:"chargeable_kg"`
	Cost         float64   `json:"cost"`
	Breakdown    Breakdown `json:"breakdown"`
	RuleTrace    []string  `json:"rule_trace"`
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.VolumetricDivisor <= 0 {
		cfg.VolumetricDivisor = 5000
	}
	// longest prefix wins; sort once so Quote is a scan
	sort.SliceStable(cfg.Zones, func(i, j int) bool {
		return len(cfg.Zones[i].Prefix) > len(cfg.Zones[j].Prefix)
	})
	return &Engine{cfg: cfg}
}

// VolumetricKg converts dimensions to courier weight: (L×W×H)/divisor.
func (e *Engine) VolumetricKg(lengthCm, widthCm, heightCm float64) float64 {
	return pricing.Round2(lengthCm * widthCm * heightCm / e.cfg.VolumetricDivisor)
}

func (e *Engine) zoneFor(postalCode string) (zone, prefix string) {
	for _, zr := range e.cfg.Zones {
		if zr.Prefix != "" && strings.HasPrefix(postalCode, zr.Prefix) {
			return zr.Zone, zr.Prefix
		}
	}
	return e.cfg.DefaultZone, ""
}

func (e *Engine) rateFor(zone string, method pricing.Method, kg float64) *Rate {
	for i := range e.cfg.Rates {
		r := &e.cfg.Rates[i]
		if r.Zone != zone {
			continue
		}
		if r.Method != string(method) && !(method == pricing.MethodCourierCOD && r.Method == string(pricing.MethodCourier)) {
			continue
		}
		if kg < r.MinKg {
			continue
		}
		if r.MaxKg > 0 && kg > r.MaxKg {
			continue
		}
		return r
	}
	return nil
}

func (e *Engine) Quote(req Request) Quote {
	var q Quote

	if req.Method == pricing.MethodPickup {
		q.Cost = 0
		q.RuleTrace = append(q.RuleTrace, "pickup: cost forced to 0")
		return q
	}

	// chargeable weight is resolved per item: a dense item and a bulky item
	// in one cart each pay their own worse weight
	var actual, volumetric, chargeable float64
	for _, it := range req.Items {
		qty := float64(it.Qty)
		a := it.WeightKg * qty
		var v float64
		if it.LengthCm > 0 && it.WidthCm > 0 && it.HeightCm > 0 {
			v = e.VolumetricKg(it.LengthCm, it.WidthCm, it.HeightCm) * qty
		}
		actual += a
		volumetric += v
		if v > a {
			chargeable += v
		} else {
			chargeable += a
		}
	}
	actual = pricing.Round2(actual)
	volumetric = pricing.Round2(volumetric)
	chargeable = pricing.Round2(chargeable)

	zone, prefix := e.zoneFor(req.PostalCode)
	if prefix != "" {
		q.RuleTrace = append(q.RuleTrace, fmt.Sprintf("zone %s matched prefix %q", zone, prefix))
	} else {
		q.RuleTrace = append(q.RuleTrace, fmt.Sprintf("zone %s by default (no prefix match)", zone))
	}

	var cost float64
	var eta int
	if r := e.rateFor(zone, req.Method, chargeable); r != nil {
		cost = r.Cost
		eta = r.EtaDays
		q.RuleTrace = append(q.RuleTrace,
			fmt.Sprintf("rate %s %s %.2f-%.2fkg -> %.2f", r.Zone, r.Method, r.MinKg, r.MaxKg, r.Cost))
	} else {
		cost = e.cfg.FlatBase
		q.RuleTrace = append(q.RuleTrace, fmt.Sprintf("no rate row, flat base %.2f", e.cfg.FlatBase))
	}
	base := cost

	var codFee float64
	if req.Method == pricing.MethodCourierCOD {
		codFee = e.cfg.CODFee
		cost += codFee
		q.RuleTrace = append(q.RuleTrace, fmt.Sprintf("cod surcharge +%.2f", codFee))
	}

	if e.cfg.FreeThreshold > 0 && req.Subtotal >= e.cfg.FreeThreshold {
		cost = 0
		q.RuleTrace = append(q.RuleTrace,
			fmt.Sprintf("free shipping: subtotal %.2f >= %.2f", req.Subtotal, e.cfg.FreeThreshold))
	}

	q.Zone = zone
	q.ChargeableKg = chargeable
	q.Cost = pricing.Round2(cost)
	q.Breakdown = Breakdown{
		ActualKg:     actual,
		VolumetricKg: volumetric,
		ChargeableKg: chargeable,
		BaseCost:     pricing.Round2(base),
		CODFee:       pricing.Round2(codFee),
		EtaDays:      eta,
	}
	return q
}
