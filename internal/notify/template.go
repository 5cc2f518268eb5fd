package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Template names used across the core.
const (
	TemplateOrderPlacedBuyer = "order_placed_buyer"
	TemplateOrderPlacedAdmin = "order_placed_admin"
	TemplateOrderPlacedSMS   = "order_placed_sms"
	TemplateOrderCancelled   = "order_cancelled"
	TemplateLowStock         = "low_stock"
)

type Template struct {
	Subject string
	Body    string
}

// TemplateSet renders message bodies from (template, payload). Placeholders
// are {field} names looked up in the payload object; unknown templates render
// the raw payload so a delivery never blocks on copywriting.
type TemplateSet struct {
	templates map[string]Template
}

func NewTemplateSet(templates map[string]Template) *TemplateSet {
	return &TemplateSet{templates: templates}
}

func DefaultTemplates() *TemplateSet {
	return NewTemplateSet(map[string]Template{
		TemplateOrderPlacedBuyer: {
			Subject: "Your order {order_id} is confirmed",
			Body:    "Thanks for your order! Order {order_id}, total {total}. We'll let you know when it ships.",
		},
		TemplateOrderPlacedAdmin: {
			Subject: "New order {order_id}",
			Body:    "Order {order_id} placed by {buyer_email}, total {total}.",
		},
		TemplateOrderPlacedSMS: {
			Body: "Order {order_id} confirmed, total {total}.",
		},
		TemplateOrderCancelled: {
			Subject: "Order {order_id} cancelled",
			Body:    "Your order {order_id} was cancelled. Reserved items are back in stock.",
		},
		TemplateLowStock: {
			Subject: "Low stock: {name}",
			Body:    "Product {name} ({product_id}) is down to {remaining} units (threshold {threshold}).",
		},
	})
}

func (t *TemplateSet) Render(name string, payload json.RawMessage) (subject, body string) {
	tpl, ok := t.templates[name]
	if !ok {
		return name, string(payload)
	}

	var fields map[string]any
	_ = json.Unmarshal(payload, &fields)

	return substitute(tpl.Subject, fields), substitute(tpl.Body, fields)
}

func substitute(s string, fields map[string]any) string {
	for k, v := range fields {
		s = strings.ReplaceAll(s, "{"+k+"}", formatField(v))
	}
	return s
}

func formatField(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprint(x)
	}
}
