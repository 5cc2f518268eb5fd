package events

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced      = "OrderPlaced"
	EventStockRejected    = "StockRejected"
	EventStockLow         = "StockLow"
	EventOrderCancelled   = "OrderCancelled"
	EventNotifyDeadLetter = "NotificationDeadLettered"
)

const (
	TopicOrderPlaced      = "order.placed"
	TopicStockRejected    = "order.stock.rejected"
	TopicStockLow         = "stock.low"
	TopicOrderCancelled   = "order.cancelled"
	TopicNotifyDeadLetter = "notify.deadletter"
)

// Partition key = order_id so all events of one order keep their order.
func PartitionKey(id string) []byte { return []byte(id) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID    string    `json:"order_id"`
	ExternalID string    `json:"external_id,omitempty"`
	BuyerEmail string    `json:"buyer_email"`
	Total      float64   `json:"total"`
	Items      []ItemQty `json:"items"`
}

type StockRejectedDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type StockRejectedPayload struct {
	OrderID string                `json:"order_id,omitempty"`
	Reason  string                `json:"reason"`
	Details []StockRejectedDetail `json:"details,omitempty"`
}

type StockLowPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
	Threshold int    `json:"threshold"`
}

type OrderCancelledPayload struct {
	OrderID  string    `json:"order_id"`
	Restocks []ItemQty `json:"restocks"`
}

type NotifyDeadLetterPayload struct {
	NotificationID string `json:"notification_id"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Template       string `json:"template"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"last_error"`
}
