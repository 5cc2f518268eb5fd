package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/agromarket/fulfillment/internal/events"
	"github.com/agromarket/fulfillment/internal/inventory"
	"github.com/agromarket/fulfillment/internal/notify"
	"github.com/agromarket/fulfillment/internal/pricing"
	"github.com/agromarket/fulfillment/internal/shipping"
	"github.com/agromarket/fulfillment/internal/store"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	products map[string]store.Product
}

func (f *fakeCatalog) GetMany(_ context.Context, ids []string) (map[string]store.Product, error) {
	out := map[string]store.Product{}
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// fakeOrders persists orders in memory and enforces the same all-or-nothing
// reservation contract as the SQL store.
type fakeOrders struct {
	mu       sync.Mutex
	stock    map[string]int
	byID     map[string]*store.Order
	byExtID  map[string]string
	released map[string][]inventory.ItemQty
}

func newFakeOrders(stock map[string]int) *fakeOrders {
	return &fakeOrders{
		stock:    stock,
		byID:     map[string]*store.Order{},
		byExtID:  map[string]string{},
		released: map[string][]inventory.ItemQty{},
	}
}

func (f *fakeOrders) CreateWithReservation(_ context.Context, o *store.Order) ([]inventory.ReservedLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range o.Items {
		if f.stock[it.ProductID] < it.Qty {
			return nil, &inventory.InsufficientStockError{
				ProductID: it.ProductID, Needed: it.Qty, Available: f.stock[it.ProductID],
			}
		}
	}
	var lines []inventory.ReservedLine
	for _, it := range o.Items {
		f.stock[it.ProductID] -= it.Qty
		lines = append(lines, inventory.ReservedLine{ProductID: it.ProductID, Remaining: f.stock[it.ProductID]})
	}
	cp := *o
	f.byID[o.ID] = &cp
	if o.ExternalID != "" {
		f.byExtID[o.ExternalID] = o.ID
	}
	return lines, nil
}

func (f *fakeOrders) FindByExternalID(_ context.Context, externalID string) (*store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byExtID[externalID]; ok {
		return f.byID[id], nil
	}
	return nil, nil
}

func (f *fakeOrders) Get(_ context.Context, id string) (*store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.byID[id]; ok {
		return o, nil
	}
	return nil, assert.AnError
}

func (f *fakeOrders) SetStatus(_ context.Context, id string, status store.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].Status = status
	return nil
}

// ReleaseAll lets the same fake back inventory.Service for Cancel tests.
func (f *fakeOrders) ReleaseAll(_ context.Context, orderID string) ([]inventory.ItemQty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[orderID]
	if !ok {
		return nil, nil
	}
	if len(f.released[orderID]) > 0 {
		return nil, nil
	}
	var out []inventory.ItemQty
	for _, it := range o.Items {
		f.stock[it.ProductID] += it.Qty
		out = append(out, inventory.ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	f.released[orderID] = out
	return out, nil
}

func (f *fakeOrders) ReserveAll(context.Context, string, []inventory.ItemQty) ([]inventory.ReservedLine, error) {
	panic("not used")
}

type enqueueCall struct {
	channel  notify.Channel
	to       string
	template string
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (f *fakeQueue) Enqueue(_ context.Context, channel notify.Channel, to, template string, _ any) (*notify.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enqueueCall{channel, to, template})
	return &notify.Notification{}, nil
}

func (f *fakeQueue) templates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.template
	}
	return out
}

type fakeSink struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeSink) Publish(_, value []byte, _ ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, value)
}

func (f *fakeSink) envelopes(t *testing.T) []events.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Envelope, len(f.messages))
	for i, m := range f.messages {
		require.NoError(t, json.Unmarshal(m, &out[i]))
	}
	return out
}

func testEngine() *shipping.Engine {
	return shipping.NewEngine(shipping.Config{
		Zones:         []shipping.ZoneRule{{Prefix: "1", Zone: "GR_MAINLAND"}},
		DefaultZone:   "GR_MAINLAND",
		FlatBase:      3.50,
		CODFee:        4.00,
		FreeThreshold: 35.00,
	})
}

func newTestService(orders *fakeOrders, catalog *fakeCatalog) (*Service, *fakeQueue, *fakeSink, *fakeSink) {
	queue := &fakeQueue{}
	placed := &fakeSink{}
	rejected := &fakeSink{}
	return &Service{
		Orders:     orders,
		Products:   catalog,
		Inventory:  &inventory.Service{Store: orders, Queue: queue, AdminEmail: "admin@agromarket.gr"},
		Queue:      queue,
		Shipping:   testEngine(),
		Placed:     &events.Emitter{Sink: placed, Service: "test"},
		Rejected:   &events.Emitter{Sink: rejected, Service: "test"},
		Cancelled:  &events.Emitter{Sink: &fakeSink{}, Service: "test"},
		AdminEmail: "admin@agromarket.gr",
	}, queue, placed, rejected
}

func baseRequest() Request {
	return Request{
		ExternalID: "ext-1",
		BuyerEmail: "maria@example.gr",
		BuyerPhone: "+306912345678",
		PostalCode: "10431",
		Method:     pricing.MethodCourierCOD,
		Items:      []ItemRequest{{ProductID: "honey", Qty: 2}},
	}
}

func TestCheckoutPlacesOrderWithTotals(t *testing.T) {
	orders := newFakeOrders(map[string]int{"honey": 10})
	catalog := &fakeCatalog{products: map[string]store.Product{
		"honey": {ID: "honey", Name: "Honey", Price: 8.00, WeightKg: 0.5, LowStockThreshold: 2},
	}}
	svc, queue, placed, _ := newTestService(orders, catalog)

	conf, err := svc.Checkout(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, conf.Order)
	assert.False(t, conf.Replayed)

	// subtotal 16.00, courier base 3.50 (below free threshold), COD 4.00,
	// tax 16.00*0.24 = 3.84, total 27.34
	o := conf.Order
	assert.Equal(t, 16.00, o.Subtotal)
	assert.Equal(t, 3.50, o.ShippingCost)
	assert.Equal(t, 4.00, o.CODFee)
	assert.Equal(t, 3.84, o.Tax)
	assert.Equal(t, 27.34, o.Total)
	assert.Equal(t, store.OrderPending, o.Status)
	assert.Equal(t, 8, orders.stock["honey"])

	// the quote itself must not bake in the COD surcharge
	require.NotNil(t, conf.Quote)
	assert.Equal(t, 3.50, conf.Quote.Cost)

	assert.ElementsMatch(t, []string{
		notify.TemplateOrderPlacedBuyer,
		notify.TemplateOrderPlacedAdmin,
		notify.TemplateOrderPlacedSMS,
	}, queue.templates())

	envs := placed.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, events.EventOrderPlaced, envs[0].EventType)
}

func TestCheckoutFreeShippingOverThreshold(t *testing.T) {
	orders := newFakeOrders(map[string]int{"olive-oil": 10})
	catalog := &fakeCatalog{products: map[string]store.Product{
		"olive-oil": {ID: "olive-oil", Price: 12.50, WeightKg: 1},
	}}
	svc, _, _, _ := newTestService(orders, catalog)

	req := baseRequest()
	req.Method = pricing.MethodCourier
	req.Items = []ItemRequest{{ProductID: "olive-oil", Qty: 3}} // 37.50 >= 35.00

	conf, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 37.50, conf.Order.Subtotal)
	assert.Equal(t, 0.00, conf.Order.ShippingCost)
	assert.Equal(t, 0.00, conf.Order.CODFee)
}

func TestCheckoutInsufficientStockLeavesNoOrder(t *testing.T) {
	orders := newFakeOrders(map[string]int{"honey": 1})
	catalog := &fakeCatalog{products: map[string]store.Product{
		"honey": {ID: "honey", Price: 8.00},
	}}
	svc, queue, placed, rejected := newTestService(orders, catalog)

	_, err := svc.Checkout(context.Background(), baseRequest())

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "honey", stockErr.ProductID)

	assert.Empty(t, orders.byID)
	assert.Equal(t, 1, orders.stock["honey"])
	assert.Empty(t, queue.calls)
	assert.Empty(t, placed.messages)

	envs := rejected.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, events.EventStockRejected, envs[0].EventType)
	var p events.StockRejectedPayload
	require.NoError(t, json.Unmarshal(envs[0].Payload, &p))
	require.Len(t, p.Details, 1)
	assert.Equal(t, 2, p.Details[0].Required)
	assert.Equal(t, 1, p.Details[0].Available)
}

func TestCheckoutReplaysOnSameExternalID(t *testing.T) {
	orders := newFakeOrders(map[string]int{"honey": 10})
	catalog := &fakeCatalog{products: map[string]store.Product{
		"honey": {ID: "honey", Price: 8.00},
	}}
	svc, queue, placed, _ := newTestService(orders, catalog)

	first, err := svc.Checkout(context.Background(), baseRequest())
	require.NoError(t, err)

	second, err := svc.Checkout(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	// no second decrement, no second fanout
	assert.Equal(t, 8, orders.stock["honey"])
	assert.Len(t, placed.messages, 1)
	assert.Len(t, queue.templates(), 3)
}

func TestCheckoutValidation(t *testing.T) {
	svc, _, _, _ := newTestService(newFakeOrders(nil), &fakeCatalog{})

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing email", func(r *Request) { r.BuyerEmail = "" }},
		{"no items", func(r *Request) { r.Items = nil }},
		{"zero qty", func(r *Request) { r.Items[0].Qty = 0 }},
		{"bad method", func(r *Request) { r.Method = "TELEPORT" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.mutate(&req)
			_, err := svc.Checkout(context.Background(), req)
			var verr ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestCheckoutUnknownProduct(t *testing.T) {
	svc, _, _, _ := newTestService(newFakeOrders(nil), &fakeCatalog{})
	req := baseRequest()
	_, err := svc.Checkout(context.Background(), req)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "honey")
}

func TestCheckoutPickupSkipsQuote(t *testing.T) {
	orders := newFakeOrders(map[string]int{"honey": 10})
	catalog := &fakeCatalog{products: map[string]store.Product{
		"honey": {ID: "honey", Price: 8.00},
	}}
	svc, _, _, _ := newTestService(orders, catalog)

	req := baseRequest()
	req.Method = pricing.MethodPickup

	conf, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, conf.Quote)
	assert.Equal(t, 0.00, conf.Order.ShippingCost)
	assert.Equal(t, 0.00, conf.Order.CODFee)
}

func TestCancelRestocksOnce(t *testing.T) {
	orders := newFakeOrders(map[string]int{"honey": 10})
	catalog := &fakeCatalog{products: map[string]store.Product{
		"honey": {ID: "honey", Price: 8.00},
	}}
	svc, queue, _, _ := newTestService(orders, catalog)

	conf, err := svc.Checkout(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, 8, orders.stock["honey"])

	cancelled, err := svc.Cancel(context.Background(), conf.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderCancelled, cancelled.Status)
	assert.Equal(t, 10, orders.stock["honey"])
	assert.Contains(t, queue.templates(), notify.TemplateOrderCancelled)

	// repeat is a no-op
	before := len(queue.templates())
	again, err := svc.Cancel(context.Background(), conf.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, store.OrderCancelled, again.Status)
	assert.Equal(t, 10, orders.stock["honey"])
	assert.Len(t, queue.templates(), before)
}
