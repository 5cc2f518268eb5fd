package redisx

import "time"

const (
	// Idempotency for checkout: idem:checkout:{external_id} -> order_id
	KeyIdemCheckout = "idem:checkout:%s"

	// Rate-limit window counter: rl:{name}:{key}:{window_start_unix}
	KeyRateWindow = "rl:%s:%s:%d"
)

var (
	TTLIdempotency = 24 * time.Hour
)
