package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{buyer_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Vendor statement pages: hash statement:{vendor_id}, field {cursor}:{limit} -> JSON statement
	KeyStatement = "statement:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatement   = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)

// pendingMarker is stored under an idempotency key while the first request
// is still running.
const pendingMarker = "-"
