package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventSubOrderTransitioned = "SubOrderTransitioned"
	EventLedgerPosted         = "LedgerPosted"
	EventBidPlaced            = "BidPlaced"
	EventEscrowHeld           = "EscrowHeld"
	EventEscrowReleased       = "EscrowReleased"
	EventEscrowRefunded       = "EscrowRefunded"
	EventListingSold          = "ListingSold"
	EventSettlementRequested  = "SettlementRequested"
	EventSettlementProcessed  = "SettlementProcessed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // entity id, also the partition key
	Payload       json.RawMessage `json:"payload"`
}

// New builds a v1 envelope around payload.
func New(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Publisher delivers committed facts to the event bus. Engines publish only
// after their transaction commits; delivery failures never undo state.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Envelope)
}

type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) {}

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu        sync.Mutex
	Published []Published
}

type Published struct {
	Topic    string
	Envelope Envelope
}

func (r *Recorder) Publish(_ context.Context, topic string, ev Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Published = append(r.Published, Published{Topic: topic, Envelope: ev})
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Published))
	for _, p := range r.Published {
		out = append(out, p.Envelope.EventType)
	}
	return out
}

// ---- Payloads ----

type SubOrderTransitionedPayload struct {
	SubOrderID string    `json:"sub_order_id"`
	OrderID    string    `json:"order_id"`
	VendorID   string    `json:"vendor_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

type LedgerPostedPayload struct {
	TransactionID string   `json:"transaction_id"`
	ReferenceID   string   `json:"reference_id"`
	Actors        []string `json:"actors"`
	Reasons       []string `json:"reasons"`
}

type BidPlacedPayload struct {
	ListingID string `json:"listing_id"`
	BidID     string `json:"bid_id"`
	BidderID  string `json:"bidder_id"`
	Amount    int64  `json:"amount"`
}

type EscrowPayload struct {
	DealID    string `json:"deal_id"`
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	SellerID  string `json:"seller_id"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee,omitempty"`
	Status    string `json:"status"`
}

type ListingSoldPayload struct {
	ListingID string `json:"listing_id"`
	OwnerID   string `json:"owner_id"`
	DealID    string `json:"deal_id,omitempty"`
}

type SettlementPayload struct {
	RequestID string `json:"request_id"`
	VendorID  string `json:"vendor_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}
