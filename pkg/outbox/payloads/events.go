package payloads

import (
	"time"

	"github.com/google/uuid"
)

// SaleCompletedEvent is emitted in the checkout transaction once every
// product in the cart has been bound to the sale.
type SaleCompletedEvent struct {
	SaleID      uuid.UUID   `json:"sale_id"`
	BuyerID     uuid.UUID   `json:"buyer_id"`
	SessionID   string      `json:"session_id"`
	ProductIDs  []uuid.UUID `json:"product_ids"`
	Total       string      `json:"total"`
	CompletedAt time.Time   `json:"completed_at"`
}

// ReservationExpiredEvent reports a hold the sweeper cleared after its TTL lapsed.
type ReservationExpiredEvent struct {
	ProductID  uuid.UUID `json:"product_id"`
	SessionID  string    `json:"session_id,omitempty"`
	ExpiredAt  time.Time `json:"expired_at"`
	ReleasedAt time.Time `json:"released_at"`
}
