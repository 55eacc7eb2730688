package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale is the immutable record of a completed checkout.
type Sale struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID   uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;index"`
	SessionID string          `gorm:"column:session_id;not null"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	Products  []Product       `gorm:"foreignKey:SaleID"`
}

func (s *Sale) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// ProductIDs lists the ids of the sold products in load order.
func (s Sale) ProductIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Products))
	for _, p := range s.Products {
		ids = append(ids, p.ID)
	}
	return ids
}
