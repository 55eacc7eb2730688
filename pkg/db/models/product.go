package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/pkg/enums"
)

// Product is a unique second-hand listing. A product is sold at most once; the
// reservation columns describe the exclusive hold a shopper session has on it.
type Product struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID           uuid.UUID       `gorm:"column:owner_id;type:uuid;not null"`
	Name              string          `gorm:"column:name;not null"`
	Description       *string         `gorm:"column:description"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Reserved          bool            `gorm:"column:reserved;not null;default:false"`
	ReservationExpiry *time.Time      `gorm:"column:reservation_expiry"`
	ReservedBy        *string         `gorm:"column:reserved_by"`
	SaleID            *uuid.UUID      `gorm:"column:sale_id;type:uuid;index"`
	Deleted           bool            `gorm:"column:deleted;not null;default:false"`
	DeletedAt         *time.Time      `gorm:"column:deleted_at"`
	DeletedBy         *string         `gorm:"column:deleted_by"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Sold reports whether the product belongs to a committed sale.
func (p Product) Sold() bool {
	return p.SaleID != nil
}

// State derives the lifecycle state; sold wins over everything else.
func (p Product) State() enums.ProductState {
	switch {
	case p.Sold():
		return enums.ProductStateSold
	case p.Deleted:
		return enums.ProductStateDeleted
	case p.Reserved:
		return enums.ProductStateReserved
	default:
		return enums.ProductStateAvailable
	}
}

// HoldValidAt reports whether the product is reserved, unsold, listed and its
// hold is still in the future at asOf.
func (p Product) HoldValidAt(asOf time.Time) bool {
	if p.Sold() || p.Deleted || !p.Reserved || p.ReservationExpiry == nil {
		return false
	}
	return p.ReservationExpiry.After(asOf)
}

// HeldBy reports whether sessionID owns the reservation.
func (p Product) HeldBy(sessionID string) bool {
	return p.Reserved && p.ReservedBy != nil && *p.ReservedBy == sessionID
}
