package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/walamarket/pkg/db/models"
)

type productResponse struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Description       *string    `json:"description,omitempty"`
	Price             string     `json:"price"`
	ReservationExpiry *time.Time `json:"reservation_expiry,omitempty"`
}

func newProductResponses(products []models.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, productResponse{
			ID:                p.ID,
			Name:              p.Name,
			Description:       p.Description,
			Price:             p.Price.StringFixed(2),
			ReservationExpiry: p.ReservationExpiry,
		})
	}
	return out
}

type saleResponse struct {
	ID        uuid.UUID         `json:"id"`
	Total     string            `json:"total"`
	CreatedAt time.Time         `json:"created_at"`
	Products  []productResponse `json:"products"`
}

func newSaleResponse(sale models.Sale) saleResponse {
	return saleResponse{
		ID:        sale.ID,
		Total:     sale.Total.StringFixed(2),
		CreatedAt: sale.CreatedAt,
		Products:  newProductResponses(sale.Products),
	}
}
