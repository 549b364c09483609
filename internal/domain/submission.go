package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Submission is a raw checkout form as sent by the storefront.
type Submission struct {
	CustomerName  string           `json:"customerName" validate:"required"`
	Phone         string           `json:"phone" validate:"required"`
	Email         string           `json:"email" validate:"required,email"`
	Address       string           `json:"address"`
	PaymentMethod string           `json:"paymentMethod" validate:"required,oneof=cash card"`
	Items         []SubmissionItem `json:"items" validate:"required,min=1,dive"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Device        *Device          `json:"device,omitempty"`
}

type SubmissionItem struct {
	Name       string           `json:"name" validate:"required"`
	Price      decimal.Decimal  `json:"price"`
	Quantity   int              `json:"quantity" validate:"gt=0"`
	PricePerKg *decimal.Decimal `json:"pricePerKg,omitempty"`
}

// Normalized returns a copy with surrounding whitespace removed from the text
// fields, so a blank value fails the required checks.
func (s Submission) Normalized() Submission {
	s.CustomerName = strings.TrimSpace(s.CustomerName)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Email = strings.TrimSpace(s.Email)
	s.Address = strings.TrimSpace(s.Address)
	s.PaymentMethod = strings.TrimSpace(s.PaymentMethod)
	if s.Items != nil {
		items := make([]SubmissionItem, len(s.Items))
		for i, it := range s.Items {
			it.Name = strings.TrimSpace(it.Name)
			items[i] = it
		}
		s.Items = items
	}
	return s
}

func (s Submission) LineItems() []Item {
	items := make([]Item, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, Item{
			Name:       it.Name,
			Price:      it.Price,
			Quantity:   it.Quantity,
			PricePerKg: it.PricePerKg,
		})
	}
	return items
}
