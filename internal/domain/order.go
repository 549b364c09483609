package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Totals go to the storefront and dashboard as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard
}

type Item struct {
	Name       string           `json:"name"`
	Price      decimal.Decimal  `json:"price"`
	Quantity   int              `json:"quantity"`
	PricePerKg *decimal.Decimal `json:"pricePerKg,omitempty"`
}

// Subtotal is price × quantity. PricePerKg is informational only.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Device identifies the browser an order was placed from, for push targeting.
type Device struct {
	DeviceID  string `json:"deviceId,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	OrderNumber       string          `json:"orderNumber"`
	CustomerName      string          `json:"customerName"`
	Phone             string          `json:"phone"`
	Email             string          `json:"email"`
	Address           string          `json:"address,omitempty"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod"`
	Items             []Item          `json:"items"`
	Total             decimal.Decimal `json:"total"`
	Status            OrderStatus     `json:"status"`
	OrderDate         time.Time       `json:"orderDate"`
	AcceptedAt        *time.Time      `json:"acceptedAt,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	Device            *Device         `json:"device,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// ComputeTotal sums the line-item subtotals.
func ComputeTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// DeviceKey returns the push registration key carried by the order, if any.
func (o *Order) DeviceKey() string {
	if o.Device == nil {
		return ""
	}
	return o.Device.DeviceID
}

// Tracking is the public, customer-safe view of an order.
type Tracking struct {
	OrderNumber       string      `json:"orderNumber"`
	Status            OrderStatus `json:"status"`
	OrderDate         time.Time   `json:"orderDate"`
	AcceptedAt        *time.Time  `json:"acceptedAt,omitempty"`
	EstimatedDelivery *time.Time  `json:"estimatedDelivery,omitempty"`
}

func (o *Order) Tracking() Tracking {
	return Tracking{
		OrderNumber:       o.OrderNumber,
		Status:            o.Status,
		OrderDate:         o.OrderDate,
		AcceptedAt:        o.AcceptedAt,
		EstimatedDelivery: o.EstimatedDelivery,
	}
}

// Stats backs the admin dashboard counters.
type Stats struct {
	New             int             `json:"new"`
	Processing      int             `json:"processing"`
	Delivering      int             `json:"delivering"`
	Delivered       int             `json:"delivered"`
	DeliveringSales decimal.Decimal `json:"deliveringSales"`
}
