package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"virtual-market/internal/domain"
)

// memoryOrderRepo keeps orders in process memory. Used with STORE=memory and in tests.
type memoryOrderRepo struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*domain.Order
	byNumber map[string]uuid.UUID
}

func NewMemoryOrderRepo() OrderRepo {
	return &memoryOrderRepo{
		byID:     make(map[uuid.UUID]*domain.Order),
		byNumber: make(map[string]uuid.UUID),
	}
}

func (r *memoryOrderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNumber[order.OrderNumber]; exists {
		return domain.ErrDuplicateOrderNumber
	}
	stored := clone(order)
	r.byID[order.ID] = stored
	r.byNumber[order.OrderNumber] = order.ID
	return nil
}

func (r *memoryOrderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(o), nil
}

func (r *memoryOrderRepo) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[orderNumber]
	if !ok {
		return nil, nil
	}
	return clone(r.byID[id]), nil
}

func (r *memoryOrderRepo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]domain.Order, 0, len(r.byID))
	for _, o := range r.byID {
		orders = append(orders, *clone(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].OrderDate.After(orders[j].OrderDate)
		}
		return orders[i].OrderNumber > orders[j].OrderNumber
	})
	return orders, nil
}

func (r *memoryOrderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order, prev domain.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[order.ID]
	if !ok || stored.Status != prev {
		return false, nil
	}
	stored.Status = order.Status
	stored.AcceptedAt = copyTime(order.AcceptedAt)
	stored.EstimatedDelivery = copyTime(order.EstimatedDelivery)
	stored.UpdatedAt = order.UpdatedAt
	return true, nil
}

func (r *memoryOrderRepo) FindStaleOrders(ctx context.Context, status domain.OrderStatus, before time.Time) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []domain.Order
	for _, o := range r.byID {
		if o.Status == status && o.OrderDate.Before(before) {
			orders = append(orders, *clone(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderDate.Before(orders[j].OrderDate) })
	return orders, nil
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.Item(nil), o.Items...)
	c.AcceptedAt = copyTime(o.AcceptedAt)
	c.EstimatedDelivery = copyTime(o.EstimatedDelivery)
	if o.Device != nil {
		d := *o.Device
		c.Device = &d
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
