package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"virtual-market/internal/domain"
	"virtual-market/internal/logging"
	"virtual-market/internal/repo"
)

const createAttempts = 3

type OrderService interface {
	CreateOrder(ctx context.Context, sub domain.Submission) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	Accept(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	TrackOrder(ctx context.Context, orderNumber string) (*domain.Tracking, error)
	Stats(ctx context.Context) (*domain.Stats, error)
	ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// EventEmitter receives events after the mutation that produced them is persisted.
type EventEmitter interface {
	Emit(evt domain.Event)
}

// Recorder is the slice of metrics the service reports to.
type Recorder interface {
	OrderCreated()
	StatusChanged(to domain.OrderStatus)
}

type Options struct {
	DeliveryWindow time.Duration
	Now            func() time.Time
	Recorder       Recorder
}

type orderService struct {
	orderRepo      repo.OrderRepo
	events         EventEmitter
	log            logrus.FieldLogger
	validate       *validator.Validate
	numbers        *numberGenerator
	now            func() time.Time
	deliveryWindow time.Duration
	recorder       Recorder

	// locks keeps each order's events in the same order as its writes.
	locks orderLocks
}

func NewOrderService(
	orderRepo repo.OrderRepo,
	events EventEmitter,
	log logrus.FieldLogger,
	opts Options,
) OrderService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &orderService{
		orderRepo:      orderRepo,
		events:         events,
		log:            log,
		validate:       newValidator(),
		numbers:        &numberGenerator{},
		now:            now,
		deliveryWindow: opts.DeliveryWindow,
		recorder:       opts.Recorder,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, sub domain.Submission) (*domain.Order, error) {
	sub = sub.Normalized()
	if err := s.validateSubmission(sub); err != nil {
		return nil, err
	}

	items := sub.LineItems()
	now := s.timestamp()
	order := &domain.Order{
		ID:            uuid.New(),
		CustomerName:  sub.CustomerName,
		Phone:         sub.Phone,
		Email:         sub.Email,
		Address:       sub.Address,
		PaymentMethod: domain.PaymentMethod(sub.PaymentMethod),
		Items:         items,
		Total:         domain.ComputeTotal(items),
		Status:        domain.StatusNew,
		OrderDate:     now,
		Device:        sub.Device,
		UpdatedAt:     now,
	}

	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		order.OrderNumber = s.numbers.Next(now)
		err = s.orderRepo.CreateOrder(ctx, order)
		if !errors.Is(err, domain.ErrDuplicateOrderNumber) {
			break
		}
		s.log.WithField("order_number", order.OrderNumber).Warn("order number collision, retrying")
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create order", Err: err}
	}

	logging.With(s.log, logging.Fields{
		Component:   "order-service",
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
	}).Info("order created")

	if s.recorder != nil {
		s.recorder.OrderCreated()
	}
	s.events.Emit(domain.NewOrderEvent(*order))
	return order, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	if _, ok := domain.ParseStatus(string(status)); !ok {
		return nil, &domain.ValidationError{Fields: []string{"status"}, Msg: fmt.Sprintf("unknown status %q", status)}
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find order", Err: err}
	}
	if order == nil {
		return nil, &domain.NotFoundError{Resource: "order", Key: orderID.String()}
	}

	prev := order.Status
	if !prev.CanTransitionTo(status) {
		return nil, &domain.InvalidTransitionError{From: prev, To: status}
	}

	now := s.timestamp()
	order.Status = status
	order.UpdatedAt = now
	if prev == domain.StatusNew && status.Fulfilment() && order.AcceptedAt == nil {
		accepted := now
		order.AcceptedAt = &accepted
		if s.deliveryWindow > 0 {
			eta := now.Add(s.deliveryWindow)
			order.EstimatedDelivery = &eta
		}
	}

	updated, err := s.orderRepo.UpdateOrderStatus(ctx, order, prev)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "update order status", Err: err}
	}
	if !updated {
		// Another writer moved the order since it was read.
		return nil, &domain.InvalidTransitionError{From: prev, To: status}
	}

	logging.With(s.log, logging.Fields{
		Component:   "order-service",
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Status:      string(status),
	}).Infof("order status %s -> %s", prev, status)

	if s.recorder != nil {
		s.recorder.StatusChanged(status)
	}
	s.events.Emit(domain.StatusChangedEvent(*order, prev))
	return order, nil
}

func (s *orderService) Accept(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.UpdateStatus(ctx, orderID, domain.StatusProcessing)
}

func (s *orderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := s.orderRepo.ListOrders(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list orders", Err: err}
	}
	return orders, nil
}

func (s *orderService) TrackOrder(ctx context.Context, orderNumber string) (*domain.Tracking, error) {
	order, err := s.orderRepo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "find order", Err: err}
	}
	if order == nil {
		return nil, &domain.NotFoundError{Resource: "order", Key: orderNumber}
	}
	tracking := order.Tracking()
	return &tracking, nil
}

func (s *orderService) Stats(ctx context.Context) (*domain.Stats, error) {
	orders, err := s.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	var stats domain.Stats
	for _, o := range orders {
		switch o.Status {
		case domain.StatusNew:
			stats.New++
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusDelivering:
			stats.Delivering++
			stats.DeliveringSales = stats.DeliveringSales.Add(o.Total)
		case domain.StatusDelivered:
			stats.Delivered++
		}
	}
	return &stats, nil
}

// ArchiveStale moves orders that stayed in new for longer than olderThan to archived.
// A failure on one order is logged and the sweep goes on.
func (s *orderService) ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.orderRepo.FindStaleOrders(ctx, domain.StatusNew, s.now().Add(-olderThan))
	if err != nil {
		return 0, &domain.PersistenceError{Op: "find stale orders", Err: err}
	}
	archived := 0
	for _, o := range stale {
		if _, err := s.UpdateStatus(ctx, o.ID, domain.StatusArchived); err != nil {
			logging.With(s.log, logging.Fields{
				Component:   "order-service",
				OrderID:     o.ID.String(),
				OrderNumber: o.OrderNumber,
			}).WithError(err).Warn("archive failed")
			continue
		}
		archived++
	}
	return archived, nil
}

// timestamp is truncated to what Postgres stores so reads equal writes.
func (s *orderService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *orderService) validateSubmission(sub domain.Submission) error {
	var fields []string
	if err := s.validate.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &domain.ValidationError{Msg: err.Error()}
		}
		for _, fe := range verrs {
			fields = append(fields, fieldPath(fe.Namespace()))
		}
	}
	for i, it := range sub.Items {
		if it.Price.IsNegative() {
			fields = append(fields, fmt.Sprintf("items[%d].price", i))
		}
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}

	// A client-side total is advisory; it must agree with the line items when sent.
	if sub.Total != nil && !sub.Total.IsZero() && !sub.Total.Equal(domain.ComputeTotal(sub.LineItems())) {
		return &domain.ValidationError{Fields: []string{"total"}, Msg: "total does not match line items"}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// fieldPath drops the root struct name: "Submission.items[0].name" -> "items[0].name".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// orderLocks hands out one mutex per order id. Entries are dropped once no
// caller holds or waits on them.
type orderLocks struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func (l *orderLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	if l.byID == nil {
		l.byID = make(map[uuid.UUID]*orderLock)
	}
	e, ok := l.byID[id]
	if !ok {
		e = &orderLock{}
		l.byID[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.byID, id)
		}
		l.mu.Unlock()
	}
}

func (l *orderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// numberGenerator issues ORD-<unix millis>-<sequence>. The sequence is
// process-wide and strictly increasing, so two orders created in the same
// millisecond still get distinct numbers.
type numberGenerator struct {
	seq atomic.Uint64
}

func (g *numberGenerator) Next(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%d", now.UnixMilli(), g.seq.Add(1))
}
