package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"virtual-market/internal/domain"
)

type OrderRepo interface {
	// CreateOrder returns domain.ErrDuplicateOrderNumber when the number is taken.
	CreateOrder(ctx context.Context, order *domain.Order) error
	// FindById and FindByNumber return nil, nil when nothing matches.
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// ListOrders returns every order, newest first.
	ListOrders(ctx context.Context) ([]domain.Order, error)
	// UpdateOrderStatus writes status and timestamps only if the stored
	// status still equals prev. It reports whether a row was updated.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, prev domain.OrderStatus) (bool, error)
	FindStaleOrders(ctx context.Context, status domain.OrderStatus, before time.Time) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_number, customer_name, phone, email, address, payment_method,
	items, total, status, order_date, accepted_at, estimated_delivery, device, updated_at`

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	var device any
	if order.Device != nil {
		data, err := json.Marshal(order.Device)
		if err != nil {
			return fmt.Errorf("encode device: %w", err)
		}
		device = string(data)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.OrderNumber, order.CustomerName, order.Phone, order.Email, order.Address,
		string(order.PaymentMethod), string(items), order.Total, string(order.Status), order.OrderDate,
		nullTime(order.AcceptedAt), nullTime(order.EstimatedDelivery), device, order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateOrderNumber
	}
	return err
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return order, nil
}

func (r *orderRepo) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY order_date DESC, order_number DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order, prev domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    accepted_at = $2,
		    estimated_delivery = $3,
		    updated_at = $4
		WHERE id = $5 AND status = $6
	`,
		string(order.Status),
		nullTime(order.AcceptedAt),
		nullTime(order.EstimatedDelivery),
		order.UpdatedAt,
		order.ID,
		string(prev),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *orderRepo) FindStaleOrders(ctx context.Context, status domain.OrderStatus, before time.Time) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 AND order_date < $2 ORDER BY order_date`,
		string(status), before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o                   domain.Order
		payment, status     string
		items, device       []byte
		accepted, estimated sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.CustomerName,
		&o.Phone,
		&o.Email,
		&o.Address,
		&payment,
		&items,
		&o.Total,
		&status,
		&o.OrderDate,
		&accepted,
		&estimated,
		&device,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = domain.PaymentMethod(payment)
	o.Status = domain.OrderStatus(status)
	o.OrderDate = o.OrderDate.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.OrderNumber, err)
	}
	if len(device) > 0 {
		o.Device = &domain.Device{}
		if err := json.Unmarshal(device, o.Device); err != nil {
			return nil, fmt.Errorf("decode device of %s: %w", o.OrderNumber, err)
		}
	}
	if accepted.Valid {
		t := accepted.Time.UTC()
		o.AcceptedAt = &t
	}
	if estimated.Valid {
		t := estimated.Time.UTC()
		o.EstimatedDelivery = &t
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
