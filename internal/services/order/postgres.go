package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"table-orders/internal/database"
	"table-orders/internal/models"
)

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// WithinTx runs fn in a read committed transaction
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			// The caller's context may already be done.
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetOrder returns the order with its line items
func (s *PostgresStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx, database.GetOrderSQL, orderID))
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, database.GetOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LineItem, error) {
		var li models.LineItem
		err := row.Scan(&li.OrderID, &li.ItemID, &li.ItemName, &li.Quantity, &li.UnitPrice)
		return li, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan order items: %w", err)
	}
	order.Items = items
	return order, nil
}

// OrderHistory returns the status log of an order, oldest first
func (s *PostgresStore) OrderHistory(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	rows, err := s.pool.Query(ctx, database.GetOrderStatusHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StatusLogEntry, error) {
		var e models.StatusLogEntry
		err := row.Scan(&e.Status, &e.ChangedAt, &e.Notes)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan status history: %w", err)
	}
	return history, nil
}

// Ping tests the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindItemByName(ctx context.Context, name string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := t.tx.QueryRow(ctx, database.FindItemByNameSQL, name).Scan(&item.ID, &item.Name, &item.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, database.InsertOrderSQL,
		order.TableNumber, order.SessionID, order.OrderDate, order.Status).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *pgTx) InsertLineItem(ctx context.Context, item models.LineItem) error {
	_, err := t.tx.Exec(ctx, database.InsertOrderItemSQL, item.OrderID, item.ItemID, item.Quantity, item.UnitPrice)
	return err
}

func (t *pgTx) SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, database.UpdateOrderTotalSQL, total, orderID)
	return err
}

func (t *pgTx) FindOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, database.FindLatestOrderBySessionSQL, sessionID))
}

func (t *pgTx) FindOrderByID(ctx context.Context, orderID int64) (*models.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, database.FindOrderForUpdateSQL, orderID))
}

func (t *pgTx) DeleteLineItems(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, database.DeleteOrderItemsSQL, orderID)
	return err
}

func (t *pgTx) DeleteOrder(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, database.DeleteOrderSQL, orderID)
	return err
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, database.UpdateOrderStatusIfSQL, to, orderID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertStatusLog(ctx context.Context, orderID int64, status models.OrderStatus, at time.Time, notes string) error {
	_, err := t.tx.Exec(ctx, database.InsertOrderStatusLogSQL, orderID, status, at, notes)
	return err
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.TableNumber, &o.SessionID, &o.OrderDate, &o.TotalAmount, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

var _ Store = (*PostgresStore)(nil)
