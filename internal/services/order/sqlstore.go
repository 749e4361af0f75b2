package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"table-orders/internal/config"
	"table-orders/internal/database"
	"table-orders/internal/models"
)

// SQLStore implements Store for mysql and sqlite through database/sql
type SQLStore struct {
	db         *sqlx.DB
	shareLock  string
	updateLock string
}

// NewSQLStore creates a store for the given driver
func NewSQLStore(db *sqlx.DB, driver string) *SQLStore {
	s := &SQLStore{db: db}
	if driver == config.DriverMySQL {
		s.shareLock = " FOR SHARE"
		s.updateLock = " FOR UPDATE"
	}
	return s
}

// WithinTx runs fn in a transaction, rolling back on error or panic
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &sqlTx{tx: tx, store: s}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetOrder returns the order with its line items
func (s *SQLStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, database.SQLFindOrderByID, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items, database.SQLGetOrderItems, orderID); err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	return &order, nil
}

// OrderHistory returns the status log of an order, oldest first
func (s *SQLStore) OrderHistory(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error) {
	var history []models.StatusLogEntry
	if err := s.db.SelectContext(ctx, &history, database.SQLGetOrderStatusHistory, orderID); err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	return history, nil
}

// Ping tests the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlTx struct {
	tx    *sqlx.Tx
	store *SQLStore
}

func (t *sqlTx) FindItemByName(ctx context.Context, name string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := t.tx.GetContext(ctx, &item, database.SQLFindItemByName+t.store.shareLock, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *sqlTx) InsertOrder(ctx context.Context, order *models.Order) (int64, error) {
	res, err := t.tx.ExecContext(ctx, database.SQLInsertOrder,
		order.TableNumber, order.SessionID, order.OrderDate, order.Status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqlTx) InsertLineItem(ctx context.Context, item models.LineItem) error {
	_, err := t.tx.ExecContext(ctx, database.SQLInsertOrderItem, item.OrderID, item.ItemID, item.Quantity, item.UnitPrice)
	return err
}

func (t *sqlTx) SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, database.SQLUpdateOrderTotal, total, orderID)
	return err
}

func (t *sqlTx) FindOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	return t.getOrder(ctx, database.SQLFindLatestOrderBySession+t.store.updateLock, sessionID)
}

func (t *sqlTx) FindOrderByID(ctx context.Context, orderID int64) (*models.Order, error) {
	return t.getOrder(ctx, database.SQLFindOrderByID+t.store.updateLock, orderID)
}

func (t *sqlTx) getOrder(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *sqlTx) DeleteLineItems(ctx context.Context, orderID int64) error {
	_, err := t.tx.ExecContext(ctx, database.SQLDeleteOrderItems, orderID)
	return err
}

func (t *sqlTx) DeleteOrder(ctx context.Context, orderID int64) error {
	_, err := t.tx.ExecContext(ctx, database.SQLDeleteOrder, orderID)
	return err
}

func (t *sqlTx) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	res, err := t.tx.ExecContext(ctx, database.SQLUpdateOrderStatusIf, to, orderID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *sqlTx) InsertStatusLog(ctx context.Context, orderID int64, status models.OrderStatus, at time.Time, notes string) error {
	_, err := t.tx.ExecContext(ctx, database.SQLInsertOrderStatusLog, orderID, status, at, notes)
	return err
}

var _ Store = (*SQLStore)(nil)
