package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"table-orders/internal/models"
)

// Store gives the workflow scoped transactions and the read side
type Store interface {
	// WithinTx runs fn in one transaction. It commits when fn returns nil and
	// rolls back on error or panic.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	OrderHistory(ctx context.Context, orderID int64) ([]models.StatusLogEntry, error)
	Ping(ctx context.Context) error
}

// Tx is the set of statements the workflow runs inside a transaction.
// Lookups return ErrRecordNotFound when nothing matches.
type Tx interface {
	FindItemByName(ctx context.Context, name string) (*models.CatalogItem, error)
	InsertOrder(ctx context.Context, order *models.Order) (int64, error)
	InsertLineItem(ctx context.Context, item models.LineItem) error
	SetOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error

	// FindOrderBySession returns the most recent placed order of the session,
	// or its most recent order when none is placed, locked.
	FindOrderBySession(ctx context.Context, sessionID string) (*models.Order, error)
	// FindOrderByID returns the order, locked.
	FindOrderByID(ctx context.Context, orderID int64) (*models.Order, error)

	DeleteLineItems(ctx context.Context, orderID int64) error
	DeleteOrder(ctx context.Context, orderID int64) error
	// UpdateOrderStatus moves the order from one status to another and
	// reports whether a row was changed.
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error)
	InsertStatusLog(ctx context.Context, orderID int64, status models.OrderStatus, at time.Time, notes string) error
}
