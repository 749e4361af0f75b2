package order

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-orders/internal/config"
	"table-orders/internal/database"
	"table-orders/internal/models"
)

// setupSQLiteStore opens a migrated in-memory database with the burger catalog
func setupSQLiteStore(t *testing.T) (*SQLStore, *sqlx.DB) {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:         config.DriverSQLite,
			DSN:            ":memory:",
			ConnectRetries: 1,
		},
	}
	db, err := database.OpenSQL(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunSQLMigrations(db, config.DriverSQLite, database.Up, testLogger()))

	_, err = db.Exec(`INSERT INTO items (item_name, price) VALUES ('Burger', 8.00), ('Fries', 3.00)`)
	require.NoError(t, err)

	return NewSQLStore(db, config.DriverSQLite), db
}

func countRows(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestSQLStore_PlaceAndCancel(t *testing.T) {
	store, db := setupSQLiteStore(t)
	svc := newTestService(store, defaultOptions())
	ctx := context.Background()

	placed := placeBurgerAndFries(t, svc, "sess-1")
	assert.True(t, decimal.RequireFromString("19.00").Equal(placed.TotalAmount))
	assert.Equal(t, 2, countRows(t, db, "order_items"))

	order, err := svc.GetOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaced, order.Status)
	assert.True(t, decimal.RequireFromString("19").Equal(order.TotalAmount), "stored total %s", order.TotalAmount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Burger", order.Items[0].ItemName)
	assert.True(t, decimal.RequireFromString("8").Equal(order.Items[0].UnitPrice))

	_, err = svc.CancelBySession(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, countRows(t, db, "order_items"))

	order, err = svc.GetOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, order.Status)
	require.Len(t, order.Items, 2)
	assert.True(t, order.TotalAmount.Equal(sumLineTotals(order)), "total %s, lines %s", order.TotalAmount, sumLineTotals(order))

	_, err = svc.CancelBySession(ctx, "sess-1", "")
	assert.ErrorIs(t, err, ErrInvalidState)

	history, err := svc.OrderHistory(ctx, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, history.History, 2)
	assert.Equal(t, models.StatusCanceled, history.History[1].Status)
}

func TestSQLStore_UnknownItemLeavesNothing(t *testing.T) {
	store, db := setupSQLiteStore(t)
	svc := newTestService(store, defaultOptions())

	_, err := svc.PlaceOrder(context.Background(), &models.PlaceOrderRequest{
		SessionID: "sess-1",
		Items: []models.RequestedItem{
			{Name: "Burger", Quantity: 1},
			{Name: "Pizza", Quantity: 1},
		},
	}, "")

	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countRows(t, db, "orders"))
	assert.Zero(t, countRows(t, db, "order_items"))
	assert.Zero(t, countRows(t, db, "order_status_log"))
}

func TestSQLStore_DeletePolicyRemovesRows(t *testing.T) {
	store, db := setupSQLiteStore(t)
	opts := defaultOptions()
	opts.CancelPolicy = models.CancelDelete
	svc := newTestService(store, opts)

	placed := placeBurgerAndFries(t, svc, "sess-1")
	resp, err := svc.Cancel(context.Background(), &models.CancelOrderRequest{OrderID: &placed.OrderID}, "")
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assert.Zero(t, countRows(t, db, "orders"))
	assert.Zero(t, countRows(t, db, "order_items"))
	assert.Zero(t, countRows(t, db, "order_status_log"))

	_, err = svc.GetOrder(context.Background(), placed.OrderID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Cancel(context.Background(), &models.CancelOrderRequest{OrderID: &placed.OrderID}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_LatestOrderOfSession(t *testing.T) {
	store, _ := setupSQLiteStore(t)
	svc := newTestService(store, defaultOptions())

	first := placeBurgerAndFries(t, svc, "sess-1")
	second := placeBurgerAndFries(t, svc, "sess-1")
	require.NotEqual(t, first.OrderID, second.OrderID)

	resp, err := svc.CancelBySession(context.Background(), "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, second.OrderID, resp.OrderID)
}

func TestSQLStore_SessionCancelSkipsCanceledOrders(t *testing.T) {
	store, _ := setupSQLiteStore(t)
	svc := newTestService(store, defaultOptions())
	ctx := context.Background()

	first := placeBurgerAndFries(t, svc, "sess-1")
	second := placeBurgerAndFries(t, svc, "sess-1")

	resp, err := svc.CancelBySession(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, second.OrderID, resp.OrderID)

	resp, err = svc.CancelBySession(ctx, "sess-1", "")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, resp.OrderID)

	_, err = svc.CancelBySession(ctx, "sess-1", "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSQLStore_RollsBackOnPanic(t *testing.T) {
	store, db := setupSQLiteStore(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.InsertOrder(ctx, &models.Order{Status: models.StatusPlaced})
			require.NoError(t, err)
			panic("boom")
		})
	})

	assert.Zero(t, countRows(t, db, "orders"))
}

func TestSQLStore_ForeignKeysEnforced(t *testing.T) {
	store, _ := setupSQLiteStore(t)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertLineItem(ctx, models.LineItem{OrderID: 404, ItemID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1)})
	})
	assert.Error(t, err)
}

func TestSQLStore_SeedCatalog(t *testing.T) {
	store, _ := setupSQLiteStore(t)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		item, err := tx.FindItemByName(ctx, "red velvet cake")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("415").Equal(item.Price))

		_, err = tx.FindItemByName(ctx, "Red Velvet Cake ")
		assert.ErrorIs(t, err, ErrRecordNotFound)
		return nil
	})
	require.NoError(t, err)
}
