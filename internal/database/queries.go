package database

// PostgreSQL queries
const (
	FindItemByNameSQL = `
		SELECT item_id, item_name, price
		FROM items WHERE item_name = $1
		FOR SHARE`

	InsertOrderSQL = `
		INSERT INTO orders (table_number, session_id, order_date, total_amount, status)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING order_id`

	InsertOrderItemSQL = `
		INSERT INTO order_items (order_id, item_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`

	UpdateOrderTotalSQL = `
		UPDATE orders SET total_amount = $1 WHERE order_id = $2`

	InsertOrderStatusLogSQL = `
		INSERT INTO order_status_log (order_id, status, changed_at, notes)
		VALUES ($1, $2, $3, $4)`

	// The newest placed order of a session, else its newest order.
	FindLatestOrderBySessionSQL = `
		SELECT order_id, table_number, session_id, order_date, total_amount, status
		FROM orders WHERE session_id = $1
		ORDER BY (status = 'placed') DESC, order_date DESC, order_id DESC
		LIMIT 1
		FOR UPDATE`

	FindOrderForUpdateSQL = `
		SELECT order_id, table_number, session_id, order_date, total_amount, status
		FROM orders WHERE order_id = $1
		FOR UPDATE`

	UpdateOrderStatusIfSQL = `
		UPDATE orders SET status = $1
		WHERE order_id = $2 AND status = $3`

	DeleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	DeleteOrderSQL = `DELETE FROM orders WHERE order_id = $1`

	GetOrderSQL = `
		SELECT order_id, table_number, session_id, order_date, total_amount, status
		FROM orders WHERE order_id = $1`

	GetOrderItemsSQL = `
		SELECT oi.order_id, oi.item_id, i.item_name, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN items i ON i.item_id = oi.item_id
		WHERE oi.order_id = $1
		ORDER BY oi.line_id`

	GetOrderStatusHistorySQL = `
		SELECT status, changed_at, notes
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at ASC, id ASC`
)

// database/sql queries shared by mysql and sqlite. Row locks are appended per
// dialect since sqlite has no FOR UPDATE.
const (
	SQLFindItemByName = `
		SELECT item_id, item_name, price
		FROM items WHERE item_name = ?`

	SQLInsertOrder = `
		INSERT INTO orders (table_number, session_id, order_date, total_amount, status)
		VALUES (?, ?, ?, 0, ?)`

	SQLInsertOrderItem = `
		INSERT INTO order_items (order_id, item_id, quantity, unit_price)
		VALUES (?, ?, ?, ?)`

	SQLUpdateOrderTotal = `
		UPDATE orders SET total_amount = ? WHERE order_id = ?`

	SQLInsertOrderStatusLog = `
		INSERT INTO order_status_log (order_id, status, changed_at, notes)
		VALUES (?, ?, ?, ?)`

	SQLFindLatestOrderBySession = `
		SELECT order_id, table_number, session_id, order_date, total_amount, status
		FROM orders WHERE session_id = ?
		ORDER BY (status = 'placed') DESC, order_date DESC, order_id DESC
		LIMIT 1`

	SQLFindOrderByID = `
		SELECT order_id, table_number, session_id, order_date, total_amount, status
		FROM orders WHERE order_id = ?`

	SQLUpdateOrderStatusIf = `
		UPDATE orders SET status = ?
		WHERE order_id = ? AND status = ?`

	SQLDeleteOrderItems = `DELETE FROM order_items WHERE order_id = ?`

	SQLDeleteOrder = `DELETE FROM orders WHERE order_id = ?`

	SQLGetOrderItems = `
		SELECT oi.order_id, oi.item_id, i.item_name, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN items i ON i.item_id = oi.item_id
		WHERE oi.order_id = ?
		ORDER BY oi.line_id`

	SQLGetOrderStatusHistory = `
		SELECT status, changed_at, notes
		FROM order_status_log
		WHERE order_id = ?
		ORDER BY changed_at ASC, id ASC`
)
