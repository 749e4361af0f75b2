package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"table-orders/internal/logger"
	"table-orders/internal/metrics"
	"table-orders/internal/models"
)

// Options holds the workflow switches
type Options struct {
	RequireSession  bool
	CancelPolicy    models.CancelPolicy
	AllowCancelByID bool
}

// Service places and cancels table orders
type Service struct {
	store  Store
	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a new order service
func NewService(store Store, opts Options, log *logger.Logger) *Service {
	if opts.CancelPolicy == "" {
		opts.CancelPolicy = models.CancelTransition
	}
	return &Service{
		store:  store,
		opts:   opts,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder prices the requested items against the catalog and stores the
// order, its line items and total in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, req *models.PlaceOrderRequest, requestID string) (*models.PlaceOrderResponse, error) {
	if err := ValidatePlaceOrder(req, s.opts.RequireSession); err != nil {
		metrics.OrderFailures.WithLabelValues("place", "validation").Inc()
		return nil, err
	}

	var (
		orderID int64
		total   decimal.Decimal
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now()
		order := &models.Order{
			TableNumber: req.TableNumber,
			SessionID:   optionalString(req.SessionID),
			OrderDate:   now,
			TotalAmount: decimal.Zero,
			Status:      models.StatusPlaced,
		}

		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return StorageError{Op: "insert order", Err: err}
		}

		sum := decimal.Zero
		for _, requested := range req.Items {
			name := strings.TrimSpace(requested.Name)
			item, err := tx.FindItemByName(ctx, name)
			if errors.Is(err, ErrRecordNotFound) {
				return NotFoundError{Entity: "item", Key: name}
			}
			if err != nil {
				return StorageError{Op: "find item", Err: err}
			}

			line := models.LineItem{
				OrderID:   id,
				ItemID:    item.ID,
				ItemName:  item.Name,
				Quantity:  requested.Quantity,
				UnitPrice: item.Price,
			}
			if err := tx.InsertLineItem(ctx, line); err != nil {
				return StorageError{Op: "insert line item", Err: err}
			}
			sum = sum.Add(line.LineTotal())
		}

		if err := tx.SetOrderTotal(ctx, id, sum); err != nil {
			return StorageError{Op: "update order total", Err: err}
		}

		if err := tx.InsertStatusLog(ctx, id, models.StatusPlaced, now, "order placed"); err != nil {
			return StorageError{Op: "insert status log", Err: err}
		}

		orderID, total = id, sum
		return nil
	})
	if err != nil {
		err = asWorkflowError("place order", err)
		s.logFailure("order_place_failed", "Failed to place order", requestID, err, map[string]interface{}{
			"session_id": req.SessionID,
			"items":      len(req.Items),
		})
		metrics.OrderFailures.WithLabelValues("place", failureReason(err)).Inc()
		return nil, err
	}

	metrics.OrdersPlaced.Inc()
	s.logger.Info("order_placed", "Order placed", requestID, map[string]interface{}{
		"order_id":     orderID,
		"total_amount": total.StringFixed(2),
		"items":        len(req.Items),
	})

	return &models.PlaceOrderResponse{
		Message:     "Order placed successfully!",
		OrderID:     orderID,
		TotalAmount: total,
	}, nil
}

// Cancel dispatches on the addressing key of the request
func (s *Service) Cancel(ctx context.Context, req *models.CancelOrderRequest, requestID string) (*models.CancelOrderResponse, error) {
	if err := ValidateCancelOrder(req, s.opts.AllowCancelByID); err != nil {
		metrics.OrderFailures.WithLabelValues("cancel", "validation").Inc()
		return nil, err
	}

	if req.OrderID != nil {
		return s.CancelByID(ctx, *req.OrderID, requestID)
	}
	return s.CancelBySession(ctx, req.SessionID, requestID)
}

// CancelBySession cancels the newest placed order of a session
func (s *Service) CancelBySession(ctx context.Context, sessionID, requestID string) (*models.CancelOrderResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := validateSessionID(sessionID, true); err != nil {
		return nil, err
	}

	return s.cancel(ctx, "session", requestID, func(ctx context.Context, tx Tx) (*models.Order, error) {
		order, err := tx.FindOrderBySession(ctx, sessionID)
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFoundError{Entity: "order", By: "session_id", Key: sessionID}
		}
		return order, err
	})
}

// CancelByID cancels an order by its identifier
func (s *Service) CancelByID(ctx context.Context, orderID int64, requestID string) (*models.CancelOrderResponse, error) {
	if !s.opts.AllowCancelByID {
		return nil, ValidationError{Field: "order_id", Message: "cancellation by order id is disabled"}
	}
	if orderID <= 0 {
		return nil, ValidationError{Field: "order_id", Message: "order id must be positive"}
	}

	return s.cancel(ctx, "id", requestID, func(ctx context.Context, tx Tx) (*models.Order, error) {
		order, err := tx.FindOrderByID(ctx, orderID)
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFoundError{Entity: "order", Key: fmt.Sprint(orderID)}
		}
		return order, err
	})
}

type orderFinder func(ctx context.Context, tx Tx) (*models.Order, error)

func (s *Service) cancel(ctx context.Context, by, requestID string, find orderFinder) (*models.CancelOrderResponse, error) {
	var orderID int64
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := find(ctx, tx)
		if err != nil {
			return asWorkflowError("find order", err)
		}
		if order.Status != models.StatusPlaced {
			return InvalidStateError{OrderID: order.ID, Status: order.Status}
		}

		switch s.opts.CancelPolicy {
		case models.CancelDelete:
			if err := tx.DeleteLineItems(ctx, order.ID); err != nil {
				return StorageError{Op: "delete line items", Err: err}
			}
			if err := tx.DeleteOrder(ctx, order.ID); err != nil {
				return StorageError{Op: "delete order", Err: err}
			}
		default:
			// Line items stay so the canceled order keeps its total.
			changed, err := tx.UpdateOrderStatus(ctx, order.ID, models.StatusPlaced, models.StatusCanceled)
			if err != nil {
				return StorageError{Op: "update order status", Err: err}
			}
			if !changed {
				return InvalidStateError{OrderID: order.ID, Status: models.StatusCanceled}
			}
			if err := tx.InsertStatusLog(ctx, order.ID, models.StatusCanceled, s.now(), "canceled by "+by); err != nil {
				return StorageError{Op: "insert status log", Err: err}
			}
		}

		orderID = order.ID
		return nil
	})
	if err != nil {
		err = asWorkflowError("cancel order", err)
		s.logFailure("order_cancel_failed", "Failed to cancel order", requestID, err, map[string]interface{}{
			"by": by,
		})
		metrics.OrderFailures.WithLabelValues("cancel", failureReason(err)).Inc()
		return nil, err
	}

	metrics.OrdersCanceled.WithLabelValues(by).Inc()
	s.logger.Info("order_canceled", "Order canceled", requestID, map[string]interface{}{
		"order_id": orderID,
		"by":       by,
		"policy":   string(s.opts.CancelPolicy),
	})

	return &models.CancelOrderResponse{
		Success: true,
		Message: "Order canceled successfully",
		OrderID: orderID,
		Status:  models.StatusCanceled,
	}, nil
}

// GetOrder returns an order with its line items
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, NotFoundError{Entity: "order", Key: fmt.Sprint(orderID)}
	}
	if err != nil {
		return nil, StorageError{Op: "get order", Err: err}
	}
	return order, nil
}

// OrderHistory returns the status changes of an order, oldest first
func (s *Service) OrderHistory(ctx context.Context, orderID int64) (*models.OrderHistoryResponse, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	history, err := s.store.OrderHistory(ctx, orderID)
	if err != nil {
		return nil, StorageError{Op: "get order history", Err: err}
	}
	if history == nil {
		history = []models.StatusLogEntry{}
	}
	return &models.OrderHistoryResponse{
		OrderID: orderID,
		History: history,
	}, nil
}

// HealthCheck reports whether the store is reachable
func (s *Service) HealthCheck(ctx context.Context) bool {
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health_check_failed", "Database ping failed", "", err, nil)
		return false
	}
	return true
}

// Caller faults are logged at warn, storage failures at error.
func (s *Service) logFailure(action, message, requestID string, err error, fields map[string]interface{}) {
	if errors.Is(err, ErrStorage) {
		s.logger.Error(action, message, requestID, err, fields)
		return
	}
	s.logger.Warn(action, message, requestID, err, fields)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "storage"
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
