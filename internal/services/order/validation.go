package order

import (
	"fmt"
	"strings"

	"table-orders/internal/models"
)

const (
	maxItems        = 100
	maxItemNameLen  = 100
	maxSessionIDLen = 128
	maxQuantity     = 1000
)

// ValidatePlaceOrder checks a place order request before any storage access
func ValidatePlaceOrder(req *models.PlaceOrderRequest, requireSession bool) error {
	if err := validateSessionID(req.SessionID, requireSession); err != nil {
		return err
	}

	if err := validateTableNumber(req.TableNumber); err != nil {
		return err
	}

	if err := validateItems(req.Items); err != nil {
		return err
	}

	return nil
}

// ValidateCancelOrder checks that exactly one addressing key is present
func ValidateCancelOrder(req *models.CancelOrderRequest, allowByID bool) error {
	hasSession := strings.TrimSpace(req.SessionID) != ""
	hasID := req.OrderID != nil

	switch {
	case hasSession && hasID:
		return ValidationError{
			Field:   "session_id",
			Message: "provide either session_id or order_id, not both",
		}
	case hasSession:
		return validateSessionID(req.SessionID, true)
	case hasID:
		if !allowByID {
			return ValidationError{
				Field:   "order_id",
				Message: "cancellation by order id is disabled",
			}
		}
		if *req.OrderID <= 0 {
			return ValidationError{
				Field:   "order_id",
				Message: "order id must be positive",
			}
		}
		return nil
	default:
		field := "session_id"
		if allowByID {
			field = "session_id or order_id"
		}
		return ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
}

func validateSessionID(sessionID string, required bool) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		if required {
			return ValidationError{
				Field:   "session_id",
				Message: "session id is required",
			}
		}
		return nil
	}

	if len(sessionID) > maxSessionIDLen {
		return ValidationError{
			Field:   "session_id",
			Message: fmt.Sprintf("session id must be at most %d characters", maxSessionIDLen),
		}
	}
	return nil
}

func validateTableNumber(tableNumber *int) error {
	if tableNumber != nil && *tableNumber <= 0 {
		return ValidationError{
			Field:   "table_number",
			Message: "table number must be positive",
		}
	}
	return nil
}

func validateItems(items []models.RequestedItem) error {
	if len(items) == 0 {
		return ValidationError{
			Field:   "items",
			Message: "items cannot be empty",
		}
	}

	if len(items) > maxItems {
		return ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("a maximum of %d items is allowed", maxItems),
		}
	}

	for i, item := range items {
		if err := validateItem(item, i); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(item models.RequestedItem, index int) error {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].item_name", index),
			Message: "item name is required",
		}
	}

	if len(name) > maxItemNameLen {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].item_name", index),
			Message: fmt.Sprintf("item name must be at most %d characters", maxItemNameLen),
		}
	}

	if item.Quantity <= 0 {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].quantity", index),
			Message: "item quantity must be greater than 0",
		}
	}

	if item.Quantity > maxQuantity {
		return ValidationError{
			Field:   fmt.Sprintf("items[%d].quantity", index),
			Message: fmt.Sprintf("item quantity must be less than or equal to %d", maxQuantity),
		}
	}
	return nil
}
