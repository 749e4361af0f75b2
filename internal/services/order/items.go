package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"table-orders/internal/models"
)

type rawItem struct {
	ItemName *string         `json:"item_name"`
	Name     *string         `json:"name"`
	Quantity json.RawMessage `json:"quantity"`
}

// ExtractItems normalizes raw item payloads into requested items.
// Names come from item_name, falling back to name, and are trimmed. A missing
// quantity means one; numeric strings are accepted.
func ExtractItems(raw []json.RawMessage) ([]models.RequestedItem, error) {
	items := make([]models.RequestedItem, 0, len(raw))
	for i, r := range raw {
		var ri rawItem
		if err := json.Unmarshal(r, &ri); err != nil {
			return nil, ValidationError{
				Field:   fmt.Sprintf("items[%d]", i),
				Message: "item must be an object",
			}
		}

		var name string
		switch {
		case ri.ItemName != nil:
			name = *ri.ItemName
		case ri.Name != nil:
			name = *ri.Name
		}

		qty, err := parseQuantity(ri.Quantity)
		if err != nil {
			return nil, ValidationError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: err.Error(),
			}
		}

		items = append(items, models.RequestedItem{
			Name:     strings.TrimSpace(name),
			Quantity: qty,
		})
	}
	return items, nil
}

func parseQuantity(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 1, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("quantity must be a whole number")
		}
		raw = []byte(strings.TrimSpace(s))
	}

	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("quantity must be a whole number")
	}
	if n <= 0 {
		return 0, fmt.Errorf("item quantity must be greater than 0")
	}
	return n, nil
}
