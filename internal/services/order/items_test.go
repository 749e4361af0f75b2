package order

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-orders/internal/models"
)

func rawItems(t *testing.T, payload string) []json.RawMessage {
	t.Helper()
	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestExtractItems(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []models.RequestedItem
	}{
		{
			name:    "item_name and numeric quantity",
			payload: `[{"item_name":"Burger","quantity":2},{"item_name":"Fries","quantity":1}]`,
			want:    []models.RequestedItem{{Name: "Burger", Quantity: 2}, {Name: "Fries", Quantity: 1}},
		},
		{
			name:    "legacy name field",
			payload: `[{"name":"cappuccino","quantity":3}]`,
			want:    []models.RequestedItem{{Name: "cappuccino", Quantity: 3}},
		},
		{
			name:    "trims names",
			payload: `[{"item_name":"  cold coffee "}]`,
			want:    []models.RequestedItem{{Name: "cold coffee", Quantity: 1}},
		},
		{
			name:    "string quantity",
			payload: `[{"item_name":"espresso","quantity":" 4 "}]`,
			want:    []models.RequestedItem{{Name: "espresso", Quantity: 4}},
		},
		{
			name:    "null quantity defaults to one",
			payload: `[{"item_name":"espresso","quantity":null}]`,
			want:    []models.RequestedItem{{Name: "espresso", Quantity: 1}},
		},
		{
			name:    "item_name wins over name",
			payload: `[{"item_name":"espresso","name":"latte","quantity":1}]`,
			want:    []models.RequestedItem{{Name: "espresso", Quantity: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractItems(rawItems(t, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractItems_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{name: "fractional quantity", payload: `[{"item_name":"a","quantity":1.5}]`, field: "items[0].quantity"},
		{name: "zero quantity", payload: `[{"item_name":"a","quantity":1},{"item_name":"b","quantity":0}]`, field: "items[1].quantity"},
		{name: "negative string quantity", payload: `[{"item_name":"a","quantity":"-2"}]`, field: "items[0].quantity"},
		{name: "word quantity", payload: `[{"item_name":"a","quantity":"two"}]`, field: "items[0].quantity"},
		{name: "not an object", payload: `["espresso"]`, field: "items[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractItems(rawItems(t, tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
