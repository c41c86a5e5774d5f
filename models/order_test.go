package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalIsDerivedFromItems(t *testing.T) {
	o := Order{Items: []OrderItem{
		{MenuItemID: 1, Name: "Fries S", Price: 35, Quantity: 2},
		{MenuItemID: 2, Name: "Fries M", Price: 45, Quantity: 1},
	}}
	assert.Equal(t, 115.0, o.Total())

	o.Items[0].Quantity = 3
	assert.Equal(t, 150.0, o.Total())
	assert.Zero(t, Order{}.Total())
}

func TestOrderJSONCarriesTotal(t *testing.T) {
	q := 4
	o := Order{
		ID:          "1401001",
		Status:      StatusPaid,
		QueueNumber: &q,
		Items:       []OrderItem{{MenuItemID: 4, Name: "Iced Tea", Price: 25, Quantity: 2}},
	}
	data, err := json.Marshal(o)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 50.0, raw["total_amount"])
	assert.Equal(t, "1401001", raw["id"])
	assert.Equal(t, 4.0, raw["queue_number"])
	assert.NotContains(t, raw, "paid_at")

	tampered := []byte(`{"id":"1401001","items":[{"menu_item_id":4,"name":"Iced Tea","price":25,"quantity":2}],"total_amount":9999}`)
	var decoded Order
	require.NoError(t, json.Unmarshal(tampered, &decoded))
	assert.Equal(t, 50.0, decoded.Total())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("READY")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, st)

	_, err = ParseStatus("ready")
	assert.Error(t, err)
}
