package mqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatePayload(t *testing.T) {
	p, err := ParseStatePayload([]byte(`{"machineId":"1","temperature":5.5,"status":1}`))
	require.NoError(t, err)
	assert.Equal(t, "1", p.MachineID)
	assert.Equal(t, 5.5, p.Temperature)
	assert.Equal(t, 1, p.Status)
	assert.Equal(t, "none", p.Alerts, "absent alerts default to none")

	p, err = ParseStatePayload([]byte(`{"machineId":"1","temperature":12.0,"status":1,"alerts":"door open"}`))
	require.NoError(t, err)
	assert.Equal(t, "door open", p.Alerts)

	// Zero values for required fields are still present, so they pass.
	p, err = ParseStatePayload([]byte(`{"machineId":"1","temperature":0,"status":0}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Temperature)
	assert.Equal(t, 0, p.Status)
}

func TestParseStatePayloadMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing machineId", `{"temperature":5.5,"status":1}`, "machineId"},
		{"empty machineId", `{"machineId":"","temperature":5.5,"status":1}`, "machineId"},
		{"missing temperature", `{"machineId":"1","status":1}`, "temperature"},
		{"missing status", `{"machineId":"1","temperature":5.5}`, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStatePayload([]byte(tt.payload))
			var fieldErr *FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.field, fieldErr.Field)
		})
	}
}

func TestParseStatePayloadBadJSON(t *testing.T) {
	_, err := ParseStatePayload([]byte(`not json`))
	require.Error(t, err)
	var fieldErr *FieldError
	assert.False(t, errors.As(err, &fieldErr), "decode failures are not field errors")
}

func TestParseOrderPayload(t *testing.T) {
	p, err := ParseOrderPayload([]byte(`{"orderId":"ORD-1","userId":7,"machineId":"1","items":[{"productId":5,"quantity":2}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", p.OrderID)
	assert.Equal(t, 7, p.UserID)
	assert.Equal(t, "1", p.MachineID)
	require.Len(t, p.Items, 1)
	assert.Equal(t, OrderLine{ProductID: 5, Quantity: 2}, p.Items[0])
}

func TestParseOrderPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"missing orderId", `{"userId":7,"machineId":"1","items":[{"productId":5,"quantity":2}]}`, "orderId"},
		{"missing userId", `{"orderId":"O","machineId":"1","items":[{"productId":5,"quantity":2}]}`, "userId"},
		{"missing machineId", `{"orderId":"O","userId":7,"items":[{"productId":5,"quantity":2}]}`, "machineId"},
		{"missing items", `{"orderId":"O","userId":7,"machineId":"1"}`, "items"},
		{"empty items", `{"orderId":"O","userId":7,"machineId":"1","items":[]}`, "items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOrderPayload([]byte(tt.payload))
			var fieldErr *FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.field, fieldErr.Field)
		})
	}
}

func TestParseInventoryRequestPayload(t *testing.T) {
	p, err := ParseInventoryRequestPayload([]byte(`{"machineId":"3","timestamp":1700000000}`))
	require.NoError(t, err)
	assert.Equal(t, "3", p.MachineID)
	assert.Equal(t, int64(1700000000), p.Timestamp)

	p, err = ParseInventoryRequestPayload([]byte(`{"machineId":"3"}`))
	require.NoError(t, err)
	assert.Zero(t, p.Timestamp)

	_, err = ParseInventoryRequestPayload([]byte(`{"timestamp":1}`))
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "machineId", fieldErr.Field)
}

func TestParseInventoryResponsePayload(t *testing.T) {
	p, err := ParseInventoryResponsePayload([]byte(`{"machineId":"1","products":[{"productId":5,"productName":"Soda","stock":0}]}`))
	require.NoError(t, err)
	assert.Equal(t, "1", p.MachineID)
	require.Len(t, p.Products, 1)
	assert.Equal(t, 0, p.Products[0].Stock, "zero-stock slots are carried, not elided")

	// Empty product list is valid: a machine can have nothing stocked.
	p, err = ParseInventoryResponsePayload([]byte(`{"machineId":"1","products":[]}`))
	require.NoError(t, err)
	assert.Empty(t, p.Products)

	_, err = ParseInventoryResponsePayload([]byte(`{"machineId":"1"}`))
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "products", fieldErr.Field)
}

func TestParseCommandPayload(t *testing.T) {
	p, err := ParseCommandPayload([]byte(`{"command":"CHANGE_TEMPERATURE","value":6.5}`))
	require.NoError(t, err)
	assert.Equal(t, "CHANGE_TEMPERATURE", p.Command)
	assert.JSONEq(t, "6.5", string(p.Value))

	_, err = ParseCommandPayload([]byte(`{"value":1}`))
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "command", fieldErr.Field)
}

func TestFieldErrorMessage(t *testing.T) {
	err := &FieldError{Payload: "order", Field: "items", Reason: "must not be empty"}
	assert.Equal(t, `order payload: field "items" must not be empty`, err.Error())
}
