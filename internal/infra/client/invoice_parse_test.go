package client_test

import (
	"encoding/json"
	"testing"

	"github.com/boddenberg/fleet-invoice-bfa-go/internal/domain"
	"github.com/boddenberg/fleet-invoice-bfa-go/internal/infra/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInvoice_TotalAndAmountAliases(t *testing.T) {
	fromList, err := client.ParseInvoice(json.RawMessage(`{"id":"a1","total":1500.5,"status":"Paid"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.Money(150050), fromList.Amount)

	fromCreate, err := client.ParseInvoice(json.RawMessage(`{"id":"a2","amount":"1200","status":"unpaid"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.Money(120000), fromCreate.Amount)
	assert.Equal(t, domain.StatusUnpaid, fromCreate.Status)
}

func TestParseInvoice_FullPayload(t *testing.T) {
	raw := `{
		"id": "9f1c2d",
		"customerId": 42,
		"Customer": {"firstName": "Asha", "lastName": "Rao"},
		"total": 250.125,
		"date": "2024-03-09T10:30:00.000Z",
		"status": "PAID",
		"vehicleId": "v-7",
		"driverName": "Ravi",
		"loadingAddress": "Pune",
		"deliveryAddress": "Mumbai",
		"weight": 10,
		"rate": "25.01"
	}`
	r, err := client.ParseInvoice(json.RawMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, "9f1c2d", r.ID)
	assert.Equal(t, "42", r.CustomerRef)
	require.NotNil(t, r.Customer)
	assert.Equal(t, "Asha", r.Customer.FirstName)
	assert.Equal(t, domain.Money(25013), r.Amount)
	assert.Equal(t, "2024-03-09", r.Date.String())
	assert.Equal(t, domain.StatusPaid, r.Status)
	assert.Equal(t, "v-7", r.VehicleRef)
	assert.Equal(t, "10", r.Weight)
	assert.Equal(t, "25.01", r.Rate)
}

func TestParseInvoice_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"negative amount", `{"id":"x","total":-5,"status":"Paid"}`, "total"},
		{"malformed amount", `{"id":"x","amount":"abc","status":"Paid"}`, "amount"},
		{"boolean amount", `{"id":"x","amount":true,"status":"Paid"}`, "amount"},
		{"missing amount", `{"id":"x","status":"Paid"}`, "amount"},
		{"unknown status", `{"id":"x","total":1,"status":"Draft"}`, "status"},
		{"missing id", `{"total":1,"status":"Paid"}`, "id"},
		{"bad date", `{"id":"x","total":1,"status":"Paid","date":"yesterday"}`, "date"},
		{"amount wrapping to a small value", `{"id":"x","total":184467440737095516.17,"status":"Paid"}`, "total"},
		{"amount wrapping negative", `{"id":"x","total":"100000000000000000","status":"Unpaid"}`, "total"},
		{"amount just above the limit", `{"id":"x","amount":87960930222.08,"status":"Paid"}`, "amount"},
		{"not an object", `[1,2]`, "invoice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ParseInvoice(json.RawMessage(tt.raw))
			var ve domain.ValidationErrors
			require.ErrorAs(t, err, &ve)
			fields := make([]string, len(ve))
			for i, v := range ve {
				fields[i] = v.Field
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestParseInvoice_LargestAmount(t *testing.T) {
	r, err := client.ParseInvoice(json.RawMessage(`{"id":"x","total":"87960930222.07","status":"Paid"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.MaxAmount, r.Amount)
}

func TestParseInvoiceList_OneBadElementFailsAll(t *testing.T) {
	_, err := client.ParseInvoiceList(json.RawMessage(`[
		{"id":"1","total":10,"status":"Paid"},
		{"id":"2","total":"oops","status":"Unpaid"}
	]`))
	var ve domain.ValidationErrors
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve, 1)
	assert.Equal(t, "invoices[1].total", ve[0].Field)
}

func TestParseInvoiceList_PreservesOrder(t *testing.T) {
	records, err := client.ParseInvoiceList(json.RawMessage(`[
		{"id":"b","total":1,"status":"Paid"},
		{"id":"a","total":2,"status":"Unpaid"},
		{"id":"b","total":3,"status":"Paid"}
	]`))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"b", "a", "b"}, []string{records[0].ID, records[1].ID, records[2].ID})
}
