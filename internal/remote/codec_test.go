package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRewritesLegacyFieldNames(t *testing.T) {
	doc := json.RawMessage(`{
		"id": "tx-1",
		"shopId": "party-9",
		"shopName": "Acme",
		"branchId": "region-north",
		"amount": "1200.50",
		"discount": "100"
	}`)

	out, err := Normalize(CollectionLedger, doc)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.JSONEq(t, `"party-9"`, string(fields["party_id"]))
	assert.JSONEq(t, `"Acme"`, string(fields["party_name"]))
	assert.JSONEq(t, `"region-north"`, string(fields["region_id"]))
	assert.JSONEq(t, `"1200.50"`, string(fields["gross_amount"]))
	assert.JSONEq(t, `"100"`, string(fields["discount_given"]))
	assert.NotContains(t, fields, "shopId")
	assert.NotContains(t, fields, "amount")
}

func TestNormalizePassesCanonicalFieldsThrough(t *testing.T) {
	doc := json.RawMessage(`{"id":"o-1","shop_id":"s-1","gross_total":"100"}`)

	out, err := Normalize(CollectionOrders, doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(out))
}

func TestNormalizeCanonicalKeyWinsOverAlias(t *testing.T) {
	doc := json.RawMessage(`{"party_id":"canonical","shopId":"legacy"}`)

	out, err := Normalize(CollectionLedger, doc)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &fields))
	assert.JSONEq(t, `"canonical"`, string(fields["party_id"]))
	assert.NotContains(t, fields, "shopId")
}

func TestNormalizeUnknownCollection(t *testing.T) {
	_, err := Normalize("invoices", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestNormalizeRejectsNonObjectDocument(t *testing.T) {
	_, err := Normalize(CollectionOrders, json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)
}

func TestValidateFiltersAcceptsSupportedShapes(t *testing.T) {
	cases := map[string]struct {
		collection string
		filters    []Filter
	}{
		"sale lookup by order": {CollectionLedger, []Filter{
			{Field: "order_id", Op: FilterOpEqual, Value: "o-1"},
			{Field: "type", Op: FilterOpIn, Value: []any{"SALE_DELIVERED"}},
		}},
		"period with region": {CollectionLedger, []Filter{
			{Field: "created_at", Op: FilterOpGreaterEqual, Value: "2026-08-01"},
			{Field: "created_at", Op: FilterOpLessEqual, Value: "2026-08-31"},
			{Field: "region_id", Op: FilterOpEqual, Value: "region-north"},
		}},
		"deliveries by order": {CollectionDeliveries, []Filter{
			{Field: "order_id", Op: FilterOpEqual, Value: "o-1"},
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, validateFilters(tc.collection, tc.filters))
		})
	}
}

func TestValidateFiltersRejectsUnsupportedShapes(t *testing.T) {
	cases := map[string]struct {
		collection string
		filters    []Filter
	}{
		"unknown field": {CollectionShops, []Filter{
			{Field: "name", Op: FilterOpEqual, Value: "Acme"},
		}},
		"unsupported op": {CollectionLedger, []Filter{
			{Field: "region_id", Op: FilterOpGreaterEqual, Value: "a"},
		}},
		"too many predicates": {CollectionOrders, []Filter{
			{Field: "status", Op: FilterOpEqual, Value: "delivered"},
			{Field: "delivered_at", Op: FilterOpGreaterEqual, Value: "2026-08-01"},
			{Field: "delivered_at", Op: FilterOpLessEqual, Value: "2026-08-31"},
			{Field: "region_id", Op: FilterOpEqual, Value: "region-north"},
		}},
		"range combined with membership": {CollectionLedger, []Filter{
			{Field: "created_at", Op: FilterOpGreaterEqual, Value: "2026-08-01"},
			{Field: "type", Op: FilterOpIn, Value: []any{"RETURN"}},
		}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, validateFilters(tc.collection, tc.filters), ErrUnsupportedFilter)
		})
	}
}

func TestValidateFiltersUnknownCollection(t *testing.T) {
	err := validateFilters("invoices", nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}
