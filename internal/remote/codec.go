package remote

import (
	"encoding/json"
	"fmt"
)

// Legacy clients still send pre-migration field names (shopId, branchId,
// amount). Normalize maps any accepted wire shape onto the canonical column
// names exactly once, at the store boundary, so nothing downstream branches
// on field-name variants.

var fieldAliases = map[string]map[string]string{
	CollectionLedger: {
		"shopId":      "party_id",
		"shop_id":     "party_id",
		"shopName":    "party_name",
		"shop_name":   "party_name",
		"branchId":    "region_id",
		"branch_id":   "region_id",
		"orderId":     "order_id",
		"amount":      "gross_amount",
		"discount":    "discount_given",
		"createdAt":   "created_at",
		"partyId":     "party_id",
		"partyName":   "party_name",
		"grossAmount": "gross_amount",
	},
	CollectionOrders: {
		"shopId":     "shop_id",
		"branchId":   "region_id",
		"branch_id":  "region_id",
		"grossTotal": "gross_total",
		"grandTotal": "grand_total",
		"createdAt":  "created_at",
		"updatedAt":  "updated_at",
	},
	CollectionDeliveries: {
		"orderId":     "order_id",
		"branchId":    "region_id",
		"branch_id":   "region_id",
		"deliveredAt": "delivered_at",
		"createdAt":   "created_at",
		"updatedAt":   "updated_at",
	},
	CollectionShops: {
		"branchId":  "region_id",
		"branch_id": "region_id",
		"ownerName": "owner_name",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
	},
}

// Normalize rewrites legacy top-level field names in doc to the canonical
// ones for the collection. Canonical keys win when both spellings appear.
func Normalize(collection string, doc json.RawMessage) (json.RawMessage, error) {
	aliases, ok := fieldAliases[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("decoding %s document: %w", collection, err)
	}

	normalized := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		canonical, isAlias := aliases[key]
		if !isAlias {
			normalized[key] = value
			continue
		}
		if _, exists := fields[canonical]; exists {
			continue
		}
		if _, taken := normalized[canonical]; taken {
			continue
		}
		normalized[canonical] = value
	}

	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encoding %s document: %w", collection, err)
	}
	return out, nil
}
