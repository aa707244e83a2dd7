package remote

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fieldbook/fieldbook-sync/pkg/db/models"
)

func newModel(collection string) (any, error) {
	switch collection {
	case CollectionShops:
		return &models.Shop{}, nil
	case CollectionOrders:
		return &models.Order{}, nil
	case CollectionDeliveries:
		return &models.Delivery{}, nil
	case CollectionLedger:
		return &models.LedgerTransaction{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
}

func newSlice(collection string) (any, error) {
	switch collection {
	case CollectionShops:
		return &[]models.Shop{}, nil
	case CollectionOrders:
		return &[]models.Order{}, nil
	case CollectionDeliveries:
		return &[]models.Delivery{}, nil
	case CollectionLedger:
		return &[]models.LedgerTransaction{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
}

func assignID(model any, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid document id %q: %w", id, err)
	}
	switch m := model.(type) {
	case *models.Shop:
		m.ID = parsed
	case *models.Order:
		m.ID = parsed
	case *models.Delivery:
		m.ID = parsed
	case *models.LedgerTransaction:
		m.ID = parsed
	default:
		return fmt.Errorf("unmapped model %T", model)
	}
	return nil
}
