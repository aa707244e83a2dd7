package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgerrors "github.com/fieldbook/fieldbook-sync/pkg/errors"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

// maxQueryFilters caps the number of server-side predicates per query.
const maxQueryFilters = 3

// queryableFields lists, per collection, the fields the store can filter
// server-side and the operators it supports for each.
var queryableFields = map[string]map[string][]FilterOp{
	CollectionLedger: {
		"region_id":  {FilterOpEqual},
		"party_id":   {FilterOpEqual},
		"order_id":   {FilterOpEqual},
		"type":       {FilterOpEqual, FilterOpIn},
		"created_at": {FilterOpGreaterEqual, FilterOpLessEqual},
	},
	CollectionOrders: {
		"region_id":    {FilterOpEqual},
		"shop_id":      {FilterOpEqual},
		"status":       {FilterOpEqual},
		"delivered_at": {FilterOpGreaterEqual, FilterOpLessEqual},
	},
	CollectionDeliveries: {
		"order_id": {FilterOpEqual},
		"status":   {FilterOpEqual},
	},
	CollectionShops: {
		"region_id": {FilterOpEqual},
	},
}

// DocStore implements Store on top of the remote Postgres database. Writes
// resolve conflicts last-write-wins: a Set for an existing id overwrites
// every column.
type DocStore struct {
	db   *gorm.DB
	logg *logger.Logger
}

// NewDocStore builds a document store over the provided connection.
func NewDocStore(conn *gorm.DB, logg *logger.Logger) (*DocStore, error) {
	if conn == nil {
		return nil, errors.New("db connection required")
	}
	return &DocStore{db: conn, logg: logg}, nil
}

func (s *DocStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	model, err := newModel(collection)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Table(collection).Where("id = ?", id).First(model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return nil, classify(err, "get document")
	}
	return json.Marshal(model)
}

func (s *DocStore) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	slice, err := newSlice(collection)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Table(collection).Order("created_at ASC").Find(slice).Error; err != nil {
		return nil, classify(err, "list collection")
	}
	return toDocs(slice)
}

func (s *DocStore) Query(ctx context.Context, collection string, filters []Filter) ([]json.RawMessage, error) {
	if err := validateFilters(collection, filters); err != nil {
		return nil, err
	}

	slice, err := newSlice(collection)
	if err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Table(collection)
	for _, filter := range filters {
		switch filter.Op {
		case FilterOpEqual:
			tx = tx.Where(fmt.Sprintf("%s = ?", filter.Field), filter.Value)
		case FilterOpGreaterEqual:
			tx = tx.Where(fmt.Sprintf("%s >= ?", filter.Field), filter.Value)
		case FilterOpLessEqual:
			tx = tx.Where(fmt.Sprintf("%s <= ?", filter.Field), filter.Value)
		case FilterOpIn:
			tx = tx.Where(fmt.Sprintf("%s IN ?", filter.Field), filter.Value)
		}
	}
	if err := tx.Order("created_at ASC").Find(slice).Error; err != nil {
		return nil, classify(err, "query collection")
	}
	return toDocs(slice)
}

func (s *DocStore) Set(ctx context.Context, collection, id string, doc json.RawMessage) error {
	model, err := decodeDoc(collection, id, doc)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Table(collection).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(model).Error
	if err != nil {
		return classify(err, "set document")
	}
	return nil
}

func (s *DocStore) Update(ctx context.Context, collection, id string, doc json.RawMessage) error {
	normalized, err := Normalize(collection, doc)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "normalize document")
	}

	var fields map[string]any
	if err := json.Unmarshal(normalized, &fields); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode document")
	}
	delete(fields, "id")
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Table(collection).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return classify(res.Error, "update document")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return nil
}

// Delete tolerates missing documents: deleting an id that never reached the
// remote store (a coalesced create+delete) is a no-op.
func (s *DocStore) Delete(ctx context.Context, collection, id string) error {
	model, err := newModel(collection)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Table(collection).Where("id = ?", id).Delete(model).Error; err != nil {
		return classify(err, "delete document")
	}
	return nil
}

func (s *DocStore) BatchDelete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	model, err := newModel(collection)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Table(collection).Where("id IN ?", ids).Delete(model).Error; err != nil {
		return classify(err, "batch delete")
	}
	return nil
}

func (s *DocStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return classify(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return classify(err, "ping")
	}
	return nil
}

func decodeDoc(collection, id string, doc json.RawMessage) (any, error) {
	normalized, err := Normalize(collection, doc)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "normalize document")
	}
	model, err := newModel(collection)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(normalized, model); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode document")
	}
	if err := assignID(model, id); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "document id")
	}
	return model, nil
}

func validateFilters(collection string, filters []Filter) error {
	supported, ok := queryableFields[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if len(filters) > maxQueryFilters {
		return fmt.Errorf("%w: too many predicates", ErrUnsupportedFilter)
	}

	rangeField := ""
	hasIn := false
	for _, filter := range filters {
		ops, ok := supported[filter.Field]
		if !ok {
			return fmt.Errorf("%w: field %s", ErrUnsupportedFilter, filter.Field)
		}
		if !opSupported(ops, filter.Op) {
			return fmt.Errorf("%w: %s %s", ErrUnsupportedFilter, filter.Field, filter.Op)
		}
		switch filter.Op {
		case FilterOpGreaterEqual, FilterOpLessEqual:
			if rangeField != "" && rangeField != filter.Field {
				return fmt.Errorf("%w: range on multiple fields", ErrUnsupportedFilter)
			}
			rangeField = filter.Field
		case FilterOpIn:
			hasIn = true
		}
	}
	// Range-plus-membership needs a composite the store does not maintain.
	if hasIn && rangeField != "" {
		return fmt.Errorf("%w: range combined with membership", ErrUnsupportedFilter)
	}
	return nil
}

func opSupported(ops []FilterOp, op FilterOp) bool {
	for _, candidate := range ops {
		if candidate == op {
			return true
		}
	}
	return false
}

func toDocs(slice any) ([]json.RawMessage, error) {
	data, err := json.Marshal(slice)
	if err != nil {
		return nil, err
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// classify maps database failures onto the error taxonomy: authorization
// failures are permanent, everything else from the remote store is transient.
func classify(err error, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501", "28000", "28P01":
			return pkgerrors.Wrap(pkgerrors.CodeForbidden, err, action)
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
