// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/patrickascher/dotorm/query"
)

// Error messages.
var (
	ErrNotFound    = errors.New("orm: record not found")
	ErrUpdateEmpty = "orm: update of %s has no effective fields"
	ErrFieldKnown  = "orm: fields %v are not declared on %s"
)

// VirtualID is the placeholder a nested create payload may use to reference the id
// of its parent record. It is replaced before the child insert.
const VirtualID = "VirtualId"

// Search defaults.
const (
	DefaultLimit = 1000
	DefaultOrder = "DESC"
)

// SearchOptions of Model.Search.
type SearchOptions struct {
	// Fields to select, all stored fields if empty. Relation fields trigger batch
	// hydration.
	Fields []string
	// Filter restriction. The access checker domain filter is prepended.
	Filter query.Filter
	// Start and End define a pagination range.
	Start *int
	End   *int
	// Limit defaults to 1000 when no range is given.
	Limit int
	// Sort column, defaults to the primary key.
	Sort string
	// Order ASC/DESC, defaults to DESC.
	Order string
	// Nested relation fields to hydrate with an explicit sub field list.
	Nested map[string][]string
	// Raw skips relation hydration and compute fields.
	Raw bool
}

// Create inserts the stored fields of the payload and returns the generated id.
// Defaults are materialized for fields the caller did not supply. Relation command
// objects in the payload are applied after the insert inside one transaction.
// The row access is re-checked for the new id.
func (m *Model) Create(ctx context.Context, payload map[string]interface{}) (int64, error) {
	if _, err := m.checkAccess(ctx, OpCreate, nil); err != nil {
		return 0, err
	}
	values, err := m.storedValues(payload, true)
	if err != nil {
		return 0, err
	}
	commands := m.relationCommands(payload)

	var id int64
	err = m.registry.pool.Transaction(ctx, func(ctx context.Context) error {
		id, err = m.insert(ctx, values)
		if err != nil {
			return err
		}
		for _, c := range commands {
			if err := m.applyCommands(ctx, id, c.field, c.commands); err != nil {
				return err
			}
		}
		if _, err := m.checkAccess(ctx, OpCreate, []int64{id}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateBulk inserts all payloads with one statement and returns the generated ids.
// Every row uses the union of the payload columns, missing values fall back to the
// field default or null.
func (m *Model) CreateBulk(ctx context.Context, payloads []map[string]interface{}) ([]int64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if _, err := m.checkAccess(ctx, OpCreate, nil); err != nil {
		return nil, err
	}

	values := make([]map[string]interface{}, len(payloads))
	columnSet := map[string]bool{}
	for i, payload := range payloads {
		v, err := m.storedValues(payload, true)
		if err != nil {
			return nil, err
		}
		values[i] = v
		for c := range v {
			columnSet[c] = true
		}
	}
	columns := make([]string, 0, len(columnSet))
	for c := range columnSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	rows := make([][]interface{}, len(values))
	for i, v := range values {
		row := make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = v[c]
		}
		rows[i] = row
	}

	stmt, args, err := m.builder.InsertBulk(columns, rows)
	if err != nil {
		return nil, err
	}
	s := m.registry.pool.Session(ctx)

	var ids []int64
	if s.Dialect().SupportsReturning() {
		result, err := s.Query(ctx, stmt, args...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = result.Close() }()
		for result.Next() {
			var id int64
			if err := result.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, result.Err()
	}

	result, err := s.Exec(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	first, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	// auto increment ids of one multi row insert are contiguous.
	for i := range payloads {
		ids = append(ids, first+int64(i))
	}
	return ids, nil
}

// Get fetches one record by id.
// ErrNotFound will return on a missing row. Requested relation fields are hydrated,
// inside a transaction sequentially.
func (m *Model) Get(ctx context.Context, id int64, fields []string, nested map[string][]string) (*Record, error) {
	r, err := m.GetOrNone(ctx, id, fields, nested)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	return r, nil
}

// GetOrNone fetches one record by id, nil without error on a missing row.
// Access is checked before reading, a denial surfaces even for absent rows.
func (m *Model) GetOrNone(ctx context.Context, id int64, fields []string, nested map[string][]string) (*Record, error) {
	if _, err := m.checkAccess(ctx, OpRead, []int64{id}); err != nil {
		return nil, err
	}
	stored, relations, err := m.splitFields(fields)
	if err != nil {
		return nil, err
	}

	stmt, args, err := m.builder.Get(id, stored)
	if err != nil {
		return nil, err
	}
	records, err := m.queryRecords(ctx, stmt, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	if err := m.hydrate(ctx, records, relations, nested); err != nil {
		return nil, err
	}
	records[0].compute()
	return records[0], nil
}

// Search fetches records through the builder.
// The domain filter of the access checker is prepended to the caller filter.
// Relation fields in the field list are hydrated in one batched query per relation.
func (m *Model) Search(ctx context.Context, opts SearchOptions) ([]*Record, error) {
	domain, err := m.checkAccess(ctx, OpRead, nil)
	if err != nil {
		return nil, err
	}
	stored, relations, err := m.splitFields(opts.Fields)
	if err != nil {
		return nil, err
	}

	sort := opts.Sort
	if sort == "" {
		sort = m.pk
	}
	order := opts.Order
	if order == "" {
		order = DefaultOrder
	}
	limit := opts.Limit
	if limit == 0 && (opts.Start == nil || opts.End == nil) {
		limit = DefaultLimit
	}

	stmt, args, err := m.builder.Search(query.SearchOpts{
		Fields: stored,
		Filter: prependFilter(domain, opts.Filter),
		Sort:   sort,
		Order:  order,
		Limit:  limit,
		Start:  opts.Start,
		End:    opts.End,
		Stored: m.stored,
	})
	if err != nil {
		return nil, err
	}
	records, err := m.queryRecords(ctx, stmt, args)
	if err != nil {
		return nil, err
	}
	if opts.Raw {
		return records, nil
	}

	if err := m.hydrate(ctx, records, relations, opts.Nested); err != nil {
		return nil, err
	}
	for _, r := range records {
		r.compute()
	}
	return records, nil
}

// SearchCount counts the rows matching the filter, domain filter included.
func (m *Model) SearchCount(ctx context.Context, f query.Filter) (int64, error) {
	domain, err := m.checkAccess(ctx, OpRead, nil)
	if err != nil {
		return 0, err
	}
	stmt, args, err := m.builder.Count(prependFilter(domain, f))
	if err != nil {
		return 0, err
	}
	var count int64
	err = m.registry.pool.Session(ctx).QueryRow(ctx, stmt, args...).Scan(&count)
	return count, err
}

// Exists checks if any row matches the filter, domain filter included.
func (m *Model) Exists(ctx context.Context, f query.Filter) (bool, error) {
	domain, err := m.checkAccess(ctx, OpRead, nil)
	if err != nil {
		return false, err
	}
	stmt, args, err := m.builder.Exists(prependFilter(domain, f))
	if err != nil {
		return false, err
	}
	var one int
	err = m.registry.pool.Session(ctx).QueryRow(ctx, stmt, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// TableLen returns the unconditional row count.
func (m *Model) TableLen(ctx context.Context) (int64, error) {
	stmt, args, err := m.builder.TableLen()
	if err != nil {
		return 0, err
	}
	var count int64
	err = m.registry.pool.Session(ctx).QueryRow(ctx, stmt, args...).Scan(&count)
	return count, err
}

// Update patches the record by id with the payload and returns the applied field
// names. Polymorphic attachment payloads are created first and replaced by the
// child id, the store update runs next, relation command objects last, all inside
// one transaction. Hydrated relation values on previously loaded records are stale
// after an update, callers must re-read them.
func (m *Model) Update(ctx context.Context, id int64, payload map[string]interface{}) ([]string, error) {
	if _, err := m.checkAccess(ctx, OpUpdate, []int64{id}); err != nil {
		return nil, err
	}
	commands := m.relationCommands(payload)
	polymorphic := m.polymorphicCreates(payload)
	values, err := m.storedValues(payload, false)
	if err != nil {
		return nil, err
	}
	// polymorphic creates carry their own store column.
	for _, p := range polymorphic {
		delete(values, p.field.Name)
	}
	if len(values) == 0 && len(commands) == 0 && len(polymorphic) == 0 {
		return nil, fmt.Errorf(ErrUpdateEmpty, m.name)
	}

	var applied []string
	err = m.registry.pool.Transaction(ctx, func(ctx context.Context) error {
		for _, p := range polymorphic {
			childID, err := m.createPolymorphicChild(ctx, id, p.field, p.payload)
			if err != nil {
				return err
			}
			values[p.field.Name] = childID
			applied = append(applied, p.field.Name)
		}

		if len(values) > 0 {
			stmt, args, err := m.builder.Update(id, values)
			if err != nil {
				return err
			}
			if _, err := m.registry.pool.Session(ctx).Exec(ctx, stmt, args...); err != nil {
				return err
			}
			for _, c := range sortedValueColumns(values) {
				if !contains(applied, c) {
					applied = append(applied, c)
				}
			}
		}

		for _, c := range commands {
			if err := m.applyCommands(ctx, id, c.field, c.commands); err != nil {
				return err
			}
			applied = append(applied, c.field.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// UpdateBulk applies the same stored values to all ids with one statement.
// The row access is checked once across the full id list.
func (m *Model) UpdateBulk(ctx context.Context, ids []int64, payload map[string]interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.checkAccess(ctx, OpUpdate, ids); err != nil {
		return err
	}
	values, err := m.storedValues(payload, false)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf(ErrUpdateEmpty, m.name)
	}
	stmt, args, err := m.builder.UpdateBulk(toInterfaces(ids), values)
	if err != nil {
		return err
	}
	_, err = m.registry.pool.Session(ctx).Exec(ctx, stmt, args...)
	return err
}

// Delete removes one row by id.
func (m *Model) Delete(ctx context.Context, id int64) error {
	if _, err := m.checkAccess(ctx, OpDelete, []int64{id}); err != nil {
		return err
	}
	stmt, args, err := m.builder.Delete(id)
	if err != nil {
		return err
	}
	_, err = m.registry.pool.Session(ctx).Exec(ctx, stmt, args...)
	return err
}

// DeleteBulk removes all given ids with one statement.
// The batch fails closed: a row access denial on any id rejects the whole batch.
func (m *Model) DeleteBulk(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.checkAccess(ctx, OpDelete, ids); err != nil {
		return err
	}
	stmt, args, err := m.builder.DeleteBulk(toInterfaces(ids))
	if err != nil {
		return err
	}
	_, err = m.registry.pool.Session(ctx).Exec(ctx, stmt, args...)
	return err
}

// DefaultValues materializes the defaults of the requested fields.
// Relation fields resolve to their empty value.
func (m *Model) DefaultValues(fields []string) (map[string]interface{}, error) {
	if len(fields) == 0 {
		fields = m.stored
	}
	values := map[string]interface{}{}
	for _, name := range fields {
		f, err := m.Field(name)
		if err != nil {
			return nil, err
		}
		if f.IsRelation() {
			values[name] = f.EmptyValue()
			continue
		}
		values[name] = f.DefaultValue()
	}
	return values, nil
}

// insert emits the INSERT and resolves the generated id either from RETURNING or
// the driver last-insert hook.
func (m *Model) insert(ctx context.Context, values map[string]interface{}) (int64, error) {
	stmt, args, err := m.builder.Insert(values)
	if err != nil {
		return 0, err
	}
	s := m.registry.pool.Session(ctx)

	var id int64
	if s.Dialect().SupportsReturning() {
		if err := s.QueryRow(ctx, stmt, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	result, err := s.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// storedValues serializes the payload into a column→value map of stored fields.
// Only caller supplied fields are emitted, on withDefaults the field defaults are
// materialized for the rest. The primary key is never emitted. Selection values are
// validated, json fields are serialized to text.
func (m *Model) storedValues(payload map[string]interface{}, withDefaults bool) (map[string]interface{}, error) {
	values := map[string]interface{}{}
	for _, name := range m.stored {
		if name == m.pk {
			continue
		}
		f := m.fields[m.fieldIndex[name]]

		value, ok := payload[name]
		if !ok {
			if withDefaults && f.Default != nil {
				value = f.DefaultValue()
				ok = true
			} else {
				continue
			}
		}

		if f.Kind == Selection && value != nil {
			s, isString := value.(string)
			if !isString || !f.HasOption(s) {
				return nil, fmt.Errorf(ErrSelectionNone, value, m.name, name)
			}
		}
		if f.Kind == JSON && value != nil {
			if _, isString := value.(string); !isString {
				b, err := json.Marshal(value)
				if err != nil {
					return nil, err
				}
				value = string(b)
			}
		}
		if f.Kind == ManyToOne || f.Kind == PolymorphicManyToOne {
			// relation commands and nested payloads are handled separately.
			if _, isMap := value.(map[string]interface{}); isMap {
				continue
			}
			if value != nil {
				v, err := query.SanitizeInterfaceValue(value)
				if err != nil {
					return nil, err
				}
				value = v
			}
		}
		values[name] = value
	}
	return values, nil
}

// splitFields validates the requested field subset and splits it into stored and
// relation fields. The primary key is always part of the stored set.
func (m *Model) splitFields(fields []string) (stored []string, relations []Field, err error) {
	if len(fields) == 0 {
		return m.stored, nil, nil
	}
	var unknown []string
	seen := map[string]bool{}
	for _, name := range fields {
		if seen[name] {
			continue
		}
		seen[name] = true
		f, err := m.Field(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		if f.IsRelation() && !f.IsStored() {
			relations = append(relations, f)
			continue
		}
		if f.Kind == ManyToOne || f.Kind == PolymorphicManyToOne {
			// the FK column is selected, the record is hydrated on top.
			relations = append(relations, f)
		}
		if f.IsStored() {
			stored = append(stored, name)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, fmt.Errorf(ErrFieldKnown, unknown, m.name)
	}
	if !seen[m.pk] {
		stored = append([]string{m.pk}, stored...)
	}
	return stored, relations, nil
}

// queryRecords runs the select and materializes the rows.
func (m *Model) queryRecords(ctx context.Context, stmt string, args []interface{}) ([]*Record, error) {
	rows, err := m.registry.pool.Session(ctx).Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []*Record
	for rows.Next() {
		pointers := make([]interface{}, len(columns))
		for i, c := range columns {
			pointers[i] = m.scanDest(c)
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		r := m.NewRecord()
		for i, c := range columns {
			r.materialize(c, scannedValue(pointers[i]))
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// scanDest returns the typed scan destination of one result column. Projected
// columns without a field (m2m_id) and json/binary columns scan generically.
func (m *Model) scanDest(column string) interface{} {
	f, err := m.Field(column)
	if err != nil {
		return new(interface{})
	}
	switch {
	case f.IsIntegerKind():
		return &query.NullInt{}
	case f.Kind == Char || f.Kind == Selection || f.Kind == Text:
		return &query.NullString{}
	case f.Kind == Boolean:
		return &query.NullBool{}
	case f.Kind == Float || f.Kind == Decimal:
		return &query.NullFloat{}
	case f.Kind == Date || f.Kind == Time || f.Kind == Datetime:
		return &query.NullTime{}
	}
	return new(interface{})
}

// scannedValue unwraps a typed destination, a NULL column resolves to nil.
func scannedValue(dest interface{}) interface{} {
	switch v := dest.(type) {
	case *query.NullInt:
		if v.Valid {
			return v.Int64
		}
		return nil
	case *query.NullString:
		if v.Valid {
			return v.String
		}
		return nil
	case *query.NullBool:
		if v.Valid {
			return v.Bool
		}
		return nil
	case *query.NullFloat:
		if v.Valid {
			return v.Float64
		}
		return nil
	case *query.NullTime:
		if v.Valid {
			return v.Time
		}
		return nil
	case *interface{}:
		return *v
	}
	return dest
}

// prependFilter puts the domain filter in front of the caller filter.
func prependFilter(domain query.Filter, f query.Filter) query.Filter {
	if len(domain) == 0 {
		return f
	}
	combined := make(query.Filter, 0, len(domain)+len(f))
	combined = append(combined, domain...)
	combined = append(combined, f...)
	return combined
}

// sortedValueColumns returns the map keys in sorted order.
func sortedValueColumns(values map[string]interface{}) []string {
	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// toInterfaces converts the id list for the builder.
func toInterfaces(ids []int64) []interface{} {
	rv := make([]interface{}, len(ids))
	for i, id := range ids {
		rv[i] = id
	}
	return rv
}

// contains checks if the slice contains the given value.
func contains(slice []string, value string) bool {
	for _, s := range slice {
		if s == value {
			return true
		}
	}
	return false
}
