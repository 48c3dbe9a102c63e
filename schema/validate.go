// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
)

// SearchInput is the decoded body of a search request.
type SearchInput struct {
	Fields []string            `mapstructure:"fields"`
	Filter []interface{}       `mapstructure:"filter"`
	Start  *int                `mapstructure:"start"`
	End    *int                `mapstructure:"end"`
	Limit  int                 `mapstructure:"limit"`
	Sort   string              `mapstructure:"sort"`
	Order  string              `mapstructure:"order"`
	Nested map[string][]string `mapstructure:"nested"`
}

// DecodeSearch decodes and validates a raw search body against the set.
func (s *Set) DecodeSearch(body map[string]interface{}) (*SearchInput, error) {
	in := &SearchInput{}
	cfg := &mapstructure.DecoderConfig{Result: in, WeaklyTypedInput: true}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err = decoder.Decode(body); err != nil {
		return nil, err
	}
	if err = s.ValidateSearch(in); err != nil {
		return nil, err
	}
	return in, nil
}

// ValidateSearch validates the field subset, the sort column, the order and the
// filter triplets of a search input.
func (s *Set) ValidateSearch(in *SearchInput) error {
	if err := s.fieldSubset(in.Fields); err != nil {
		return err
	}
	for name, nested := range in.Nested {
		field, err := s.model.Field(name)
		if err != nil {
			return err
		}
		if !field.IsRelation() {
			return fmt.Errorf(orm.ErrNoRelation, s.model.Name(), name, "any")
		}
		target, err := s.model.Registry().Model(field.Target)
		if err != nil {
			return err
		}
		for _, sub := range nested {
			if !target.HasField(sub) {
				return fmt.Errorf(ErrFields, []string{sub}, target.Name())
			}
		}
	}
	if in.Sort != "" && !s.sortable(in.Sort) {
		return fmt.Errorf(ErrSort, in.Sort, s.model.Name())
	}
	switch strings.ToUpper(in.Order) {
	case "", "ASC", "DESC":
	default:
		return fmt.Errorf(ErrOrder, in.Order)
	}
	return s.validateFilter(in.Filter)
}

// sortable reports whether the column belongs to the stored fields.
func (s *Set) sortable(column string) bool {
	for _, name := range s.model.StoredFields() {
		if name == column {
			return true
		}
	}
	return false
}

// validateFilter walks a filter list and checks each triplet against the operator
// set of its field. The string connectors "and"/"or", negation tuples and nested
// lists pass through, the grammar itself is enforced at render time.
func (s *Set) validateFilter(filter []interface{}) error {
	for _, elem := range filter {
		switch e := elem.(type) {
		case string:
			switch strings.ToLower(e) {
			case query.ConnectorAnd, query.ConnectorOr:
			default:
				return fmt.Errorf(ErrFilter, e)
			}
		case []interface{}:
			if err := s.validateExpr(e); err != nil {
				return err
			}
		default:
			return fmt.Errorf(ErrFilter, elem)
		}
	}
	return nil
}

// validateExpr validates a single expression: a ["not", expression] tuple, a
// triplet or a nested list.
func (s *Set) validateExpr(e []interface{}) error {
	if len(e) == 2 {
		if c, ok := e[0].(string); ok && strings.ToLower(c) == query.ConnectorNot {
			inner, ok := e[1].([]interface{})
			if !ok {
				return fmt.Errorf(ErrFilter, e[1])
			}
			return s.validateExpr(inner)
		}
	}
	if isTriplet(e) {
		return s.validateTriplet(e)
	}
	return s.validateFilter(e)
}

// isTriplet matches the [column, operator, value] shape.
func isTriplet(e []interface{}) bool {
	if len(e) != 3 {
		return false
	}
	_, c := e[0].(string)
	_, o := e[1].(string)
	return c && o
}

func (s *Set) validateTriplet(e []interface{}) error {
	column := e[0].(string)
	op := strings.ToLower(e[1].(string))
	fs, ok := s.Base[column]
	if !ok {
		return fmt.Errorf(ErrFields, []string{column}, s.model.Name())
	}
	if !hasOperator(fs, op) {
		return fmt.Errorf(ErrOperator, op, s.model.Name(), column)
	}
	return nil
}

// ValidateCreate validates an insert payload against the create schema. Required
// fields must be present and non-null.
func (r *Registry) ValidateCreate(table string, payload map[string]interface{}) error {
	s, err := r.Set(table)
	if err != nil {
		return err
	}
	for name, fs := range s.Create {
		value, ok := payload[name]
		if !ok || value == nil {
			if fs.Required {
				return fmt.Errorf(ErrRequired, s.model.Name(), name)
			}
			continue
		}
		if err = r.validateValue(s, fs, value); err != nil {
			return err
		}
	}
	return s.unknownKeys(payload)
}

// ValidateUpdate validates a patch payload against the update schema. Every field
// is optional but present values must still type check.
func (r *Registry) ValidateUpdate(table string, payload map[string]interface{}) error {
	s, err := r.Set(table)
	if err != nil {
		return err
	}
	for name, fs := range s.Update {
		value, ok := payload[name]
		if !ok || value == nil {
			continue
		}
		if err = r.validateValue(s, fs, value); err != nil {
			return err
		}
	}
	return s.unknownKeys(payload)
}

// unknownKeys rejects payload keys that are not part of the model.
func (s *Set) unknownKeys(payload map[string]interface{}) error {
	var unknown []string
	for name := range payload {
		if _, ok := s.Base[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf(ErrFields, unknown, s.model.Name())
	}
	return nil
}

// validateValue dispatches on the wire type of the field.
func (r *Registry) validateValue(s *Set, fs FieldSchema, value interface{}) error {
	if fs.Relation != nil {
		return r.validateRelation(s, fs, value)
	}
	switch fs.Type {
	case TypeInteger:
		if !isNumeric(value) {
			return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeInteger)
		}
	case TypeNumber:
		if !isNumeric(value) {
			return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeNumber)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeBoolean)
		}
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeString)
		}
		if fs.MaxLength > 0 {
			if err := r.validate.Var(str, fmt.Sprintf("max=%d", fs.MaxLength)); err != nil {
				return fmt.Errorf(ErrType, s.model.Name(), fs.Name, fmt.Sprintf("max length %d", fs.MaxLength))
			}
		}
		if fs.Kind == orm.Selection && !validOption(fs, str) {
			return fmt.Errorf(ErrOption, str, s.model.Name(), fs.Name)
		}
	}
	return nil
}

// validateRelation validates single relation ids and plural command objects.
func (r *Registry) validateRelation(s *Set, fs FieldSchema, value interface{}) error {
	if !fs.Relation.Command {
		// many2one accepts an integer id, the parent placeholder or a nested
		// create payload.
		switch v := value.(type) {
		case string:
			if v != orm.VirtualID {
				return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeInteger)
			}
			return nil
		case map[string]interface{}:
			return r.ValidateCreate(fs.Relation.Target, v)
		}
		if !isNumeric(value) {
			return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeInteger)
		}
		return nil
	}

	command, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeObject)
	}
	for key, sub := range command {
		switch key {
		case "created":
			rows, ok := sub.([]interface{})
			if !ok {
				return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeArray)
			}
			for _, row := range rows {
				payload, ok := row.(map[string]interface{})
				if !ok {
					return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeObject)
				}
				if err := r.validateNestedCreate(s, fs, payload); err != nil {
					return err
				}
			}
		case "deleted", "selected", "unselected":
			rows, ok := sub.([]interface{})
			if !ok {
				return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeArray)
			}
			for _, id := range rows {
				if !isNumeric(id) {
					return fmt.Errorf(ErrType, s.model.Name(), fs.Name, TypeInteger)
				}
			}
		default:
			return fmt.Errorf(ErrFields, []string{key}, fs.Relation.Target)
		}
	}
	return nil
}

// validateNestedCreate checks a created row against the simplified nested schema.
// The parent placeholder is always accepted.
func (r *Registry) validateNestedCreate(s *Set, fs FieldSchema, payload map[string]interface{}) error {
	for name, value := range payload {
		nested, ok := fs.Relation.Create[name]
		if !ok {
			return fmt.Errorf(ErrFields, []string{name}, fs.Relation.Target)
		}
		if value == orm.VirtualID {
			continue
		}
		if value == nil {
			continue
		}
		if err := r.validateValue(s, nested, value); err != nil {
			return err
		}
	}
	return nil
}

// validOption checks the value against the selection options.
func validOption(fs FieldSchema, value string) bool {
	for _, o := range fs.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// isNumeric accepts the numeric types a decoded JSON body may carry.
func isNumeric(value interface{}) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64, uint, uint32, uint64:
		return true
	}
	return false
}
