// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrFilter marks every malformed filter expression, errors.Is matches it.
var ErrFilter = errors.New("query: malformed filter")

// Error messages, wrapped into ErrFilter.
var (
	ErrFilterOperator  = "filter operator %#v is not allowed"
	ErrFilterTriplet   = "malformed filter expression %#v"
	ErrFilterNull      = "filter operator %#v does not accept a null value"
	ErrFilterList      = "filter operator %#v requires a non-empty list value"
	ErrFilterBetween   = "filter operator %#v requires a two-element list value"
	ErrFilterConnector = "filter connector %#v is misplaced"
)

// filterErr wraps the formatted message into ErrFilter.
func filterErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrFilter}, args...)...)
}

// Filter connectors.
const (
	ConnectorAnd = "and"
	ConnectorOr  = "or"
	ConnectorNot = "not"
)

// Filter is a recursive expression which renders into a sql fragment and its
// arguments.
//
// An element is either a triplet [field, operator, value], the tuple
// ["not", expression] or a nested list of clauses. Clauses inside a list are
// connected with the string connectors "and"/"or", missing connectors default to
// AND. This is also the wire format of the rest search body, a json decoded filter
// can be passed as is.
type Filter []interface{}

// Triplet is a helper to build a single [field, operator, value] expression.
func Triplet(field string, operator string, value interface{}) []interface{} {
	return []interface{}{field, operator, value}
}

// Not is a helper to negate the given expression.
func Not(expr interface{}) []interface{} {
	return []interface{}{ConnectorNot, expr}
}

// Render the filter against the given dialect.
// The placeholder numbering starts at the given position, the next free position is
// returned so callers can continue numbering (pagination arguments).
// An empty filter renders to an empty fragment.
func (f Filter) Render(d Dialect, start int) (sql string, args []interface{}, next int, err error) {
	if len(f) == 0 {
		return "", nil, start, nil
	}
	state := &filterState{dialect: d, position: start}
	sql, err = state.renderList(f)
	if err != nil {
		return "", nil, start, err
	}
	return sql, state.args, state.position, nil
}

// filterState carries the placeholder position and collected arguments through the
// recursion.
type filterState struct {
	dialect  Dialect
	position int
	args     []interface{}
}

// placeholder appends the value and returns the next placeholder.
func (s *filterState) placeholder(value interface{}) string {
	p := s.dialect.Placeholder(s.position)
	s.position++
	s.args = append(s.args, value)
	return p
}

// renderList renders the clauses of a list, connected with AND/OR.
func (s *filterState) renderList(list []interface{}) (string, error) {
	var sb strings.Builder
	connector := ""
	expressions := 0

	for _, clause := range list {
		// string clauses are connectors.
		if c, ok := clause.(string); ok {
			c = strings.ToLower(c)
			if c != ConnectorAnd && c != ConnectorOr {
				return "", filterErr(ErrFilterTriplet, clause)
			}
			if expressions == 0 || connector != "" {
				return "", filterErr(ErrFilterConnector, c)
			}
			connector = strings.ToUpper(c)
			continue
		}

		expr, err := s.renderExpr(clause)
		if err != nil {
			return "", err
		}
		if expressions > 0 {
			if connector == "" {
				connector = "AND"
			}
			sb.WriteString(" " + connector + " ")
		}
		sb.WriteString(expr)
		connector = ""
		expressions++
	}

	// a trailing connector is malformed.
	if connector != "" {
		return "", filterErr(ErrFilterConnector, strings.ToLower(connector))
	}

	return sb.String(), nil
}

// renderExpr renders a single expression. Nested non-triplet expressions are wrapped
// in parentheses.
func (s *filterState) renderExpr(clause interface{}) (string, error) {
	// allow nested Filter values.
	if f, ok := clause.(Filter); ok {
		clause = []interface{}(f)
	}
	list, ok := clause.([]interface{})
	if !ok || len(list) == 0 {
		return "", filterErr(ErrFilterTriplet, clause)
	}

	// negation tuple ["not", expression].
	if c, ok := list[0].(string); ok && len(list) == 2 && strings.ToLower(c) == ConnectorNot {
		inner, err := s.renderExpr(list[1])
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}

	// triplet [field, operator, value].
	if len(list) == 3 {
		field, fieldOk := list[0].(string)
		operator, operatorOk := list[1].(string)
		if fieldOk && operatorOk {
			return s.renderTriplet(field, operator, list[2])
		}
	}

	inner, err := s.renderList(list)
	if err != nil {
		return "", err
	}
	return "(" + inner + ")", nil
}

// renderTriplet renders a [field, operator, value] expression.
func (s *filterState) renderTriplet(field string, operator string, value interface{}) (string, error) {
	column := s.dialect.QuoteIdentifier(field)

	switch strings.ToLower(operator) {
	case "=":
		if value == nil {
			return column + " IS NULL", nil
		}
		return column + " = " + s.placeholder(value), nil
	case "!=":
		if value == nil {
			return column + " IS NOT NULL", nil
		}
		return column + " != " + s.placeholder(value), nil
	case ">", "<", ">=", "<=":
		if value == nil {
			return "", filterErr(ErrFilterNull, operator)
		}
		return column + " " + operator + " " + s.placeholder(value), nil
	case "in", "not in":
		values, ok := asSlice(value)
		if !ok || len(values) == 0 {
			return "", filterErr(ErrFilterList, operator)
		}
		keyword := "IN"
		if strings.HasPrefix(strings.ToLower(operator), "not") {
			keyword = "NOT IN"
		}
		placeholders := s.dialect.Placeholders(len(values), s.position)
		s.position += len(values)
		s.args = append(s.args, values...)
		return column + " " + keyword + " (" + placeholders + ")", nil
	case "like":
		return column + " LIKE " + s.placeholder(wildcard(value)), nil
	case "not like":
		return column + " NOT LIKE " + s.placeholder(wildcard(value)), nil
	case "ilike":
		return column + " ILIKE " + s.placeholder(wildcard(value)), nil
	case "not ilike":
		return column + " NOT ILIKE " + s.placeholder(wildcard(value)), nil
	case "=like":
		return column + " LIKE " + s.placeholder(value), nil
	case "=ilike":
		return column + " ILIKE " + s.placeholder(value), nil
	case "is null":
		return column + " IS NULL", nil
	case "is not null":
		return column + " IS NOT NULL", nil
	case "between", "not between":
		values, ok := asSlice(value)
		if !ok || len(values) != 2 {
			return "", filterErr(ErrFilterBetween, operator)
		}
		keyword := "BETWEEN"
		if strings.HasPrefix(strings.ToLower(operator), "not") {
			keyword = "NOT BETWEEN"
		}
		return column + " " + keyword + " " + s.placeholder(values[0]) + " AND " + s.placeholder(values[1]), nil
	}

	return "", filterErr(ErrFilterOperator, operator)
}

// wildcard wraps the value with % on both sides.
func wildcard(value interface{}) string {
	return "%" + fmt.Sprint(value) + "%"
}

// asSlice converts any slice or array value into []interface{}.
func asSlice(value interface{}) ([]interface{}, bool) {
	if value == nil {
		return nil, false
	}
	if v, ok := value.([]interface{}); ok {
		return v, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	values := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		values[i] = rv.Index(i).Interface()
	}
	return values, true
}
