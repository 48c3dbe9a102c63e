// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package query provides a dialect aware sql generator, a recursive filter expression
// parser and a session/transaction abstraction over database/sql.
//
// The statement generation is split from the execution: the Builder only renders
// (sql, arguments) pairs, the Session executes them. Dialects are provider based and
// register themselves through the registry package.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/patrickascher/dotorm/registry"
)

// registryPrefix for the dialect providers.
const registryPrefix = "query_"

// Pre-defined dialects.
const (
	POSTGRES   = "postgres"
	MYSQL      = "mysql"
	CLICKHOUSE = "clickhouse"
)

// Dialect interface.
// A dialect only describes how sql fragments are rendered, it holds no connection.
type Dialect interface {
	// Name of the dialect.
	Name() string
	// QuoteIdentifier quotes the given identifier. Dotted names are quoted per part.
	QuoteIdentifier(name string) string
	// Placeholder returns the placeholder for the given position (1-based).
	Placeholder(position int) string
	// Placeholders returns a comma separated placeholder list, starting at the given
	// position.
	Placeholders(n int, start int) string
	// SupportsReturning reports whether INSERT may append RETURNING <pk>.
	SupportsReturning() bool
	// InClause renders a bulk id restriction. On PostgreSQL `column = ANY($n)` is
	// rendered and collapse is true: the caller must pass all values as one array
	// argument (see Array). Otherwise a placeholder list is rendered.
	InClause(column string, n int, start int) (clause string, collapse bool)
	// Array wraps the values for a collapsed InClause argument.
	Array(values []interface{}) interface{}
}

// RegisterDialect registers a dialect provider.
func RegisterDialect(name string, d Dialect) error {
	return registry.Set(registryPrefix+name, d)
}

// NewDialect returns the registered dialect by name.
// Error will return if the dialect was not registered.
func NewDialect(name string) (Dialect, error) {
	d, err := registry.Get(registryPrefix + name)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return d.(Dialect), nil
}

// QuoteParts is a helper for the dialect implementations.
// The quote character will be stripped of the name before quoting, dotted names are
// quoted per part.
func QuoteParts(name string, char string) string {
	name = strings.ReplaceAll(name, char, "")
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = char + p + char
	}
	return strings.Join(parts, ".")
}

// NumericPlaceholders is a helper for dialects with numbered placeholders ($1,$2,...).
func NumericPlaceholders(char string, n int, start int) string {
	rv := make([]string, n)
	for i := 0; i < n; i++ {
		rv[i] = char + strconv.Itoa(start+i)
	}
	return strings.Join(rv, ", ")
}

// PositionalPlaceholders is a helper for dialects with positional placeholders (?).
func PositionalPlaceholders(char string, n int) string {
	rv := make([]string, n)
	for i := 0; i < n; i++ {
		rv[i] = char
	}
	return strings.Join(rv, ", ")
}
