// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mysql registers the MySQL dialect and imports the go-sql-driver driver.
package mysql

import (
	"log"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	"github.com/patrickascher/dotorm/query"
)

// init registers the dialect under mysql.
func init() {
	err := query.RegisterDialect(query.MYSQL, &mysql{})
	if err != nil {
		log.Fatal(err)
	}
}

type mysql struct{}

// Name of the dialect.
func (m *mysql) Name() string {
	return query.MYSQL
}

// QuoteIdentifier quotes with backticks.
func (m *mysql) QuoteIdentifier(name string) string {
	return query.QuoteParts(name, "`")
}

// Placeholder returns the positional ? placeholder, the position is ignored.
func (m *mysql) Placeholder(int) string {
	return "?"
}

// Placeholders returns a ?, ?, ... list.
func (m *mysql) Placeholders(n int, _ int) string {
	return query.PositionalPlaceholders("?", n)
}

// SupportsReturning is false, the last insert id is taken from the driver result.
func (m *mysql) SupportsReturning() bool {
	return false
}

// InClause renders a `column IN (?, ...)` placeholder list.
func (m *mysql) InClause(column string, n int, start int) (string, bool) {
	return column + " IN (" + m.Placeholders(n, start) + ")", false
}

// Array is a no-op, the mysql InClause never collapses.
func (m *mysql) Array(values []interface{}) interface{} {
	return values
}
