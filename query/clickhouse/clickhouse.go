// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clickhouse registers the ClickHouse dialect.
// The dialect is statement generation only, no driver is bundled. It is meant for
// rendering statements that are shipped to an external ClickHouse ingestion.
package clickhouse

import (
	"log"

	"github.com/patrickascher/dotorm/query"
)

// init registers the dialect under clickhouse.
func init() {
	err := query.RegisterDialect(query.CLICKHOUSE, &clickhouse{})
	if err != nil {
		log.Fatal(err)
	}
}

type clickhouse struct{}

// Name of the dialect.
func (c *clickhouse) Name() string {
	return query.CLICKHOUSE
}

// QuoteIdentifier quotes with backticks.
func (c *clickhouse) QuoteIdentifier(name string) string {
	return query.QuoteParts(name, "`")
}

// Placeholder returns the positional ? placeholder, the position is ignored.
func (c *clickhouse) Placeholder(int) string {
	return "?"
}

// Placeholders returns a ?, ?, ... list.
func (c *clickhouse) Placeholders(n int, _ int) string {
	return query.PositionalPlaceholders("?", n)
}

// SupportsReturning is false.
func (c *clickhouse) SupportsReturning() bool {
	return false
}

// InClause renders a `column IN (?, ...)` placeholder list.
func (c *clickhouse) InClause(column string, n int, start int) (string, bool) {
	return column + " IN (" + c.Placeholders(n, start) + ")", false
}

// Array is a no-op, the clickhouse InClause never collapses.
func (c *clickhouse) Array(values []interface{}) interface{} {
	return values
}
