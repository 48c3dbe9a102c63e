// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package postgres registers the PostgreSQL dialect and imports the lib/pq driver.
// PostgreSQL is the primary supported target.
package postgres

import (
	"log"

	"github.com/lib/pq" // imports the postgres driver
	"github.com/patrickascher/dotorm/query"
)

// init registers the dialect under postgres.
func init() {
	err := query.RegisterDialect(query.POSTGRES, &postgres{})
	if err != nil {
		log.Fatal(err)
	}
}

type postgres struct{}

// Name of the dialect.
func (p *postgres) Name() string {
	return query.POSTGRES
}

// QuoteIdentifier quotes with double quotes.
func (p *postgres) QuoteIdentifier(name string) string {
	return query.QuoteParts(name, `"`)
}

// Placeholder returns the numbered $n placeholder.
func (p *postgres) Placeholder(position int) string {
	return query.NumericPlaceholders("$", 1, position)
}

// Placeholders returns $start ... $start+n-1.
func (p *postgres) Placeholders(n int, start int) string {
	return query.NumericPlaceholders("$", n, start)
}

// SupportsReturning is true, INSERT will append RETURNING <pk>.
func (p *postgres) SupportsReturning() bool {
	return true
}

// InClause renders `column = ANY($n)`. The values must be passed as one pq.Array
// argument.
func (p *postgres) InClause(column string, n int, start int) (string, bool) {
	return column + " = ANY(" + p.Placeholder(start) + ")", true
}

// Array wraps the values with pq.Array.
func (p *postgres) Array(values []interface{}) interface{} {
	return pq.Array(values)
}
