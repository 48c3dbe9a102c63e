// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query_test

import (
	"testing"

	"github.com/patrickascher/dotorm/query"
	_ "github.com/patrickascher/dotorm/query/mysql"
	_ "github.com/patrickascher/dotorm/query/postgres"
	"github.com/stretchr/testify/assert"
)

// TestFilter_Render tests the filter rendering against the postgres dialect.
func TestFilter_Render(t *testing.T) {
	asserts := assert.New(t)
	d, err := query.NewDialect(query.POSTGRES)
	asserts.NoError(err)

	var tests = []struct {
		name   string
		filter query.Filter
		sql    string
		args   []interface{}
		next   int
		error  bool
	}{
		{name: "empty filter", filter: query.Filter{}, sql: "", args: nil, next: 1},
		{name: "equal", filter: query.Filter{query.Triplet("name", "=", "John")}, sql: `"name" = $1`, args: []interface{}{"John"}, next: 2},
		{name: "equal null", filter: query.Filter{query.Triplet("name", "=", nil)}, sql: `"name" IS NULL`, next: 1},
		{name: "not equal null", filter: query.Filter{query.Triplet("name", "!=", nil)}, sql: `"name" IS NOT NULL`, next: 1},
		{name: "implicit and", filter: query.Filter{query.Triplet("a", "=", 1), query.Triplet("b", ">", 2)}, sql: `"a" = $1 AND "b" > $2`, args: []interface{}{1, 2}, next: 3},
		{name: "explicit or", filter: query.Filter{query.Triplet("a", "=", 1), "or", query.Triplet("b", "=", 2)}, sql: `"a" = $1 OR "b" = $2`, args: []interface{}{1, 2}, next: 3},
		{name: "nested list", filter: query.Filter{query.Triplet("a", "=", 1), []interface{}{query.Triplet("b", "=", 2), "or", query.Triplet("c", "=", 3)}}, sql: `"a" = $1 AND ("b" = $2 OR "c" = $3)`, args: []interface{}{1, 2, 3}, next: 4},
		{name: "not triplet", filter: query.Filter{query.Not(query.Triplet("a", "=", 1))}, sql: `NOT ("a" = $1)`, args: []interface{}{1}, next: 2},
		{name: "not list", filter: query.Filter{query.Not([]interface{}{query.Triplet("a", "=", 1), "or", query.Triplet("b", "=", 2)})}, sql: `NOT (("a" = $1 OR "b" = $2))`, args: []interface{}{1, 2}, next: 3},
		{name: "in", filter: query.Filter{query.Triplet("id", "in", []interface{}{1, 2, 3})}, sql: `"id" IN ($1, $2, $3)`, args: []interface{}{1, 2, 3}, next: 4},
		{name: "in typed slice", filter: query.Filter{query.Triplet("id", "in", []int{4, 5})}, sql: `"id" IN ($1, $2)`, args: []interface{}{4, 5}, next: 3},
		{name: "not in", filter: query.Filter{query.Triplet("id", "not in", []interface{}{1})}, sql: `"id" NOT IN ($1)`, args: []interface{}{1}, next: 2},
		{name: "like wraps", filter: query.Filter{query.Triplet("name", "like", "oh")}, sql: `"name" LIKE $1`, args: []interface{}{"%oh%"}, next: 2},
		{name: "ilike wraps", filter: query.Filter{query.Triplet("name", "ilike", "oh")}, sql: `"name" ILIKE $1`, args: []interface{}{"%oh%"}, next: 2},
		{name: "not like wraps", filter: query.Filter{query.Triplet("name", "not like", "oh")}, sql: `"name" NOT LIKE $1`, args: []interface{}{"%oh%"}, next: 2},
		{name: "literal like", filter: query.Filter{query.Triplet("name", "=like", "J%")}, sql: `"name" LIKE $1`, args: []interface{}{"J%"}, next: 2},
		{name: "literal ilike", filter: query.Filter{query.Triplet("name", "=ilike", "j%")}, sql: `"name" ILIKE $1`, args: []interface{}{"j%"}, next: 2},
		{name: "is null", filter: query.Filter{query.Triplet("name", "is null", nil)}, sql: `"name" IS NULL`, next: 1},
		{name: "is not null", filter: query.Filter{query.Triplet("name", "is not null", nil)}, sql: `"name" IS NOT NULL`, next: 1},
		{name: "between", filter: query.Filter{query.Triplet("age", "between", []interface{}{18, 65})}, sql: `"age" BETWEEN $1 AND $2`, args: []interface{}{18, 65}, next: 3},
		{name: "not between", filter: query.Filter{query.Triplet("age", "not between", []interface{}{18, 65})}, sql: `"age" NOT BETWEEN $1 AND $2`, args: []interface{}{18, 65}, next: 3},
		{name: "placeholder offset", filter: query.Filter{query.Triplet("a", "=", 1)}, sql: `"a" = $4`, args: []interface{}{1}, next: 5},

		// malformed filters.
		{name: "unknown operator", filter: query.Filter{query.Triplet("a", "~", 1)}, error: true},
		{name: "greater with null", filter: query.Filter{query.Triplet("a", ">", nil)}, error: true},
		{name: "in with scalar", filter: query.Filter{query.Triplet("a", "in", 1)}, error: true},
		{name: "in with empty list", filter: query.Filter{query.Triplet("a", "in", []interface{}{})}, error: true},
		{name: "between one element", filter: query.Filter{query.Triplet("a", "between", []interface{}{1})}, error: true},
		{name: "leading connector", filter: query.Filter{"and", query.Triplet("a", "=", 1)}, error: true},
		{name: "trailing connector", filter: query.Filter{query.Triplet("a", "=", 1), "or"}, error: true},
		{name: "double connector", filter: query.Filter{query.Triplet("a", "=", 1), "and", "or", query.Triplet("b", "=", 2)}, error: true},
		{name: "unknown token", filter: query.Filter{"abc"}, error: true},
		{name: "non expression", filter: query.Filter{42}, error: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			start := 1
			if test.name == "placeholder offset" {
				start = 4
			}
			sql, args, next, err := test.filter.Render(d, start)
			if test.error {
				asserts.Error(err)
				// every grammar error carries the filter sentinel.
				asserts.ErrorIs(err, query.ErrFilter)
				return
			}
			asserts.NoError(err)
			asserts.Equal(test.sql, sql)
			asserts.Equal(test.args, args)
			asserts.Equal(test.next, next)
		})
	}
}

// TestFilter_Render_Mysql tests the positional placeholders and identifier quoting of
// the mysql dialect.
func TestFilter_Render_Mysql(t *testing.T) {
	asserts := assert.New(t)
	d, err := query.NewDialect(query.MYSQL)
	asserts.NoError(err)

	sql, args, next, err := query.Filter{
		query.Triplet("name", "=", "John"),
		"or",
		query.Triplet("id", "in", []interface{}{1, 2}),
	}.Render(d, 1)
	asserts.NoError(err)
	asserts.Equal("`name` = ? OR `id` IN (?, ?)", sql)
	asserts.Equal([]interface{}{"John", 1, 2}, args)
	asserts.Equal(4, next)
}
