// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query

import (
	"fmt"
	"sort"
	"strings"
)

// Error messages.
var (
	ErrValues = "query: no values given for table %s"
	ErrIDs    = "query: no ids given for table %s"
	ErrRow    = "query: row %d of table %s does not match the column set"
	ErrOrder  = "query: sort order %#v is not allowed"
)

// M2MID is the alias of the projected parent id column of the batched many2many
// select. Callers use it to bucket the rows back into their owners.
const M2MID = "m2m_id"

// Builder is a pure sql generator for one table.
// All methods return (sql, arguments) pairs and never touch a connection. Map values
// are rendered in sorted column order, the output is deterministic.
type Builder struct {
	dialect Dialect
	table   string
	pk      string
}

// NewBuilder creates a sql generator for the given table.
// The primary key defaults to id.
func NewBuilder(d Dialect, table string) *Builder {
	return &Builder{dialect: d, table: table, pk: "id"}
}

// SetPrimaryKey changes the primary key column.
func (b *Builder) SetPrimaryKey(pk string) {
	b.pk = pk
}

// Dialect of the builder.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

// Table of the builder.
func (b *Builder) Table() string {
	return b.table
}

// Join describes a many2many link table.
type Join struct {
	// Table is the link table.
	Table string
	// SelfColumn references the parent record.
	SelfColumn string
	// OtherColumn references the target record.
	OtherColumn string
	// Target is the target table.
	Target string
}

// SearchOpts for the Search statement.
type SearchOpts struct {
	// Fields to select, all columns if empty.
	Fields []string
	// Filter restriction, optional.
	Filter Filter
	// Sort column. It must be part of Stored, otherwise the first stored column is
	// taken instead.
	Sort string
	// Order ASC or DESC, case-insensitive, defaults to ASC.
	Order string
	// Limit without range, 0 means no limit.
	Limit int
	// Start and End define a LIMIT/OFFSET range. Both must be set.
	Start *int
	End   *int
	// Stored is the closed set of sortable columns.
	Stored []string
}

// Insert renders a single row INSERT.
// On dialects with RETURNING support, RETURNING <pk> is appended.
func (b *Builder) Insert(values map[string]interface{}) (string, []interface{}, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf(ErrValues, b.table)
	}
	columns := sortedColumns(values)
	args := make([]interface{}, len(columns))
	for i, c := range columns {
		args[i] = values[c]
	}
	sql := "INSERT INTO " + b.dialect.QuoteIdentifier(b.table) +
		" (" + b.columnList(columns, "") + ") VALUES (" + b.dialect.Placeholders(len(columns), 1) + ")"
	if b.dialect.SupportsReturning() {
		sql += " RETURNING " + b.dialect.QuoteIdentifier(b.pk)
	}
	return sql, args, nil
}

// InsertBulk renders a multi row INSERT with one VALUES group per row.
// Every row must match the given column set, the arguments are flattened.
func (b *Builder) InsertBulk(columns []string, rows [][]interface{}) (string, []interface{}, error) {
	if len(columns) == 0 || len(rows) == 0 {
		return "", nil, fmt.Errorf(ErrValues, b.table)
	}
	var args []interface{}
	groups := make([]string, len(rows))
	position := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf(ErrRow, i, b.table)
		}
		groups[i] = "(" + b.dialect.Placeholders(len(columns), position) + ")"
		position += len(columns)
		args = append(args, row...)
	}
	sql := "INSERT INTO " + b.dialect.QuoteIdentifier(b.table) +
		" (" + b.columnList(columns, "") + ") VALUES " + strings.Join(groups, ", ")
	if b.dialect.SupportsReturning() {
		sql += " RETURNING " + b.dialect.QuoteIdentifier(b.pk)
	}
	return sql, args, nil
}

// Update renders a single row UPDATE by id.
func (b *Builder) Update(id interface{}, values map[string]interface{}) (string, []interface{}, error) {
	sql, args, position, err := b.updateSet(values)
	if err != nil {
		return "", nil, err
	}
	sql += " WHERE " + b.dialect.QuoteIdentifier(b.pk) + " = " + b.dialect.Placeholder(position)
	args = append(args, id)
	return sql, args, nil
}

// UpdateBulk renders an UPDATE which applies the same values to all given ids.
func (b *Builder) UpdateBulk(ids []interface{}, values map[string]interface{}) (string, []interface{}, error) {
	if len(ids) == 0 {
		return "", nil, fmt.Errorf(ErrIDs, b.table)
	}
	sql, args, position, err := b.updateSet(values)
	if err != nil {
		return "", nil, err
	}
	clause, collapsed := b.dialect.InClause(b.dialect.QuoteIdentifier(b.pk), len(ids), position)
	sql += " WHERE " + clause
	if collapsed {
		args = append(args, b.dialect.Array(ids))
	} else {
		args = append(args, ids...)
	}
	return sql, args, nil
}

// Delete renders a single row DELETE by id.
func (b *Builder) Delete(id interface{}) (string, []interface{}, error) {
	sql := "DELETE FROM " + b.dialect.QuoteIdentifier(b.table) +
		" WHERE " + b.dialect.QuoteIdentifier(b.pk) + " = " + b.dialect.Placeholder(1)
	return sql, []interface{}{id}, nil
}

// DeleteBulk renders a DELETE by id list.
// On PostgreSQL the ids collapse into one array argument (id = ANY($1)).
func (b *Builder) DeleteBulk(ids []interface{}) (string, []interface{}, error) {
	if len(ids) == 0 {
		return "", nil, fmt.Errorf(ErrIDs, b.table)
	}
	clause, collapsed := b.dialect.InClause(b.dialect.QuoteIdentifier(b.pk), len(ids), 1)
	sql := "DELETE FROM " + b.dialect.QuoteIdentifier(b.table) + " WHERE " + clause
	if collapsed {
		return sql, []interface{}{b.dialect.Array(ids)}, nil
	}
	return sql, ids, nil
}

// Get renders a single row SELECT by id.
func (b *Builder) Get(id interface{}, fields []string) (string, []interface{}, error) {
	sql := "SELECT " + b.columnList(fields, "") + " FROM " + b.dialect.QuoteIdentifier(b.table) +
		" WHERE " + b.dialect.QuoteIdentifier(b.pk) + " = " + b.dialect.Placeholder(1) + " LIMIT 1"
	return sql, []interface{}{id}, nil
}

// Search renders a SELECT with filter, sorting and pagination.
// Filter arguments are prepended to the pagination arguments.
func (b *Builder) Search(opts SearchOpts) (string, []interface{}, error) {
	sql := "SELECT " + b.columnList(opts.Fields, "") + " FROM " + b.dialect.QuoteIdentifier(b.table)
	where, args, position, err := opts.Filter.Render(b.dialect, 1)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}

	if opts.Sort != "" {
		sort := opts.Sort
		if !contains(opts.Stored, sort) && len(opts.Stored) > 0 {
			sort = opts.Stored[0]
		}
		order := strings.ToUpper(opts.Order)
		if order == "" {
			order = "ASC"
		}
		if order != "ASC" && order != "DESC" {
			return "", nil, fmt.Errorf(ErrOrder, opts.Order)
		}
		sql += " ORDER BY " + b.dialect.QuoteIdentifier(sort) + " " + order
	}

	if opts.Start != nil && opts.End != nil {
		sql += " LIMIT " + b.dialect.Placeholder(position) + " OFFSET " + b.dialect.Placeholder(position+1)
		args = append(args, *opts.End-*opts.Start, *opts.Start)
	} else if opts.Limit > 0 {
		sql += " LIMIT " + b.dialect.Placeholder(position)
		args = append(args, opts.Limit)
	}
	return sql, args, nil
}

// Count renders a COUNT(*) with an optional filter.
func (b *Builder) Count(f Filter) (string, []interface{}, error) {
	sql := "SELECT COUNT(*) FROM " + b.dialect.QuoteIdentifier(b.table)
	where, args, _, err := f.Render(b.dialect, 1)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}
	return sql, args, nil
}

// Exists renders a SELECT 1 ... LIMIT 1 with an optional filter.
func (b *Builder) Exists(f Filter) (string, []interface{}, error) {
	sql := "SELECT 1 FROM " + b.dialect.QuoteIdentifier(b.table)
	where, args, _, err := f.Render(b.dialect, 1)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sql += " WHERE " + where
	}
	return sql + " LIMIT 1", args, nil
}

// TableLen renders an unconditional COUNT(*).
func (b *Builder) TableLen() (string, []interface{}, error) {
	return "SELECT COUNT(*) FROM " + b.dialect.QuoteIdentifier(b.table), nil, nil
}

// ManyToMany renders the target rows of one parent record, joined over the link
// table.
func (b *Builder) ManyToMany(j Join, fields []string, parentID interface{}) (string, []interface{}, error) {
	sql := "SELECT " + b.columnList(fields, j.Target) + b.m2mFrom(j) +
		" WHERE " + b.dialect.QuoteIdentifier(j.Table+"."+j.SelfColumn) + " = " + b.dialect.Placeholder(1)
	return sql, []interface{}{parentID}, nil
}

// ManyToManyPage renders one sorted page of the many2many select.
// The sort column is target qualified and must be validated by the caller.
func (b *Builder) ManyToManyPage(j Join, fields []string, parentID interface{}, sort string, order string, limit int, offset int) (string, []interface{}, error) {
	order = strings.ToUpper(order)
	if order == "" {
		order = "ASC"
	}
	if order != "ASC" && order != "DESC" {
		return "", nil, fmt.Errorf(ErrOrder, order)
	}
	sql := "SELECT " + b.columnList(fields, j.Target) + b.m2mFrom(j) +
		" WHERE " + b.dialect.QuoteIdentifier(j.Table+"."+j.SelfColumn) + " = " + b.dialect.Placeholder(1) +
		" ORDER BY " + b.dialect.QuoteIdentifier(j.Target+"."+sort) + " " + order +
		" LIMIT " + b.dialect.Placeholder(2) + " OFFSET " + b.dialect.Placeholder(3)
	return sql, []interface{}{parentID, limit, offset}, nil
}

// ManyToManyCount renders the COUNT(*) of all linked rows of one parent.
func (b *Builder) ManyToManyCount(j Join, parentID interface{}) (string, []interface{}, error) {
	sql := "SELECT COUNT(*)" + b.m2mFrom(j) +
		" WHERE " + b.dialect.QuoteIdentifier(j.Table+"."+j.SelfColumn) + " = " + b.dialect.Placeholder(1)
	return sql, []interface{}{parentID}, nil
}

// ManyToManyIn renders the batched variant for many parent ids.
// The parent id is projected as m2m_id.
func (b *Builder) ManyToManyIn(j Join, fields []string, parentIDs []interface{}) (string, []interface{}, error) {
	if len(parentIDs) == 0 {
		return "", nil, fmt.Errorf(ErrIDs, j.Table)
	}
	clause, collapsed := b.dialect.InClause(b.dialect.QuoteIdentifier(j.Table+"."+j.SelfColumn), len(parentIDs), 1)
	sql := "SELECT " + b.columnList(fields, j.Target) +
		", " + b.dialect.QuoteIdentifier(j.Table+"."+j.SelfColumn) + " AS " + b.dialect.QuoteIdentifier(M2MID) +
		b.m2mFrom(j) + " WHERE " + clause
	if collapsed {
		return sql, []interface{}{b.dialect.Array(parentIDs)}, nil
	}
	return sql, parentIDs, nil
}

// LinkManyToMany renders the link table INSERT, one VALUES group per
// (other, self) pair.
func (b *Builder) LinkManyToMany(j Join, pairs [][2]interface{}) (string, []interface{}, error) {
	if len(pairs) == 0 {
		return "", nil, fmt.Errorf(ErrValues, j.Table)
	}
	groups := make([]string, len(pairs))
	args := make([]interface{}, 0, len(pairs)*2)
	position := 1
	for i, pair := range pairs {
		groups[i] = "(" + b.dialect.Placeholders(2, position) + ")"
		position += 2
		args = append(args, pair[0], pair[1])
	}
	sql := "INSERT INTO " + b.dialect.QuoteIdentifier(j.Table) +
		" (" + b.dialect.QuoteIdentifier(j.OtherColumn) + ", " + b.dialect.QuoteIdentifier(j.SelfColumn) + ")" +
		" VALUES " + strings.Join(groups, ", ")
	return sql, args, nil
}

// UnlinkManyToMany renders the link table DELETE for all rows of the given parent
// ids.
func (b *Builder) UnlinkManyToMany(j Join, parentIDs []interface{}) (string, []interface{}, error) {
	if len(parentIDs) == 0 {
		return "", nil, fmt.Errorf(ErrIDs, j.Table)
	}
	clause, collapsed := b.dialect.InClause(b.dialect.QuoteIdentifier(j.SelfColumn), len(parentIDs), 1)
	sql := "DELETE FROM " + b.dialect.QuoteIdentifier(j.Table) + " WHERE " + clause
	if collapsed {
		return sql, []interface{}{b.dialect.Array(parentIDs)}, nil
	}
	return sql, parentIDs, nil
}

// UnlinkPairs renders the link table DELETE for specific target ids of one parent.
func (b *Builder) UnlinkPairs(j Join, parentID interface{}, otherIDs []interface{}) (string, []interface{}, error) {
	if len(otherIDs) == 0 {
		return "", nil, fmt.Errorf(ErrIDs, j.Table)
	}
	clause, collapsed := b.dialect.InClause(b.dialect.QuoteIdentifier(j.OtherColumn), len(otherIDs), 2)
	sql := "DELETE FROM " + b.dialect.QuoteIdentifier(j.Table) +
		" WHERE " + b.dialect.QuoteIdentifier(j.SelfColumn) + " = " + b.dialect.Placeholder(1) +
		" AND " + clause
	args := []interface{}{parentID}
	if collapsed {
		return sql, append(args, b.dialect.Array(otherIDs)), nil
	}
	return sql, append(args, otherIDs...), nil
}

// m2mFrom renders the FROM/JOIN part of the many2many selects.
func (b *Builder) m2mFrom(j Join) string {
	return " FROM " + b.dialect.QuoteIdentifier(j.Target) +
		" JOIN " + b.dialect.QuoteIdentifier(j.Table) +
		" ON " + b.dialect.QuoteIdentifier(j.Table+"."+j.OtherColumn) +
		" = " + b.dialect.QuoteIdentifier(j.Target+"."+b.pk)
}

// updateSet renders the UPDATE ... SET part and returns the next placeholder
// position.
func (b *Builder) updateSet(values map[string]interface{}) (string, []interface{}, int, error) {
	if len(values) == 0 {
		return "", nil, 0, fmt.Errorf(ErrValues, b.table)
	}
	columns := sortedColumns(values)
	pairs := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, c := range columns {
		pairs[i] = b.dialect.QuoteIdentifier(c) + " = " + b.dialect.Placeholder(i+1)
		args[i] = values[c]
	}
	sql := "UPDATE " + b.dialect.QuoteIdentifier(b.table) + " SET " + strings.Join(pairs, ", ")
	return sql, args, len(columns) + 1, nil
}

// columnList renders a quoted, comma separated column list.
// A * is rendered for an empty field set. With a prefix, every column is table
// qualified.
func (b *Builder) columnList(fields []string, prefix string) string {
	if len(fields) == 0 {
		return "*"
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		if prefix != "" {
			f = prefix + "." + f
		}
		quoted[i] = b.dialect.QuoteIdentifier(f)
	}
	return strings.Join(quoted, ", ")
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

// sortedColumns returns the map keys in sorted order.
func sortedColumns(values map[string]interface{}) []string {
	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}
