// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"context"
	"fmt"
	"strings"

	"github.com/patrickascher/dotorm/query"
)

// Error messages.
var (
	ErrDDLDefault = "orm: default literal %#v of %s.%s is not emittable in ddl"
	ErrDDLDialect = "orm: dialect %s is not supported by the ddl engine"
)

// Constraint is a named foreign key statement.
// Constraints are returned to the caller and applied after all tables exist.
type Constraint struct {
	Name string
	SQL  string
}

// Migrate creates or evolves the tables of all auto-create models.
// Table creation, column addition, link tables and indexes are idempotent. Foreign
// keys are collected first and applied after all tables exist, so declaration order
// never matters.
func Migrate(ctx context.Context, r *Registry) error {
	models, err := r.Models()
	if err != nil {
		return err
	}

	var constraints []Constraint
	for _, m := range models {
		if !m.AutoCreate() {
			continue
		}
		c, err := m.createTable(ctx)
		if err != nil {
			return err
		}
		constraints = append(constraints, c...)
	}

	s := r.pool.Session(ctx)
	for _, c := range constraints {
		exists, err := constraintExists(ctx, s, c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := s.Exec(ctx, c.SQL); err != nil {
			return err
		}
	}
	return nil
}

// createTable emits CREATE TABLE IF NOT EXISTS, adds missing columns, creates the
// link tables and indexes and returns the collected foreign keys.
func (m *Model) createTable(ctx context.Context) ([]Constraint, error) {
	d := m.registry.pool.Dialect()
	s := m.registry.pool.Session(ctx)

	var declarations []string
	for _, name := range m.stored {
		f := m.fields[m.fieldIndex[name]]
		decl, err := columnDeclaration(d, m.name, f)
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, decl)
	}
	stmt := "CREATE TABLE IF NOT EXISTS " + d.QuoteIdentifier(m.name) + " (" + strings.Join(declarations, ", ") + ")"
	if _, err := s.Exec(ctx, stmt); err != nil {
		return nil, err
	}

	// incremental evolution: add the columns the catalog does not know yet.
	existing, err := existingColumns(ctx, s, m.name)
	if err != nil {
		return nil, err
	}
	for _, name := range m.stored {
		if existing[name] {
			continue
		}
		f := m.fields[m.fieldIndex[name]]
		decl, err := columnDeclaration(d, m.name, f)
		if err != nil {
			return nil, err
		}
		stmt := "ALTER TABLE " + d.QuoteIdentifier(m.name) + " ADD COLUMN " + decl
		if _, err := s.Exec(ctx, stmt); err != nil {
			return nil, err
		}
	}

	var constraints []Constraint
	for _, f := range m.fields {
		switch f.Kind {
		case ManyToOne, PolymorphicManyToOne:
			constraints = append(constraints, m.foreignKey(d, m.name, f.Name, f.Target, f.OnDelete))
		case ManyToMany:
			c, err := m.createLinkTable(ctx, f)
			if err != nil {
				return nil, err
			}
			constraints = append(constraints, c...)
		}
		if f.Index && !f.PrimaryKey && !f.Unique && f.IsStored() {
			name := "idx_" + m.name + "_" + f.Name
			if err := createIndex(ctx, s, name, m.name, []string{f.Name}); err != nil {
				return nil, err
			}
		}
	}
	return constraints, nil
}

// createLinkTable creates the two-column link table of a many2many field with its
// composite index and returns the two foreign keys of the endpoints.
func (m *Model) createLinkTable(ctx context.Context, f Field) ([]Constraint, error) {
	d := m.registry.pool.Dialect()
	s := m.registry.pool.Session(ctx)

	stmt := "CREATE TABLE IF NOT EXISTS " + d.QuoteIdentifier(f.LinkTable) + " (" +
		d.QuoteIdentifier(f.ColumnSelf) + " INTEGER NOT NULL, " +
		d.QuoteIdentifier(f.ColumnOther) + " INTEGER NOT NULL)"
	if _, err := s.Exec(ctx, stmt); err != nil {
		return nil, err
	}

	name := "idx_" + f.LinkTable + "_" + f.ColumnSelf + "_" + f.ColumnOther
	if err := createIndex(ctx, s, name, f.LinkTable, []string{f.ColumnSelf, f.ColumnOther}); err != nil {
		return nil, err
	}

	return []Constraint{
		m.foreignKey(d, f.LinkTable, f.ColumnSelf, m.name, Cascade),
		m.foreignKey(d, f.LinkTable, f.ColumnOther, f.Target, Cascade),
	}, nil
}

// foreignKey renders a named ALTER TABLE ADD CONSTRAINT statement.
// The target primary key is assumed to be id, which the model invariants guarantee
// for registered models.
func (m *Model) foreignKey(d query.Dialect, table string, column string, target string, onDelete string) Constraint {
	name := "fk_" + table + "_" + column
	sql := "ALTER TABLE " + d.QuoteIdentifier(table) +
		" ADD CONSTRAINT " + d.QuoteIdentifier(name) +
		" FOREIGN KEY (" + d.QuoteIdentifier(column) + ")" +
		" REFERENCES " + d.QuoteIdentifier(target) + " (" + d.QuoteIdentifier("id") + ")" +
		" ON DELETE " + strings.ToUpper(onDelete)
	return Constraint{Name: name, SQL: sql}
}

// createIndex creates the index when it does not exist yet.
// MySQL has no IF NOT EXISTS for indexes, the catalog is checked instead.
func createIndex(ctx context.Context, s query.Session, name string, table string, columns []string) error {
	d := s.Dialect()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
	}
	columnList := strings.Join(quoted, ", ")

	switch d.Name() {
	case query.POSTGRES:
		stmt := "CREATE INDEX IF NOT EXISTS " + d.QuoteIdentifier(name) +
			" ON " + d.QuoteIdentifier(table) + " (" + columnList + ")"
		_, err := s.Exec(ctx, stmt)
		return err
	case query.MYSQL:
		var count int
		err := s.QueryRow(ctx,
			"SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?",
			table, name).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		stmt := "CREATE INDEX " + d.QuoteIdentifier(name) + " ON " + d.QuoteIdentifier(table) + " (" + columnList + ")"
		_, err = s.Exec(ctx, stmt)
		return err
	}
	return fmt.Errorf(ErrDDLDialect, d.Name())
}

// existingColumns reads the column names of the table out of the catalog, one query
// per table.
func existingColumns(ctx context.Context, s query.Session, table string) (map[string]bool, error) {
	var stmt string
	switch s.Dialect().Name() {
	case query.POSTGRES:
		stmt = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1"
	case query.MYSQL:
		stmt = "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?"
	default:
		return nil, fmt.Errorf(ErrDDLDialect, s.Dialect().Name())
	}

	rows, err := s.Query(ctx, stmt, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// constraintExists checks the catalog for a named constraint.
func constraintExists(ctx context.Context, s query.Session, name string) (bool, error) {
	var stmt string
	switch s.Dialect().Name() {
	case query.POSTGRES:
		stmt = "SELECT COUNT(*) FROM information_schema.table_constraints WHERE constraint_schema = current_schema() AND constraint_name = $1"
	case query.MYSQL:
		stmt = "SELECT COUNT(*) FROM information_schema.table_constraints WHERE constraint_schema = DATABASE() AND constraint_name = ?"
	default:
		return false, fmt.Errorf(ErrDDLDialect, s.Dialect().Name())
	}
	var count int
	if err := s.QueryRow(ctx, stmt, name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// columnDeclaration renders the column of one stored field.
func columnDeclaration(d query.Dialect, table string, f Field) (string, error) {
	typ, err := columnType(d, table, f)
	if err != nil {
		return "", err
	}
	decl := d.QuoteIdentifier(f.Name) + " " + typ

	if f.PrimaryKey {
		return decl + " PRIMARY KEY", nil
	}
	if !f.Null {
		decl += " NOT NULL"
	}
	if f.Unique {
		decl += " UNIQUE"
	}
	if f.Default != nil {
		literal, ok := defaultLiteral(f.DefaultValue())
		if !ok {
			return "", fmt.Errorf(ErrDDLDefault, f.Default, table, f.Name)
		}
		decl += " DEFAULT " + literal
	}
	return decl, nil
}

// defaultLiteral renders a ddl default for bool, integer and string values only.
// Drivers do not parameterize ddl, strings are escaped and a character blacklist
// guards against injection.
func defaultLiteral(value interface{}) (string, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return "TRUE", true
		}
		return "FALSE", true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), true
	case string:
		if strings.Contains(v, ";") || strings.Contains(v, "--") {
			return "", false
		}
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", true
	}
	return "", false
}

// columnType maps the field kind to the dialect column type.
// Auto increment is inferred from primary key plus integer family.
func columnType(d query.Dialect, table string, f Field) (string, error) {
	switch d.Name() {
	case query.POSTGRES:
		if f.PrimaryKey {
			switch f.Kind {
			case SmallInt:
				return "SMALLSERIAL", nil
			case BigInt:
				return "BIGSERIAL", nil
			default:
				return "SERIAL", nil
			}
		}
		switch f.Kind {
		case Integer, ManyToOne, PolymorphicManyToOne:
			return "INTEGER", nil
		case BigInt:
			return "BIGINT", nil
		case SmallInt:
			return "SMALLINT", nil
		case Char:
			if f.MaxLength > 0 {
				return fmt.Sprintf("VARCHAR(%d)", f.MaxLength), nil
			}
			return "TEXT", nil
		case Selection, Text:
			return "TEXT", nil
		case Boolean:
			return "BOOLEAN", nil
		case Decimal:
			return fmt.Sprintf("NUMERIC(%d, %d)", f.Digits, f.Places), nil
		case Date:
			return "DATE", nil
		case Time:
			return "TIME", nil
		case Datetime:
			return "TIMESTAMP", nil
		case Float:
			return "DOUBLE PRECISION", nil
		case JSON:
			return "JSONB", nil
		case Binary:
			return "BYTEA", nil
		}
	case query.MYSQL:
		base := ""
		switch f.Kind {
		case Integer, ManyToOne, PolymorphicManyToOne:
			base = "INT"
		case BigInt:
			base = "BIGINT"
		case SmallInt:
			base = "SMALLINT"
		case Char:
			length := f.MaxLength
			if length == 0 {
				length = 255
			}
			base = fmt.Sprintf("VARCHAR(%d)", length)
		case Selection:
			base = "VARCHAR(255)"
		case Text:
			base = "TEXT"
		case Boolean:
			base = "TINYINT(1)"
		case Decimal:
			base = fmt.Sprintf("DECIMAL(%d, %d)", f.Digits, f.Places)
		case Date:
			base = "DATE"
		case Time:
			base = "TIME"
		case Datetime:
			base = "DATETIME"
		case Float:
			base = "DOUBLE"
		case JSON:
			base = "JSON"
		case Binary:
			base = "BLOB"
		}
		if base == "" {
			break
		}
		if f.PrimaryKey {
			base += " AUTO_INCREMENT"
		}
		return base, nil
	default:
		return "", fmt.Errorf(ErrDDLDialect, d.Name())
	}
	return "", fmt.Errorf(ErrKind, table, f.Name, f.Kind)
}
