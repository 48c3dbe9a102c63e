// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orm provides a declarative model system with typed scalar and relation
// fields, crud operations with batch relation hydration, many2many link tables,
// access control hooks, late-bound model extensions and an idempotent ddl engine.
//
// Models are dynamic: a model declares its fields once, records carry the values as
// a map with set-tracking. All blocking operations take a context, a transaction
// pinned to the context (query.Pool.Transaction) is reused automatically.
package orm

import (
	"fmt"

	"github.com/jinzhu/inflection"
	"github.com/serenize/snaker"
)

// Field kinds.
const (
	Integer   Kind = "integer"
	BigInt    Kind = "bigint"
	SmallInt  Kind = "smallint"
	Char      Kind = "char"
	Selection Kind = "selection"
	Text      Kind = "text"
	Boolean   Kind = "boolean"
	Decimal   Kind = "decimal"
	Date      Kind = "date"
	Time      Kind = "time"
	Datetime  Kind = "datetime"
	Float     Kind = "float"
	JSON      Kind = "json"
	Binary    Kind = "binary"

	ManyToOne            Kind = "many2one"
	OneToMany            Kind = "one2many"
	ManyToMany           Kind = "many2many"
	OneToOne             Kind = "one2one"
	PolymorphicManyToOne Kind = "polymorphic_many2one"
	PolymorphicOneToMany Kind = "polymorphic_one2many"
)

// OnDelete actions.
const (
	Restrict = "restrict"
	NoAction = "no action"
	Cascade  = "cascade"
	SetNull  = "set null"
)

// Polymorphic discriminator columns of a polymorphic target.
const (
	ResModel = "res_model"
	ResID    = "res_id"
)

// Error messages.
var (
	ErrKind          = "orm: field %s.%s has the unknown kind %#v"
	ErrPrimaryKey    = "orm: primary key %s.%s must be of an integer kind without default and index"
	ErrIndexUnique   = "orm: field %s.%s can not be index and unique"
	ErrNotIndexable  = "orm: field %s.%s of kind %s can not be indexed or unique"
	ErrTarget        = "orm: relation field %s.%s requires a target"
	ErrBackField     = "orm: relation field %s.%s requires a back field"
	ErrOptions       = "orm: selection field %s.%s requires options"
	ErrOnDelete      = "orm: field %s.%s has the unknown ondelete action %#v"
	ErrSelectionNone = "orm: value %#v is not an option of %s.%s"
)

// Kind of a field.
type Kind string

// Option of a Selection field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field descriptor.
// The zero value of an attribute means unset, defaults are derived on model
// registration.
type Field struct {
	// Name of the field. CamelCase names are converted to snake_case columns.
	Name string
	Kind Kind

	PrimaryKey bool
	Unique     bool
	Null       bool
	Index      bool
	// Required on schema level.
	Required bool
	// SchemaRequired overrides Required for the generated schemas.
	SchemaRequired *bool
	// Protected fields accept writes but never serialize into responses.
	Protected bool
	// Default value or zero-arg producer (func() interface{}).
	Default     interface{}
	Description string

	// OnDelete action of the generated foreign key. Derived from Null if unset.
	OnDelete string

	// Options of a Selection field.
	Options []Option
	// AdditiveOptions merges the options into an existing Selection field when the
	// field is installed by an extension.
	AdditiveOptions bool

	// MaxLength of a Char field, unbounded if 0.
	MaxLength int
	// Digits and Places of a Decimal field.
	Digits int
	Places int

	// Target table of a relation field.
	Target string
	// BackField of one2many/one2one relations (FK column on the target).
	BackField string
	// Many2many link table and its two columns. Derived from the table names if
	// unset.
	LinkTable   string
	ColumnSelf  string
	ColumnOther string

	// Compute makes the field a virtual read-on-load value. The producer runs after
	// the record was materialized, callers must re-read after mutations.
	Compute func(r *Record) interface{}
}

// IsRelation reports whether the field references another model.
func (f Field) IsRelation() bool {
	switch f.Kind {
	case ManyToOne, OneToMany, ManyToMany, OneToOne, PolymorphicManyToOne, PolymorphicOneToMany:
		return true
	}
	return false
}

// IsStored reports whether the field owns a database column.
// Relations are virtual except many2one and polymorphic many2one which store the FK.
// Compute fields are always virtual.
func (f Field) IsStored() bool {
	if f.Compute != nil {
		return false
	}
	switch f.Kind {
	case OneToMany, ManyToMany, OneToOne, PolymorphicOneToMany:
		return false
	}
	return true
}

// IsPlural reports whether the field hydrates into a list.
func (f Field) IsPlural() bool {
	switch f.Kind {
	case OneToMany, ManyToMany, PolymorphicOneToMany:
		return true
	}
	return false
}

// IsIntegerKind reports whether the field is of the integer family.
func (f Field) IsIntegerKind() bool {
	switch f.Kind {
	case Integer, BigInt, SmallInt, ManyToOne, PolymorphicManyToOne:
		return true
	}
	return false
}

// DefaultValue materializes the default. Producers are called per invocation.
func (f Field) DefaultValue() interface{} {
	if producer, ok := f.Default.(func() interface{}); ok {
		return producer()
	}
	return f.Default
}

// HasOption checks the value against the option set.
func (f Field) HasOption(value string) bool {
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// EmptyValue of a hydrated relation slot.
func (f Field) EmptyValue() interface{} {
	if f.IsPlural() {
		return []interface{}{}
	}
	return nil
}

// normalize derives the field defaults and validates the attribute combination.
// The table is only used for error messages and link table derivation.
func (f *Field) normalize(table string) error {
	f.Name = snaker.CamelToSnake(f.Name)

	switch f.Kind {
	case Integer, BigInt, SmallInt, Char, Selection, Text, Boolean, Decimal, Date, Time, Datetime, Float, JSON, Binary,
		ManyToOne, OneToMany, ManyToMany, OneToOne, PolymorphicManyToOne, PolymorphicOneToMany:
	default:
		return fmt.Errorf(ErrKind, table, f.Name, f.Kind)
	}

	if f.PrimaryKey {
		if !f.IsIntegerKind() || f.Default != nil || f.Index {
			return fmt.Errorf(ErrPrimaryKey, table, f.Name)
		}
		// pk implies unique and not null, auto-increment is derived in the ddl.
		f.Unique = true
		f.Null = false
	}

	if f.Index && f.Unique {
		return fmt.Errorf(ErrIndexUnique, table, f.Name)
	}
	if (f.Kind == Text || f.Kind == Binary) && (f.Index || f.Unique) {
		return fmt.Errorf(ErrNotIndexable, table, f.Name, f.Kind)
	}

	if f.Kind == Selection && len(f.Options) == 0 {
		return fmt.Errorf(ErrOptions, table, f.Name)
	}

	if f.IsRelation() && f.Target == "" {
		return fmt.Errorf(ErrTarget, table, f.Name)
	}
	switch f.Kind {
	case OneToMany, OneToOne:
		if f.BackField == "" {
			return fmt.Errorf(ErrBackField, table, f.Name)
		}
	case PolymorphicOneToMany:
		if f.BackField == "" {
			f.BackField = ResID
		}
	case ManyToMany:
		if f.LinkTable == "" {
			f.LinkTable = table + "_" + f.Target
		}
		if f.ColumnSelf == "" {
			f.ColumnSelf = inflection.Singular(table) + "_id"
		}
		if f.ColumnOther == "" {
			f.ColumnOther = inflection.Singular(f.Target) + "_id"
		}
	}

	// derive the fk action from the nullability.
	if f.OnDelete == "" {
		if f.Null {
			f.OnDelete = SetNull
		} else {
			f.OnDelete = Restrict
		}
	}
	switch f.OnDelete {
	case Restrict, NoAction, Cascade, SetNull:
	default:
		return fmt.Errorf(ErrOnDelete, table, f.Name, f.OnDelete)
	}

	return nil
}
