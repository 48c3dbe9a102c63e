// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema derives validation schemas from model introspection.
// Per model one Set with create, update, search and read shapes is generated in one
// pass and cached. Relations nest exactly one level deep, on the second level they
// reduce to {id,name}, so mutually referencing models terminate.
package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/patrickascher/dotorm/cache"
	"github.com/patrickascher/dotorm/orm"
)

// cachePrefix of the derived sets.
const cachePrefix = "schema"

// Error messages.
var (
	ErrFields   = "schema: fields %v are not declared on %s"
	ErrRequired = "schema: field %s.%s is required"
	ErrType     = "schema: field %s.%s expects %s"
	ErrOperator = "schema: operator %#v is not allowed on %s.%s"
	ErrOption   = "schema: value %#v is not an option of %s.%s"
	ErrFilter   = "schema: malformed filter element %#v"
	ErrOrder    = "schema: order %#v is not allowed"
	ErrSort     = "schema: sort %#v is not allowed on %s"
)

// Value types of the wire format.
const (
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

// FieldSchema describes one field of a derived schema.
type FieldSchema struct {
	Name        string       `json:"name"`
	Kind        orm.Kind     `json:"kind"`
	Type        string       `json:"type"`
	Required    bool         `json:"required,omitempty"`
	ReadOnly    bool         `json:"readOnly,omitempty"`
	MaxLength   int          `json:"maxLength,omitempty"`
	Options     []orm.Option `json:"options,omitempty"`
	Description string       `json:"description,omitempty"`
	// Operators allowed in filter triplets on this field.
	Operators []string `json:"operators,omitempty"`
	// Relation shape, nil for scalars.
	Relation *RelationSchema `json:"relation,omitempty"`
}

// RelationSchema describes the nested shape of a relation field.
type RelationSchema struct {
	Target string   `json:"target"`
	Kind   orm.Kind `json:"kind"`
	// Command is true when the field accepts a {created,deleted,selected,
	// unselected} object on create/update.
	Command bool `json:"command,omitempty"`
	// Fields of the nested level. On the second nesting level this is always
	// reduced to {id,name}.
	Fields map[string]FieldSchema `json:"fields,omitempty"`
	// Create is the simplified nested create schema of command objects.
	Create map[string]FieldSchema `json:"create,omitempty"`
}

// Set holds all derived schemas of one model.
type Set struct {
	model *orm.Model

	// Base is the canonical representation, all fields typed.
	Base map[string]FieldSchema `json:"base"`
	// Create is the request body of an insert, no id.
	Create map[string]FieldSchema `json:"create"`
	// Update is the request body of a patch, every field optional.
	Update map[string]FieldSchema `json:"update"`
	// SearchOutput is one row of a list, relations reduce to {id,name}.
	SearchOutput map[string]FieldSchema `json:"searchOutput"`
	// ReadOutput is one form, relations nest one level.
	ReadOutput map[string]FieldSchema `json:"readOutput"`
}

// Registry caches the schema sets per model in the cache manager.
type Registry struct {
	models   *orm.Registry
	cache    cache.Manager
	validate *validator.Validate
}

// New creates a schema registry over the model registry. The sets are cached
// forever, model declarations are frozen after first access anyway.
func New(models *orm.Registry, c cache.Manager) *Registry {
	return &Registry{models: models, cache: c, validate: validator.New()}
}

// Set returns the derived schemas of the model, generated on first access.
func (r *Registry) Set(table string) (*Set, error) {
	if item, err := r.cache.Get(cachePrefix, table); err == nil {
		return item.Value().(*Set), nil
	}

	m, err := r.models.Model(table)
	if err != nil {
		return nil, err
	}
	s, err := r.build(m)
	if err != nil {
		return nil, err
	}
	if err = r.cache.Set(cachePrefix, table, s, cache.NoExpiration); err != nil {
		return nil, err
	}
	return s, nil
}

// build generates all schemas of one model in one pass.
func (r *Registry) build(m *orm.Model) (*Set, error) {
	s := &Set{
		model:        m,
		Base:         map[string]FieldSchema{},
		Create:       map[string]FieldSchema{},
		Update:       map[string]FieldSchema{},
		SearchOutput: map[string]FieldSchema{},
		ReadOutput:   map[string]FieldSchema{},
	}

	for _, f := range m.Fields() {
		base, err := r.fieldSchema(m, f, 1)
		if err != nil {
			return nil, err
		}
		s.Base[f.Name] = base

		// protected fields stay writable but never appear in an output shape.
		if !f.Protected {
			out := base
			out.Required = false
			s.SearchOutput[f.Name] = reduceRelation(out)
			s.ReadOutput[f.Name] = out
		}

		if f.PrimaryKey {
			continue
		}
		create := base
		if f.SchemaRequired != nil {
			create.Required = *f.SchemaRequired
		}
		s.Create[f.Name] = create

		update := create
		update.Required = false
		s.Update[f.Name] = update
	}
	return s, nil
}

// fieldSchema derives the schema of one field.
// level 1 nests relations with their scalar fields, level 2 reduces them to
// {id,name}.
func (r *Registry) fieldSchema(m *orm.Model, f orm.Field, level int) (FieldSchema, error) {
	fs := FieldSchema{
		Name:        f.Name,
		Kind:        f.Kind,
		Type:        valueType(f.Kind),
		Required:    f.Required,
		ReadOnly:    f.PrimaryKey,
		MaxLength:   f.MaxLength,
		Options:     f.Options,
		Description: f.Description,
		Operators:   operators(f.Kind),
	}
	if !f.IsRelation() {
		return fs, nil
	}

	target, err := r.models.Model(f.Target)
	if err != nil {
		return FieldSchema{}, err
	}
	relation := &RelationSchema{Target: f.Target, Kind: f.Kind, Command: f.IsPlural()}

	if level >= 2 {
		relation.Fields = idNameSchema(target)
	} else {
		relation.Fields = map[string]FieldSchema{}
		for _, tf := range target.Fields() {
			if tf.Protected {
				continue
			}
			nested, err := r.fieldSchema(target, tf, level+1)
			if err != nil {
				return FieldSchema{}, err
			}
			relation.Fields[tf.Name] = nested
		}
	}
	if relation.Command {
		relation.Create = nestedCreateSchema(target)
	}
	fs.Relation = relation
	return fs, nil
}

// nestedCreateSchema is the simplified create shape of command objects: scalar
// fields plus many2one ids, no nested relations, no id.
func nestedCreateSchema(target *orm.Model) map[string]FieldSchema {
	fields := map[string]FieldSchema{}
	for _, f := range target.Fields() {
		if f.PrimaryKey || !f.IsStored() {
			continue
		}
		fields[f.Name] = FieldSchema{
			Name:      f.Name,
			Kind:      f.Kind,
			Type:      valueType(f.Kind),
			Required:  f.Required,
			MaxLength: f.MaxLength,
			Options:   f.Options,
		}
	}
	return fields
}

// idNameSchema is the second level recursion cap.
func idNameSchema(target *orm.Model) map[string]FieldSchema {
	fields := map[string]FieldSchema{
		"id": {Name: "id", Kind: orm.Integer, Type: TypeInteger, ReadOnly: true},
	}
	if target.HasField("name") {
		fields["name"] = FieldSchema{Name: "name", Kind: orm.Char, Type: TypeString}
	}
	return fields
}

// reduceRelation flattens a relation to its {id,name} shape for list rows.
func reduceRelation(fs FieldSchema) FieldSchema {
	if fs.Relation == nil {
		return fs
	}
	reduced := *fs.Relation
	reduced.Fields = map[string]FieldSchema{
		"id": {Name: "id", Kind: orm.Integer, Type: TypeInteger, ReadOnly: true},
	}
	if _, ok := fs.Relation.Fields["name"]; ok {
		reduced.Fields["name"] = FieldSchema{Name: "name", Kind: orm.Char, Type: TypeString}
	}
	reduced.Create = nil
	fs.Relation = &reduced
	return fs
}

// valueType maps the field kind to the wire value type.
func valueType(kind orm.Kind) string {
	switch kind {
	case orm.Integer, orm.BigInt, orm.SmallInt, orm.ManyToOne, orm.PolymorphicManyToOne:
		return TypeInteger
	case orm.Float, orm.Decimal:
		return TypeNumber
	case orm.Char, orm.Selection, orm.Text, orm.Date, orm.Time, orm.Datetime, orm.Binary:
		return TypeString
	case orm.Boolean:
		return TypeBoolean
	case orm.JSON:
		return TypeAny
	case orm.OneToMany, orm.ManyToMany, orm.PolymorphicOneToMany:
		return TypeArray
	}
	return TypeAny
}

// operators returns the filter operator set of the field kind.
func operators(kind orm.Kind) []string {
	switch valueType(kind) {
	case TypeInteger, TypeNumber:
		return []string{"=", "!=", ">", "<", ">=", "<=", "in", "not in", "between", "not between", "is null", "is not null"}
	case TypeString:
		return []string{"=", "!=", "like", "ilike", "=like", "=ilike", "not like", "not ilike", "in", "not in", "is null", "is not null"}
	case TypeBoolean:
		return []string{"=", "!=", "is null", "is not null"}
	}
	return []string{"=", "!=", "is null", "is not null"}
}

// hasOperator checks the operator against the field set.
func hasOperator(fs FieldSchema, op string) bool {
	for _, o := range fs.Operators {
		if o == op {
			return true
		}
	}
	return false
}

// fieldSubset validates that all requested fields are declared on the model.
func (s *Set) fieldSubset(fields []string) error {
	var unknown []string
	for _, name := range fields {
		if !s.model.HasField(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf(ErrFields, unknown, s.model.Name())
	}
	return nil
}

// Model of the set.
func (s *Set) Model() *orm.Model {
	return s.model
}
