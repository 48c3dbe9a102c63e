// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/patrickascher/dotorm/query"
)

// Error messages.
var (
	ErrOnePrimaryKey = "orm: model %s must declare exactly one integer primary key"
	ErrDuplicate     = "orm: model %s declares the field %s twice"
	ErrUnknownField  = "orm: model %s has no field %s"
	ErrUnknownModel  = "orm: model %s is not registered"
	ErrRegistered    = "orm: model %s is already registered"
	ErrUnknownMethod = "orm: model %s has no method %s"
	ErrNoRelation    = "orm: field %s.%s is no %s relation"
)

// Method is a model bound function.
// Extensions may replace a method, the replaced one stays reachable through
// Model.OriginalMethod.
type Method func(ctx context.Context, m *Model, r *Record, args map[string]interface{}) (interface{}, error)

// Model is a named record type bound to one table.
// A model is declared once, extended by the extension registry on first access and
// frozen afterwards.
type Model struct {
	registry *Registry

	name        string
	routePrefix string
	autoRoute   bool
	autoCreate  bool

	fields     []Field
	fieldIndex map[string]int
	pk         string

	methods   map[string]Method
	replaced  map[string]Method
	constants map[string]interface{}

	// partitions, cached on finalize.
	stored     []string
	relations  []string
	plural     []string
	jsonFields []string
	computed   []string

	builder *query.Builder
}

// NewModel declares a model for the given table.
// Field defaults are derived, the attribute combinations are validated. The route
// prefix defaults to /<table>, auto route and auto create default to true.
func NewModel(table string, fields ...Field) (*Model, error) {
	m := &Model{
		name:        table,
		routePrefix: "/" + table,
		autoRoute:   true,
		autoCreate:  true,
		methods:     map[string]Method{},
		replaced:    map[string]Method{},
		constants:   map[string]interface{}{},
	}
	seen := map[string]bool{}
	for _, f := range fields {
		if err := f.normalize(table); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf(ErrDuplicate, table, f.Name)
		}
		seen[f.Name] = true
		m.fields = append(m.fields, f)
	}
	return m, nil
}

// Name returns the table name.
func (m *Model) Name() string {
	return m.name
}

// RoutePrefix of the generated crud routes.
func (m *Model) RoutePrefix() string {
	return m.routePrefix
}

// SetRoutePrefix overrides the default /<table> prefix.
func (m *Model) SetRoutePrefix(prefix string) *Model {
	m.routePrefix = prefix
	return m
}

// AutoRoute reports whether crud routes are generated for the model.
func (m *Model) AutoRoute() bool {
	return m.autoRoute
}

// SetAutoRoute toggles the crud route generation.
func (m *Model) SetAutoRoute(b bool) *Model {
	m.autoRoute = b
	return m
}

// AutoCreate reports whether the ddl engine manages the table.
func (m *Model) AutoCreate() bool {
	return m.autoCreate
}

// SetAutoCreate toggles the ddl management.
func (m *Model) SetAutoCreate(b bool) *Model {
	m.autoCreate = b
	return m
}

// Primary returns the primary key field name.
func (m *Model) Primary() string {
	return m.pk
}

// Fields returns all fields in declaration order.
func (m *Model) Fields() []Field {
	return m.fields
}

// Field returns the descriptor by name.
func (m *Model) Field(name string) (Field, error) {
	i, ok := m.fieldIndex[name]
	if !ok {
		return Field{}, fmt.Errorf(ErrUnknownField, m.name, name)
	}
	return m.fields[i], nil
}

// HasField checks the field name against the declared set.
func (m *Model) HasField(name string) bool {
	_, ok := m.fieldIndex[name]
	return ok
}

// StoredFields returns the names of all fields with a database column.
func (m *Model) StoredFields() []string {
	return m.stored
}

// RelationFields returns the names of all relation fields.
func (m *Model) RelationFields() []string {
	return m.relations
}

// PluralFields returns the names of all list relations (o2m, m2m, polymorphic o2m).
func (m *Model) PluralFields() []string {
	return m.plural
}

// JSONFields returns the names of all json fields.
func (m *Model) JSONFields() []string {
	return m.jsonFields
}

// ComputeFields returns the names of all compute fields.
func (m *Model) ComputeFields() []string {
	return m.computed
}

// Builder returns the sql generator of the model.
func (m *Model) Builder() *query.Builder {
	return m.builder
}

// Registry the model is registered on.
func (m *Model) Registry() *Registry {
	return m.registry
}

// SetMethod installs a model bound method.
func (m *Model) SetMethod(name string, fn Method) {
	m.methods[name] = fn
}

// Call invokes a model bound method by name.
func (m *Model) Call(ctx context.Context, name string, r *Record, args map[string]interface{}) (interface{}, error) {
	fn, ok := m.methods[name]
	if !ok {
		return nil, fmt.Errorf(ErrUnknownMethod, m.name, name)
	}
	return fn(ctx, m, r, args)
}

// OriginalMethod returns the method replaced by an extension, if any.
func (m *Model) OriginalMethod(name string) (Method, bool) {
	fn, ok := m.replaced[name]
	return fn, ok
}

// Constant returns an extension installed constant.
func (m *Model) Constant(name string) (interface{}, bool) {
	v, ok := m.constants[name]
	return v, ok
}

// join returns the link table description of a many2many field.
func (m *Model) join(f Field) query.Join {
	return query.Join{Table: f.LinkTable, SelfColumn: f.ColumnSelf, OtherColumn: f.ColumnOther, Target: f.Target}
}

// finalize computes the field cache, the partitions and the builder.
// Called once by the registry after the extensions were applied.
func (m *Model) finalize(r *Registry) error {
	m.registry = r
	m.fieldIndex = map[string]int{}
	m.pk = ""
	m.stored, m.relations, m.plural, m.jsonFields, m.computed = nil, nil, nil, nil, nil

	for i, f := range m.fields {
		m.fieldIndex[f.Name] = i
		if f.PrimaryKey {
			if m.pk != "" {
				return fmt.Errorf(ErrOnePrimaryKey, m.name)
			}
			m.pk = f.Name
		}
		if f.IsStored() {
			m.stored = append(m.stored, f.Name)
		}
		if f.IsRelation() {
			m.relations = append(m.relations, f.Name)
		}
		if f.IsPlural() {
			m.plural = append(m.plural, f.Name)
		}
		if f.Kind == JSON {
			m.jsonFields = append(m.jsonFields, f.Name)
		}
		if f.Compute != nil {
			m.computed = append(m.computed, f.Name)
		}
	}
	if m.pk == "" {
		return fmt.Errorf(ErrOnePrimaryKey, m.name)
	}

	m.builder = query.NewBuilder(r.pool.Dialect(), m.name)
	m.builder.SetPrimaryKey(m.pk)
	return nil
}

// Registry holds all declared models, their extensions and the shared connection
// pool. Extensions are applied on first model access, afterwards the model is
// frozen.
type Registry struct {
	mu         sync.RWMutex
	pool       *query.Pool
	models     map[string]*Model
	extensions map[string][]Extension
	applied    map[string]bool
	checker    AccessChecker
}

// New creates a model registry on the given pool.
func New(pool *query.Pool) *Registry {
	return &Registry{
		pool:       pool,
		models:     map[string]*Model{},
		extensions: map[string][]Extension{},
		applied:    map[string]bool{},
	}
}

// Pool of the registry.
func (r *Registry) Pool() *query.Pool {
	return r.pool
}

// SetAccessChecker installs the access checker.
// Without a checker, access is unrestricted.
func (r *Registry) SetAccessChecker(c AccessChecker) {
	r.checker = c
}

// AccessChecker of the registry, nil if none is installed.
func (r *Registry) AccessChecker() AccessChecker {
	return r.checker
}

// Register adds a declared model.
// Error will return if the table name is already taken.
func (r *Registry) Register(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.name]; ok {
		return fmt.Errorf(ErrRegistered, m.name)
	}
	r.models[m.name] = m
	return nil
}

// Model returns the registered model by table name.
// On first access all registered extensions are applied in registration order and
// the field cache is computed, repeated lookups are no-ops.
func (r *Registry) Model(table string) (*Model, error) {
	r.mu.RLock()
	m, ok := r.models[table]
	applied := r.applied[table]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf(ErrUnknownModel, table)
	}
	if applied {
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[table] {
		return m, nil
	}
	for _, ext := range r.extensions[table] {
		if err := ext.apply(m); err != nil {
			return nil, err
		}
	}
	if err := m.finalize(r); err != nil {
		return nil, err
	}
	r.applied[table] = true
	return m, nil
}

// Models returns all registered models with applied extensions, sorted by table
// name.
func (r *Registry) Models() ([]*Model, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	models := make([]*Model, 0, len(names))
	for _, name := range names {
		m, err := r.Model(name)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}
