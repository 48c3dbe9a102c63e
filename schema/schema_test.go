// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema_test

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/patrickascher/dotorm/cache"
	_ "github.com/patrickascher/dotorm/cache/memory"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
	_ "github.com/patrickascher/dotorm/query/postgres"
	"github.com/patrickascher/dotorm/schema"
	"github.com/stretchr/testify/assert"
)

// newTestRegistry creates a model registry with a users/roles/languages graph.
func newTestRegistry(t *testing.T) *orm.Registry {
	t.Helper()
	asserts := assert.New(t)

	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	asserts.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	dialect, err := query.NewDialect(query.POSTGRES)
	asserts.NoError(err)
	registry := orm.New(query.NewPool(db, dialect))

	languages, err := orm.NewModel("languages",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
		orm.Field{Name: "code", Kind: orm.Char, MaxLength: 5},
	)
	asserts.NoError(err)
	roles, err := orm.NewModel("roles",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
	)
	asserts.NoError(err)
	users, err := orm.NewModel("users",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
		orm.Field{Name: "login", Kind: orm.Char, MaxLength: 64, Unique: true, Required: true},
		orm.Field{Name: "state", Kind: orm.Selection, Options: []orm.Option{{Value: "new", Label: "New"}, {Value: "active", Label: "Active"}}},
		orm.Field{Name: "lang_id", Kind: orm.ManyToOne, Target: "languages", Null: true},
		orm.Field{Name: "role_ids", Kind: orm.ManyToMany, Target: "roles"},
	)
	asserts.NoError(err)

	asserts.NoError(registry.Register(languages))
	asserts.NoError(registry.Register(roles))
	asserts.NoError(registry.Register(users))
	return registry
}

// newTestSets creates a schema registry over the memory cache.
func newTestSets(t *testing.T) *schema.Registry {
	t.Helper()
	asserts := assert.New(t)

	c, err := cache.New(cache.MEMORY, nil)
	asserts.NoError(err)
	t.Cleanup(func() { _ = c.DeleteAll() })
	return schema.New(newTestRegistry(t), c)
}

// TestRegistry_Set tests the derived shapes and the recursion cap.
func TestRegistry_Set(t *testing.T) {
	asserts := assert.New(t)
	sets := newTestSets(t)

	s, err := sets.Set("users")
	asserts.NoError(err)

	// create drops the primary key, update makes everything optional.
	_, hasID := s.Create["id"]
	asserts.False(hasID)
	asserts.True(s.Create["name"].Required)
	asserts.False(s.Update["name"].Required)

	// relation shapes.
	lang := s.Base["lang_id"]
	asserts.Equal(schema.TypeInteger, lang.Type)
	asserts.NotNil(lang.Relation)
	asserts.Equal("languages", lang.Relation.Target)
	asserts.Contains(lang.Relation.Fields, "code")

	roles := s.Base["role_ids"]
	asserts.Equal(schema.TypeArray, roles.Type)
	asserts.True(roles.Relation.Command)
	asserts.Contains(roles.Relation.Create, "name")
	_, hasNestedID := roles.Relation.Create["id"]
	asserts.False(hasNestedID)

	// list rows reduce relations to {id,name}.
	out := s.SearchOutput["lang_id"]
	asserts.Len(out.Relation.Fields, 2)
	asserts.Contains(out.Relation.Fields, "id")
	asserts.Contains(out.Relation.Fields, "name")

	// the set is cached, a second call returns the same pointer.
	again, err := sets.Set("users")
	asserts.NoError(err)
	asserts.Same(s, again)

	// error: unknown model.
	_, err = sets.Set("nope")
	asserts.Error(err)
}

// TestRegistry_ValidateCreate tests the payload rules of the create schema.
func TestRegistry_ValidateCreate(t *testing.T) {
	asserts := assert.New(t)
	sets := newTestSets(t)

	// ok: full payload with commands.
	asserts.NoError(sets.ValidateCreate("users", map[string]interface{}{
		"name":    "John",
		"login":   "john",
		"state":   "active",
		"lang_id": 2,
		"role_ids": map[string]interface{}{
			"selected": []interface{}{1, 2},
			"created":  []interface{}{map[string]interface{}{"name": "Support"}},
		},
	}))

	// error: missing required field.
	err := sets.ValidateCreate("users", map[string]interface{}{"name": "John"})
	asserts.Error(err)
	asserts.Contains(err.Error(), "login")

	// error: unknown key.
	err = sets.ValidateCreate("users", map[string]interface{}{"name": "John", "login": "j", "ghost": 1})
	asserts.Error(err)
	asserts.Contains(err.Error(), "ghost")

	// error: wrong type.
	err = sets.ValidateCreate("users", map[string]interface{}{"name": 12, "login": "j"})
	asserts.Error(err)

	// error: max length.
	long := make([]byte, 70)
	for i := range long {
		long[i] = 'a'
	}
	err = sets.ValidateCreate("users", map[string]interface{}{"name": "John", "login": string(long)})
	asserts.Error(err)

	// error: value outside the selection options.
	err = sets.ValidateCreate("users", map[string]interface{}{"name": "John", "login": "j", "state": "gone"})
	asserts.Error(err)

	// error: unknown command key.
	err = sets.ValidateCreate("users", map[string]interface{}{
		"name": "John", "login": "j",
		"role_ids": map[string]interface{}{"linked": []interface{}{1}},
	})
	asserts.Error(err)
}

// TestRegistry_ValidateUpdate tests the optional patch semantics.
func TestRegistry_ValidateUpdate(t *testing.T) {
	asserts := assert.New(t)
	sets := newTestSets(t)

	// ok: partial payload, parent placeholder in a nested create.
	asserts.NoError(sets.ValidateUpdate("users", map[string]interface{}{
		"state": "new",
		"role_ids": map[string]interface{}{
			"created": []interface{}{map[string]interface{}{"name": "Support"}},
			"deleted": []interface{}{3},
		},
	}))

	// ok: nulling an optional field.
	asserts.NoError(sets.ValidateUpdate("users", map[string]interface{}{"lang_id": nil}))

	// error: type still checks on present values.
	asserts.Error(sets.ValidateUpdate("users", map[string]interface{}{"name": false}))
}

// TestSet_DecodeSearch tests the body decoding and the search rules.
func TestSet_DecodeSearch(t *testing.T) {
	asserts := assert.New(t)
	sets := newTestSets(t)
	s, err := sets.Set("users")
	asserts.NoError(err)

	in, err := s.DecodeSearch(map[string]interface{}{
		"fields": []interface{}{"id", "name", "lang_id"},
		"filter": []interface{}{
			[]interface{}{"name", "like", "jo"},
			"or",
			[]interface{}{"lang_id", "in", []interface{}{1, 2}},
		},
		"start": 0,
		"end":   25,
		"sort":  "name",
		"order": "asc",
	})
	asserts.NoError(err)
	asserts.Equal([]string{"id", "name", "lang_id"}, in.Fields)
	asserts.Equal(25, *in.End)
	asserts.Equal("name", in.Sort)

	// ok: negation tuple and implicit AND.
	_, err = s.DecodeSearch(map[string]interface{}{
		"filter": []interface{}{
			[]interface{}{"not", []interface{}{"state", "=", "new"}},
			[]interface{}{"name", "like", "jo"},
		},
	})
	asserts.NoError(err)

	// error: symbolic connectors are not part of the grammar.
	_, err = s.DecodeSearch(map[string]interface{}{
		"filter": []interface{}{
			[]interface{}{"name", "like", "jo"},
			"&",
			[]interface{}{"login", "=", "jo"},
		},
	})
	asserts.Error(err)

	// error: unknown field in the subset.
	_, err = s.DecodeSearch(map[string]interface{}{"fields": []interface{}{"ghost"}})
	asserts.Error(err)

	// error: sorting on a relation plural is not allowed.
	_, err = s.DecodeSearch(map[string]interface{}{"sort": "role_ids"})
	asserts.Error(err)

	// error: operator not in the field set.
	_, err = s.DecodeSearch(map[string]interface{}{
		"filter": []interface{}{[]interface{}{"name", ">", "x"}},
	})
	asserts.Error(err)

	// error: order outside the closed set.
	_, err = s.DecodeSearch(map[string]interface{}{"order": "sideways"})
	asserts.Error(err)
}
