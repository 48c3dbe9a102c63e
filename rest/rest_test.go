// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/patrickascher/dotorm/auth"
	"github.com/patrickascher/dotorm/cache"
	_ "github.com/patrickascher/dotorm/cache/memory"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
	_ "github.com/patrickascher/dotorm/query/postgres"
	"github.com/patrickascher/dotorm/rest"
	"github.com/patrickascher/dotorm/schema"
	"github.com/stretchr/testify/assert"
)

// newTestServer builds a server over a mocked pool with one users model.
func newTestServer(t *testing.T, opts ...rest.Option) (*rest.Server, sqlmock.Sqlmock) {
	t.Helper()
	asserts := assert.New(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	asserts.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	dialect, err := query.NewDialect(query.POSTGRES)
	asserts.NoError(err)
	registry := orm.New(query.NewPool(db, dialect))

	users, err := orm.NewModel("users",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
		orm.Field{Name: "login", Kind: orm.Char, MaxLength: 64, Required: true},
	)
	asserts.NoError(err)
	asserts.NoError(registry.Register(users))

	c, err := cache.New(cache.MEMORY, nil)
	asserts.NoError(err)
	t.Cleanup(func() { _ = c.DeleteAll() })

	server, err := rest.New(registry, schema.New(registry, c), opts...)
	asserts.NoError(err)
	return server, mock
}

// do runs one request against the server.
func do(server *rest.Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// TestServer_Search tests the search envelope with the string total.
func TestServer_Search(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT "id", "name" FROM "users" WHERE "name" LIKE $1 ORDER BY "id" DESC LIMIT $2 OFFSET $3`).
		WithArgs("%jo%", 25, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "John"))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "users" WHERE "name" LIKE $1`).
		WithArgs("%jo%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	w := do(server, http.MethodPost, "/users/search",
		`{"fields":["id","name"],"filter":[["name","like","jo"]],"start":0,"end":25}`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.JSONEq(`{"data":[{"id":1,"name":"John"}],"total":"1","fields":["id","name"]}`, w.Body.String())

	// error: unknown field ends in the envelope.
	w = do(server, http.MethodPost, "/users/search", `{"fields":["ghost"]}`)
	asserts.Equal(http.StatusBadRequest, w.Code)
	asserts.JSONEq(`{"error":"#FIELDS_NOT_FOUND"}`, w.Body.String())

	asserts.NoError(mock.ExpectationsWereMet())
}

// TestServer_Create tests the insert round trip and the payload validation.
func TestServer_Create(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users" ("login", "name") VALUES ($1, $2) RETURNING "id"`).
		WithArgs("john", "John").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	w := do(server, http.MethodPost, "/users/", `{"name":"John","login":"john"}`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.JSONEq(`{"id":7}`, w.Body.String())

	// error: required field missing, no SQL runs.
	w = do(server, http.MethodPost, "/users/", `{"name":"John"}`)
	asserts.Equal(http.StatusBadRequest, w.Code)
	asserts.JSONEq(`{"error":"#FIELDS_NOT_FOUND"}`, w.Body.String())

	asserts.NoError(mock.ExpectationsWereMet())
}

// TestServer_ReadUpdateDelete tests the id routes.
func TestServer_ReadUpdateDelete(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)

	mock.ExpectQuery(`SELECT "id", "name", "login" FROM "users" WHERE "id" = $1 LIMIT 1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "login"}).AddRow(int64(5), "John", "john"))
	w := do(server, http.MethodPost, "/users/5", "")
	asserts.Equal(http.StatusOK, w.Code)
	var read struct {
		Data   map[string]interface{} `json:"data"`
		Fields map[string]interface{} `json:"fields"`
	}
	asserts.NoError(json.Unmarshal(w.Body.Bytes(), &read))
	asserts.Equal(float64(5), read.Data["id"])
	asserts.Equal("John", read.Data["name"])
	asserts.Equal("john", read.Data["login"])
	asserts.Contains(read.Fields, "login")

	// error: missing row maps to the not found code.
	mock.ExpectQuery(`SELECT "id", "name", "login" FROM "users" WHERE "id" = $1 LIMIT 1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "login"}))
	w = do(server, http.MethodPost, "/users/9", "")
	asserts.Equal(http.StatusNotFound, w.Code)
	asserts.JSONEq(`{"error":"#NOT_FOUND"}`, w.Body.String())

	// update echoes the applied fields.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "name" = $1 WHERE "id" = $2`).
		WithArgs("Jane", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	w = do(server, http.MethodPut, "/users/5", `{"name":"Jane"}`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.JSONEq(`{"fields":["name"]}`, w.Body.String())

	mock.ExpectExec(`DELETE FROM "users" WHERE "id" = $1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	w = do(server, http.MethodDelete, "/users/5", "")
	asserts.Equal(http.StatusOK, w.Code)
	asserts.Equal("true\n", w.Body.String())

	asserts.NoError(mock.ExpectationsWereMet())
}

// TestServer_DeleteBulk tests the bulk route next to the id wildcard. The body is
// a plain id list, the legacy object form is still accepted.
func TestServer_DeleteBulk(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)

	mock.ExpectExec(`DELETE FROM "users" WHERE "id" = ANY($1)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	w := do(server, http.MethodDelete, "/users/bulk", `[3,4]`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.Equal("true\n", w.Body.String())

	mock.ExpectExec(`DELETE FROM "users" WHERE "id" = ANY($1)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w = do(server, http.MethodDelete, "/users/bulk", `{"ids":[6]}`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.Equal("true\n", w.Body.String())

	// error: neither a list nor an object.
	w = do(server, http.MethodDelete, "/users/bulk", `"3"`)
	asserts.Equal(http.StatusBadRequest, w.Code)
	asserts.JSONEq(`{"error":"#FIELDS_NOT_FOUND"}`, w.Body.String())

	asserts.NoError(mock.ExpectationsWereMet())
}

// newAuthServer builds a server over the registered auth models.
func newAuthServer(t *testing.T) (*rest.Server, sqlmock.Sqlmock) {
	t.Helper()
	asserts := assert.New(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	asserts.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	dialect, err := query.NewDialect(query.POSTGRES)
	asserts.NoError(err)
	registry := orm.New(query.NewPool(db, dialect))
	asserts.NoError(auth.Register(registry))

	c, err := cache.New(cache.MEMORY, nil)
	asserts.NoError(err)
	t.Cleanup(func() { _ = c.DeleteAll() })

	server, err := rest.New(registry, schema.New(registry, c))
	asserts.NoError(err)
	return server, mock
}

// TestServer_UserRoutes tests the generated crud routes of the user model and the
// credential handling: the hash and salt are accepted on create but never leave in
// a response.
func TestServer_UserRoutes(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newAuthServer(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users" ("active", "lang_id", "login", "name", "password_hash", "password_salt") VALUES ($1, $2, $3, $4, $5, $6) RETURNING "id"`).
		WithArgs(true, int64(1), "john", "John", "h", "s").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	w := do(server, http.MethodPost, "/users/", `{"name":"John","login":"john","password_hash":"h","password_salt":"s","lang_id":1}`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.JSONEq(`{"id":7}`, w.Body.String())

	mock.ExpectQuery(`SELECT "id", "name", "login" FROM "users" WHERE "id" = $1 LIMIT 1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "login"}).AddRow(int64(7), "John", "john"))

	w = do(server, http.MethodPost, "/users/7", `{"fields":["id","name","login"]}`)
	asserts.Equal(http.StatusOK, w.Code)
	var read struct {
		Data   map[string]interface{} `json:"data"`
		Fields map[string]interface{} `json:"fields"`
	}
	asserts.NoError(json.Unmarshal(w.Body.Bytes(), &read))
	asserts.Equal(float64(7), read.Data["id"])
	asserts.Equal("John", read.Data["name"])
	asserts.Equal("john", read.Data["login"])
	_, hasHash := read.Fields["password_hash"]
	asserts.False(hasHash)

	mock.ExpectExec(`DELETE FROM "users" WHERE "id" = $1`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	w = do(server, http.MethodDelete, "/users/7", "")
	asserts.Equal(http.StatusOK, w.Code)
	asserts.Equal("true\n", w.Body.String())

	asserts.NoError(mock.ExpectationsWereMet())
}

// TestServer_SearchManyToMany tests the paged link table route.
func TestServer_SearchManyToMany(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newAuthServer(t)

	mock.ExpectQuery(`SELECT "roles"."id", "roles"."name" FROM "roles" JOIN "users_roles" ON "users_roles"."role_id" = "roles"."id" WHERE "users_roles"."user_id" = $1 ORDER BY "roles"."name" ASC LIMIT $2 OFFSET $3`).
		WithArgs(int64(7), 25, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(2), "editor"))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "roles" JOIN "users_roles" ON "users_roles"."role_id" = "roles"."id" WHERE "users_roles"."user_id" = $1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	w := do(server, http.MethodGet, "/users/search_many2many?relation=role_ids&id=7&page=0&sort=name&fields=id,name", "")
	asserts.Equal(http.StatusOK, w.Code)
	asserts.JSONEq(`{"data":[{"id":2,"name":"editor"}],"total":"3","fields":["id","name"]}`, w.Body.String())

	// error: the relation must be a many2many field.
	w = do(server, http.MethodGet, "/users/search_many2many?relation=lang_id&id=7", "")
	asserts.Equal(http.StatusBadRequest, w.Code)
	asserts.JSONEq(`{"error":"#FIELDS_NOT_FOUND"}`, w.Body.String())

	asserts.NoError(mock.ExpectationsWereMet())
}

// TestServer_DefaultValues tests the {data,fields} envelope of the defaults.
func TestServer_DefaultValues(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)

	w := do(server, http.MethodPost, "/users/default_values", `{"fields":["name"]}`)
	asserts.Equal(http.StatusOK, w.Code)
	asserts.JSONEq(`{"data":{"name":null},"fields":["name"]}`, w.Body.String())
	asserts.NoError(mock.ExpectationsWereMet())
}

// TestServer_SearchFilterError tests that a grammar error surfacing at render time
// still answers with a client error.
func TestServer_SearchFilterError(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)

	// a trailing connector passes the schema triplet checks and fails in the
	// renderer.
	w := do(server, http.MethodPost, "/users/search", `{"filter":[["name","like","jo"],"or"]}`)
	asserts.Equal(http.StatusBadRequest, w.Code)
	asserts.JSONEq(`{"error":"#FIELDS_NOT_FOUND"}`, w.Body.String())
	asserts.NoError(mock.ExpectationsWereMet())
}

// denyGuard rejects every request.
type denyGuard struct{}

func (denyGuard) Verify(*http.Request) (context.Context, error) {
	return nil, rest.ErrGuard
}

// TestServer_Guard tests the unauthorized envelope.
func TestServer_Guard(t *testing.T) {
	asserts := assert.New(t)
	server, _ := newTestServer(t, rest.WithGuard(denyGuard{}))

	w := do(server, http.MethodGet, "/users/fields", "")
	asserts.Equal(http.StatusUnauthorized, w.Code)
	asserts.JSONEq(`{"error":"#UNAUTHORIZED"}`, w.Body.String())
	asserts.NotEmpty(w.Header().Get("X-Request-Id"))
}

// denyChecker rejects every table operation.
type denyChecker struct{}

func (denyChecker) TableAccess(context.Context, *orm.Model, orm.Operation) (bool, error) {
	return false, nil
}

func (denyChecker) RowAccess(context.Context, *orm.Model, orm.Operation, []int64) (bool, error) {
	return true, nil
}

func (denyChecker) DomainFilter(context.Context, *orm.Model, orm.Operation) (query.Filter, error) {
	return nil, nil
}

// TestServer_AccessDenied tests the forbidden envelope of the access checker.
func TestServer_AccessDenied(t *testing.T) {
	asserts := assert.New(t)
	server, mock := newTestServer(t)
	server.Registry().SetAccessChecker(denyChecker{})

	w := do(server, http.MethodDelete, "/users/5", "")
	asserts.Equal(http.StatusForbidden, w.Code)
	asserts.JSONEq(`{"error":"#ACCESS_DENIED"}`, w.Body.String())
	asserts.NoError(mock.ExpectationsWereMet())
}
