// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query_test

import (
	"testing"

	"github.com/lib/pq"
	"github.com/patrickascher/dotorm/query"
	_ "github.com/patrickascher/dotorm/query/clickhouse"
	_ "github.com/patrickascher/dotorm/query/mysql"
	_ "github.com/patrickascher/dotorm/query/postgres"
	"github.com/stretchr/testify/assert"
)

// builder helper against the postgres dialect.
func pgBuilder(t *testing.T, table string) *query.Builder {
	d, err := query.NewDialect(query.POSTGRES)
	assert.NoError(t, err)
	return query.NewBuilder(d, table)
}

// TestBuilder_Insert tests the single and bulk INSERT rendering.
func TestBuilder_Insert(t *testing.T) {
	asserts := assert.New(t)
	b := pgBuilder(t, "users")

	// ok: columns are rendered in sorted order, RETURNING id is appended.
	sql, args, err := b.Insert(map[string]interface{}{"name": "John", "age": 30})
	asserts.NoError(err)
	asserts.Equal(`INSERT INTO "users" ("age", "name") VALUES ($1, $2) RETURNING "id"`, sql)
	asserts.Equal([]interface{}{30, "John"}, args)

	// ok: bulk insert with flattened arguments.
	sql, args, err = b.InsertBulk([]string{"age", "name"}, [][]interface{}{{30, "John"}, {31, "Jane"}})
	asserts.NoError(err)
	asserts.Equal(`INSERT INTO "users" ("age", "name") VALUES ($1, $2), ($3, $4) RETURNING "id"`, sql)
	asserts.Equal([]interface{}{30, "John", 31, "Jane"}, args)

	// error: empty values, row mismatch.
	_, _, err = b.Insert(nil)
	asserts.Error(err)
	_, _, err = b.InsertBulk([]string{"age"}, [][]interface{}{{30, "John"}})
	asserts.Error(err)

	// ok: mysql renders no RETURNING.
	d, err := query.NewDialect(query.MYSQL)
	asserts.NoError(err)
	sql, _, err = query.NewBuilder(d, "users").Insert(map[string]interface{}{"name": "John"})
	asserts.NoError(err)
	asserts.Equal("INSERT INTO `users` (`name`) VALUES (?)", sql)
}

// TestBuilder_Update tests the single and bulk UPDATE rendering.
func TestBuilder_Update(t *testing.T) {
	asserts := assert.New(t)
	b := pgBuilder(t, "users")

	sql, args, err := b.Update(5, map[string]interface{}{"name": "John", "age": 30})
	asserts.NoError(err)
	asserts.Equal(`UPDATE "users" SET "age" = $1, "name" = $2 WHERE "id" = $3`, sql)
	asserts.Equal([]interface{}{30, "John", 5}, args)

	// ok: bulk update collapses the ids into one array argument.
	sql, args, err = b.UpdateBulk([]interface{}{1, 2, 3}, map[string]interface{}{"active": true})
	asserts.NoError(err)
	asserts.Equal(`UPDATE "users" SET "active" = $1 WHERE "id" = ANY($2)`, sql)
	asserts.Equal([]interface{}{true, pq.Array([]interface{}{1, 2, 3})}, args)

	// error: no ids, no values.
	_, _, err = b.UpdateBulk(nil, map[string]interface{}{"active": true})
	asserts.Error(err)
	_, _, err = b.Update(1, nil)
	asserts.Error(err)
}

// TestBuilder_Delete tests the single and bulk DELETE rendering of postgres and
// mysql.
func TestBuilder_Delete(t *testing.T) {
	asserts := assert.New(t)
	b := pgBuilder(t, "users")

	sql, args, err := b.Delete(5)
	asserts.NoError(err)
	asserts.Equal(`DELETE FROM "users" WHERE "id" = $1`, sql)
	asserts.Equal([]interface{}{5}, args)

	sql, args, err = b.DeleteBulk([]interface{}{1, 2, 3})
	asserts.NoError(err)
	asserts.Equal(`DELETE FROM "users" WHERE "id" = ANY($1)`, sql)
	asserts.Equal([]interface{}{pq.Array([]interface{}{1, 2, 3})}, args)

	d, err := query.NewDialect(query.MYSQL)
	asserts.NoError(err)
	sql, args, err = query.NewBuilder(d, "users").DeleteBulk([]interface{}{1, 2})
	asserts.NoError(err)
	asserts.Equal("DELETE FROM `users` WHERE `id` IN (?, ?)", sql)
	asserts.Equal([]interface{}{1, 2}, args)

	_, _, err = b.DeleteBulk(nil)
	asserts.Error(err)
}

// TestBuilder_Search tests filter, sorting and pagination rendering.
func TestBuilder_Search(t *testing.T) {
	asserts := assert.New(t)
	b := pgBuilder(t, "users")
	stored := []string{"id", "name", "age"}

	// ok: get by id.
	sql, args, err := b.Get(7, []string{"id", "name"})
	asserts.NoError(err)
	asserts.Equal(`SELECT "id", "name" FROM "users" WHERE "id" = $1 LIMIT 1`, sql)
	asserts.Equal([]interface{}{7}, args)

	// ok: plain search with limit only.
	sql, args, err = b.Search(query.SearchOpts{Fields: []string{"id", "name"}, Limit: 100})
	asserts.NoError(err)
	asserts.Equal(`SELECT "id", "name" FROM "users" LIMIT $1`, sql)
	asserts.Equal([]interface{}{100}, args)

	// ok: filter arguments come before the pagination arguments.
	start, end := 20, 30
	sql, args, err = b.Search(query.SearchOpts{
		Fields: []string{"id"},
		Filter: query.Filter{query.Triplet("age", ">", 18)},
		Sort:   "name",
		Order:  "desc",
		Start:  &start,
		End:    &end,
		Stored: stored,
	})
	asserts.NoError(err)
	asserts.Equal(`SELECT "id" FROM "users" WHERE "age" > $1 ORDER BY "name" DESC LIMIT $2 OFFSET $3`, sql)
	asserts.Equal([]interface{}{18, 10, 20}, args)

	// ok: unknown sort column is substituted with the first stored column.
	sql, _, err = b.Search(query.SearchOpts{Fields: []string{"id"}, Sort: "evil", Stored: stored})
	asserts.NoError(err)
	asserts.Equal(`SELECT "id" FROM "users" ORDER BY "id" ASC`, sql)

	// error: order is validated against the closed set.
	_, _, err = b.Search(query.SearchOpts{Fields: []string{"id"}, Sort: "name", Order: "sideways", Stored: stored})
	asserts.Error(err)

	// ok: count, exists and table length.
	sql, args, err = b.Count(query.Filter{query.Triplet("age", ">", 18)})
	asserts.NoError(err)
	asserts.Equal(`SELECT COUNT(*) FROM "users" WHERE "age" > $1`, sql)
	asserts.Equal([]interface{}{18}, args)

	sql, _, err = b.Exists(query.Filter{query.Triplet("name", "=", "John")})
	asserts.NoError(err)
	asserts.Equal(`SELECT 1 FROM "users" WHERE "name" = $1 LIMIT 1`, sql)

	sql, _, err = b.TableLen()
	asserts.NoError(err)
	asserts.Equal(`SELECT COUNT(*) FROM "users"`, sql)
}

// TestBuilder_ManyToMany tests the link table joins.
func TestBuilder_ManyToMany(t *testing.T) {
	asserts := assert.New(t)
	b := pgBuilder(t, "users")
	join := query.Join{Table: "user_roles", SelfColumn: "user_id", OtherColumn: "role_id", Target: "roles"}

	sql, args, err := b.ManyToMany(join, []string{"id", "name"}, 5)
	asserts.NoError(err)
	asserts.Equal(`SELECT "roles"."id", "roles"."name" FROM "roles" JOIN "user_roles" ON "user_roles"."role_id" = "roles"."id" WHERE "user_roles"."user_id" = $1`, sql)
	asserts.Equal([]interface{}{5}, args)

	// ok: paged variant sorts on the target column.
	sql, args, err = b.ManyToManyPage(join, []string{"id", "name"}, 5, "name", "asc", 25, 50)
	asserts.NoError(err)
	asserts.Equal(`SELECT "roles"."id", "roles"."name" FROM "roles" JOIN "user_roles" ON "user_roles"."role_id" = "roles"."id" WHERE "user_roles"."user_id" = $1 ORDER BY "roles"."name" ASC LIMIT $2 OFFSET $3`, sql)
	asserts.Equal([]interface{}{5, 25, 50}, args)

	_, _, err = b.ManyToManyPage(join, []string{"id"}, 5, "name", "sideways", 25, 0)
	asserts.Error(err)

	// ok: total of all linked rows of one parent.
	sql, args, err = b.ManyToManyCount(join, 5)
	asserts.NoError(err)
	asserts.Equal(`SELECT COUNT(*) FROM "roles" JOIN "user_roles" ON "user_roles"."role_id" = "roles"."id" WHERE "user_roles"."user_id" = $1`, sql)
	asserts.Equal([]interface{}{5}, args)

	// ok: batched variant projects the parent id as m2m_id.
	sql, args, err = b.ManyToManyIn(join, []string{"id", "name"}, []interface{}{5, 6})
	asserts.NoError(err)
	asserts.Equal(`SELECT "roles"."id", "roles"."name", "user_roles"."user_id" AS "m2m_id" FROM "roles" JOIN "user_roles" ON "user_roles"."role_id" = "roles"."id" WHERE "user_roles"."user_id" = ANY($1)`, sql)
	asserts.Equal([]interface{}{pq.Array([]interface{}{5, 6})}, args)

	_, _, err = b.ManyToManyIn(join, []string{"id"}, nil)
	asserts.Error(err)

	// ok: link pairs are (other, self).
	sql, args, err = b.LinkManyToMany(join, [][2]interface{}{{9, 5}, {10, 5}})
	asserts.NoError(err)
	asserts.Equal(`INSERT INTO "user_roles" ("role_id", "user_id") VALUES ($1, $2), ($3, $4)`, sql)
	asserts.Equal([]interface{}{9, 5, 10, 5}, args)

	// ok: unlink all rows of the parents.
	sql, args, err = b.UnlinkManyToMany(join, []interface{}{5})
	asserts.NoError(err)
	asserts.Equal(`DELETE FROM "user_roles" WHERE "user_id" = ANY($1)`, sql)
	asserts.Equal([]interface{}{pq.Array([]interface{}{5})}, args)

	// ok: unlink specific targets of one parent.
	sql, args, err = b.UnlinkPairs(join, 5, []interface{}{9, 10})
	asserts.NoError(err)
	asserts.Equal(`DELETE FROM "user_roles" WHERE "user_id" = $1 AND "role_id" = ANY($2)`, sql)
	asserts.Equal([]interface{}{5, pq.Array([]interface{}{9, 10})}, args)
}

// TestDialect_Clickhouse tests the rendering only clickhouse dialect.
func TestDialect_Clickhouse(t *testing.T) {
	asserts := assert.New(t)
	d, err := query.NewDialect(query.CLICKHOUSE)
	asserts.NoError(err)

	sql, args, err := query.NewBuilder(d, "events").Insert(map[string]interface{}{"type": "click"})
	asserts.NoError(err)
	asserts.Equal("INSERT INTO `events` (`type`) VALUES (?)", sql)
	asserts.Equal([]interface{}{"click"}, args)
}
