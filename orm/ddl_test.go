// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm_test

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/patrickascher/dotorm/orm"
	"github.com/stretchr/testify/assert"
)

// expectCatalog mocks the information_schema column lookup of one table.
func expectCatalog(mock sqlmock.Sqlmock, table string, columns ...string) {
	rows := sqlmock.NewRows([]string{"column_name"})
	for _, c := range columns {
		rows.AddRow(c)
	}
	mock.ExpectQuery(`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`).
		WithArgs(table).
		WillReturnRows(rows)
}

// expectConstraintMissing mocks the named constraint lookup.
func expectConstraintMissing(mock sqlmock.Sqlmock, name string) {
	mock.ExpectQuery(`SELECT COUNT(*) FROM information_schema.table_constraints WHERE constraint_schema = current_schema() AND constraint_name = $1`).
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
}

// TestMigrate tests the idempotent table creation, the incremental column add, the
// link table and the deferred foreign keys.
func TestMigrate(t *testing.T) {
	asserts := assert.New(t)
	registry, mock := newTestRegistry(t)

	// models are processed in sorted table order.
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "languages" ("id" SERIAL PRIMARY KEY, "name" TEXT NOT NULL, "code" VARCHAR(5) NOT NULL)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectCatalog(mock, "languages", "id", "name", "code")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "roles" ("id" SERIAL PRIMARY KEY, "name" TEXT NOT NULL)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectCatalog(mock, "roles", "id", "name")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "users" ("id" SERIAL PRIMARY KEY, "name" TEXT NOT NULL, "login" VARCHAR(64) NOT NULL UNIQUE, "active" BOOLEAN NOT NULL DEFAULT TRUE, "settings" JSONB, "lang_id" INTEGER)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// lang_id is missing in the catalog, it is added incrementally.
	expectCatalog(mock, "users", "id", "name", "login", "active", "settings")
	mock.ExpectExec(`ALTER TABLE "users" ADD COLUMN "lang_id" INTEGER`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// link table of role_ids with the composite index.
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "users_roles" ("user_id" INTEGER NOT NULL, "role_id" INTEGER NOT NULL)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "idx_users_roles_user_id_role_id" ON "users_roles" ("user_id", "role_id")`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// foreign keys are applied after all tables exist.
	expectConstraintMissing(mock, "fk_users_lang_id")
	mock.ExpectExec(`ALTER TABLE "users" ADD CONSTRAINT "fk_users_lang_id" FOREIGN KEY ("lang_id") REFERENCES "languages" ("id") ON DELETE SET NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectConstraintMissing(mock, "fk_users_roles_user_id")
	mock.ExpectExec(`ALTER TABLE "users_roles" ADD CONSTRAINT "fk_users_roles_user_id" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectConstraintMissing(mock, "fk_users_roles_role_id")
	mock.ExpectExec(`ALTER TABLE "users_roles" ADD CONSTRAINT "fk_users_roles_role_id" FOREIGN KEY ("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	asserts.NoError(orm.Migrate(context.Background(), registry))
	asserts.NoError(mock.ExpectationsWereMet())
}

// TestMigrate_DefaultInjection tests the ddl default blacklist.
func TestMigrate_DefaultInjection(t *testing.T) {
	asserts := assert.New(t)
	registry, _ := newTestRegistry(t)

	m, err := orm.NewModel("evil",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "payload", Kind: orm.Char, Default: "x'; DROP TABLE users; --"},
	)
	asserts.NoError(err)
	asserts.NoError(registry.Register(m))

	err = orm.Migrate(context.Background(), registry)
	asserts.Error(err)
}
