// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package auth declares the user, role and language models, hashes credentials and
// issues JWT tokens. The role graph may inherit over based_role_ids, the closure is
// resolved recursively in the database.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"
)

// Error messages.
var (
	ErrLogin    = errors.New("auth: login or password is wrong")
	ErrInactive = errors.New("auth: user is not active")
	ErrNoClaim  = errors.New("auth: no claim in context")
	ErrRole     = "auth: role %v does not exist"
)

// bcryptCost is kept at the library default.
const bcryptCost = bcrypt.DefaultCost

// Register declares the auth models on the registry.
func Register(registry *orm.Registry) error {
	languages, err := orm.NewModel("languages",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
		orm.Field{Name: "code", Kind: orm.Char, MaxLength: 5, Required: true, Unique: true},
		orm.Field{Name: "active", Kind: orm.Boolean, Default: true},
	)
	if err != nil {
		return err
	}

	roles, err := orm.NewModel("roles",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true, Unique: true},
		orm.Field{Name: "description", Kind: orm.Text, Null: true},
		// inherited roles, the closure is resolved by BasedRoles.
		orm.Field{Name: "based_role_ids", Kind: orm.ManyToMany, Target: "roles",
			LinkTable: "roles_based_roles", ColumnSelf: "role_id", ColumnOther: "based_role_id"},
	)
	if err != nil {
		return err
	}

	users, err := orm.NewModel("users",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
		orm.Field{Name: "login", Kind: orm.Char, MaxLength: 64, Required: true, Unique: true},
		// the credentials accept writes but never serialize into a response.
		orm.Field{Name: "password_hash", Kind: orm.Char, Required: true, Protected: true},
		orm.Field{Name: "password_salt", Kind: orm.Char, Required: true, Protected: true},
		orm.Field{Name: "active", Kind: orm.Boolean, Default: true},
		orm.Field{Name: "lang_id", Kind: orm.ManyToOne, Target: "languages", Null: true},
		orm.Field{Name: "role_ids", Kind: orm.ManyToMany, Target: "roles"},
	)
	if err != nil {
		return err
	}

	for _, m := range []*orm.Model{languages, roles, users} {
		if err = registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// HashPassword hashes a clear text password with bcrypt under a fresh salt.
func HashPassword(password string) (hash string, salt string, err error) {
	salt = ksuid.New().String()
	b, err := bcrypt.GenerateFromPassword([]byte(password+salt), bcryptCost)
	if err != nil {
		return "", "", err
	}
	return string(b), salt, nil
}

// ComparePassword checks a clear text password against the stored hash and salt.
func ComparePassword(hash string, salt string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password+salt))
}

// Login checks the credentials and returns the user record with its hydrated
// roles. A wrong login and a wrong password are indistinguishable for the caller.
func Login(ctx context.Context, registry *orm.Registry, login string, password string) (*orm.Record, error) {
	users, err := registry.Model("users")
	if err != nil {
		return nil, err
	}
	records, err := users.Search(ctx, orm.SearchOptions{
		Fields: []string{"id", "name", "login", "password_hash", "password_salt", "active", "role_ids"},
		Filter: query.Filter{query.Triplet("login", "=", login)},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrLogin
	}
	user := records[0]
	hash, _ := user.Get("password_hash").(string)
	salt, _ := user.Get("password_salt").(string)
	if err = ComparePassword(hash, salt, password); err != nil {
		return nil, ErrLogin
	}
	if active, ok := user.Get("active").(bool); ok && !active {
		return nil, ErrInactive
	}
	return user, nil
}

// RoleNames extracts the role names of a hydrated user record, the inherited
// closure included.
func RoleNames(ctx context.Context, registry *orm.Registry, user *orm.Record) ([]string, error) {
	roles, _ := user.Get("role_ids").([]*orm.Record)
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID())
	}
	return BasedRoles(ctx, registry, ids)
}

// BasedRoles resolves the transitive closure of the given role ids over the
// roles_based_roles link table and returns the distinct role names.
func BasedRoles(ctx context.Context, registry *orm.Registry, ids []int64) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pool := registry.Pool()
	dialect := pool.Dialect()

	var stmt string
	var args []interface{}
	if dialect.Name() == query.POSTGRES {
		stmt = `WITH RECURSIVE role_tree AS (` +
			`SELECT "id", "name" FROM "roles" WHERE "id" = ANY($1) ` +
			`UNION ` +
			`SELECT "r"."id", "r"."name" FROM "roles" "r" ` +
			`JOIN "roles_based_roles" "l" ON "l"."based_role_id" = "r"."id" ` +
			`JOIN "role_tree" "t" ON "l"."role_id" = "t"."id") ` +
			`SELECT "name" FROM "role_tree" ORDER BY "name"`
		args = []interface{}{dialect.Array(toInterfaces(ids))}
	} else {
		in, _ := dialect.InClause(dialect.QuoteIdentifier("id"), len(ids), 1)
		stmt = "WITH RECURSIVE role_tree AS (" +
			"SELECT `id`, `name` FROM `roles` WHERE " + in + " " +
			"UNION " +
			"SELECT `r`.`id`, `r`.`name` FROM `roles` `r` " +
			"JOIN `roles_based_roles` `l` ON `l`.`based_role_id` = `r`.`id` " +
			"JOIN `role_tree` `t` ON `l`.`role_id` = `t`.`id`) " +
			"SELECT `name` FROM `role_tree` ORDER BY `name`"
		args = toInterfaces(ids)
	}

	rows, err := pool.Session(ctx).Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// HasRole checks a claim role list against a required role.
func HasRole(roles []string, required string) error {
	for _, r := range roles {
		if r == required {
			return nil
		}
	}
	return fmt.Errorf(ErrRole, required)
}

func toInterfaces(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
