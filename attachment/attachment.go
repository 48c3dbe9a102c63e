// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package attachment stores binary payloads that can hang on any record. The owner
// is addressed polymorphically over the res_model/res_id pair, models reference
// attachments through polymorphic relation fields.
package attachment

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
)

// Table name of the attachment store.
const Table = "attachments"

// Register declares the attachment model on the registry.
func Register(registry *orm.Registry) error {
	attachments, err := orm.NewModel(Table,
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Required: true},
		orm.Field{Name: "mimetype", Kind: orm.Char, MaxLength: 128},
		orm.Field{Name: orm.ResModel, Kind: orm.Char, MaxLength: 128, Index: true},
		orm.Field{Name: orm.ResID, Kind: orm.Integer, Null: true, Index: true},
		orm.Field{Name: "checksum", Kind: orm.Char, MaxLength: 40},
		orm.Field{Name: "size", Kind: orm.Integer, Default: 0},
		orm.Field{Name: "datas", Kind: orm.Binary, Null: true},
	)
	if err != nil {
		return err
	}
	attachments.SetAutoRoute(false)
	return registry.Register(attachments)
}

// Attach stores a payload on the given record and returns the attachment id.
func Attach(ctx context.Context, registry *orm.Registry, resModel string, resID int64, name string, mimetype string, datas []byte) (int64, error) {
	attachments, err := registry.Model(Table)
	if err != nil {
		return 0, err
	}
	sum := sha1.Sum(datas)
	return attachments.Create(ctx, map[string]interface{}{
		"name":       name,
		"mimetype":   mimetype,
		orm.ResModel: resModel,
		orm.ResID:    resID,
		"checksum":   hex.EncodeToString(sum[:]),
		"size":       len(datas),
		"datas":      datas,
	})
}

// ForRecord lists the attachments of one record, the payload column excluded.
func ForRecord(ctx context.Context, registry *orm.Registry, resModel string, resID int64) ([]*orm.Record, error) {
	attachments, err := registry.Model(Table)
	if err != nil {
		return nil, err
	}
	return attachments.Search(ctx, orm.SearchOptions{
		Fields: []string{"id", "name", "mimetype", "checksum", "size"},
		Filter: query.Filter{
			query.Triplet(orm.ResModel, "=", resModel),
			query.Triplet(orm.ResID, "=", resID),
		},
		Sort:  "id",
		Order: "ASC",
		Raw:   true,
	})
}

// Detach removes one attachment.
func Detach(ctx context.Context, registry *orm.Registry, id int64) error {
	attachments, err := registry.Model(Table)
	if err != nil {
		return err
	}
	return attachments.Delete(ctx, id)
}
