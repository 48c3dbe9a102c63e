// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package chat attaches message threads to arbitrary records. A channel is
// addressed by its res_model/res_id pair and created lazily, messages carry their
// author and may hold polymorphic image attachments.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/patrickascher/dotorm/attachment"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
)

// Table names.
const (
	ChannelTable = "chat_channels"
	MessageTable = "chat_messages"
)

// Register declares the chat models. The attachment model must be registered
// before, the message images live in the attachment store.
func Register(registry *orm.Registry) error {
	channels, err := orm.NewModel(ChannelTable,
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "name", Kind: orm.Char, Null: true},
		orm.Field{Name: orm.ResModel, Kind: orm.Char, MaxLength: 128, Index: true},
		orm.Field{Name: orm.ResID, Kind: orm.Integer, Index: true},
		orm.Field{Name: "message_ids", Kind: orm.OneToMany, Target: MessageTable, BackField: "channel_id"},
	)
	if err != nil {
		return err
	}

	messages, err := orm.NewModel(MessageTable,
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "body", Kind: orm.Text, Required: true},
		orm.Field{Name: "created", Kind: orm.Datetime},
		orm.Field{Name: "channel_id", Kind: orm.ManyToOne, Target: ChannelTable},
		orm.Field{Name: "author_id", Kind: orm.ManyToOne, Target: "users", Null: true},
		orm.Field{Name: "image_ids", Kind: orm.PolymorphicOneToMany, Target: attachment.Table},
	)
	if err != nil {
		return err
	}

	for _, m := range []*orm.Model{channels, messages} {
		if err = registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateChannel returns the channel id of the record, creating the channel on
// first use. The lookup locks the row so concurrent writers converge on one
// channel per record.
func GetOrCreateChannel(ctx context.Context, registry *orm.Registry, resModel string, resID int64) (int64, error) {
	channels, err := registry.Model(ChannelTable)
	if err != nil {
		return 0, err
	}
	pool := registry.Pool()

	var id int64
	err = pool.Transaction(ctx, func(ctx context.Context) error {
		dialect := pool.Dialect()
		stmt := "SELECT " + dialect.QuoteIdentifier("id") +
			" FROM " + dialect.QuoteIdentifier(ChannelTable) +
			" WHERE " + dialect.QuoteIdentifier(orm.ResModel) + " = " + dialect.Placeholder(1) +
			" AND " + dialect.QuoteIdentifier(orm.ResID) + " = " + dialect.Placeholder(2) +
			" LIMIT 1 FOR UPDATE SKIP LOCKED"

		err := pool.Session(ctx).QueryRow(ctx, stmt, resModel, resID).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id, err = channels.Create(ctx, map[string]interface{}{
			orm.ResModel: resModel,
			orm.ResID:    resID,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PostMessage writes a message into the channel of the record. The channel is
// created on demand, the message and its images land in one transaction.
func PostMessage(ctx context.Context, registry *orm.Registry, resModel string, resID int64, authorID int64, body string) (int64, error) {
	channelID, err := GetOrCreateChannel(ctx, registry, resModel, resID)
	if err != nil {
		return 0, err
	}
	messages, err := registry.Model(MessageTable)
	if err != nil {
		return 0, err
	}
	payload := map[string]interface{}{
		"body":       body,
		"created":    time.Now().UTC().Format("2006-01-02 15:04:05"),
		"channel_id": channelID,
	}
	if authorID > 0 {
		payload["author_id"] = authorID
	}
	return messages.Create(ctx, payload)
}

// Messages returns the thread of one record, newest first, images hydrated.
func Messages(ctx context.Context, registry *orm.Registry, resModel string, resID int64, start *int, end *int) ([]*orm.Record, error) {
	channels, err := registry.Model(ChannelTable)
	if err != nil {
		return nil, err
	}
	channel, err := channels.Search(ctx, orm.SearchOptions{
		Fields: []string{"id"},
		Filter: query.Filter{
			query.Triplet(orm.ResModel, "=", resModel),
			query.Triplet(orm.ResID, "=", resID),
		},
		Limit: 1,
		Raw:   true,
	})
	if err != nil {
		return nil, err
	}
	if len(channel) == 0 {
		return nil, nil
	}
	id := channel[0].ID()

	messages, err := registry.Model(MessageTable)
	if err != nil {
		return nil, err
	}
	return messages.Search(ctx, orm.SearchOptions{
		Fields: []string{"id", "body", "created", "author_id", "image_ids"},
		Filter: query.Filter{query.Triplet("channel_id", "=", id)},
		Start:  start,
		End:    end,
		Sort:   "id",
		Order:  "DESC",
	})
}
