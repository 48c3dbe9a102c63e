// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package settings stores typed key/value configuration in the database with a
// per-key cache lifetime. A ttl of zero bypasses the cache, minus one caches
// forever, a positive ttl expires after that many seconds. Reads fall back to the
// given default when the driver fails, configuration lookups must not take the
// application down.
package settings

import (
	"context"
	"time"

	"github.com/patrickascher/dotorm/cache"
	"github.com/patrickascher/dotorm/logger"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
)

// cachePrefix of the settings items.
const cachePrefix = "settings"

// Register declares the settings model on the registry.
func Register(registry *orm.Registry) error {
	settings, err := orm.NewModel("settings",
		orm.Field{Name: "id", Kind: orm.Integer, PrimaryKey: true},
		orm.Field{Name: "key", Kind: orm.Char, MaxLength: 128, Required: true, Unique: true},
		orm.Field{Name: "value", Kind: orm.JSON, Null: true},
		orm.Field{Name: "ttl", Kind: orm.Integer, Default: 0},
	)
	if err != nil {
		return err
	}
	settings.SetAutoRoute(false)
	return registry.Register(settings)
}

// Manager reads and writes settings through the cache.
type Manager struct {
	registry *orm.Registry
	cache    cache.Manager
	logger   logger.Manager
}

// New creates a settings manager.
func New(registry *orm.Registry, c cache.Manager) *Manager {
	return &Manager{registry: registry, cache: c}
}

// SetLogger sets the fallback logger.
func (m *Manager) SetLogger(l logger.Manager) {
	m.logger = l
}

// Get returns the value of the key. A missing key and a driver error both resolve
// to the default value, the error case is logged.
func (m *Manager) Get(ctx context.Context, key string, def interface{}) interface{} {
	if item, err := m.cache.Get(cachePrefix, key); err == nil {
		return item.Value()
	}

	value, ttl, found, err := m.load(ctx, key)
	if err != nil {
		if m.logger != nil {
			m.logger.WithFields(logger.Fields{"key": key, "err": err.Error()}).Warning("settings: falling back to default")
		}
		return def
	}
	if !found {
		return def
	}

	switch {
	case ttl == 0:
		// uncached, every read hits the database.
	case ttl < 0:
		_ = m.cache.Set(cachePrefix, key, value, cache.NoExpiration)
	default:
		_ = m.cache.Set(cachePrefix, key, value, time.Duration(ttl)*time.Second)
	}
	return value
}

// Set writes the value of the key and invalidates its cache entry. Missing keys
// are created.
func (m *Manager) Set(ctx context.Context, key string, value interface{}) error {
	model, err := m.registry.Model("settings")
	if err != nil {
		return err
	}

	records, err := model.Search(ctx, orm.SearchOptions{
		Fields: []string{"id"},
		Filter: query.Filter{query.Triplet("key", "=", key)},
		Limit:  1,
		Raw:    true,
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, err = model.Create(ctx, map[string]interface{}{"key": key, "value": value})
	} else {
		_, err = model.Update(ctx, records[0].ID(), map[string]interface{}{"value": value})
	}
	if err != nil {
		return err
	}

	if m.cache.Exist(cachePrefix, key) {
		return m.cache.Delete(cachePrefix, key)
	}
	return nil
}

// load reads one key from the store.
func (m *Manager) load(ctx context.Context, key string) (value interface{}, ttl int64, found bool, err error) {
	model, err := m.registry.Model("settings")
	if err != nil {
		return nil, 0, false, err
	}
	records, err := model.Search(ctx, orm.SearchOptions{
		Fields: []string{"id", "key", "value", "ttl"},
		Filter: query.Filter{query.Triplet("key", "=", key)},
		Limit:  1,
		Raw:    true,
	})
	if err != nil {
		return nil, 0, false, err
	}
	if len(records) == 0 {
		return nil, 0, false, nil
	}

	r := records[0]
	rawTTL, err := query.SanitizeInterfaceValue(r.Get("ttl"))
	if err != nil {
		rawTTL = int64(0)
	}
	ttl, _ = rawTTL.(int64)
	return r.Get("value"), ttl, true, nil
}
