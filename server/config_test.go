// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestLoadConfig tests that file values win and missing fields fall back to the
// defaults.
func TestLoadConfig(t *testing.T) {
	asserts := assert.New(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "app.json")
	asserts.NoError(os.WriteFile(file, []byte(`{
		"Database": {"Provider": "postgres", "Host": "localhost", "Database": "crm"},
		"Server": {"HTTPPort": 9090},
		"Token": {"SignKey": "secret"}
	}`), 0600))

	cfg, err := LoadConfig("app.json", dir)
	asserts.NoError(err)

	// file values.
	asserts.Equal("postgres", cfg.Database.Provider)
	asserts.Equal(9090, cfg.Server.HTTPPort)
	asserts.Equal("secret", cfg.Token.SignKey)

	// merged defaults.
	asserts.Equal([]string{"*"}, cfg.Server.CORS.AllowedOrigins)
	asserts.Equal("HS256", cfg.Token.Alg)
	asserts.Equal(15*time.Minute, cfg.Token.Expiration)
	asserts.Equal("memory", cfg.Cache.Provider)
	asserts.Equal("info", cfg.Logger.Level)

	// error: missing file.
	_, err = LoadConfig("ghost.json", dir)
	asserts.Error(err)
}
