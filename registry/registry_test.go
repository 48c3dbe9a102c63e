// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry_test

import (
	"fmt"
	"testing"

	"github.com/patrickascher/dotorm/registry"
	"github.com/stretchr/testify/assert"
)

// TestRegistry tests Set, Get and Prefix including the error cases.
func TestRegistry(t *testing.T) {
	asserts := assert.New(t)

	// error: zero-value arguments.
	asserts.Equal(registry.ErrMandatoryArguments, registry.Set("", 1))
	asserts.Equal(registry.ErrMandatoryArguments, registry.Set("entry", nil))

	// ok: set a value.
	asserts.NoError(registry.Set("entry_a", "a"))
	asserts.NoError(registry.Set("entry_b", "b"))

	// error: name already exists.
	err := registry.Set("entry_a", "a")
	asserts.Error(err)
	asserts.Equal(fmt.Sprintf(registry.ErrAlreadyExists, "entry_a"), err.Error())

	// ok: get the value.
	value, err := registry.Get("entry_a")
	asserts.NoError(err)
	asserts.Equal("a", value)

	// error: unknown name.
	value, err = registry.Get("entry_c")
	asserts.Error(err)
	asserts.Nil(value)
	asserts.Equal(fmt.Sprintf(registry.ErrUnknownEntry, "entry_c"), err.Error())

	// ok: prefixed entries.
	asserts.Equal(2, len(registry.Prefix("entry_")))
	asserts.Nil(registry.Prefix("none_"))
}
