// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/patrickascher/dotorm/query"
	"github.com/stretchr/testify/assert"
)

// TestNull_Scan tests the driver value scanning of the null wrappers.
func TestNull_Scan(t *testing.T) {
	asserts := assert.New(t)

	var i query.NullInt
	asserts.NoError(i.Scan(int64(5)))
	asserts.True(i.Valid)
	asserts.Equal(int64(5), i.Int64)
	asserts.NoError(i.Scan(nil))
	asserts.False(i.Valid)

	var s query.NullString
	asserts.NoError(s.Scan("John"))
	asserts.True(s.Valid)
	asserts.Equal("John", s.String)

	var b query.NullBool
	asserts.NoError(b.Scan(true))
	asserts.True(b.Valid)
	asserts.True(b.Bool)

	var f query.NullFloat
	asserts.NoError(f.Scan(1.5))
	asserts.True(f.Valid)
	asserts.Equal(1.5, f.Float64)
}

// TestNullTime_Scan tests the time scanning, drivers deliver time columns either
// typed or as plain strings.
func TestNullTime_Scan(t *testing.T) {
	asserts := assert.New(t)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	var nt query.NullTime
	asserts.NoError(nt.Scan(now))
	asserts.True(nt.Valid)
	asserts.Equal(now, nt.Time)

	asserts.NoError(nt.Scan("2026-01-01 10:00:00"))
	asserts.True(nt.Valid)
	asserts.Equal(now, nt.Time)

	asserts.NoError(nt.Scan([]byte("2026-01-01T10:00:00Z")))
	asserts.True(nt.Valid)
	asserts.Equal(now, nt.Time)

	asserts.NoError(nt.Scan("2026-01-01"))
	asserts.True(nt.Valid)

	asserts.NoError(nt.Scan(nil))
	asserts.False(nt.Valid)

	// error: unparsable string, unsupported type.
	asserts.Error(nt.Scan("yesterday"))
	asserts.Error(nt.Scan(42))
}

// TestNull_JSON tests the null literal handling of the json round trip.
func TestNull_JSON(t *testing.T) {
	asserts := assert.New(t)

	b, err := json.Marshal(query.NewNullString("John", true))
	asserts.NoError(err)
	asserts.Equal(`"John"`, string(b))

	b, err = json.Marshal(query.NewNullString("", false))
	asserts.NoError(err)
	asserts.Equal("null", string(b))

	var s query.NullString
	asserts.NoError(json.Unmarshal([]byte("null"), &s))
	asserts.False(s.Valid)
	asserts.NoError(json.Unmarshal([]byte(`"Jane"`), &s))
	asserts.True(s.Valid)
	asserts.Equal("Jane", s.String)

	b, err = json.Marshal(query.NewNullInt(0, false))
	asserts.NoError(err)
	asserts.Equal("null", string(b))

	var i query.NullInt
	asserts.NoError(json.Unmarshal([]byte("7"), &i))
	asserts.True(i.Valid)
	asserts.Equal(int64(7), i.Int64)

	b, err = json.Marshal(query.NewNullBool(true, true))
	asserts.NoError(err)
	asserts.Equal("true", string(b))

	b, err = json.Marshal(query.NewNullFloat(1.5, true))
	asserts.NoError(err)
	asserts.Equal("1.5", string(b))

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	b, err = json.Marshal(query.NewNullTime(now, true))
	asserts.NoError(err)
	asserts.Equal(`"2026-01-01T10:00:00Z"`, string(b))

	var nt query.NullTime
	asserts.NoError(json.Unmarshal([]byte("null"), &nt))
	asserts.False(nt.Valid)
}

// TestSanitizeInterfaceValue tests the id normalization.
func TestSanitizeInterfaceValue(t *testing.T) {
	asserts := assert.New(t)

	for _, value := range []interface{}{int(5), int32(5), uint8(5), int64(5), float64(5), json.Number("5")} {
		v, err := query.SanitizeInterfaceValue(value)
		asserts.NoError(err)
		asserts.Equal(int64(5), v)
	}

	v, err := query.SanitizeInterfaceValue("abc")
	asserts.NoError(err)
	asserts.Equal("abc", v)

	v, err = query.SanitizeInterfaceValue(query.NewNullInt(9, true))
	asserts.NoError(err)
	asserts.Equal(int64(9), v)

	v, err = query.SanitizeInterfaceValue(query.NewNullString("John", true))
	asserts.NoError(err)
	asserts.Equal("John", v)

	s, err := query.SanitizeToString(7)
	asserts.NoError(err)
	asserts.Equal("7", s)

	// error: nil, invalid wrappers and unknown types.
	_, err = query.SanitizeInterfaceValue(nil)
	asserts.Error(err)
	_, err = query.SanitizeInterfaceValue(query.NewNullInt(0, false))
	asserts.Error(err)
	_, err = query.SanitizeInterfaceValue([]string{"a"})
	asserts.Error(err)
}
