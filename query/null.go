// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"gopkg.in/guregu/null.v4"
)

// Error messages.
var (
	ErrSanitize = "query: can not sanitize value %v of type %s"
)

// nullBytes is a JSON null literal
var nullBytes = []byte("null")

// NullString wraps gopkg.in/guregu/null.String
type NullString null.String

// NullBool wraps gopkg.in/guregu/null.Bool
type NullBool null.Bool

// NullInt wraps gopkg.in/guregu/null.Int
type NullInt null.Int

// NullFloat wraps gopkg.in/guregu/null.Float
type NullFloat null.Float

// NullTime wraps gopkg.in/guregu/null.Time
type NullTime null.Time

// NewNullString creates a new NullString.
func NewNullString(s string, valid bool) NullString {
	return NullString(null.NewString(s, valid))
}

// NewNullBool creates a new NullBool.
func NewNullBool(b bool, valid bool) NullBool {
	return NullBool(null.NewBool(b, valid))
}

// NewNullInt creates a new NullInt.
func NewNullInt(i int64, valid bool) NullInt {
	return NullInt(null.NewInt(i, valid))
}

// NewNullFloat creates a new NullFloat.
func NewNullFloat(f float64, v bool) NullFloat {
	return NullFloat(null.NewFloat(f, v))
}

// NewNullTime creates a new NullTime.
func NewNullTime(t time.Time, valid bool) NullTime {
	return NullTime(null.NewTime(t, valid))
}

// time layouts accepted by NullTime.Scan.
var timeLayouts = []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02", "15:04:05"}

// Scan implements sql.Scanner. The wrapper loses the method set of the embedded
// null.Time, drivers also deliver time columns as plain strings.
func (t *NullTime) Scan(value interface{}) error {
	t.Valid = false
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf(ErrSanitize, value, reflect.TypeOf(value).String())
}

func (t *NullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf(ErrSanitize, s, "string")
}

// SanitizeInterfaceValue will convert any int, uint, float or json.Number to int64
// and NullInt/NullString to their value.
// Error will return if the type is different or not implemented.
func SanitizeInterfaceValue(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, fmt.Errorf(ErrSanitize, value, "nil")
	}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		// json numbers decode as float64.
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return v, nil
	case NullInt:
		if v.Valid {
			return v.Int64, nil
		}
	case NullString:
		if v.Valid {
			return v.String, nil
		}
	}

	return nil, fmt.Errorf(ErrSanitize, value, reflect.TypeOf(value).String())
}

// SanitizeToString will convert any type to a string.
// Error will return if the type is not implemented in SanitizeInterfaceValue.
func SanitizeToString(i interface{}) (string, error) {
	v, err := SanitizeInterfaceValue(i)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", v), nil
}

// These parts are copied out of the package because otherwise JSON would not marshal or unmarshal it correctly (gopkg.in/guregu/null).

// UnmarshalJSON implements json.Unmarshaler.
// It supports string and null input. Blank string input does not produce a null String.
func (s *NullString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullBytes) {
		s.Valid = false
		return nil
	}

	if err := json.Unmarshal(data, &s.String); err != nil {
		return fmt.Errorf("null: couldn't unmarshal JSON: %w", err)
	}

	s.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
// It will encode null if this String is null.
func (s NullString) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return nullBytes, nil
	}
	return json.Marshal(s.String)
}

// UnmarshalJSON implements json.Unmarshaler.
// It supports bool and null input.
func (b *NullBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullBytes) {
		b.Valid = false
		return nil
	}

	if err := json.Unmarshal(data, &b.Bool); err != nil {
		return fmt.Errorf("null: couldn't unmarshal JSON: %w", err)
	}

	b.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
// It will encode null if this Bool is null.
func (b NullBool) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return nullBytes, nil
	}
	return json.Marshal(b.Bool)
}

// UnmarshalJSON implements json.Unmarshaler.
// It supports number and null input.
func (i *NullInt) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullBytes) {
		i.Valid = false
		return nil
	}

	if err := json.Unmarshal(data, &i.Int64); err != nil {
		return fmt.Errorf("null: couldn't unmarshal JSON: %w", err)
	}

	i.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
// It will encode null if this Int is null.
func (i NullInt) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return nullBytes, nil
	}
	return json.Marshal(i.Int64)
}

// UnmarshalJSON implements json.Unmarshaler.
// It supports RFC3339 strings and null input.
func (t *NullTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullBytes) {
		t.Valid = false
		return nil
	}

	if err := json.Unmarshal(data, &t.Time); err != nil {
		return fmt.Errorf("null: couldn't unmarshal JSON: %w", err)
	}

	t.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
// It will encode null if this Time is null.
func (t NullTime) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return nullBytes, nil
	}
	return json.Marshal(t.Time)
}

// UnmarshalJSON implements json.Unmarshaler.
// It supports number and null input.
func (f *NullFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, nullBytes) {
		f.Valid = false
		return nil
	}

	if err := json.Unmarshal(data, &f.Float64); err != nil {
		return fmt.Errorf("null: couldn't unmarshal JSON: %w", err)
	}

	f.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
// It will encode null if this Float is null.
func (f NullFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return nullBytes, nil
	}
	return json.Marshal(f.Float64)
}
