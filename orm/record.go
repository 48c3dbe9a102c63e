// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"encoding/json"
	"fmt"

	"github.com/patrickascher/dotorm/query"
)

// Record is one row of a model.
// Values set by the caller are tracked, create and update only emit tracked stored
// fields. Materialized values (loaded from the database) are not tracked.
type Record struct {
	model  *Model
	values map[string]interface{}
	set    map[string]bool
}

// NewRecord creates an empty record of the model.
func (m *Model) NewRecord() *Record {
	return &Record{model: m, values: map[string]interface{}{}, set: map[string]bool{}}
}

// Model of the record.
func (r *Record) Model() *Model {
	return r.model
}

// Set a field value.
// Error will return on an unknown field or a Selection value outside the option
// set.
func (r *Record) Set(name string, value interface{}) error {
	f, err := r.model.Field(name)
	if err != nil {
		return err
	}
	if f.Kind == Selection && value != nil {
		s, ok := value.(string)
		if !ok || !f.HasOption(s) {
			return fmt.Errorf(ErrSelectionNone, value, r.model.name, name)
		}
	}
	r.values[name] = value
	r.set[name] = true
	return nil
}

// SetValues sets all given field values.
func (r *Record) SetValues(values map[string]interface{}) error {
	for name, value := range values {
		if err := r.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Get a field value, nil if unset.
func (r *Record) Get(name string) interface{} {
	return r.values[name]
}

// IsSet reports whether the field was explicitly set by the caller.
func (r *Record) IsSet(name string) bool {
	return r.set[name]
}

// ID returns the primary key value, 0 if unset.
func (r *Record) ID() int64 {
	v, err := query.SanitizeInterfaceValue(r.values[r.model.pk])
	if err != nil {
		return 0
	}
	if id, ok := v.(int64); ok {
		return id
	}
	return 0
}

// Values returns a copy of all values.
func (r *Record) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return values
}

// materialize stores a loaded value without set-tracking.
// Raw bytes are converted to strings, json fields are parsed.
func (r *Record) materialize(name string, value interface{}) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	if f, err := r.model.Field(name); err == nil && f.Kind == JSON {
		if s, ok := value.(string); ok && s != "" {
			var parsed interface{}
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				value = parsed
			}
		}
	}
	r.values[name] = value
}

// compute runs all compute field producers of the record.
func (r *Record) compute() {
	for _, name := range r.model.computed {
		f := r.model.fields[r.model.fieldIndex[name]]
		r.values[name] = f.Compute(r)
	}
}
