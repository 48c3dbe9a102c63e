// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import "encoding/json"

// Serialization modes.
const (
	// ModeList reduces relations to {id,name} pairs.
	ModeList Mode = "list"
	// ModeForm keeps many2one as the full materialized object, lists stay raw.
	ModeForm Mode = "form"
	// ModeNestedList is the recursive list mode inside a relation.
	ModeNestedList Mode = "nested_list"
	// ModeCreate and ModeUpdate reduce many2one to the integer id and serialize
	// json fields to text.
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

// Mode controls how relation and json fields serialize.
type Mode string

// Marshal serializes the record into a response value.
// Only present values are emitted, a non-hydrated many2one keeps its raw FK value.
func (r *Record) Marshal(mode Mode) map[string]interface{} {
	out := map[string]interface{}{}
	for name, value := range r.values {
		f, err := r.model.Field(name)
		if err != nil {
			continue
		}
		if v, ok := marshalField(f, value, mode); ok {
			out[name] = v
		}
	}
	return out
}

// marshalField serializes one value, ok is false when the field is omitted in the
// given mode.
func marshalField(f Field, value interface{}, mode Mode) (interface{}, bool) {
	if f.Protected {
		switch mode {
		case ModeList, ModeForm, ModeNestedList:
			return nil, false
		}
	}

	if f.Kind == JSON && (mode == ModeCreate || mode == ModeUpdate) {
		if value == nil {
			return nil, true
		}
		if s, ok := value.(string); ok {
			return s, true
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, false
		}
		return string(b), true
	}

	if !f.IsRelation() {
		return value, true
	}

	if f.IsPlural() {
		list, ok := value.([]*Record)
		if !ok {
			return value, true
		}
		switch mode {
		case ModeList, ModeNestedList:
			return idNames(list), true
		case ModeForm:
			rows := make([]map[string]interface{}, len(list))
			for i, row := range list {
				rows[i] = row.Marshal(ModeNestedList)
			}
			return rows, true
		default:
			// command objects are inputs, records never round-trip them.
			return nil, false
		}
	}

	// single relation (m2o, o2o, polymorphic m2o).
	rec, ok := value.(*Record)
	if !ok {
		// not hydrated, the raw FK value passes through.
		return value, true
	}
	if rec == nil {
		return nil, true
	}
	switch mode {
	case ModeList, ModeNestedList:
		return idName(rec), true
	case ModeForm:
		return rec.Marshal(ModeNestedList), true
	default:
		return rec.ID(), true
	}
}

// idName reduces a record to its {id,name} pair.
func idName(r *Record) map[string]interface{} {
	pair := map[string]interface{}{"id": r.ID()}
	if r.model.HasField("name") {
		pair["name"] = r.Get("name")
	}
	return pair
}

// idNames reduces a record list to {id,name} pairs.
func idNames(list []*Record) []map[string]interface{} {
	pairs := make([]map[string]interface{}, len(list))
	for i, r := range list {
		pairs[i] = idName(r)
	}
	return pairs
}
