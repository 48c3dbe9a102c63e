// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"fmt"
	"sync"
)

// Error messages.
var (
	ErrApplied = "orm: model %s was already composed, extensions must be registered before first use"
)

// Extension attaches fields, methods and constants to an already declared model
// without subclassing it. Extensions are keyed by the table name and applied in
// registration order on first model access.
type Extension struct {
	// Table name of the extended model.
	Table string
	// Fields to install. A field with an existing name replaces the declared one,
	// except a Selection field with AdditiveOptions whose options are merged into
	// the existing option list.
	Fields []Field
	// Methods to install. A replaced method stays reachable through
	// Model.OriginalMethod.
	Methods map[string]Method
	// Constants are copied verbatim.
	Constants map[string]interface{}
}

// apply installs the extension on the model.
func (e Extension) apply(m *Model) error {
	for _, f := range e.Fields {
		if err := f.normalize(m.name); err != nil {
			return err
		}
		i, exists := m.indexOf(f.Name)
		if exists && f.Kind == Selection && f.AdditiveOptions && m.fields[i].Kind == Selection {
			// additive selections merge their options instead of replacing the field.
			existing := m.fields[i]
			for _, o := range f.Options {
				if !existing.HasOption(o.Value) {
					existing.Options = append(existing.Options, o)
				}
			}
			m.fields[i] = existing
			continue
		}
		if exists {
			// same-name fields: last registered extension wins.
			m.fields[i] = f
			continue
		}
		m.fields = append(m.fields, f)
	}

	for name, fn := range e.Methods {
		if original, ok := m.methods[name]; ok {
			m.replaced[name] = original
		}
		m.methods[name] = fn
	}

	for name, value := range e.Constants {
		m.constants[name] = value
	}
	return nil
}

// indexOf looks the field up by name in declaration order.
// The fieldIndex cache is not available yet while extensions are applied.
func (m *Model) indexOf(name string) (int, bool) {
	for i, f := range m.fields {
		if f.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Extend registers an extension on the registry.
// Error will return if the extended model was already composed.
func (r *Registry) Extend(ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[ext.Table] {
		return fmt.Errorf(ErrApplied, ext.Table)
	}
	r.extensions[ext.Table] = append(r.extensions[ext.Table], ext)
	return nil
}

// announced extensions, see Announce.
var (
	announceMu sync.Mutex
	announced  []Extension
)

// Announce queues an extension before any registry exists.
// Extension packages call Announce from their init function, the server blank
// imports them and drains the queue with Registry.LoadAnnounced on boot.
func Announce(ext Extension) {
	announceMu.Lock()
	defer announceMu.Unlock()
	announced = append(announced, ext)
}

// LoadAnnounced registers all announced extensions on the registry and drains the
// queue.
func (r *Registry) LoadAnnounced() error {
	announceMu.Lock()
	pending := announced
	announced = nil
	announceMu.Unlock()

	for _, ext := range pending {
		if err := r.Extend(ext); err != nil {
			return err
		}
	}
	return nil
}
