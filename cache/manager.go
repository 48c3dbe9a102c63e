// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"sync"
	"time"
)

const prefixSeparator = "_"

// ErrNotExist - error message.
var ErrNotExist = "cache: item or prefix %s does not exist"

// Manager for cache operations.
type Manager interface {
	Get(prefix string, name string) (Item, error)
	All() ([]Item, error)
	Set(prefix string, name string, value interface{}, exp time.Duration) error
	Exist(prefix string, name string) bool
	Delete(prefix string, name string) error
	DeletePrefix(prefix string) error
	DeleteAll() error

	SetDefaultExpiration(duration time.Duration)
}

// manager will hold some default values and the known prefixes.
type manager struct {
	defaultExpiration time.Duration

	sync     sync.Mutex
	provider Interface
	prefixes map[string][]string
}

// newManager returns a Manager with initialized data.
func newManager(provider Interface) Manager {
	return &manager{
		defaultExpiration: 1 * time.Hour,
		provider:          provider,
		prefixes:          make(map[string][]string),
	}
}

// SetDefaultExpiration for cache items.
func (m *manager) SetDefaultExpiration(exp time.Duration) {
	m.defaultExpiration = exp
}

// Get returns an Item by its prefix and name.
// Error will return if it does not exist.
func (m *manager) Get(prefix string, name string) (Item, error) {
	i, err := m.provider.Get(m.prefixedName(prefix, name))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return i, nil
}

// All cached items.
func (m *manager) All() ([]Item, error) {
	items, err := m.provider.All()
	if err != nil {
		// wrapping the provider err for a better stack
		return nil, fmt.Errorf("cache: %w", err)
	}
	return items, nil
}

// Set an item by its prefix, name, value and lifetime.
// If a value should not get deleted by the garbage collector, cache.NoExpiration can be used as time.Duration.
// If the default expiration should be used, use cache.DefaultExpiration.
func (m *manager) Set(prefix string, name string, value interface{}, exp time.Duration) error {
	// create prefix entry
	m.addPrefixEntry(prefix, name)
	// check if the default expiration was set.
	if exp == DefaultExpiration {
		exp = m.defaultExpiration
	}
	err := m.provider.Set(m.prefixedName(prefix, name), value, exp)
	if err != nil {
		// wrapping the provider err for a better stack
		err = fmt.Errorf("cache: %w", err)
	}
	return err
}

// Exist wraps the Get() function but returns a boolean instead of an error.
func (m *manager) Exist(prefix string, name string) bool {
	_, err := m.Get(prefix, name)
	return err == nil
}

// Delete a value by its prefix and name.
// Error will return if it does not exist.
func (m *manager) Delete(prefix string, name string) error {
	err := m.provider.Delete(m.prefixedName(prefix, name))
	if err == nil {
		m.deletePrefixEntry(prefix, name)
	} else {
		// wrapping the provider err for a better stack
		err = fmt.Errorf("cache: %w", err)
	}
	return err
}

// DeletePrefix(ed) items.
// Error will return if the prefix does not exist.
func (m *manager) DeletePrefix(prefix string) error {
	_, ok := m.prefixes[prefix]
	if !ok {
		return fmt.Errorf(ErrNotExist, prefix)
	}

	for i := 0; i < len(m.prefixes[prefix]); i++ {
		err := m.Delete(prefix, m.prefixes[prefix][i])
		if err != nil {
			return err
		}
		i--
	}

	return nil
}

// DeleteAll items.
func (m *manager) DeleteAll() error {
	err := m.provider.DeleteAll()
	if err == nil {
		m.deleteAllPrefixEntry()
	} else {
		// wrapping the provider err for a better stack
		err = fmt.Errorf("cache: %w", err)
	}
	return err
}

// addPrefixEntry is a helper to add a prefix to the manager prefix map.
func (m *manager) addPrefixEntry(prefix string, name string) {
	m.sync.Lock()
	// if the prefix does not exist yet, create an empty slice for it.
	if _, ok := m.prefixes[prefix]; !ok {
		m.prefixes[prefix] = []string{}
	}

	// checking if the name already exists.
	exists := false
	for _, v := range m.prefixes[prefix] {
		if v == name {
			exists = true
		}
	}

	if !exists {
		m.prefixes[prefix] = append(m.prefixes[prefix], name)
	}
	m.sync.Unlock()
}

// deleteAllPrefixEntry will create a new map for the prefixes.
func (m *manager) deleteAllPrefixEntry() {
	m.sync.Lock()
	m.prefixes = make(map[string][]string)
	m.sync.Unlock()
}

// deletePrefixEntry is a helper to delete a complete prefix or only parts of it.
func (m *manager) deletePrefixEntry(prefix string, name string) {
	m.sync.Lock()
	if _, ok := m.prefixes[prefix]; ok {
		// get the slice index
		index := -1
		for i, v := range m.prefixes[prefix] {
			if v == name {
				index = i
				break
			}
		}
		// delete slice index
		if index > -1 {
			m.prefixes[prefix] = append(m.prefixes[prefix][:index], m.prefixes[prefix][index+1:]...)
		}
		// delete if no entries exist anymore.
		if len(m.prefixes[prefix]) == 0 {
			m.prefixes[prefix] = nil
			delete(m.prefixes, prefix)
		}
	}
	m.sync.Unlock()
}

// prefixedName returns the name with a prefix and separator.
func (m *manager) prefixedName(prefix string, name string) string {
	if prefix != "" {
		prefix = prefix + prefixSeparator
	}
	return prefix + name
}
