// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"context"
	"sync"

	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
)

// DomainFunc derives a row filter out of the claim.
type DomainFunc func(c *Claim) query.Filter

// Rbac is a role based access checker. Tables without a declared rule are open,
// a declared rule requires at least one matching claim role. Row restrictions are
// expressed as domain filters per table.
type Rbac struct {
	mu      sync.RWMutex
	rules   map[string]map[orm.Operation][]string
	domains map[string]DomainFunc
	admin   string
}

// NewRbac creates a checker. The admin role passes every rule.
func NewRbac(admin string) *Rbac {
	return &Rbac{
		rules:   map[string]map[orm.Operation][]string{},
		domains: map[string]DomainFunc{},
		admin:   admin,
	}
}

// Allow declares the required roles of one table operation.
func (r *Rbac) Allow(table string, op orm.Operation, roles ...string) *Rbac {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[table]; !ok {
		r.rules[table] = map[orm.Operation][]string{}
	}
	r.rules[table][op] = roles
	return r
}

// Domain declares the row filter of one table.
func (r *Rbac) Domain(table string, fn DomainFunc) *Rbac {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[table] = fn
	return r
}

// TableAccess implements orm.AccessChecker.
func (r *Rbac) TableAccess(ctx context.Context, m *orm.Model, op orm.Operation) (bool, error) {
	r.mu.RLock()
	required, declared := r.rules[m.Name()][op]
	r.mu.RUnlock()
	if !declared {
		return true, nil
	}

	claim, err := ClaimFromContext(ctx)
	if err != nil {
		return false, nil
	}
	for _, role := range claim.Roles {
		if role == r.admin {
			return true, nil
		}
		for _, req := range required {
			if role == req {
				return true, nil
			}
		}
	}
	return false, nil
}

// RowAccess implements orm.AccessChecker. Row restrictions are covered by the
// domain filter, id lists pass.
func (r *Rbac) RowAccess(ctx context.Context, m *orm.Model, op orm.Operation, ids []int64) (bool, error) {
	return true, nil
}

// DomainFilter implements orm.AccessChecker.
func (r *Rbac) DomainFilter(ctx context.Context, m *orm.Model, op orm.Operation) (query.Filter, error) {
	r.mu.RLock()
	fn, ok := r.domains[m.Name()]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	claim, err := ClaimFromContext(ctx)
	if err != nil {
		return nil, nil
	}
	for _, role := range claim.Roles {
		if role == r.admin {
			return nil, nil
		}
	}
	return fn(claim), nil
}
