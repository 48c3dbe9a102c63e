// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"context"
	"errors"

	"github.com/patrickascher/dotorm/query"
)

// Crud operations of the access checker.
const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operation type.
type Operation string

// ErrAccessDenied - returned whenever the installed access checker denies an
// operation. Denial is an error, never a silent empty result.
var ErrAccessDenied = errors.New("orm: access denied")

// AccessChecker is the pluggable row/table access hook.
// Without an installed checker access is unrestricted. The checker may consult the
// authenticated session through the context.
type AccessChecker interface {
	// TableAccess checks the operation on model level.
	TableAccess(ctx context.Context, m *Model, op Operation) (bool, error)
	// RowAccess checks the operation on the given ids.
	RowAccess(ctx context.Context, m *Model, op Operation, ids []int64) (bool, error)
	// DomainFilter returns an additional filter which is prepended to the caller
	// filter on search.
	DomainFilter(ctx context.Context, m *Model, op Operation) (query.Filter, error)
}

// checkAccess is the combined fast path.
// It runs the table check, the row check when ids are given and returns the domain
// filter. A denial surfaces as ErrAccessDenied.
func (m *Model) checkAccess(ctx context.Context, op Operation, ids []int64) (query.Filter, error) {
	checker := m.registry.checker
	if checker == nil {
		return nil, nil
	}

	allowed, err := checker.TableAccess(ctx, m, op)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrAccessDenied
	}

	if len(ids) > 0 {
		allowed, err = checker.RowAccess(ctx, m, op, ids)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, ErrAccessDenied
		}
	}

	return checker.DomainFilter(ctx, m, op)
}
