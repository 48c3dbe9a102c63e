// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orm

import (
	"context"
	"fmt"

	"github.com/patrickascher/dotorm/query"
	"golang.org/x/sync/errgroup"
)

// Commands is the update-with-relations object of one o2m/m2m field.
// Applied in the fixed order create, delete, link, unlink so partial failures stay
// deterministic. Ids of created children are added to Selected, m2m clients do not
// have to know the generated ids.
type Commands struct {
	// Created holds nested payloads to insert. A value equal to VirtualID is
	// replaced with the parent id before the insert.
	Created []map[string]interface{}
	// Deleted child ids, deleted for o2m, unlinked for m2m.
	Deleted []int64
	// Selected existing child ids to link, m2m only.
	Selected []int64
	// Unselected child ids to unlink, m2m only.
	Unselected []int64
}

// boundCommands couples a plural field with its parsed command object.
type boundCommands struct {
	field    Field
	commands Commands
}

// polymorphicCreate couples a polymorphic many2one field with its nested payload.
type polymorphicCreate struct {
	field   Field
	payload map[string]interface{}
}

// command object keys.
var commandKeys = []string{"created", "deleted", "selected", "unselected"}

// parseCommands reads a command object out of a payload value.
func parseCommands(value interface{}) (Commands, bool) {
	object, ok := value.(map[string]interface{})
	if !ok {
		return Commands{}, false
	}
	found := false
	for _, key := range commandKeys {
		if _, ok := object[key]; ok {
			found = true
			break
		}
	}
	if !found {
		return Commands{}, false
	}

	var c Commands
	if list, ok := object["created"].([]interface{}); ok {
		for _, entry := range list {
			if payload, ok := entry.(map[string]interface{}); ok {
				c.Created = append(c.Created, payload)
			}
		}
	}
	c.Deleted = parseIDs(object["deleted"])
	c.Selected = parseIDs(object["selected"])
	c.Unselected = parseIDs(object["unselected"])
	return c, true
}

// parseIDs converts a json decoded id list.
func parseIDs(value interface{}) []int64 {
	list, ok := value.([]interface{})
	if !ok {
		return nil
	}
	var ids []int64
	for _, entry := range list {
		v, err := query.SanitizeInterfaceValue(entry)
		if err != nil {
			continue
		}
		if id, ok := v.(int64); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// relationCommands extracts the command objects of all plural fields of the
// payload, in declaration order.
func (m *Model) relationCommands(payload map[string]interface{}) []boundCommands {
	var commands []boundCommands
	for _, name := range m.plural {
		value, ok := payload[name]
		if !ok {
			continue
		}
		if c, ok := parseCommands(value); ok {
			commands = append(commands, boundCommands{field: m.fields[m.fieldIndex[name]], commands: c})
		}
	}
	return commands
}

// polymorphicCreates extracts nested create payloads of polymorphic many2one
// fields.
func (m *Model) polymorphicCreates(payload map[string]interface{}) []polymorphicCreate {
	var creates []polymorphicCreate
	for _, f := range m.fields {
		if f.Kind != PolymorphicManyToOne {
			continue
		}
		if nested, ok := payload[f.Name].(map[string]interface{}); ok {
			creates = append(creates, polymorphicCreate{field: f, payload: nested})
		}
	}
	return creates
}

// createPolymorphicChild inserts the nested payload on the target with the
// discriminator pair of the parent and returns the child id.
func (m *Model) createPolymorphicChild(ctx context.Context, parentID int64, f Field, payload map[string]interface{}) (int64, error) {
	target, err := m.registry.Model(f.Target)
	if err != nil {
		return 0, err
	}
	child := replaceVirtualID(payload, parentID)
	if _, ok := child[ResModel]; !ok && target.HasField(ResModel) {
		child[ResModel] = m.name
	}
	if _, ok := child[ResID]; !ok && target.HasField(ResID) {
		child[ResID] = parentID
	}
	return target.Create(ctx, child)
}

// applyCommands runs the command object of one plural field in the fixed order
// create, delete, link, unlink.
func (m *Model) applyCommands(ctx context.Context, parentID int64, f Field, c Commands) error {
	target, err := m.registry.Model(f.Target)
	if err != nil {
		return err
	}

	for _, payload := range c.Created {
		child := replaceVirtualID(payload, parentID)
		switch f.Kind {
		case OneToMany:
			if _, ok := child[f.BackField]; !ok {
				child[f.BackField] = parentID
			}
		case PolymorphicOneToMany:
			if _, ok := child[ResModel]; !ok {
				child[ResModel] = m.name
			}
			if _, ok := child[f.BackField]; !ok {
				child[f.BackField] = parentID
			}
		}
		id, err := target.Create(ctx, child)
		if err != nil {
			return err
		}
		if f.Kind == ManyToMany {
			c.Selected = append(c.Selected, id)
		}
	}

	if len(c.Deleted) > 0 {
		if f.Kind == ManyToMany {
			if err := m.unlinkPairs(ctx, f, parentID, c.Deleted); err != nil {
				return err
			}
		} else {
			if err := target.DeleteBulk(ctx, c.Deleted); err != nil {
				return err
			}
		}
	}

	if len(c.Selected) > 0 {
		pairs := make([][2]int64, len(c.Selected))
		for i, id := range c.Selected {
			pairs[i] = [2]int64{id, parentID}
		}
		if err := m.LinkManyToMany(ctx, f.Name, pairs); err != nil {
			return err
		}
	}

	if len(c.Unselected) > 0 {
		if err := m.unlinkPairs(ctx, f, parentID, c.Unselected); err != nil {
			return err
		}
	}
	return nil
}

// replaceVirtualID copies the payload and replaces every VirtualID value with the
// parent id.
func replaceVirtualID(payload map[string]interface{}, parentID int64) map[string]interface{} {
	child := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok && s == VirtualID {
			v = parentID
		}
		child[k] = v
	}
	return child
}

// LinkManyToMany inserts link table rows, one per (target id, parent id) pair.
func (m *Model) LinkManyToMany(ctx context.Context, field string, pairs [][2]int64) error {
	f, err := m.manyToManyField(field)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}
	raw := make([][2]interface{}, len(pairs))
	for i, p := range pairs {
		raw[i] = [2]interface{}{p[0], p[1]}
	}
	stmt, args, err := m.builder.LinkManyToMany(m.join(f), raw)
	if err != nil {
		return err
	}
	_, err = m.registry.pool.Session(ctx).Exec(ctx, stmt, args...)
	return err
}

// UnlinkManyToMany removes all link table rows of the given parent ids.
func (m *Model) UnlinkManyToMany(ctx context.Context, field string, parentIDs []int64) error {
	f, err := m.manyToManyField(field)
	if err != nil {
		return err
	}
	if len(parentIDs) == 0 {
		return nil
	}
	stmt, args, err := m.builder.UnlinkManyToMany(m.join(f), toInterfaces(parentIDs))
	if err != nil {
		return err
	}
	_, err = m.registry.pool.Session(ctx).Exec(ctx, stmt, args...)
	return err
}

// unlinkPairs removes specific target ids of one parent from the link table.
func (m *Model) unlinkPairs(ctx context.Context, f Field, parentID int64, targetIDs []int64) error {
	stmt, args, err := m.builder.UnlinkPairs(m.join(f), parentID, toInterfaces(targetIDs))
	if err != nil {
		return err
	}
	_, err = m.registry.pool.Session(ctx).Exec(ctx, stmt, args...)
	return err
}

// GetManyToMany fetches the linked target records of one parent.
func (m *Model) GetManyToMany(ctx context.Context, field string, parentID int64, fields []string) ([]*Record, error) {
	f, err := m.manyToManyField(field)
	if err != nil {
		return nil, err
	}
	target, err := m.registry.Model(f.Target)
	if err != nil {
		return nil, err
	}
	if _, err := target.checkAccess(ctx, OpRead, nil); err != nil {
		return nil, err
	}
	stmt, args, err := m.builder.ManyToMany(m.join(f), hydrationFields(target, fields), parentID)
	if err != nil {
		return nil, err
	}
	return target.queryRecords(ctx, stmt, args)
}

// SearchManyToMany fetches one sorted page of the linked target records of one
// parent, plus the total of all linked rows. An unknown sort column falls back to
// the target primary key.
func (m *Model) SearchManyToMany(ctx context.Context, field string, parentID int64, fields []string, sort string, order string, limit int, offset int) ([]*Record, int64, error) {
	f, err := m.manyToManyField(field)
	if err != nil {
		return nil, 0, err
	}
	target, err := m.registry.Model(f.Target)
	if err != nil {
		return nil, 0, err
	}
	if _, err := target.checkAccess(ctx, OpRead, nil); err != nil {
		return nil, 0, err
	}
	if sort == "" || !contains(target.stored, sort) {
		sort = target.pk
	}
	stmt, args, err := m.builder.ManyToManyPage(m.join(f), hydrationFields(target, fields), parentID, sort, order, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	records, err := target.queryRecords(ctx, stmt, args)
	if err != nil {
		return nil, 0, err
	}

	stmt, args, err = m.builder.ManyToManyCount(m.join(f), parentID)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err = m.registry.pool.Session(ctx).QueryRow(ctx, stmt, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// manyToManyField resolves and checks the field kind.
func (m *Model) manyToManyField(field string) (Field, error) {
	f, err := m.Field(field)
	if err != nil {
		return Field{}, err
	}
	if f.Kind != ManyToMany {
		return Field{}, fmt.Errorf(ErrNoRelation, m.name, field, ManyToMany)
	}
	return f, nil
}

// hydrationFields returns the target fields to load, all stored fields when the
// caller did not narrow them.
func hydrationFields(target *Model, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	return target.stored
}

// hydrate loads the requested relation fields of all records, one batched query per
// relation. Outside a transaction the batches run concurrently, inside they run
// sequentially because the pinned connection can not host parallel operations.
// Every relation slot is initialised to its empty value first, the assignment runs
// after all loaders finished.
func (m *Model) hydrate(ctx context.Context, records []*Record, relations []Field, nested map[string][]string) error {
	for name := range nested {
		f, err := m.Field(name)
		if err != nil {
			return err
		}
		if !f.IsRelation() {
			return fmt.Errorf(ErrNoRelation, m.name, name, "any")
		}
		known := false
		for _, r := range relations {
			if r.Name == name {
				known = true
				break
			}
		}
		if !known {
			relations = append(relations, f)
		}
	}
	if len(relations) == 0 || len(records) == 0 {
		return nil
	}

	loaders := make([]func(ctx context.Context) (func(), error), len(relations))
	for i, f := range relations {
		loaders[i] = m.relationLoader(f, records, nested[f.Name])
	}

	assigns := make([]func(), len(loaders))
	if s := m.registry.pool.Session(ctx); s.InTransaction() {
		for i, load := range loaders {
			assign, err := load(ctx)
			if err != nil {
				return err
			}
			assigns[i] = assign
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, load := range loaders {
			i, load := i, load
			g.Go(func() error {
				assign, err := load(gctx)
				if err != nil {
					return err
				}
				assigns[i] = assign
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for _, assign := range assigns {
		assign()
	}
	return nil
}

// relationLoader builds the batched loader of one relation field.
// The returned assign function distributes the loaded rows to their parents.
func (m *Model) relationLoader(f Field, records []*Record, fields []string) func(ctx context.Context) (func(), error) {
	return func(ctx context.Context) (func(), error) {
		target, err := m.registry.Model(f.Target)
		if err != nil {
			return nil, err
		}

		switch f.Kind {
		case ManyToOne, PolymorphicManyToOne:
			return m.loadManyToOne(ctx, target, f, records, fields)
		case OneToMany, OneToOne:
			return m.loadOneToMany(ctx, target, f, records, fields)
		case PolymorphicOneToMany:
			return m.loadPolymorphic(ctx, target, f, records, fields)
		case ManyToMany:
			return m.loadManyToMany(ctx, target, f, records, fields)
		}
		return nil, fmt.Errorf(ErrNoRelation, m.name, f.Name, f.Kind)
	}
}

// loadManyToOne collects the distinct non-null FK values and resolves them with one
// select on the target. First match wins.
func (m *Model) loadManyToOne(ctx context.Context, target *Model, f Field, records []*Record, fields []string) (func(), error) {
	fks := map[*Record]int64{}
	var distinct []interface{}
	seen := map[int64]bool{}
	for _, r := range records {
		v, err := query.SanitizeInterfaceValue(r.Get(f.Name))
		if err != nil {
			continue
		}
		id, ok := v.(int64)
		if !ok || id == 0 {
			continue
		}
		fks[r] = id
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}

	byID := map[int64]*Record{}
	if len(distinct) > 0 {
		rows, err := target.Search(ctx, SearchOptions{
			Fields: hydrationFields(target, fields),
			Filter: query.Filter{query.Triplet(target.pk, "in", distinct)},
			Limit:  -1,
		})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if _, ok := byID[row.ID()]; !ok {
				byID[row.ID()] = row
			}
		}
	}

	return func() {
		for _, r := range records {
			if id, ok := fks[r]; ok {
				r.values[f.Name] = byID[id]
			} else {
				r.values[f.Name] = nil
			}
		}
	}, nil
}

// loadOneToMany groups the target rows by the back field and appends them to the
// matching parent, one2one keeps the first row only.
func (m *Model) loadOneToMany(ctx context.Context, target *Model, f Field, records []*Record, fields []string) (func(), error) {
	parentIDs := distinctIDs(records)
	loadFields := hydrationFields(target, fields)
	if !contains(loadFields, f.BackField) {
		loadFields = append(loadFields, f.BackField)
	}
	rows, err := target.Search(ctx, SearchOptions{
		Fields: loadFields,
		Filter: query.Filter{query.Triplet(f.BackField, "in", parentIDs)},
		Limit:  -1,
	})
	if err != nil {
		return nil, err
	}
	return m.assignByBackField(f, records, rows, f.BackField), nil
}

// loadPolymorphic is the one2many variant filtered by the discriminator pair.
func (m *Model) loadPolymorphic(ctx context.Context, target *Model, f Field, records []*Record, fields []string) (func(), error) {
	parentIDs := distinctIDs(records)
	loadFields := hydrationFields(target, fields)
	if !contains(loadFields, f.BackField) {
		loadFields = append(loadFields, f.BackField)
	}
	rows, err := target.Search(ctx, SearchOptions{
		Fields: loadFields,
		Filter: query.Filter{
			query.Triplet(f.BackField, "in", parentIDs),
			query.Triplet(ResModel, "=", m.name),
		},
		Limit: -1,
	})
	if err != nil {
		return nil, err
	}
	return m.assignByBackField(f, records, rows, f.BackField), nil
}

// loadManyToMany runs the batched link table select and buckets the rows by the
// m2m_id discriminator. The discriminator is removed before the rows surface.
func (m *Model) loadManyToMany(ctx context.Context, target *Model, f Field, records []*Record, fields []string) (func(), error) {
	stmt, args, err := m.builder.ManyToManyIn(m.join(f), hydrationFields(target, fields), distinctIDs(records))
	if err != nil {
		return nil, err
	}
	rows, err := target.queryRecords(ctx, stmt, args)
	if err != nil {
		return nil, err
	}

	buckets := map[int64][]*Record{}
	for _, row := range rows {
		v, err := query.SanitizeInterfaceValue(row.Get(query.M2MID))
		if err != nil {
			continue
		}
		parentID, ok := v.(int64)
		if !ok {
			continue
		}
		delete(row.values, query.M2MID)
		buckets[parentID] = append(buckets[parentID], row)
	}

	return func() {
		for _, r := range records {
			list := buckets[r.ID()]
			if list == nil {
				list = []*Record{}
			}
			r.values[f.Name] = list
		}
	}, nil
}

// assignByBackField buckets the rows by the back field value.
func (m *Model) assignByBackField(f Field, records []*Record, rows []*Record, backField string) func() {
	buckets := map[int64][]*Record{}
	for _, row := range rows {
		v, err := query.SanitizeInterfaceValue(row.Get(backField))
		if err != nil {
			continue
		}
		parentID, ok := v.(int64)
		if !ok {
			continue
		}
		buckets[parentID] = append(buckets[parentID], row)
	}

	return func() {
		for _, r := range records {
			list := buckets[r.ID()]
			if f.Kind == OneToOne {
				if len(list) > 0 {
					r.values[f.Name] = list[0]
				} else {
					r.values[f.Name] = nil
				}
				continue
			}
			if list == nil {
				list = []*Record{}
			}
			r.values[f.Name] = list
		}
	}
}

// distinctIDs returns the distinct primary key values of the records.
func distinctIDs(records []*Record) []interface{} {
	var ids []interface{}
	seen := map[int64]bool{}
	for _, r := range records {
		id := r.ID()
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
