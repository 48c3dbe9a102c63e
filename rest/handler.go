// Copyright (c) 2021 Patrick Ascher <development@fullhouse-productions.com>. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/patrickascher/dotorm/orm"
	"github.com/patrickascher/dotorm/query"
	"github.com/patrickascher/dotorm/schema"
)

// modelHandler serves the CRUD endpoints of one model.
type modelHandler struct {
	server *Server
	model  *orm.Model
	set    *schema.Set
}

// routes builds the model router. The static routes are registered before the id
// wildcard.
func (h *modelHandler) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/fields", h.fields)
	r.Get("/search_many2many", h.searchManyToMany)
	r.Post("/search", h.search)
	r.Post("/default_values", h.defaultValues)
	r.Post("/", h.create)
	r.Post("/{id}", h.read)
	r.Put("/{id}", h.update)
	r.Delete("/bulk", h.deleteBulk)
	r.Delete("/{id}", h.delete)
	return r
}

// decodeBody decodes a JSON object body.
func decodeBody(r *http.Request) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if r.Body == nil {
		return body, nil
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err == io.EOF {
		// an empty body is a valid empty payload.
		return body, nil
	}
	return body, err
}

// pathID parses the id wildcard.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// fields returns the derived schemas of the model.
func (h *modelHandler) fields(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.server.verify(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.set)
}

// search returns {data,total,fields}. The total is a string so large counts
// survive JSON number precision.
func (h *modelHandler) search(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	in, err := h.set.DecodeSearch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}

	opts := orm.SearchOptions{
		Fields: in.Fields,
		Filter: query.Filter(in.Filter),
		Start:  in.Start,
		End:    in.End,
		Limit:  in.Limit,
		Sort:   in.Sort,
		Order:  in.Order,
		Nested: in.Nested,
	}
	records, err := h.model.Search(r.Context(), opts)
	if err != nil {
		writeORMError(w, err)
		return
	}
	total, err := h.model.SearchCount(r.Context(), query.Filter(in.Filter))
	if err != nil {
		writeORMError(w, err)
		return
	}

	data := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		data = append(data, rec.Marshal(orm.ModeList))
	}
	fields := in.Fields
	if len(fields) == 0 {
		for _, f := range h.model.Fields() {
			if f.IsStored() && !f.Protected {
				fields = append(fields, f.Name)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   data,
		"total":  strconv.FormatInt(total, 10),
		"fields": fields,
	})
}

// create validates the payload and returns the generated id.
func (h *modelHandler) create(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	if err = h.server.schemas.ValidateCreate(h.model.Name(), body); err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	id, err := h.model.Create(r.Context(), body)
	if err != nil {
		writeORMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id})
}

// read returns one record in form mode. The body may carry a field subset and
// nested relation fields.
func (h *modelHandler) read(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	in, err := h.set.DecodeSearch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	rec, err := h.model.Get(r.Context(), id, in.Fields, in.Nested)
	if err != nil {
		writeORMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   rec.Marshal(orm.ModeForm),
		"fields": h.set.ReadOutput,
	})
}

// update patches one record and echoes the applied field names.
func (h *modelHandler) update(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	if err = h.server.schemas.ValidateUpdate(h.model.Name(), body); err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	applied, err := h.model.Update(r.Context(), id, body)
	if err != nil {
		writeORMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fields": applied})
}

// delete removes one record and answers true.
func (h *modelHandler) delete(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound)
		return
	}
	if err = h.model.Delete(r.Context(), id); err != nil {
		writeORMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// deleteBulk removes the given ids in one transaction and answers true. The body
// is a JSON list of ids, a legacy {"ids":[...]} object is still accepted.
func (h *modelHandler) deleteBulk(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	var body interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	raw, ok := body.([]interface{})
	if !ok {
		object, isObject := body.(map[string]interface{})
		if !isObject {
			writeError(w, http.StatusBadRequest, CodeFields)
			return
		}
		if raw, ok = object["ids"].([]interface{}); !ok {
			writeError(w, http.StatusBadRequest, CodeFields)
			return
		}
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := query.SanitizeInterfaceValue(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeFields)
			return
		}
		n, ok := id.(int64)
		if !ok {
			writeError(w, http.StatusBadRequest, CodeFields)
			return
		}
		ids = append(ids, n)
	}
	if err := h.model.DeleteBulk(r.Context(), ids); err != nil {
		writeORMError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

// defaultValues returns the defaults of the requested fields.
func (h *modelHandler) defaultValues(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	var fields []string
	if raw, ok := body["fields"].([]interface{}); ok {
		for _, v := range raw {
			if name, ok := v.(string); ok {
				fields = append(fields, name)
			}
		}
	}
	values, err := h.model.DefaultValues(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	if len(fields) == 0 {
		for name := range values {
			fields = append(fields, name)
		}
		sort.Strings(fields)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   values,
		"fields": fields,
	})
}

// m2mPageSize is the page length of the search_many2many route.
const m2mPageSize = 25

// searchManyToMany returns {data,total,fields}: one page of the linked rows of one
// parent over the link table. Query params: relation, id, page, sort, order and a
// comma separated field list.
func (h *modelHandler) searchManyToMany(w http.ResponseWriter, r *http.Request) {
	r, ok := h.server.verify(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	relation := q.Get("relation")
	id, err := strconv.ParseInt(q.Get("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	page := 0
	if p := q.Get("page"); p != "" {
		if page, err = strconv.Atoi(p); err != nil || page < 0 {
			writeError(w, http.StatusBadRequest, CodeFields)
			return
		}
	}
	var fields []string
	if raw := q.Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}

	records, total, err := h.model.SearchManyToMany(r.Context(), relation, id, fields, q.Get("sort"), q.Get("order"), m2mPageSize, page*m2mPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeFields)
		return
	}
	data := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		data = append(data, rec.Marshal(orm.ModeList))
	}
	if len(fields) == 0 {
		for _, rec := range data {
			for name := range rec {
				if !contains(fields, name) {
					fields = append(fields, name)
				}
			}
		}
		sort.Strings(fields)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   data,
		"total":  strconv.FormatInt(total, 10),
		"fields": fields,
	})
}

// contains checks if the slice contains the given value.
func contains(slice []string, value string) bool {
	for _, s := range slice {
		if s == value {
			return true
		}
	}
	return false
}
