package rest

import (
	"fmt"
	"io"
	"net/http"

	"github.com/edgeflare/radmin/pkg/crud"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/httputil"
)

// dataResponse wraps single records and id lists.
type dataResponse struct {
	Data any `json:"data"`
}

// ImportResponse is the body of a successful import.
type ImportResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// contentRange renders the Content-Range header of a list page.
func contentRange(p crud.Page) string {
	if len(p.Items) == 0 {
		return fmt.Sprintf("*/%d", p.Total)
	}
	return fmt.Sprintf("%d-%d/%d", p.Start, p.End, p.Total)
}

// mutated answers a mutation, echoing body unless the client prefers not.
func mutated(w http.ResponseWriter, r *http.Request, status int, body any) error {
	if !preferReturn(r).wantsBody() {
		w.WriteHeader(status)
		return nil
	}
	httputil.JSON(w, status, dataResponse{Data: body})
	return nil
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, t target) error {
	params, err := filter.ParseParams(r.URL.Query(), t.entity)
	if err != nil {
		return err
	}
	page, err := s.engine.List(r.Context(), t.req, t.entity, params)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Range", contentRange(page))
	httputil.JSON(w, http.StatusOK, page.Items)
	return nil
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, t target) error {
	embed, err := embedOf(r)
	if err != nil {
		return err
	}
	item, err := s.engine.Retrieve(r.Context(), t.req, t.entity, t.id, embed)
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, dataResponse{Data: item})
	return nil
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, t target) error {
	p, err := s.readPayload(w, r)
	if err != nil {
		return err
	}
	defer p.close()
	t.req.Files = p.files

	item, err := s.engine.Create(r.Context(), t.req, t.entity, p.data)
	if err != nil {
		return err
	}
	return mutated(w, r, http.StatusCreated, item)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, t target) error {
	p, err := s.readPayload(w, r)
	if err != nil {
		return err
	}
	defer p.close()
	t.req.Files = p.files

	item, err := s.engine.Update(r.Context(), t.req, t.entity, t.id, p.data)
	if err != nil {
		return err
	}
	return mutated(w, r, http.StatusOK, item)
}

func (s *Server) destroy(w http.ResponseWriter, r *http.Request, t target) error {
	item, err := s.engine.Destroy(r.Context(), t.req, t.entity, t.id)
	if err != nil {
		return err
	}
	return mutated(w, r, http.StatusOK, item)
}

func (s *Server) getMany(w http.ResponseWriter, r *http.Request, t target) error {
	b, err := s.readBulk(w, r)
	if err != nil {
		return err
	}
	embed, err := embedOf(r)
	if err != nil {
		return err
	}
	items, err := s.engine.GetMany(r.Context(), t.req, t.entity, b.IDs, embed)
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, dataResponse{Data: items})
	return nil
}

// createMany accepts a bare array or {"data": [...]}.
func (s *Server) createMany(w http.ResponseWriter, r *http.Request, t target) error {
	var raw any
	ok, err := s.decodeJSON(w, r, &raw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request body is empty", errBadRequest)
	}
	if obj, isObj := raw.(map[string]any); isObj {
		raw = obj["data"]
	}
	list, isList := raw.([]any)
	if !isList {
		return fmt.Errorf("%w: expected a list of records", errBadRequest)
	}

	records := make([]crud.AttributeMap, len(list))
	for i, v := range list {
		m, isMap := v.(map[string]any)
		if !isMap {
			return fmt.Errorf("%w: record %d is not an object", errBadRequest, i)
		}
		records[i] = m
	}

	items, err := s.engine.CreateMany(r.Context(), t.req, t.entity, records)
	if err != nil {
		return err
	}
	return mutated(w, r, http.StatusCreated, items)
}

func (s *Server) updateMany(w http.ResponseWriter, r *http.Request, t target) error {
	b, err := s.readBulk(w, r)
	if err != nil {
		return err
	}
	ids, err := s.engine.UpdateMany(r.Context(), t.req, t.entity, b.IDs, b.Data)
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, dataResponse{Data: ids})
	return nil
}

func (s *Server) deleteMany(w http.ResponseWriter, r *http.Request, t target) error {
	b, err := s.readBulk(w, r)
	if err != nil {
		return err
	}
	ids, err := s.engine.DeleteMany(r.Context(), t.req, t.entity, b.IDs)
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, dataResponse{Data: ids})
	return nil
}

// exportData streams CSV of the rows matching the list filter. Headers are
// committed with the first row, so later failures can only be logged.
func (s *Server) exportData(w http.ResponseWriter, r *http.Request, t target) error {
	params, err := filter.ParseParams(r.URL.Query(), t.entity)
	if err != nil {
		return err
	}
	expr := params.Filter
	if _, err := filter.Compile(expr, t.entity); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", crud.ExportFilename(t.entity)))
	return s.engine.Export(r.Context(), t.req, t.entity, expr, w)
}

// importData reads the multipart part "file", or a raw text/csv body.
func (s *Server) importData(w http.ResponseWriter, r *http.Request, t target) error {
	var src io.Reader
	switch mediaType(r) {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		if err := r.ParseMultipartForm(s.maxBody); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		if f, _, err := r.FormFile("file"); err == nil {
			defer f.Close()
			src = f
		}
	case "text/csv":
		src = http.MaxBytesReader(w, r.Body, s.maxBody)
	}

	n, err := s.engine.Import(r.Context(), t.req, t.entity, src)
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, ImportResponse{Message: "Imported successfully", Count: n})
	return nil
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request, t target) error {
	desc, err := s.describer.Describe(r.Context(), t.entity.Namespace, t.entity.Name)
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, desc)
	return nil
}

func (s *Server) models(w http.ResponseWriter, r *http.Request, _ target) error {
	models, err := s.describer.Models(r.Context())
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, models)
	return nil
}

func (s *Server) openAPI(w http.ResponseWriter, r *http.Request, _ target) error {
	doc, err := s.openapi.Document(r.Context())
	if err != nil {
		return err
	}
	httputil.JSON(w, http.StatusOK, doc)
	return nil
}
