package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/edgeflare/radmin/pkg/blob"
	"github.com/edgeflare/radmin/pkg/crud"
	"github.com/edgeflare/radmin/pkg/filter"
)

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// decodeJSON reads the body into v, keeping numbers as json.Number. It
// reports false for an empty body.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) (bool, error) {
	if r.Body == nil {
		return false, nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if dec.More() {
		return false, fmt.Errorf("%w: invalid JSON body: trailing data", errBadRequest)
	}
	return true, nil
}

// payload is a decoded create or update body.
type payload struct {
	data  crud.AttributeMap
	files map[string]blob.File
	close func()
}

// readPayload decodes a JSON object, or a multipart form whose "data" field
// holds the JSON object (plain form values otherwise) and whose file parts
// are uploads keyed by field name.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (payload, error) {
	p := payload{data: crud.AttributeMap{}, close: func() {}}

	if mediaType(r) != "multipart/form-data" {
		ok, err := s.decodeJSON(w, r, &p.data)
		if err != nil {
			return p, err
		}
		if !ok {
			return p, fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return p, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := r.ParseMultipartForm(s.maxBody); err != nil {
		return p, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	form := r.MultipartForm

	if raw := form.Value["data"]; len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw[0])))
		dec.UseNumber()
		if err := dec.Decode(&p.data); err != nil {
			_ = form.RemoveAll()
			return p, fmt.Errorf("%w: data field is not a JSON object", errBadRequest)
		}
	} else {
		for k, vs := range form.Value {
			if len(vs) == 1 {
				p.data[k] = vs[0]
				continue
			}
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			p.data[k] = list
		}
	}

	var closers []io.Closer
	p.files = make(map[string]blob.File, len(form.File))
	for field, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		h := headers[0]
		f, err := h.Open()
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			_ = form.RemoveAll()
			return p, fmt.Errorf("open upload %s: %w", field, err)
		}
		closers = append(closers, f)
		p.files[field] = blob.File{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Size:        h.Size,
			Content:     f,
		}
	}
	p.close = func() {
		for _, c := range closers {
			_ = c.Close()
		}
		_ = form.RemoveAll()
	}
	return p, nil
}

// bulkBody is the JSON body of get_many, update_many and delete_many.
type bulkBody struct {
	IDs    []any          `json:"ids"`
	Filter map[string]any `json:"filter"`
	Data   map[string]any `json:"data"`
}

// readBulk collects ids from the body ("ids" or filter.id) and the query
// ("ids", filter.id or repeated "id"), in that order of precedence.
func (s *Server) readBulk(w http.ResponseWriter, r *http.Request) (bulkBody, error) {
	var b bulkBody
	if r.Method != http.MethodGet {
		if _, err := s.decodeJSON(w, r, &b); err != nil {
			return b, err
		}
	}
	if b.IDs == nil && b.Filter != nil {
		ids, err := idList(b.Filter["id"])
		if err != nil {
			return b, err
		}
		b.IDs = ids
	}
	if b.IDs != nil {
		return b, nil
	}

	q := r.URL.Query()
	switch {
	case q.Has("ids"):
		ids, err := filter.ParseIDs(q.Get("ids"))
		if err != nil {
			return b, err
		}
		b.IDs = ids
	case q.Has("filter"):
		expr, err := filter.ParseExpression(q.Get("filter"))
		if err != nil {
			return b, err
		}
		ids, err := idList(expr["id"])
		if err != nil {
			return b, err
		}
		b.IDs = ids
	case q.Has("id"):
		for _, raw := range q["id"] {
			ids, err := filter.ParseIDs(raw)
			if err != nil {
				return b, err
			}
			b.IDs = append(b.IDs, ids...)
		}
	}
	if b.Data == nil && q.Has("data") {
		expr, err := filter.ParseExpression(q.Get("data"))
		if err != nil {
			return b, err
		}
		b.Data = expr
	}
	return b, nil
}

func idList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	case map[string]any:
		return nil, fmt.Errorf("%w: ids must be a list", filter.ErrInvalidFilterValue)
	}
	return []any{v}, nil
}

// embedOf reads meta.embed from the query.
func embedOf(r *http.Request) ([]string, error) {
	raw := r.URL.Query().Get("meta")
	if raw == "" {
		return nil, nil
	}
	m, err := filter.ParseMeta(raw)
	if err != nil {
		return nil, err
	}
	return m.Embed, nil
}
