package crud

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/filter"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
)

const importBatch = 500

// ExportFilename is the attachment name advertised for d's CSV export.
func ExportFilename(d *schema.EntityDescriptor) string {
	return d.Name + ".csv"
}

// Export streams the in-scope rows of d matching expr as CSV: a header row
// with the declared field names, then one line per row in primary key order.
// The password field is never exported. expr is compiled before anything is
// written, so filter errors leave w untouched.
func (e *Engine) Export(ctx context.Context, req Request, d *schema.EntityDescriptor, expr filter.Expression, w io.Writer) error {
	pred, err := filter.Compile(expr, d)
	if err != nil {
		return err
	}

	var cols []string
	for _, name := range d.FieldNames() {
		if name != schema.PasswordField {
			cols = append(cols, name)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}

	record := make([]string, len(cols))
	q := store.Query{Where: filter.All(pred, scope(d, req)), Sort: []filter.Sort{{Field: d.PrimaryKey}}}
	err = e.store.Each(ctx, d, q, func(r store.Row) error {
		for i, c := range cols {
			record[i] = csvValue(r[c])
		}
		return cw.Write(record)
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func csvValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// Import reads CSV whose header names declared fields and inserts one row
// per record, all in one transaction. Empty cells are null for non-text
// fields. Validation errors are keyed "<line>.<field>" with line counted
// from the first data row. r nil fails with ErrNoFileUploaded.
//
// The raw records are read before the transaction opens so a retried
// transaction sees them all; they are converted to rows batch by batch inside
// it. Memory use is therefore bounded by the size of r, which callers must
// limit (the HTTP layer caps it at the request body limit).
func (e *Engine) Import(ctx context.Context, req Request, d *schema.EntityDescriptor, r io.Reader) (int, error) {
	if r == nil {
		return 0, ErrNoFileUploaded
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, csvError(err)
	}

	cols := make([]schema.FieldDescriptor, len(header))
	verr := &ValidationError{}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		f, ok := d.Field(name)
		if !ok {
			verr.add(name, "Unknown field.")
			continue
		}
		cols[i] = f
	}
	if !verr.empty() {
		return 0, verr
	}

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, csvError(err)
		}
		records = append(records, rec)
	}

	count := 0
	err = e.tx(ctx, req, func(w *writer) error {
		count = 0
		verr := &ValidationError{}
		batch := make([]store.Row, 0, importBatch)
		flush := func() error {
			if len(batch) == 0 || !verr.empty() {
				return nil
			}
			rows, err := w.q.InsertMany(ctx, d, batch)
			if err != nil {
				return storeError(err)
			}
			for _, row := range rows {
				w.emit(changefeed.OperationCreate, d, nil, row)
			}
			count += len(rows)
			batch = batch[:0]
			return nil
		}

		for i, rec := range records {
			data, err := w.flat(d, importItem(cols, rec), true)
			if err != nil {
				if !verr.mergeFrom(err, fmt.Sprintf("%d.", i+1)) {
					return err
				}
				continue
			}
			batch = append(batch, data)
			if len(batch) == importBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
		if !verr.empty() {
			return verr
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// importItem maps a record onto its columns. Empty cells are omitted for the
// primary key and null for non-text fields.
func importItem(cols []schema.FieldDescriptor, rec []string) AttributeMap {
	item := make(AttributeMap, len(cols))
	for i, f := range cols {
		cell := rec[i]
		switch {
		case cell == "" && f.PrimaryKey:
		case cell == "" && f.Type != schema.TypeText:
			item[f.Name] = nil
		default:
			item[f.Name] = cell
		}
	}
	return item
}

func csvError(err error) error {
	v := &ValidationError{}
	v.add("file", err.Error())
	return v
}
