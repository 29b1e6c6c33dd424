// Package schema resolves entity descriptors (fields, types, relations) for the
// namespaces exposed over the admin API.
//
// Descriptors come from a Source: the Postgres information_schema or a YAML
// catalog. The Registry resolves them lazily and keeps them for the lifetime of
// the process; the schema is assumed static at runtime.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Conventional field names that switch on behavior when present on an entity.
const (
	SoftDeleteField = "is_deleted"
	TenantField     = "unit_id"
	PasswordField   = "password"
)

// Bookkeeping fields are stamped by the server and hidden from form descriptors.
var bookkeeping = map[string]bool{
	TenantField:   true,
	"created_at":  true,
	"updated_at":  true,
	"modified_at": true,
	"created_by":  true,
	"updated_by":  true,
	"modified_by": true,
}

// IsBookkeeping reports whether name is a server-managed audit or tenant field.
func IsBookkeeping(name string) bool { return bookkeeping[name] }

var (
	ErrUnknownEntity = errors.New("unknown entity")
	errNoPrimaryKey  = errors.New("entity has no primary key")
)

// ScalarType is the storage-independent type tag of a field.
type ScalarType string

const (
	TypeText     ScalarType = "text"
	TypeInteger  ScalarType = "integer"
	TypeFloat    ScalarType = "float"
	TypeBoolean  ScalarType = "boolean"
	TypeUUID     ScalarType = "uuid"
	TypeDate     ScalarType = "date"
	TypeDateTime ScalarType = "datetime"
	TypeJSON     ScalarType = "json"
	TypeArray    ScalarType = "array"
)

// EntityRef addresses an entity by namespace and name.
type EntityRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// Key returns the normalized "namespace.name" form.
func (r EntityRef) Key() string {
	return key(r.Namespace, r.Name)
}

// Path returns the addressable "namespace/name" form used by the HTTP surface.
func (r EntityRef) Path() string {
	return strings.ToLower(r.Namespace) + "/" + strings.ToLower(r.Name)
}

func (r EntityRef) String() string { return r.Key() }

func key(namespace, name string) string {
	return strings.ToLower(namespace) + "." + strings.ToLower(name)
}

// FieldDescriptor describes one declared field.
type FieldDescriptor struct {
	Name       string     `json:"name"`
	Type       ScalarType `json:"type"`
	DBType     string     `json:"db_type,omitempty"`
	PrimaryKey bool       `json:"primary_key,omitempty"`
	Nullable   bool       `json:"nullable"`
	// Blank means the field may be omitted on create, usually because storage
	// supplies a default.
	Blank  bool `json:"blank"`
	Unique bool `json:"unique,omitempty"`

	IsRelation bool `json:"is_relation"`
	// Related is a lookup reference only; resolve it through the Registry.
	Related      *EntityRef `json:"related,omitempty"`
	RelatedField string     `json:"related_field,omitempty"`
}

// Required reports whether a value must be supplied on create.
func (f FieldDescriptor) Required() bool {
	return !f.Nullable && !f.Blank
}

// IsText reports whether the field holds free text.
func (f FieldDescriptor) IsText() bool {
	return f.Type == TypeText && !f.IsRelation
}

// EntityDescriptor is the immutable description of one entity.
type EntityDescriptor struct {
	Namespace  string
	Name       string
	Table      string
	PrimaryKey string
	fields     []FieldDescriptor
	index      map[string]int
}

// NewEntity builds a descriptor. The primary key is the field flagged PrimaryKey,
// or a field literally named "id".
func NewEntity(namespace, name, table string, fields []FieldDescriptor) (*EntityDescriptor, error) {
	d := &EntityDescriptor{
		Namespace: strings.ToLower(namespace),
		Name:      strings.ToLower(name),
		Table:     table,
		fields:    make([]FieldDescriptor, len(fields)),
		index:     make(map[string]int, len(fields)),
	}
	if d.Table == "" {
		d.Table = d.Name
	}
	copy(d.fields, fields)

	for i, f := range d.fields {
		if _, dup := d.index[f.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", d.Key(), f.Name)
		}
		if f.IsRelation && f.Related == nil {
			return nil, fmt.Errorf("%s: relation field %q has no target", d.Key(), f.Name)
		}
		if f.IsRelation && f.RelatedField == "" {
			d.fields[i].RelatedField = "id"
		}
		d.index[f.Name] = i
		if f.PrimaryKey && d.PrimaryKey == "" {
			d.PrimaryKey = f.Name
		}
	}
	if d.PrimaryKey == "" {
		i, ok := d.index["id"]
		if !ok {
			return nil, fmt.Errorf("%s: %w", d.Key(), errNoPrimaryKey)
		}
		d.fields[i].PrimaryKey = true
		d.PrimaryKey = "id"
	}
	return d, nil
}

// Ref returns the entity's address.
func (d *EntityDescriptor) Ref() EntityRef {
	return EntityRef{Namespace: d.Namespace, Name: d.Name}
}

// Key returns "namespace.name".
func (d *EntityDescriptor) Key() string { return key(d.Namespace, d.Name) }

// Fields returns the declared fields in declaration order.
func (d *EntityDescriptor) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(d.fields))
	copy(out, d.fields)
	return out
}

// FieldNames returns the declared field names in declaration order.
func (d *EntityDescriptor) FieldNames() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up a declared field by name.
func (d *EntityDescriptor) Field(name string) (FieldDescriptor, bool) {
	i, ok := d.index[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return d.fields[i], true
}

// HasField reports whether a field with the given name is declared.
func (d *EntityDescriptor) HasField(name string) bool {
	_, ok := d.index[name]
	return ok
}

// PrimaryKeyField returns the primary key descriptor.
func (d *EntityDescriptor) PrimaryKeyField() FieldDescriptor {
	return d.fields[d.index[d.PrimaryKey]]
}

// SoftDelete reports whether rows are flagged instead of removed.
func (d *EntityDescriptor) SoftDelete() bool { return d.HasField(SoftDeleteField) }

// TenantScoped reports whether rows are isolated per tenant.
func (d *EntityDescriptor) TenantScoped() bool { return d.HasField(TenantField) }

// Relations returns the relation fields in declaration order.
func (d *EntityDescriptor) Relations() []FieldDescriptor {
	var out []FieldDescriptor
	for _, f := range d.fields {
		if f.IsRelation {
			out = append(out, f)
		}
	}
	return out
}

// TextFields returns the non-relation text fields in declaration order.
func (d *EntityDescriptor) TextFields() []FieldDescriptor {
	var out []FieldDescriptor
	for _, f := range d.fields {
		if f.IsText() {
			out = append(out, f)
		}
	}
	return out
}

// Refers reports whether the field points at the given entity.
func (f FieldDescriptor) Refers(target *EntityDescriptor) bool {
	return f.IsRelation && f.Related != nil && f.Related.Key() == target.Key()
}
