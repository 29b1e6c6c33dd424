package schema

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is a static Source. It is built from a YAML document or directly
// from descriptors.
//
//	entities:
//	  - namespace: shop
//	    name: order
//	    fields:
//	      - {name: id, type: integer, primaryKey: true, blank: true}
//	      - {name: name, type: text}
//	      - {name: customer, type: integer, relation: shop/customer, nullable: true}
type Catalog struct {
	entities map[string]*EntityDescriptor
	order    []EntityRef
}

type catalogDoc struct {
	Entities []catalogEntity `yaml:"entities"`
}

type catalogEntity struct {
	Namespace string         `yaml:"namespace"`
	Name      string         `yaml:"name"`
	Table     string         `yaml:"table"`
	Fields    []catalogField `yaml:"fields"`
}

type catalogField struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	DBType       string `yaml:"dbType"`
	PrimaryKey   bool   `yaml:"primaryKey"`
	Nullable     bool   `yaml:"nullable"`
	Blank        bool   `yaml:"blank"`
	Unique       bool   `yaml:"unique"`
	Relation     string `yaml:"relation"` // "namespace/name" or "name" within the same namespace
	RelatedField string `yaml:"relatedField"`
}

// NewCatalog returns a catalog holding the given descriptors.
func NewCatalog(entities ...*EntityDescriptor) *Catalog {
	c := &Catalog{entities: make(map[string]*EntityDescriptor, len(entities))}
	for _, d := range entities {
		c.add(d)
	}
	return c
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes a YAML catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc catalogDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{entities: make(map[string]*EntityDescriptor, len(doc.Entities))}
	for _, e := range doc.Entities {
		if e.Namespace == "" || e.Name == "" {
			return nil, fmt.Errorf("catalog entity needs namespace and name (got %q/%q)", e.Namespace, e.Name)
		}
		fields := make([]FieldDescriptor, 0, len(e.Fields))
		for _, cf := range e.Fields {
			f, err := cf.descriptor(e.Namespace)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", e.Namespace, e.Name, err)
			}
			fields = append(fields, f)
		}
		d, err := NewEntity(e.Namespace, e.Name, e.Table, fields)
		if err != nil {
			return nil, err
		}
		if _, dup := c.entities[d.Key()]; dup {
			return nil, fmt.Errorf("duplicate catalog entity %s", d.Key())
		}
		c.add(d)
	}
	return c, nil
}

func (cf catalogField) descriptor(namespace string) (FieldDescriptor, error) {
	if cf.Name == "" {
		return FieldDescriptor{}, fmt.Errorf("field without name")
	}
	t := ScalarType(strings.ToLower(cf.Type))
	switch t {
	case TypeText, TypeInteger, TypeFloat, TypeBoolean, TypeUUID, TypeDate, TypeDateTime, TypeJSON, TypeArray:
	case "":
		t = TypeText
	default:
		return FieldDescriptor{}, fmt.Errorf("field %s: unknown type %q", cf.Name, cf.Type)
	}

	f := FieldDescriptor{
		Name:         cf.Name,
		Type:         t,
		DBType:       cf.DBType,
		PrimaryKey:   cf.PrimaryKey,
		Nullable:     cf.Nullable,
		Blank:        cf.Blank,
		Unique:       cf.Unique || cf.PrimaryKey,
		RelatedField: cf.RelatedField,
	}
	if cf.Relation != "" {
		ns, name, found := strings.Cut(cf.Relation, "/")
		if !found {
			ns, name = namespace, cf.Relation
		}
		f.IsRelation = true
		f.Related = &EntityRef{Namespace: strings.ToLower(ns), Name: strings.ToLower(name)}
	}
	return f, nil
}

func (c *Catalog) add(d *EntityDescriptor) {
	c.entities[d.Key()] = d
	c.order = append(c.order, d.Ref())
}

// Load implements Source.
func (c *Catalog) Load(_ context.Context, namespace, name string) (*EntityDescriptor, error) {
	d, ok := c.entities[key(namespace, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key(namespace, name))
	}
	return d, nil
}

// List implements Source.
func (c *Catalog) List(context.Context) ([]EntityRef, error) {
	out := make([]EntityRef, len(c.order))
	copy(out, c.order)
	return out, nil
}
