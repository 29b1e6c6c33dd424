package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeflare/radmin/pkg/schema"
)

// APIInfo is the info block of the generated document.
type APIInfo struct {
	Title       string
	Description string
	Version     string
}

// Security selects the authentication schemes advertised by the document.
type Security struct {
	Bearer bool
	Basic  bool
}

// OpenAPI generates an OpenAPI 3.1 document describing the admin routes of
// every exposed entity.
type OpenAPI struct {
	registry Registry
	baseURL  string
	info     APIInfo
	security Security
}

// NewOpenAPI returns a generator for routes mounted under baseURL.
func NewOpenAPI(r Registry, baseURL string, info APIInfo, security Security) *OpenAPI {
	if info.Title == "" {
		info.Title = "radmin"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &OpenAPI{
		registry: r,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		info:     info,
		security: security,
	}
}

type doc = map[string]any

// Document builds the specification.
func (g *OpenAPI) Document(ctx context.Context) (doc, error) {
	refs, err := g.registry.Entities(ctx)
	if err != nil {
		return nil, err
	}

	paths := doc{}
	schemas := doc{}
	for _, ref := range refs {
		d, err := g.registry.Resolve(ctx, ref.Namespace, ref.Name)
		if err != nil {
			return nil, fmt.Errorf("openapi %s: %w", ref.Key(), err)
		}
		base := "/" + d.Ref().Path()
		paths[base+"/"] = collectionOps(d)
		paths[base+"/{id}/"] = memberOps(d)
		paths[base+"/get_many/"] = doc{"get": bulkOp(d, "Get several records", "get_many")}
		paths[base+"/create_many/"] = doc{"post": bulkOp(d, "Create several records", "create_many")}
		paths[base+"/update_many/"] = doc{"post": bulkOp(d, "Update several records", "update_many")}
		paths[base+"/delete_many/"] = doc{"post": bulkOp(d, "Delete several records", "delete_many")}
		paths[base+"/export_data/"] = doc{"get": exportOp(d)}
		paths[base+"/import_data/"] = doc{"post": importOp(d)}
		paths["/schema"+base+"/"] = doc{"get": describeOp(d)}
		schemas[d.Key()] = entitySchema(d)
	}
	paths["/models/"] = doc{"get": doc{
		"summary":   "List exposed models",
		"responses": doc{"200": doc{"description": "Success"}},
	}}

	components := doc{"schemas": schemas}
	var security []map[string][]string
	schemes := doc{}
	if g.security.Bearer {
		schemes["bearerAuth"] = doc{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"}
		security = append(security, map[string][]string{"bearerAuth": {}})
	}
	if g.security.Basic {
		schemes["basicAuth"] = doc{"type": "http", "scheme": "basic"}
		security = append(security, map[string][]string{"basicAuth": {}})
	}
	if len(schemes) > 0 {
		components["securitySchemes"] = schemes
	}

	spec := doc{
		"openapi": "3.1.0",
		"info": doc{
			"title":       g.info.Title,
			"description": g.info.Description,
			"version":     g.info.Version,
		},
		"servers":    []doc{{"url": g.baseURL}},
		"paths":      paths,
		"components": components,
	}
	if len(security) > 0 {
		spec["security"] = security
	}
	return spec, nil
}

func ref(d *schema.EntityDescriptor) doc {
	return doc{"$ref": "#/components/schemas/" + d.Key()}
}

func dataOf(s any) doc {
	return doc{
		"type":       "object",
		"properties": doc{"data": s},
	}
}

func jsonContent(s any) doc {
	return doc{"application/json": doc{"schema": s}}
}

func errorResponses(codes ...string) doc {
	text := map[string]string{
		"400": "Bad Request",
		"401": "Unauthorized",
		"403": "Forbidden",
		"404": "Not Found",
	}
	out := doc{}
	for _, c := range codes {
		out[c] = doc{"description": text[c]}
	}
	return out
}

func withResponse(errs doc, code string, r doc) doc {
	errs[code] = r
	return errs
}

func collectionOps(d *schema.EntityDescriptor) doc {
	tag := []string{d.Namespace}
	return doc{
		"get": doc{
			"summary":    fmt.Sprintf("List %s records", d.Name),
			"parameters": listParameters(),
			"responses": withResponse(errorResponses("400", "401", "403", "404"), "200", doc{
				"description": "Success",
				"headers": doc{"Content-Range": doc{
					"description": "{start}-{end}/{total}",
					"schema":      doc{"type": "string"},
				}},
				"content": jsonContent(doc{"type": "array", "items": ref(d)}),
			}),
			"tags": tag,
		},
		"post": doc{
			"summary":     fmt.Sprintf("Create %s record", d.Name),
			"description": "List-valued keys naming a child entity create nested records.",
			"requestBody": doc{"required": true, "content": jsonContent(ref(d))},
			"responses": withResponse(errorResponses("400", "401", "403", "404"), "201", doc{
				"description": "Created",
				"content":     jsonContent(dataOf(ref(d))),
			}),
			"tags": tag,
		},
	}
}

func memberOps(d *schema.EntityDescriptor) doc {
	tag := []string{d.Namespace}
	params := []doc{{
		"name":     "id",
		"in":       "path",
		"required": true,
		"schema":   fieldSchema(d.PrimaryKeyField()),
	}}
	ok := doc{"description": "Success", "content": jsonContent(dataOf(ref(d)))}
	update := doc{
		"summary":     fmt.Sprintf("Update %s record", d.Name),
		"description": "Child collections in the payload replace the stored ones.",
		"parameters":  params,
		"requestBody": doc{"required": true, "content": jsonContent(ref(d))},
		"responses":   withResponse(errorResponses("400", "401", "403", "404"), "200", ok),
		"tags":        tag,
	}
	retrieve := doc{
		"summary":    fmt.Sprintf("Get %s record", d.Name),
		"parameters": append(params, metaParameter()),
		"responses":  withResponse(errorResponses("401", "403", "404"), "200", ok),
		"tags":       tag,
	}
	return doc{
		"get":   retrieve,
		"post":  retrieve,
		"put":   update,
		"patch": update,
		"delete": doc{
			"summary":    fmt.Sprintf("Delete %s record", d.Name),
			"parameters": params,
			"responses":  withResponse(errorResponses("401", "403", "404"), "200", ok),
			"tags":       tag,
		},
	}
}

func bulkOp(d *schema.EntityDescriptor, summary, action string) doc {
	op := doc{
		"summary":     fmt.Sprintf("%s of %s", summary, d.Name),
		"operationId": d.Namespace + "_" + d.Name + "_" + action,
		"responses": withResponse(errorResponses("400", "401", "403", "404"), "200", doc{
			"description": "Success",
		}),
		"tags": []string{d.Namespace},
	}
	switch action {
	case "create_many":
		op["requestBody"] = doc{"content": jsonContent(doc{"type": "array", "items": ref(d)})}
	case "get_many":
		op["parameters"] = []doc{filterParameter(), metaParameter()}
	default:
		op["requestBody"] = doc{"content": jsonContent(doc{
			"type": "object",
			"properties": doc{
				"filter": doc{"type": "object", "properties": doc{"id": doc{"type": "array"}}},
				"data":   doc{"type": "object"},
			},
		})}
	}
	return op
}

func exportOp(d *schema.EntityDescriptor) doc {
	return doc{
		"summary":    fmt.Sprintf("Export %s as CSV", d.Name),
		"parameters": []doc{filterParameter()},
		"responses": withResponse(errorResponses("400", "401", "403", "404"), "200", doc{
			"description": "CSV attachment",
			"content":     doc{"text/csv": doc{"schema": doc{"type": "string"}}},
		}),
		"tags": []string{d.Namespace},
	}
}

func importOp(d *schema.EntityDescriptor) doc {
	return doc{
		"summary": fmt.Sprintf("Import %s from CSV", d.Name),
		"requestBody": doc{"required": true, "content": doc{"multipart/form-data": doc{"schema": doc{
			"type":       "object",
			"properties": doc{"file": doc{"type": "string", "format": "binary"}},
		}}}},
		"responses": withResponse(errorResponses("400", "401", "403", "404"), "200", doc{
			"description": "Imported",
		}),
		"tags": []string{d.Namespace},
	}
}

func describeOp(d *schema.EntityDescriptor) doc {
	return doc{
		"summary":   fmt.Sprintf("Describe the fields of %s", d.Name),
		"responses": withResponse(errorResponses("401", "403", "404"), "200", doc{"description": "Success"}),
		"tags":      []string{d.Namespace},
	}
}

func listParameters() []doc {
	return []doc{
		filterParameter(),
		{
			"name":        "sort",
			"in":          "query",
			"description": `JSON pair, e.g. ["name","DESC"]`,
			"schema":      doc{"type": "string"},
		},
		{
			"name":        "range",
			"in":          "query",
			"description": "JSON pair of inclusive indexes, e.g. [0,9]",
			"schema":      doc{"type": "string"},
		},
		metaParameter(),
	}
}

func filterParameter() doc {
	return doc{
		"name":        "filter",
		"in":          "query",
		"description": `JSON object; keys may carry an operator suffix such as "age|op=>"; "q" searches text fields`,
		"schema":      doc{"type": "string"},
	}
}

func metaParameter() doc {
	return doc{
		"name":        "meta",
		"in":          "query",
		"description": `JSON object, e.g. {"embed":["author"]}`,
		"schema":      doc{"type": "string"},
	}
}

func entitySchema(d *schema.EntityDescriptor) doc {
	props := doc{}
	var required []string
	for _, f := range d.Fields() {
		if f.Name == schema.PasswordField {
			props[f.Name] = doc{"type": "string", "writeOnly": true}
		} else {
			props[f.Name] = fieldSchema(f)
		}
		if f.Required() && !f.PrimaryKey {
			required = append(required, f.Name)
		}
	}
	out := doc{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func fieldSchema(f schema.FieldDescriptor) doc {
	var s doc
	switch f.Type {
	case schema.TypeInteger:
		s = doc{"type": "integer", "format": "int64"}
	case schema.TypeFloat:
		s = doc{"type": "number", "format": "double"}
	case schema.TypeBoolean:
		s = doc{"type": "boolean"}
	case schema.TypeUUID:
		s = doc{"type": "string", "format": "uuid"}
	case schema.TypeDate:
		s = doc{"type": "string", "format": "date"}
	case schema.TypeDateTime:
		s = doc{"type": "string", "format": "date-time"}
	case schema.TypeJSON:
		s = doc{"type": "object", "additionalProperties": true}
	case schema.TypeArray:
		s = doc{"type": "array", "items": doc{}}
	default:
		s = doc{"type": "string"}
	}
	if f.Nullable {
		s["type"] = []any{s["type"], "null"}
	}
	if f.IsRelation {
		s["description"] = "id of " + f.Related.Path()
	}
	return s
}
