// Package rest exposes the admin engine over HTTP with the request and
// response shapes of a react-admin simple REST data provider.
//
// Every registered entity is addressed as /{namespace}/{entity}/ below the
// base URL:
//
//	Route                                   | Action
//	----------------------------------------|------------------------------
//	GET    /{ns}/{entity}/                  | list (filter, sort, range, meta)
//	POST   /{ns}/{entity}/                  | create, nested children included
//	GET    /{ns}/{entity}/{id}/             | retrieve (meta)
//	PUT    /{ns}/{entity}/{id}/             | update (PATCH is an alias)
//	DELETE /{ns}/{entity}/{id}/             | destroy
//	GET    /{ns}/{entity}/get_many/         | get_many (POST is an alias)
//	POST   /{ns}/{entity}/create_many/      | create_many
//	POST   /{ns}/{entity}/update_many/      | update_many (GET is an alias)
//	POST   /{ns}/{entity}/delete_many/      | delete_many (GET, DELETE are aliases)
//	GET    /{ns}/{entity}/export_data/      | CSV export
//	POST   /{ns}/{entity}/import_data/      | CSV import, multipart field "file"
//	GET    /schema/{ns}/{entity}/           | field descriptors
//	GET    /models/                         | exposed models
//	GET    /                                | OpenAPI document
//
// List parameters are JSON encoded:
//
//	filter={"name":"Jane","age|op=>":30,"q":"smith"}
//	sort=["name","DESC"]
//	range=[0,24]
//	meta={"embed":["author"]}
//
// A list responds with the bare array and a Content-Range header of the form
// "{start}-{end}/{total}". Single record operations wrap the record as
// {"data": {...}}.
//
// HTTP headers control the response of mutations:
//
//	Header                         | Description
//	-------------------------------|----------------------------------------
//	Prefer: return=representation  | Return the record (default without the header)
//	Prefer: return=minimal         | Return the status code only
//	Prefer: return=headers-only    | Same as minimal
//	Unit-ID: <tenant>              | Tenant scope (header name is configurable)
package rest
