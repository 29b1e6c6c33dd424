package rest

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/authz"
	"github.com/edgeflare/radmin/pkg/crud"
	"github.com/edgeflare/radmin/pkg/httputil"
	"github.com/edgeflare/radmin/pkg/httputil/middleware"
	"github.com/edgeflare/radmin/pkg/introspect"
	"github.com/edgeflare/radmin/pkg/metrics"
	"github.com/edgeflare/radmin/pkg/schema"
)

// DefaultTenantHeader carries the tenant scope of a request.
const DefaultTenantHeader = "Unit-ID"

const defaultMaxBody = 32 << 20

// Server serves the admin API for every entity the engine resolves.
type Server struct {
	engine       *crud.Engine
	describer    *introspect.Describer
	openapi      *introspect.OpenAPI
	authz        authz.Strategy
	logger       *zap.Logger
	baseURL      string
	tenantHeader string
	maxBody      int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for failed requests.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAuthorizer sets the authorization strategy. Without it every request
// is denied.
func WithAuthorizer(a authz.Strategy) Option {
	return func(s *Server) { s.authz = a }
}

// WithBaseURL sets the path prefix the API is mounted under.
func WithBaseURL(prefix string) Option {
	return func(s *Server) { s.baseURL = "/" + strings.Trim(prefix, "/") }
}

// WithTenantHeader sets the request header carrying the tenant.
func WithTenantHeader(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.tenantHeader = name
		}
	}
}

// WithOpenAPI serves the generated document at the base URL.
func WithOpenAPI(g *introspect.OpenAPI) Option {
	return func(s *Server) { s.openapi = g }
}

// WithMaxBodySize bounds JSON bodies and multipart uploads.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// NewServer returns a server dispatching to engine.
func NewServer(engine *crud.Engine, describer *introspect.Describer, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		describer:    describer,
		authz:        authz.DenyAll{},
		logger:       zap.NewNop(),
		baseURL:      "/api",
		tenantHeader: DefaultTenantHeader,
		maxBody:      defaultMaxBody,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseURL == "/" {
		s.baseURL = ""
	}
	return s
}

// Register mounts the server on router below the base URL.
func (s *Server) Register(router *httputil.Router) {
	g := router.Group(s.baseURL)
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		g.Handle(m+" /", s)
	}
}

// target is what a handler operates on.
type target struct {
	entity *schema.EntityDescriptor
	req    crud.Request
	id     string
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, t target) error

type route struct {
	action authz.Action
	ref    schema.EntityRef
	id     string
	handle handlerFunc
}

type endpoint struct {
	action  authz.Action
	methods []string
	handle  func(s *Server) handlerFunc
}

// collection actions addressed as /{ns}/{entity}/{name}/
var collectionActions = map[string]endpoint{
	"get_many":    {authz.ActionGetMany, []string{http.MethodGet, http.MethodPost}, func(s *Server) handlerFunc { return s.getMany }},
	"create_many": {authz.ActionCreateMany, []string{http.MethodPost}, func(s *Server) handlerFunc { return s.createMany }},
	"update_many": {authz.ActionUpdateMany, []string{http.MethodPost, http.MethodGet, http.MethodPut}, func(s *Server) handlerFunc { return s.updateMany }},
	"delete_many": {authz.ActionDeleteMany, []string{http.MethodPost, http.MethodGet, http.MethodDelete}, func(s *Server) handlerFunc { return s.deleteMany }},
	"export_data": {authz.ActionExport, []string{http.MethodGet}, func(s *Server) handlerFunc { return s.exportData }},
	"import_data": {authz.ActionImport, []string{http.MethodPost}, func(s *Server) handlerFunc { return s.importData }},
}

type routeError struct {
	status int
	allow  []string
}

// match maps method and path onto a route.
func (s *Server) match(r *http.Request) (route, *routeError) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, s.baseURL), "/")
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}
	notFound := &routeError{status: http.StatusNotFound}

	methods := func(allowed ...string) *routeError {
		if slices.Contains(allowed, r.Method) {
			return nil
		}
		return &routeError{status: http.StatusMethodNotAllowed, allow: allowed}
	}

	switch {
	case len(parts) == 0:
		if s.openapi == nil {
			return route{}, notFound
		}
		return route{action: authz.ActionModels, handle: s.openAPI}, methods(http.MethodGet)

	case len(parts) == 1 && parts[0] == "models":
		return route{action: authz.ActionModels, handle: s.models}, methods(http.MethodGet)

	case len(parts) == 3 && parts[0] == "schema":
		ref := schema.EntityRef{Namespace: parts[1], Name: parts[2]}
		return route{action: authz.ActionDescribe, ref: ref, handle: s.describe}, methods(http.MethodGet)

	case len(parts) == 2:
		ref := schema.EntityRef{Namespace: parts[0], Name: parts[1]}
		switch r.Method {
		case http.MethodGet:
			return route{action: authz.ActionList, ref: ref, handle: s.list}, nil
		case http.MethodPost:
			return route{action: authz.ActionCreate, ref: ref, handle: s.create}, nil
		}
		return route{}, methods(http.MethodGet, http.MethodPost)

	case len(parts) == 3:
		ref := schema.EntityRef{Namespace: parts[0], Name: parts[1]}
		if ep, ok := collectionActions[parts[2]]; ok {
			return route{action: ep.action, ref: ref, handle: ep.handle(s)}, methods(ep.methods...)
		}
		rt := route{ref: ref, id: parts[2]}
		switch r.Method {
		case http.MethodGet, http.MethodPost:
			// POST on an item path retrieves it; the body is ignored.
			rt.action, rt.handle = authz.ActionRetrieve, s.retrieve
		case http.MethodPut, http.MethodPatch:
			rt.action, rt.handle = authz.ActionUpdate, s.update
		case http.MethodDelete:
			rt.action, rt.handle = authz.ActionDestroy, s.destroy
		default:
			return route{}, methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete)
		}
		return rt, nil
	}
	return route{}, notFound
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rt, rerr := s.match(r)
	if rerr != nil {
		if len(rerr.allow) > 0 {
			w.Header().Set("Allow", strings.Join(rerr.allow, ", "))
		}
		httputil.Error(w, rerr.status, http.StatusText(rerr.status))
		return
	}

	rec := middleware.NewResponseRecorder(w)
	var ns, name string
	defer func() {
		metrics.RequestsTotal.WithLabelValues(ns, name, string(rt.action), strconv.Itoa(rec.StatusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(ns, name, string(rt.action)).Observe(time.Since(start).Seconds())
	}()

	ctx := r.Context()
	if err := authz.Check(ctx, s.authz, rt.action, rt.ref); err != nil {
		s.writeError(rec, r, err)
		return
	}

	actor := authz.ActorFrom(ctx)
	t := target{
		id: rt.id,
		req: crud.Request{
			Actor:  actor.ID,
			Tenant: strings.TrimSpace(r.Header.Get(s.tenantHeader)),
		},
	}
	if rt.ref.Name != "" {
		d, err := s.engine.Resolve(ctx, rt.ref.Namespace, rt.ref.Name)
		if err != nil {
			s.writeError(rec, r, err)
			return
		}
		t.entity = d
		// labels come from the registry, never from unresolved paths
		ns, name = d.Namespace, d.Name
	}

	if err := rt.handle(rec, r, t); err != nil {
		if rec.Written() {
			s.logger.Warn("response aborted",
				zap.String("action", string(rt.action)),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			return
		}
		rec.Header().Del("Content-Disposition")
		s.writeError(rec, r, err)
	}
}
