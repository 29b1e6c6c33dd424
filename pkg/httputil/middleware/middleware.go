// Package middleware holds the HTTP middleware of the admin server: request
// ids, access logging, CORS, authentication and static file serving.
package middleware

import (
	"net/http"

	"github.com/edgeflare/radmin/pkg/httputil"
)

// Chain applies middlewares so the first one is the outermost wrapper.
func Chain(h http.Handler, middlewares ...httputil.Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
