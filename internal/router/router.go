package router

import (
	"net/http"
	"slices"
)

// Middleware wraps an http.Handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Router is an http.ServeMux with two middleware layers: a global chain
// wrapped around the mux itself, and per-route middleware applied at
// registration. The global chain sees every request, including CORS
// preflights and paths no route matches.
type Router struct {
	mux   *http.ServeMux
	root  http.Handler
	extra []Middleware
}

// New creates a Router whose global chain runs in the order given.
func New(middleware ...Middleware) *Router {
	mux := http.NewServeMux()
	return &Router{mux: mux, root: wrap(mux, middleware)}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.root.ServeHTTP(w, req)
}

// Get registers a GET route.
func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, middleware...)
}

// Post registers a POST route.
func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, middleware...)
}

// Handle registers a route with an explicit method. Route middleware
// runs after the global chain, in the order given.
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	combined := append(slices.Clone(r.extra), middleware...)
	r.mux.Handle(method+" "+pattern, wrap(handler, combined))
}

// Group returns a Router registering routes on the same mux with
// additional per-route middleware.
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:   r.mux,
		root:  r.root,
		extra: append(slices.Clone(r.extra), middleware...),
	}
}

// wrap applies middleware so the first entry is the outermost handler.
func wrap(handler http.Handler, middleware []Middleware) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}
