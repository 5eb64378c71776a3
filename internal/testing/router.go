package testing

import (
	"net/http"
	"strings"
)

// Middleware wraps a handler, e.g. [Recorder.Wrap].
type Middleware func(http.Handler) http.Handler

// Router is a method-aware [http.ServeMux] for fake backends.
//
// Unregistered routes answer 404 and a known path with the wrong method answers 405.
type Router struct {
	mux         *http.ServeMux
	middlewares []Middleware
	methods     map[string]map[string]http.Handler
}

func NewRouter(middleware ...Middleware) *Router {
	return &Router{
		mux:         http.NewServeMux(),
		middlewares: middleware,
		methods:     make(map[string]map[string]http.Handler),
	}
}

// Handle registers handler for method and path. Registering the same pair again replaces it.
func (r *Router) Handle(method, path string, handler http.Handler) *Router {
	byMethod, ok := r.methods[path]
	if !ok {
		byMethod = make(map[string]http.Handler)
		r.methods[path] = byMethod
		r.mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			for m, h := range byMethod {
				if strings.EqualFold(req.Method, m) {
					h.ServeHTTP(w, req)
					return
				}
			}
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		})
	}
	byMethod[method] = handler
	return r
}

// HandleFunc registers fn for method and path.
func (r *Router) HandleFunc(method, path string, fn http.HandlerFunc) *Router {
	return r.Handle(method, path, fn)
}

// ServeHTTP applies middleware in reverse order (last added wraps first) and dispatches.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.mux
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}
	h.ServeHTTP(w, req)
}
