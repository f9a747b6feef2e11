// Package router is a small fasthttp router with {param} path segments.
package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

// Router dispatches by method and path. Parameters are stored as user
// values under their name.
type Router struct {
	routes   map[string][]route
	notFound fasthttp.RequestHandler
}

type route struct {
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

// New constructs a new Router.
func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handler satisfies the fasthttp.Server handler interface. A path known
// under another method answers 405 with an Allow header.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	parts := split(string(ctx.Path()))
	if h, ok := r.lookup(string(ctx.Method()), parts, ctx); ok {
		h(ctx)
		return
	}
	if allowed := r.allowed(parts); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
}

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.add(fasthttp.MethodPost, path, h) }
func (r *Router) PUT(path string, h fasthttp.RequestHandler)    { r.add(fasthttp.MethodPut, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodDelete, path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	parts := split(path)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if len(p) > 2 && p[0] == '{' && p[len(p)-1] == '}' {
			segs[i] = segment{name: p[1 : len(p)-1], isParam: true}
		} else {
			segs[i] = segment{name: p}
		}
	}
	r.routes[method] = append(r.routes[method], route{segments: segs, handler: h})
}

func (r *Router) lookup(method string, parts []string, ctx *fasthttp.RequestCtx) (fasthttp.RequestHandler, bool) {
	for _, rt := range r.routes[method] {
		if !match(parts, rt.segments) {
			continue
		}
		if ctx != nil {
			for i, seg := range rt.segments {
				if seg.isParam {
					ctx.SetUserValue(seg.name, parts[i])
				}
			}
		}
		return rt.handler, true
	}
	return nil, false
}

func (r *Router) allowed(parts []string) []string {
	var out []string
	for method := range r.routes {
		if _, ok := r.lookup(method, parts, nil); ok {
			out = append(out, method)
		}
	}
	sort.Strings(out)
	return out
}

// split turns "/a/b/" into [a b]. The root path is an empty slice.
func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func match(parts []string, segs []segment) bool {
	if len(parts) != len(segs) {
		return false
	}
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg.name != parts[i] {
			return false
		}
	}
	return true
}

// Param returns the path parameter name of the matched route.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
