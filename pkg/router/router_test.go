package router

import (
	"testing"

	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(&ctx)
	return &ctx
}

func TestParamsAndMethods(t *testing.T) {
	r := New()
	var got string
	r.POST("/v1/features/{name}/events", func(ctx *fasthttp.RequestCtx) {
		got = Param(ctx, "name")
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	})
	r.GET("/health", func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusOK) })

	ctx := serve(r, "POST", "/v1/features/logs/events")
	if ctx.Response.StatusCode() != fasthttp.StatusAccepted || got != "logs" {
		t.Fatalf("status=%d param=%q", ctx.Response.StatusCode(), got)
	}

	ctx = serve(r, "GET", "/v1/features/logs/events")
	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", ctx.Response.StatusCode())
	}
	if allow := string(ctx.Response.Header.Peek("Allow")); allow != "POST" {
		t.Fatalf("allow header %q", allow)
	}

	if ctx = serve(r, "GET", "/health/"); ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("trailing slash should match, got %d", ctx.Response.StatusCode())
	}
	if ctx = serve(r, "GET", "/nope"); ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", ctx.Response.StatusCode())
	}
	if ctx = serve(r, "POST", "/v1/features//events"); ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("empty param must not match, got %d", ctx.Response.StatusCode())
	}
}

func TestCustomNotFound(t *testing.T) {
	r := New()
	r.NotFound(func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusTeapot) })
	if ctx := serve(r, "GET", "/x"); ctx.Response.StatusCode() != fasthttp.StatusTeapot {
		t.Fatalf("got %d", ctx.Response.StatusCode())
	}
}
