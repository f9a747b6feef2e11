package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"telemetrycore/internal/retention"
	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/core"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/router"
	"telemetrycore/pkg/storage"
)

const (
	maxIngestLine = 1 << 20
	flushTimeout  = 10 * time.Second
)

// ingestEvent is one NDJSON line of the ingest endpoint. Date is the
// producer's local time in unix milliseconds.
type ingestEvent struct {
	Type     string `json:"type"`
	Date     int64  `json:"date,omitempty"`
	Payload  any    `json:"payload"`
	Metadata any    `json:"metadata,omitempty"`
}

// Handler builds the routed fasthttp handler.
func (a *App) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(a.core.Metrics().Handler()))

	r.GET("/v1/features", a.handleListFeatures)
	r.POST("/v1/features/{name}/events", a.handleIngest)
	r.POST("/v1/features/{name}/flush", a.handleFlush)

	r.GET("/v1/consent", a.handleGetConsent)
	r.PUT("/v1/consent", a.handleSetConsent)
	r.PUT("/v1/clock-offset", a.handleClockOffset)

	r.POST("/admin/jobs/sweep", a.handleSweep)
	return r.Handler
}

func (a *App) startHTTP() <-chan error {
	const (
		readBufferSize     = 64 * 1024
		maxRequestBodySize = 16 * 1024 * 1024
		readTimeout        = 10 * time.Second
		writeTimeout       = 10 * time.Second
		idleTimeout        = 30 * time.Second
	)
	a.srvFast = &fasthttp.Server{
		Handler:            a.Handler(),
		Name:               "telemetrycore",
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: maxRequestBodySize,
		ReadTimeout:        readTimeout,
		WriteTimeout:       writeTimeout,
		IdleTimeout:        idleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srvFast.ListenAndServe(a.cfg.Addr())
	}()
	return errCh
}

func (a *App) handleHealth(ctx *fasthttp.RequestCtx) {
	h := a.core.Health()
	status := fasthttp.StatusOK
	label := "ok"
	if h.Degraded || h.DiskAlert {
		status = fasthttp.StatusServiceUnavailable
		label = "degraded"
	}
	router.WriteJSON(ctx, status, map[string]any{
		"status":          label,
		"state":           a.State(),
		"version":         a.version,
		"sdk_version":     core.SDKVersion,
		"consent":         a.core.Consent().String(),
		"clock_offset_ms": a.core.ClockOffset().Milliseconds(),
		"storage":         h,
		"features":        a.core.Stats(),
	})
}

func (a *App) handleListFeatures(ctx *fasthttp.RequestCtx) {
	type featureInfo struct {
		Name  string                `json:"name"`
		Files int                   `json:"files"`
		Bytes int64                 `json:"bytes"`
		Stats storage.StatsSnapshot `json:"stats"`
	}
	out := []featureInfo{}
	for _, name := range a.core.Features() {
		scope, ok := a.core.Scope(name)
		if !ok {
			continue
		}
		info := featureInfo{Name: name, Stats: scope.Stats()}
		dir := scope.Orchestrator().Directory()
		if files, err := dir.Files(); err == nil {
			info.Files = len(files)
		}
		if size, err := dir.Size(); err == nil {
			info.Bytes = size
		}
		out = append(out, info)
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, out)
}

func (a *App) handleIngest(ctx *fasthttp.RequestCtx) {
	name := router.Param(ctx, "name")
	scope, ok := a.core.Scope(name)
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "unknown feature: "+name)
		return
	}

	events, err := parseNDJSON(ctx.PostBody())
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}

	var accepted, dropped int
	var storageErr error
	var snap appcontext.Context
	err = scope.WithContext(func(c appcontext.Context, w storage.Writer) error {
		snap = c
		for _, ev := range events {
			e := storage.Event{Type: ev.Type, Payload: ev.Payload, Metadata: ev.Metadata}
			if ev.Date > 0 {
				e.Date = time.UnixMilli(ev.Date)
			}
			switch err := w.Write(e); {
			case err == nil:
				accepted++
			case errors.Is(err, storage.ErrCapacityExceeded):
				dropped++
			default:
				dropped++
				storageErr = err
			}
		}
		return nil
	})
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	status := fasthttp.StatusAccepted
	switch {
	case accepted == 0 && storageErr != nil:
		logger.Error("ingest_write_failed", "feature", name, "error", storageErr)
		status = fasthttp.StatusInternalServerError
	case accepted == 0 && dropped > 0:
		status = fasthttp.StatusInsufficientStorage
	}
	router.WriteJSON(ctx, status, map[string]any{
		"accepted": accepted,
		"dropped":  dropped,
		"consent":  snap.Consent.String(),
	})
}

func parseNDJSON(body []byte) ([]ingestEvent, error) {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), maxIngestLine)
	var out []ingestEvent
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var ev ingestEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
		if ev.Type == "" {
			return nil, fmt.Errorf("line %d: type is required", line)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *App) handleFlush(ctx *fasthttp.RequestCtx) {
	name := router.Param(ctx, "name")
	if _, ok := a.core.Scope(name); !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "unknown feature: "+name)
		return
	}
	w, ok := a.Worker(name)
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusConflict, "uploads are disabled")
		return
	}
	fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := w.Flush(fctx); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadGateway, err.Error())
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "flushed"})
}

func (a *App) handleGetConsent(ctx *fasthttp.RequestCtx) {
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"consent": a.core.Consent().String()})
}

func (a *App) handleSetConsent(ctx *fasthttp.RequestCtx) {
	var req struct {
		Consent string `json:"consent"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Consent == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "body must be {\"consent\": \"granted|not_granted|pending\"}")
		return
	}
	st, err := consent.Parse(req.Consent)
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	a.core.SetConsent(st)
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"consent": a.core.Consent().String()})
}

func (a *App) handleClockOffset(ctx *fasthttp.RequestCtx) {
	var req struct {
		OffsetMs *int64 `json:"offset_ms"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.OffsetMs == nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "body must be {\"offset_ms\": <int>}")
		return
	}
	a.core.UpdateClockOffset(time.Duration(*req.OffsetMs) * time.Millisecond)
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]int64{"offset_ms": a.core.ClockOffset().Milliseconds()})
}

func (a *App) handleSweep(ctx *fasthttp.RequestCtx) {
	switch err := a.retention.RunImmediate(); {
	case errors.Is(err, retention.ErrAlreadyRunning):
		router.WriteJSONError(ctx, fasthttp.StatusConflict, err.Error())
	case err != nil:
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
	default:
		router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "swept"})
	}
}
