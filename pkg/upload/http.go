package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/storage"
)

// Body formats.
const (
	FormatNDJSON = "ndjson"
	FormatJSON   = "json"
)

// HTTPOptions configures an HTTPUploader. Endpoint may contain the
// placeholder {feature}.
type HTTPOptions struct {
	Endpoint    string
	ClientToken string
	Timeout     time.Duration
	Compress    bool
	Format      string
	// Encoder decodes stored events so the body is always JSON.
	Encoder encoding.Encoder
	// RequestsPerSecond throttles uploads across features. Zero disables it.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// HTTPUploader posts batches with fasthttp.
type HTTPUploader struct {
	opts    HTTPOptions
	client  *fasthttp.Client
	limiter *rate.Limiter
}

// NewHTTPUploader validates opts and builds the client.
func NewHTTPUploader(opts HTTPOptions) (*HTTPUploader, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("upload endpoint is required")
	}
	switch opts.Format {
	case "":
		opts.Format = FormatNDJSON
	case FormatNDJSON, FormatJSON:
	default:
		return nil, fmt.Errorf("unknown upload format %q", opts.Format)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "telemetrycore"
	}
	u := &HTTPUploader{
		opts: opts,
		client: &fasthttp.Client{
			Name:         opts.UserAgent,
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return u, nil
}

// Upload sends b as one request. Transport errors are retried.
func (u *HTTPUploader) Upload(ctx context.Context, feature string, b *storage.Batch, c appcontext.Context) Status {
	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return Status{NeedsRetry: true, Err: err}
		}
	}

	body, err := u.body(b)
	if err != nil {
		// Undecodable content will never succeed.
		return Status{Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.ReplaceAll(u.opts.Endpoint, "{feature}", feature))
	req.Header.SetMethod(fasthttp.MethodPost)
	if u.opts.Format == FormatJSON {
		req.Header.SetContentType("application/json")
	} else {
		req.Header.SetContentType("application/x-ndjson")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if u.opts.ClientToken != "" {
		req.Header.Set("X-Client-Token", u.opts.ClientToken)
	}
	if c.Service != "" {
		req.Header.Set("X-Service", c.Service)
	}
	if c.Env != "" {
		req.Header.Set("X-Env", c.Env)
	}
	if c.SDKVersion != "" {
		req.Header.Set("X-SDK-Version", c.SDKVersion)
	}

	if u.opts.Compress {
		compressed, err := deflate(body)
		if err != nil {
			return Status{Err: err}
		}
		req.Header.Set("Content-Encoding", "deflate")
		req.SetBody(compressed)
	} else {
		req.SetBody(body)
	}

	deadline := time.Now().Add(u.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := u.client.DoDeadline(req, resp, deadline); err != nil {
		return Status{NeedsRetry: true, Err: err}
	}
	return Classify(resp.StatusCode())
}

func (u *HTTPUploader) body(b *storage.Batch) ([]byte, error) {
	var buf bytes.Buffer
	if u.opts.Format == FormatJSON {
		buf.WriteByte('[')
	}
	for i, ev := range b.Events {
		js, err := encoding.ToJSON(u.opts.Encoder, ev.Data)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if u.opts.Format == FormatJSON {
				buf.WriteByte(',')
			} else {
				buf.WriteByte('\n')
			}
		}
		buf.Write(js)
	}
	if u.opts.Format == FormatJSON {
		buf.WriteByte(']')
	}
	return buf.Bytes(), nil
}

func deflate(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
