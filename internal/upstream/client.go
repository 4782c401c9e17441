package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"keyrelay-go/internal/config"
	mon "keyrelay-go/internal/monitoring"
	"keyrelay-go/internal/monitoring/tracing"
)

// Client forwards opaque JSON payloads to the upstream API, authenticated with
// a pooled credential chosen per request by the caller.
type Client struct {
	cfg config.UpstreamConfig
	cli *http.Client
}

func New(cfg config.UpstreamConfig) *Client {
	tr := &http.Transport{
		Proxy: getProxyFunc(cfg.ProxyURL),
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	// Streaming responses outlive any sane client-level timeout; the per-call
	// deadline comes from the request context instead.
	return &Client{cfg: cfg, cli: &http.Client{Transport: tr, Timeout: 0}}
}

// getProxyFunc returns appropriate proxy function based on configuration
func getProxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsedURL, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsedURL)
		}
	}
	return http.ProxyFromEnvironment
}

// Forward POSTs the payload upstream using the given credential. A default
// model is injected when the payload does not name one. Stream selects the SSE
// endpoint variant.
//
// IMPORTANT: Caller MUST close resp.Body if resp is non-nil and err is nil.
func (c *Client) Forward(ctx context.Context, payload []byte, credential string, stream bool) (*http.Response, error) {
	if c.cfg.Model != "" && strings.TrimSpace(gjson.GetBytes(payload, "model").String()) == "" {
		payload, _ = sjson.SetBytes(payload, "model", c.cfg.Model)
	}

	endpoint := strings.TrimRight(c.cfg.Endpoint, "/")
	if stream {
		endpoint += "?alt=sse"
	}

	spanCtx, span := tracing.StartSpan(ctx, "upstream", "Upstream.Forward",
		trace.WithAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("http.url", endpoint),
			attribute.Bool("upstream.stream", stream),
		))
	defer span.End()
	ctx = spanCtx

	cancel := context.CancelFunc(func() {})
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := c.cli.Do(req)
	mon.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		cancel()
		mon.UpstreamErrors.WithLabelValues("network").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	// The deadline must cover the whole body read, so cancellation is tied to
	// the body's Close instead of this function's return.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	mon.UpstreamRequestsTotal.WithLabelValues(mon.StatusClass(resp.StatusCode)).Inc()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("http_status=%d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
