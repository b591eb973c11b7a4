package hostfuncs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// DefaultMaxBodySize bounds response bodies.
const DefaultMaxBodySize = 10 * 1024 * 1024

const maxRedirects = 10

// HTTPArgs describes one outbound request.
type HTTPArgs struct {
	URL          string            `json:"url" validate:"required"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	BodyEncoding string            `json:"body_encoding,omitempty" validate:"omitempty,oneof=utf8 base64"`
}

// HTTPResponse is the value of http.request.
type HTTPResponse struct {
	Status       int               `json:"status"`
	StatusText   string            `json:"status_text"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyEncoding string            `json:"body_encoding"`
	Truncated    bool              `json:"truncated,omitempty"`
}

// HTTPClient performs http.request with SSRF protection: DNS is resolved
// once per hop, checked against private ranges, and the connection is pinned
// to the checked address.
type HTTPClient struct {
	UserAgent           string
	AllowPrivateNetwork bool
	MaxBodySize         int64
	Resolver            Resolver
}

// Operation returns the http.request op.
func (c *HTTPClient) Operation(timeout time.Duration) Operation {
	return NewOperation(hostcall.OpHTTPRequest, timeout, Requires[HTTPArgs](capabilities.HTTP), c.run)
}

type ssrfError struct {
	err error
}

func (e *ssrfError) Error() string { return "SSRF protection: " + e.err.Error() }
func (e *ssrfError) Unwrap() error { return e.err }

// dnsPinningTransport is a custom http.RoundTripper that prevents DNS
// rebinding by resolving once, validating the IP, and dialing that IP.
type dnsPinningTransport struct {
	base         *http.Transport
	resolver     Resolver
	allowPrivate bool
}

// RoundTrip implements http.RoundTripper with DNS pinning and SSRF protection.
func (t *dnsPinningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	hostname := req.URL.Hostname()

	validatedIP, err := resolveAndValidate(req.Context(), t.resolver, hostname, t.allowPrivate)
	if err != nil {
		return nil, &ssrfError{err: err}
	}

	port := req.URL.Port()
	if port == "" {
		if req.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	pinned := t.base.Clone()
	pinned.DialContext = func(dialCtx context.Context, network, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		return dialer.DialContext(dialCtx, network, net.JoinHostPort(validatedIP, port))
	}
	// For HTTPS, preserve hostname for SNI and certificate validation
	if req.URL.Scheme == "https" {
		if pinned.TLSClientConfig == nil {
			pinned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		pinned.TLSClientConfig.ServerName = hostname
	}
	defer pinned.CloseIdleConnections()

	return pinned.RoundTrip(req)
}

func (c *HTTPClient) run(ctx context.Context, scope *ports.CallScope, args HTTPArgs) (any, error) {
	return c.Do(ctx, scope.ExtensionID, args)
}

// Do performs one request. The response body is always closed.
func (c *HTTPClient) Do(ctx context.Context, extensionID string, args HTTPArgs) (*HTTPResponse, error) {
	parsed, err := url.Parse(args.URL)
	if err != nil || parsed.Host == "" {
		return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "invalid URL %q", args.URL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "unsupported URL scheme %q", parsed.Scheme)
	}

	method := strings.ToUpper(args.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if args.Body != "" {
		payload := []byte(args.Body)
		if args.BodyEncoding == EncodingBase64 {
			payload, err = base64.StdEncoding.DecodeString(args.Body)
			if err != nil {
				return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "failed to decode request body: %v", err)
			}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "failed to create HTTP request: %v", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for key, value := range args.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		var ssrf *ssrfError
		if errors.As(err, &ssrf) {
			slog.WarnContext(ctx, "blocked outbound request", "extension", extensionID, "url", parsed.Redacted(), "error", ssrf.err)
			return nil, hostcall.Errorf(hostcall.CodeDenied, "%v", ssrf)
		}
		if ctx.Err() != nil {
			return nil, hostcall.Errorf(hostcall.CodeTimeout, "HTTP request failed: %v", ctx.Err())
		}
		return nil, hostcall.Errorf(hostcall.CodeIO, "HTTP request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close() // Best-effort cleanup
	}()

	limit := c.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	// Read one byte past the limit to detect truncation
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, hostcall.Errorf(hostcall.CodeTimeout, "reading response body: %v", ctx.Err())
		}
		return nil, hostcall.Errorf(hostcall.CodeIO, "failed to read response body: %v", err)
	}

	out := &HTTPResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    flattenHeaders(resp.Header),
	}
	if int64(len(data)) > limit {
		data = data[:limit]
		out.Truncated = true
		slog.WarnContext(ctx, "HTTP response body truncated", "extension", extensionID, "url", parsed.Redacted())
	}
	if utf8.Valid(data) {
		out.Body, out.BodyEncoding = string(data), EncodingUTF8
	} else {
		out.Body, out.BodyEncoding = base64.StdEncoding.EncodeToString(data), EncodingBase64
	}
	return out, nil
}

func (c *HTTPClient) client() *http.Client {
	resolver := c.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	transport := &dnsPinningTransport{
		base: &http.Transport{
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		resolver:     resolver,
		allowPrivate: c.AllowPrivateNetwork,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// flattenHeaders lower-cases names and joins repeated values, the way Node
// exposes IncomingMessage.headers.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[strings.ToLower(k)] = strings.Join(h[k], ", ")
	}
	return out
}
