package apifetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Call is a single request handed to a Transport.
type Call struct {
	Method string
	Path   string
	Query  map[string]string

	// Body is the encoded JSON body of a POST; nil for GET.
	Body []byte
}

// Reply is the raw outcome of a Call. Any status is a Reply; only failures
// to reach the server are errors.
type Reply struct {
	Status int
	Body   []byte
}

// Transport performs calls.
type Transport interface {
	RoundTrip(ctx context.Context, call Call) (*Reply, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, call Call) (*Reply, error)

// RoundTrip implements Transport.
func (f TransportFunc) RoundTrip(ctx context.Context, call Call) (*Reply, error) { return f(ctx, call) }

// HTTPTransport sends calls to a JSON HTTP API rooted at a base URL.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	header http.Header
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithTimeout bounds every call.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		if timeout > 0 {
			c := *t.client
			c.Timeout = timeout
			t.client = &c
		}
	}
}

// WithHeader adds a header to every call, e.g. a nonce or credentials.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) {
		t.header.Add(key, value)
	}
}

// NewHTTPTransport creates a transport for baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) (*HTTPTransport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse base url: %q is not absolute", baseURL)
	}
	t := &HTTPTransport{
		base:   base,
		client: &http.Client{},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, call Call) (*Reply, error) {
	u, err := t.resolve(call.Path)
	if err != nil {
		return nil, err
	}
	if len(call.Query) > 0 {
		q := u.Query()
		for k, v := range call.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", call.Method, call.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Reply{Status: resp.StatusCode, Body: data}, nil
}

// resolve joins path onto the base URL. Absolute URLs are used as is.
func (t *HTTPTransport) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path: %w", err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	u := *t.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}
