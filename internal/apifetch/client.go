// Package apifetch is the network operation contract used by fetch
// controls: cacheable GETs keyed by a canonical request hash, mutating
// POSTs that are never cached, and coarse invalidation of cached GETs by
// group. Cached entries never expire on their own.
package apifetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/roach88/storekit/internal/canon"
)

// Request describes a network operation.
type Request struct {
	Path  string
	Query map[string]string

	// Data is encoded as the JSON body of a Set.
	Data any

	// Group tags a cached GET for bulk invalidation.
	Group string

	// Raw returns the response body as a string instead of decoding JSON.
	Raw bool

	// NoCache bypasses the GET cache for this request.
	NoCache bool
}

// Client performs requests over a Transport.
//
// Thread-safety: safe for concurrent use.
type Client struct {
	transport Transport
	logger    *slog.Logger

	mu     sync.Mutex
	cache  map[string]any
	groups map[string]map[string]struct{}
	// gens counts invalidations per group. A GET only caches its reply if
	// its group was not invalidated while it was in flight.
	gens map[string]uint64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client over transport.
func NewClient(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		logger:    slog.Default(),
		cache:     make(map[string]any),
		groups:    make(map[string]map[string]struct{}),
		gens:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs a cacheable GET. Failures return *Error and are not cached.
func (c *Client) Get(ctx context.Context, req Request) (any, error) {
	key, err := requestKey(req)
	if err != nil {
		return nil, err
	}

	var gen uint64
	if !req.NoCache {
		c.mu.Lock()
		v, ok := c.cache[key]
		gen = c.gens[req.Group]
		c.mu.Unlock()
		if ok {
			c.logger.Debug("api cache hit", "path", req.Path, "group", req.Group)
			return v, nil
		}
	}

	v, err := c.do(ctx, http.MethodGet, req, nil)
	if err != nil {
		return nil, err
	}

	if !req.NoCache {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gens[req.Group] != gen {
			c.logger.Debug("api cache skipped: group invalidated in flight", "path", req.Path, "group", req.Group)
			return v, nil
		}
		c.cache[key] = v
		members := c.groups[req.Group]
		if members == nil {
			members = make(map[string]struct{})
			c.groups[req.Group] = members
		}
		members[key] = struct{}{}
	}
	return v, nil
}

// Set performs a mutating POST. The result is never cached.
func (c *Client) Set(ctx context.Context, req Request) (any, error) {
	var body []byte
	if req.Data != nil {
		data, err := json.Marshal(req.Data)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = data
	} else {
		body = []byte("{}")
	}
	return c.do(ctx, http.MethodPost, req, body)
}

// Invalidate drops every cached GET tagged with group and returns how many
// entries were removed.
func (c *Client) Invalidate(group string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := c.groups[group]
	for key := range members {
		delete(c.cache, key)
	}
	delete(c.groups, group)
	c.gens[group]++

	c.logger.Debug("api cache invalidated", "group", group, "entries", len(members))
	return len(members)
}

// Cached reports the number of cached GET responses.
func (c *Client) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Client) do(ctx context.Context, method string, req Request, body []byte) (any, error) {
	reply, err := c.transport.RoundTrip(ctx, Call{
		Method: method,
		Path:   req.Path,
		Query:  req.Query,
		Body:   body,
	})
	if err != nil {
		c.logger.Warn("api request failed", "method", method, "path", req.Path, "error", err)
		return nil, transportError(err)
	}

	if reply.Status >= http.StatusBadRequest {
		fe := decodeError(reply)
		c.logger.Debug("api request rejected",
			"method", method,
			"path", req.Path,
			"status", reply.Status,
			"code", fe.Code,
		)
		return nil, fe
	}

	if req.Raw {
		return string(reply.Body), nil
	}
	if len(bytes.TrimSpace(reply.Body)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(reply.Body, &v); err != nil {
		return nil, &Error{
			Code:    "invalid_json",
			Message: fmt.Sprintf("decode response: %v", err),
			Data:    ErrorData{Status: reply.Status},
		}
	}
	return v, nil
}

// decodeError reads {code, message, data} from an error reply, falling back
// to the HTTP status text.
func decodeError(reply *Reply) *Error {
	fe := &Error{}
	if err := json.Unmarshal(reply.Body, fe); err != nil || fe.Code == "" {
		fe = &Error{Code: CodeFetchError, Message: http.StatusText(reply.Status)}
	}
	if fe.Message == "" {
		fe.Message = http.StatusText(reply.Status)
	}
	fe.Data.Status = reply.Status
	return fe
}

// requestKey is the cache identity of a GET: path, query and body mode.
func requestKey(req Request) (string, error) {
	query := make(map[string]any, len(req.Query))
	for k, v := range req.Query {
		query[k] = v
	}
	key, err := canon.Hash(canon.DomainRequest, map[string]any{
		"path":  req.Path,
		"query": query,
		"raw":   req.Raw,
	})
	if err != nil {
		return "", fmt.Errorf("request key: %w", err)
	}
	return key, nil
}

// Decode converts a decoded JSON value into T.
func Decode[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}
