package apifetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTransport replies with fixed status and body and counts calls.
func countingTransport(status int, body string, calls *atomic.Int32, last *Call) Transport {
	return TransportFunc(func(_ context.Context, call Call) (*Reply, error) {
		calls.Add(1)
		if last != nil {
			*last = call
		}
		return &Reply{Status: status, Body: []byte(body)}, nil
	})
}

func TestClient_GetCachesByCanonicalRequest(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(countingTransport(200, `[{"id":1}]`, &calls, nil))
	ctx := context.Background()

	first, err := c.Get(ctx, Request{Path: "/accounts", Query: map[string]string{"a": "1", "b": "2"}})
	require.NoError(t, err)
	second, err := c.Get(ctx, Request{Path: "/accounts", Query: map[string]string{"b": "2", "a": "1"}})
	require.NoError(t, err)

	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Cached())

	_, err = c.Get(ctx, Request{Path: "/accounts", Query: map[string]string{"a": "2"}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_NoCacheBypasses(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(countingTransport(200, `{}`, &calls, nil))

	for i := 0; i < 2; i++ {
		_, err := c.Get(context.Background(), Request{Path: "/x", NoCache: true})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 0, c.Cached())
}

func TestClient_InvalidateGroup(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(countingTransport(200, `{"ok":true}`, &calls, nil))
	ctx := context.Background()

	_, _ = c.Get(ctx, Request{Path: "/settings", Group: "settings"})
	_, _ = c.Get(ctx, Request{Path: "/settings/extra", Group: "settings"})
	_, _ = c.Get(ctx, Request{Path: "/accounts", Group: "accounts"})
	require.EqualValues(t, 3, calls.Load())

	assert.Equal(t, 2, c.Invalidate("settings"))
	assert.Equal(t, 0, c.Invalidate("settings"))

	_, _ = c.Get(ctx, Request{Path: "/settings", Group: "settings"})
	_, _ = c.Get(ctx, Request{Path: "/accounts", Group: "accounts"})
	assert.EqualValues(t, 4, calls.Load(), "only the invalidated group refetches")
}

func TestClient_InvalidateDuringGetDropsStaleReply(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	c := NewClient(TransportFunc(func(context.Context, Call) (*Reply, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return &Reply{Status: 200, Body: []byte(`{"propertyID":"old"}`)}, nil
		}
		return &Reply{Status: 200, Body: []byte(`{"propertyID":"new"}`)}, nil
	}))
	ctx := context.Background()

	type reply struct {
		v   any
		err error
	}
	done := make(chan reply, 1)
	go func() {
		v, err := c.Get(ctx, Request{Path: "/settings", Group: "settings"})
		done <- reply{v, err}
	}()

	<-started
	c.Invalidate("settings")
	close(release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, map[string]any{"propertyID": "old"}, first.v, "the caller still gets its reply")
	assert.Equal(t, 0, c.Cached(), "a reply that raced an invalidation is not cached")

	v, err := c.Get(ctx, Request{Path: "/settings", Group: "settings"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"propertyID": "new"}, v)
	assert.EqualValues(t, 2, calls.Load())

	_, err = c.Get(ctx, Request{Path: "/settings", Group: "settings"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "later replies cache again")
}

func TestClient_SetIsNeverCached(t *testing.T) {
	var calls atomic.Int32
	var last Call
	c := NewClient(countingTransport(200, `{"saved":true}`, &calls, &last))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := c.Set(ctx, Request{Path: "/settings", Data: map[string]any{"foo": "bar"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"saved": true}, v)
	}
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, http.MethodPost, last.Method)
	assert.JSONEq(t, `{"foo":"bar"}`, string(last.Body))
}

func TestClient_ErrorReplies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "structured",
			status:   403,
			body:     `{"code":"rest_forbidden","message":"Sorry.","data":{"status":403}}`,
			wantCode: "rest_forbidden",
			wantMsg:  "Sorry.",
		},
		{
			name:     "unstructured",
			status:   500,
			body:     `<html>oops</html>`,
			wantCode: CodeFetchError,
			wantMsg:  "Internal Server Error",
		},
		{
			name:     "not found",
			status:   404,
			body:     `{"code":"not_found","message":""}`,
			wantCode: "not_found",
			wantMsg:  "Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := NewClient(countingTransport(tt.status, tt.body, &calls, nil))

			_, err := c.Get(context.Background(), Request{Path: "/x"})

			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantCode, fe.Code)
			assert.Equal(t, tt.wantMsg, fe.Message)
			assert.Equal(t, tt.status, fe.Data.Status)
			assert.Equal(t, tt.status, StatusOf(err))
			assert.Equal(t, tt.status == 404, IsNotFound(err))

			_, _ = c.Get(context.Background(), Request{Path: "/x"})
			assert.EqualValues(t, 2, calls.Load(), "failures are not cached")
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	c := NewClient(TransportFunc(func(context.Context, Call) (*Reply, error) {
		return nil, errors.New("connection refused")
	}))

	_, err := c.Get(context.Background(), Request{Path: "/x"})

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, CodeFetchError, fe.Code)
	assert.Equal(t, 0, fe.Data.Status)
	assert.Equal(t, map[string]any{"status": 0}, fe.ErrorData())
}

func TestClient_RawAndInvalidJSON(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(countingTransport(200, `<html>tag</html>`, &calls, nil))

	v, err := c.Get(context.Background(), Request{Path: "/", Raw: true})
	require.NoError(t, err)
	assert.Equal(t, "<html>tag</html>", v)

	_, err = c.Get(context.Background(), Request{Path: "/"})
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "invalid_json", fe.Code)
	assert.EqualValues(t, 2, calls.Load(), "raw and decoded requests have distinct cache keys")
}

func TestDecode(t *testing.T) {
	type account struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	got, err := Decode[[]account]([]any{map[string]any{"id": float64(1), "name": "Main"}})
	require.NoError(t, err)
	assert.Equal(t, []account{{ID: 1, Name: "Main"}}, got)

	_, err = Decode[account]("not an object")
	assert.Error(t, err)
}

func TestHTTPTransport_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "secret", r.Header.Get("X-WP-Nonce"))
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "/wp-json/site/v1/accounts", r.URL.Path)
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1}})
		case http.MethodPost:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": "invalid", "message": "bad " + string(body)})
		}
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(srv.URL+"/wp-json/", WithHeader("X-WP-Nonce", "secret"), WithTimeout(0))
	require.NoError(t, err)
	c := NewClient(tr)

	v, err := c.Get(context.Background(), Request{Path: "site/v1/accounts", Query: map[string]string{"page": "1"}})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, v)

	_, err = c.Set(context.Background(), Request{Path: "/site/v1/settings", Data: "x"})
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "invalid", fe.Code)
	assert.Equal(t, `bad "x"`, fe.Message)
	assert.Equal(t, http.StatusBadRequest, fe.Data.Status)
}

func TestNewHTTPTransport_RejectsRelativeBase(t *testing.T) {
	_, err := NewHTTPTransport("/relative")
	assert.Error(t, err)
}
