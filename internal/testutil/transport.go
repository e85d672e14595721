package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/storekit/internal/apifetch"
)

// FakeTransport replies to calls from a script of canned responses.
//
// Each route ("METHOD path") holds a queue of replies; the last reply of a
// queue repeats. Unscripted routes answer 404 like a REST API without the
// route.
//
// Thread-safety: safe for concurrent use.
type FakeTransport struct {
	mu     sync.Mutex
	routes map[string][]apifetch.Reply
	calls  []apifetch.Call
	hold   chan struct{}
}

// NewFakeTransport returns a transport with no routes.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{routes: make(map[string][]apifetch.Reply)}
}

// Respond queues a reply for method and path. body is sent as is when it is
// a string or []byte and JSON-encoded otherwise.
func (f *FakeTransport) Respond(method, path string, status int, body any) error {
	data, err := encodeBody(body)
	if err != nil {
		return fmt.Errorf("respond %s %s: %w", method, path, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := routeKey(method, path)
	f.routes[key] = append(f.routes[key], apifetch.Reply{Status: status, Body: data})
	return nil
}

// MustRespond is like Respond but panics on error.
func (f *FakeTransport) MustRespond(method, path string, status int, body any) *FakeTransport {
	if err := f.Respond(method, path, status, body); err != nil {
		panic(err)
	}
	return f
}

// Hold blocks every call until the returned release function is called.
// Calling release more than once is a no-op.
func (f *FakeTransport) Hold() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.hold == ch {
				f.hold = nil
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// RoundTrip implements apifetch.Transport.
func (f *FakeTransport) RoundTrip(ctx context.Context, call apifetch.Call) (*apifetch.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := routeKey(call.Method, call.Path)
	queue := f.routes[key]
	if len(queue) == 0 {
		return &apifetch.Reply{
			Status: http.StatusNotFound,
			Body:   []byte(`{"code":"rest_no_route","message":"No route was found matching the URL and request method.","data":{"status":404}}`),
		}, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.routes[key] = queue[1:]
	}
	return &reply, nil
}

// Calls returns how many calls were made to method and path.
func (f *FakeTransport) Calls(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// AllCalls returns a copy of every call made so far.
func (f *FakeTransport) AllCalls() []apifetch.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]apifetch.Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func routeKey(method, path string) string {
	return method + " " + path
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(b)
	}
}
