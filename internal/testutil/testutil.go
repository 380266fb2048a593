// Package testutil provides shared helpers for exercising the debug HTTP
// endpoints mounted by the node's packages.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// LoopbackAddr is the remote address given to debug requests. tsweb only
// serves /debug/ to loopback and tailnet peers.
const LoopbackAddr = "127.0.0.1:41234"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertContentType checks the media type of a response, ignoring
// parameters such as charset.
func AssertContentType(t testing.TB, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	got, _, _ := strings.Cut(rec.Header().Get("Content-Type"), ";")
	if strings.TrimSpace(got) != want {
		t.Errorf("content type = %q, want %q", rec.Header().Get("Content-Type"), want)
	}
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// NewDebugRequest creates a request that passes the debug access check.
func NewDebugRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = LoopbackAddr
	return req
}

// ServeDebug issues a GET for path against h and returns the recorded
// response.
func ServeDebug(t testing.TB, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := NewTestRecorder()
	h.ServeHTTP(rec, NewDebugRequest(http.MethodGet, path))
	return rec
}

// DecodeJSON decodes a recorded JSON body into a T.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body %q: %v", rec.Body.String(), err)
	}
	return v
}
