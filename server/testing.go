package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/sliceview"
)

// TestServer runs a worker and HTTP handler without downloading chunks, so requests
// stay queued for inspection.
type TestServer struct {
	Worker  *Worker
	Manager *chunkmanager.Manager
	Handler http.Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// OpenTest starts a test server over the given volumes.
func OpenTest(volumes map[string]VolumeSource) *TestServer {
	manager := chunkmanager.New(chunkmanager.Config{})
	worker := NewWorker(manager, volumes, sliceview.DefaultPrefetchConfig(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	ts := &TestServer{
		Worker:  worker,
		Manager: manager,
		Handler: NewHandler(worker, manager, nil),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		worker.Run(ctx)
		close(ts.done)
	}()
	return ts
}

// Close stops the worker and waits for it to exit.
func (ts *TestServer) Close() {
	ts.cancel()
	<-ts.done
}

// TestHTTPResponse returns a response from a test run of the server.
func (ts *TestServer) TestHTTPResponse(t *testing.T, method, urlStr string, payload io.Reader) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, urlStr, payload)
	if err != nil {
		t.Fatalf("Unsuccessful %s on %q: %v\n", method, urlStr, err)
	}
	resp := httptest.NewRecorder()
	ts.Handler.ServeHTTP(resp, req)
	return resp
}

// TestHTTP returns the response body bytes for a test request, making sure any response has
// status OK.
func (ts *TestServer) TestHTTP(t *testing.T, method, urlStr string, payload io.Reader) []byte {
	resp := ts.TestHTTPResponse(t, method, urlStr, payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("Bad server response (%d) to %s on %q: %s\n", resp.Code, method, urlStr, resp.Body.String())
	}
	return resp.Body.Bytes()
}

// TestBadHTTP expects a HTTP response with the given error status code.
func (ts *TestServer) TestBadHTTP(t *testing.T, method, urlStr string, payload io.Reader, status int) {
	resp := ts.TestHTTPResponse(t, method, urlStr, payload)
	if resp.Code != status {
		t.Fatalf("Expected status %d to %s on %q, got %d instead: %s\n", status, method, urlStr, resp.Code, resp.Body.String())
	}
}
