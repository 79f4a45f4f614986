package controlapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/eventloop"
	"github.com/cuemby/relay/pkg/relayerr"
)

var errCatalogueUnavailable = assert.AnError

// fakeLoop is a test double for the narrow Loop interface, recording
// every call it receives so tests can assert on control-plane side effects.
type fakeLoop struct {
	healthy       bool
	drained       bool
	shutdown      bool
	processCalls  []eventloop.ProcessRequest
	processResult error
}

func (f *fakeLoop) Healthy() bool { return f.healthy }

func (f *fakeLoop) RequestDrain() { f.drained = true }

func (f *fakeLoop) RequestShutdown() { f.shutdown = true }

func (f *fakeLoop) RequestProcess(req eventloop.ProcessRequest) {
	f.processCalls = append(f.processCalls, req)
	req.Result <- f.processResult
}

func TestHandleHealth(t *testing.T) {
	cases := []struct {
		name       string
		healthy    bool
		wantStatus int
	}{
		{"healthy", true, http.StatusOK},
		{"unhealthy", false, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loop := &fakeLoop{healthy: tc.healthy}
			srv := New(loop)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestHandleDrain(t *testing.T) {
	loop := &fakeLoop{}
	srv := New(loop)

	req := httptest.NewRequest(http.MethodPost, "/control/drain", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, loop.drained)
}

func TestHandleDrain_RejectsNonPost(t *testing.T) {
	loop := &fakeLoop{}
	srv := New(loop)

	req := httptest.NewRequest(http.MethodGet, "/control/drain", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, loop.drained)
}

func TestHandleShutdown(t *testing.T) {
	loop := &fakeLoop{}
	srv := New(loop)

	req := httptest.NewRequest(http.MethodPost, "/control/shutdown", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, loop.shutdown)
}

func TestHandleProcess_InvalidBody(t *testing.T) {
	loop := &fakeLoop{}
	srv := New(loop)

	req := httptest.NewRequest(http.MethodPost, "/process/datainstance", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, loop.processCalls)
}

func TestHandleProcess_MissingFields(t *testing.T) {
	loop := &fakeLoop{}
	srv := New(loop)

	req := httptest.NewRequest(http.MethodPost, "/process/datainstance", bytes.NewBufferString(`{"uuid":""}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, loop.processCalls)
}

func TestHandleProcess_Success(t *testing.T) {
	loop := &fakeLoop{processResult: nil}
	srv := New(loop)

	body := `{"uuid":"di-1","adapter":"download"}`
	req := httptest.NewRequest(http.MethodPost, "/process/datainstance", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, loop.processCalls, 1)
	assert.Equal(t, "datainstance", loop.processCalls[0].Kind)
	assert.Equal(t, "di-1", loop.processCalls[0].UUID)
	assert.Equal(t, "download", loop.processCalls[0].Adapter)
}

func TestHandleProcess_ProductInstanceKind(t *testing.T) {
	loop := &fakeLoop{processResult: nil}
	srv := New(loop)

	body := `{"uuid":"pi-1","adapter":"publish"}`
	req := httptest.NewRequest(http.MethodPost, "/process/productinstance", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, loop.processCalls, 1)
	assert.Equal(t, "productinstance", loop.processCalls[0].Kind)
}

func TestHandleProcess_UnknownAdapterMapsToBadRequest(t *testing.T) {
	loop := &fakeLoop{processResult: relayerr.NewInvalidConfiguration("unknown adapter")}
	srv := New(loop)

	body := `{"uuid":"di-1","adapter":"missing"}`
	req := httptest.NewRequest(http.MethodPost, "/process/datainstance", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProcess_RetryableErrorMapsToServiceUnavailable(t *testing.T) {
	loop := &fakeLoop{processResult: relayerr.NewRetryable("catalogue unavailable", errCatalogueUnavailable)}
	srv := New(loop)

	body := `{"uuid":"di-1","adapter":"download"}`
	req := httptest.NewRequest(http.MethodPost, "/process/datainstance", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
