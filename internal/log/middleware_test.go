// SPDX-License-Identifier: MIT
package log

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareCapturesStatus(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
			wantStatus: http.StatusTeapot,
		},
		{
			name: "implicit 200 via write",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware()(tt.handler)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestLoggingWriterCountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := &loggingWriter{ResponseWriter: rec, status: http.StatusOK}

	n, err := lw.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 || lw.bytes != 5 {
		t.Errorf("bytes = %d (n=%d), want 5", lw.bytes, n)
	}

	// Later WriteHeader must not override the implicit 200.
	lw.WriteHeader(http.StatusBadGateway)
	if lw.status != http.StatusOK {
		t.Errorf("status = %d, want %d after implicit header", lw.status, http.StatusOK)
	}
}
