package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reacher-sentinel/models"
)

func TestHTTPProber_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    models.ProbeOutcome
		code    int
	}{
		{
			name:    "2xx is success",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
			timeout: time.Second,
			want:    models.ProbeSuccess,
			code:    http.StatusNoContent,
		},
		{
			name:    "5xx is http error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			timeout: time.Second,
			want:    models.ProbeHTTPError,
			code:    http.StatusServiceUnavailable,
		},
		{
			name:    "4xx is http error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			timeout: time.Second,
			want:    models.ProbeHTTPError,
			code:    http.StatusNotFound,
		},
		{
			name: "slow answer is timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			want:    models.ProbeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			result := NewHTTPProber().Probe(context.Background(), server.URL, tt.timeout)
			if result.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s (err: %s)", result.Outcome, tt.want, result.Error)
			}
			if result.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", result.StatusCode, tt.code)
			}
			if result.CheckedAt.IsZero() {
				t.Error("expected CheckedAt to be set")
			}
		})
	}
}

func TestHTTPProber_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := NewHTTPProber().Probe(context.Background(), url, time.Second)
	if result.Outcome != models.ProbeConnectionError {
		t.Errorf("outcome = %s, want connection_error", result.Outcome)
	}
	if result.Healthy() {
		t.Error("closed server reported healthy")
	}
}

func TestHTTPProber_InvalidURL(t *testing.T) {
	result := NewHTTPProber().Probe(context.Background(), "://nope", time.Second)
	if result.Outcome != models.ProbeConnectionError || result.Error == "" {
		t.Errorf("result = %+v", result)
	}
}
