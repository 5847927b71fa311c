package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/exploopio/grc/pkg/compress"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/metrics"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.MaxRetries)
	}
}

func TestNewWithOptions(t *testing.T) {
	c := New(nil,
		WithBaseURL("http://backend.local/"),
		WithAPIKey("custom-key"),
		WithTimeout(15*time.Second),
		WithRetry(5, 3*time.Second),
		WithRateLimit(10, 2),
	)

	if c.baseURL != "http://backend.local" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.apiKey != "custom-key" {
		t.Errorf("apiKey = %q", c.apiKey)
	}
	if c.httpClient.Timeout != 15*time.Second {
		t.Errorf("timeout = %v, want 15s", c.httpClient.Timeout)
	}
	if c.maxRetries != 5 || c.retryDelay != 3*time.Second {
		t.Errorf("retry = %d/%v", c.maxRetries, c.retryDelay)
	}
	if c.limiter == nil || c.limiter.Burst() != 2 {
		t.Error("rate limiter not configured")
	}
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/risks" {
			t.Errorf("Path = %s, want /risks", r.URL.Path)
		}
		if got := r.URL.Query().Get("clientId"); got != "c1" {
			t.Errorf("clientId = %q, want c1", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"r1"},{"id":"r2"}]`))
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, APIKey: "test-key"})

	var out []map[string]any
	if err := c.Get(context.Background(), "/risks", map[string][]string{"clientId": {"c1"}}, &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
}

func TestClient_PostAndPatch(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var in map[string]any
		if err := json.Unmarshal(body, &in); err != nil {
			t.Errorf("body not JSON: %v", err)
		}
		in["id"] = "r-new"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(in)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL})

	var created map[string]any
	if err := c.Post(context.Background(), "risks", map[string]string{"name": "n"}, &created); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if created["id"] != "r-new" || created["name"] != "n" {
		t.Errorf("created = %v", created)
	}
	if err := c.Patch(context.Background(), "risks/r-new", map[string]string{"status": "mitigated"}, nil); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if len(methods) != 2 || methods[0] != "POST" || methods[1] != "PATCH" {
		t.Errorf("methods = %v", methods)
	}
}

func TestClient_RetriesGetOnly(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"unavailable"}`))
	}))
	defer server.Close()

	m := metrics.NewInMemoryCollector()
	c := New(&Config{
		BaseURL:    server.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, WithMetrics(m))

	err := c.Get(context.Background(), "risks", nil, nil)
	if err == nil {
		t.Fatal("Get() should fail")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("GET calls = %d, want 3", got)
	}
	if got := m.GetCounter(metrics.HTTPRetries.Name, "resource", "risks"); got != 2 {
		t.Errorf("retry counter = %v, want 2", got)
	}
	if got := m.GetCounter(metrics.HTTPRequestsTotal.Name, "method", "GET", "resource", "risks", "status", "503"); got != 3 {
		t.Errorf("request counter = %v, want 3", got)
	}

	atomic.StoreInt32(&calls, 0)
	if err := c.Post(context.Background(), "risks", map[string]string{}, nil); err == nil {
		t.Fatal("Post() should fail")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("POST calls = %d, writes must not be retried", got)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	err := c.Get(context.Background(), "risks/missing", nil, nil)

	if !IsNotFoundError(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if !sdkerrors.IsNotFoundError(err) {
		t.Error("errors package should classify HTTPError 404 as not found")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClient_CompressesLargeBodies(t *testing.T) {
	var gotEncoding string
	var decoded []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		raw, _ := io.ReadAll(r.Body)
		var err error
		decoded, err = compress.DecodeContent(gotEncoding, raw)
		if err != nil {
			t.Errorf("DecodeContent: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL}, WithCompression(compress.AlgorithmZSTD, compress.LevelDefault, 64))

	items := make([]map[string]string, 50)
	for i := range items {
		items[i] = map[string]string{"id": "fnd-001", "status": "promoted_to_risk"}
	}
	if err := c.Patch(context.Background(), "assessmentHistory/asmt-001", map[string]any{"generatedFindings": items}, nil); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if gotEncoding != "zstd" {
		t.Errorf("Content-Encoding = %q, want zstd", gotEncoding)
	}
	var body map[string][]map[string]string
	if err := json.Unmarshal(decoded, &body); err != nil || len(body["generatedFindings"]) != 50 {
		t.Errorf("decoded body mismatch: %v", err)
	}
}

func TestClient_TokenSource(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "oauth-token", TokenType: "Bearer"})
	c := New(&Config{BaseURL: server.URL, APIKey: "ignored"}, WithTokenSource(ts))

	if err := c.Get(context.Background(), "risks", nil, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if auth != "Bearer oauth-token" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestClient_RecordsSpans(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	c := New(&Config{BaseURL: server.URL}, WithTracerProvider(tp))
	_ = c.Delete(context.Background(), "risks/r1", nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "DELETE risks" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code.String() != "Error" {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, MaxRetries: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.Get(ctx, "risks", nil, nil); err == nil {
		t.Error("Get() should fail on cancelled context")
	}
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	err := c.Post(context.Background(), "risks", map[string]string{}, nil)
	if sdkerrors.GetKind(err) != sdkerrors.KindTimeout {
		t.Errorf("kind = %v, want timeout (err=%v)", sdkerrors.GetKind(err), err)
	}
}

func TestResourceOf(t *testing.T) {
	tests := map[string]string{
		"/risks":                             "risks",
		"risks/r1":                           "risks",
		"/findings_to_risk/assessmentFindings": "findings_to_risk",
		"":                                   "root",
	}
	for in, want := range tests {
		if got := resourceOf(in); got != want {
			t.Errorf("resourceOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 500, Body: "boom", RequestID: "req-1"}
	if err.Error() != "http 500: boom (request_id: req-1)" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !IsServerError(err) || IsClientError(err) {
		t.Error("500 should be a server error")
	}
	if err.HTTPStatus() != 500 {
		t.Error("HTTPStatus mismatch")
	}
}
