// Package mocks provides an in-memory JSON-server style backend for tests.
// Array resources support list/get/create/patch/put/delete by id with
// equality query filters; document resources (link tables) are single JSON
// objects read and patched as a whole.
package mocks

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/exploopio/grc/pkg/compress"
)

// RecordedRequest is a request seen by the backend.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

type failure struct {
	status int
	times  int // <0 = until cleared
}

// Backend is a mock REST backend.
type Backend struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
	documents   map[string]map[string]any
	failures    map[string]*failure
	requests    []RecordedRequest

	// BeforeHandle, when set, runs for every request before the store is
	// touched. Tests use it to hold requests at a barrier.
	BeforeHandle func(r *http.Request)

	server *httptest.Server
}

// NewBackend creates a backend and starts its HTTP server. The link-table
// documents start empty.
func NewBackend() *Backend {
	b := &Backend{
		collections: make(map[string][]map[string]any),
		documents: map[string]map[string]any{
			"risk_to_objective":       {"riskObjectives": []any{}},
			"objective_to_initiative": {"objectiveInitiatives": []any{}},
			"findings_to_risk":        {"assessmentFindings": []any{}},
		},
		failures: make(map[string]*failure),
	}
	b.server = httptest.NewServer(b)
	return b
}

// URL returns the base URL of the backend.
func (b *Backend) URL() string {
	return b.server.URL
}

// Close shuts the HTTP server down.
func (b *Backend) Close() {
	b.server.Close()
}

// =============================================================================
// Seeding and inspection
// =============================================================================

// Seed appends items to an array resource.
func (b *Backend) Seed(resource string, items ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range items {
		b.collections[resource] = append(b.collections[resource], toMap(item))
	}
}

// SeedDocument replaces a document resource.
func (b *Backend) SeedDocument(resource string, doc any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.documents[resource] = toMap(doc)
}

// Decode copies an array resource into out (a pointer to a slice).
func (b *Backend) Decode(resource string, out any) error {
	b.mu.Lock()
	data, err := json.Marshal(b.collections[resource])
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// DecodeDocument copies a document resource into out.
func (b *Backend) DecodeDocument(resource string, out any) error {
	b.mu.Lock()
	data, err := json.Marshal(b.documents[resource])
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Len returns the number of items in an array resource.
func (b *Backend) Len(resource string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.collections[resource])
}

// Requests returns every request received so far.
func (b *Backend) Requests() []RecordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]RecordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// Count returns how many requests matched method and path prefix.
func (b *Backend) Count(method, pathPrefix string) int {
	n := 0
	for _, r := range b.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// Fail makes every request matching method and path return status until
// ClearFailures is called. path matches exactly or as a prefix of "path/".
func (b *Backend) Fail(method, path string, status int) {
	b.FailTimes(method, path, status, -1)
}

// FailTimes is like Fail but only for the next n matching requests.
func (b *Backend) FailTimes(method, path string, status, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method+" "+strings.TrimRight(path, "/")] = &failure{status: status, times: n}
}

// ClearFailures removes all injected failures.
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[string]*failure)
}

// =============================================================================
// HTTP handling
// =============================================================================

// ServeHTTP implements http.Handler.
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.BeforeHandle != nil {
		b.BeforeHandle(r)
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	body, err := compress.DecodeContent(r.Header.Get("Content-Encoding"), raw)
	if err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": err.Error()})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   body,
	})

	if status, ok := b.injectedFailure(r.Method, r.URL.Path); ok {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	resource := segments[0]

	if _, isDoc := b.documents[resource]; isDoc {
		b.serveDocument(w, r, segments, body)
		return
	}

	switch {
	case len(segments) == 1:
		b.serveCollection(w, r, resource, body)
	case len(segments) == 2:
		b.serveItem(w, r, resource, segments[1], body)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{})
	}
}

func (b *Backend) injectedFailure(method, path string) (int, bool) {
	for key, f := range b.failures {
		m, p, _ := strings.Cut(key, " ")
		if m != method || (path != p && !strings.HasPrefix(path, p+"/")) {
			continue
		}
		if f.times == 0 {
			continue
		}
		if f.times > 0 {
			f.times--
		}
		return f.status, true
	}
	return 0, false
}

func (b *Backend) serveCollection(w http.ResponseWriter, r *http.Request, resource string, body []byte) {
	switch r.Method {
	case http.MethodGet:
		out := make([]map[string]any, 0)
		for _, item := range b.collections[resource] {
			if matchesQuery(item, r.URL.Query()) {
				out = append(out, item)
			}
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		item, err := decodeObject(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if id, _ := item["id"].(string); id == "" {
			item["id"] = uuid.NewString()
		}
		b.collections[resource] = append(b.collections[resource], item)
		writeJSON(w, http.StatusCreated, item)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{})
	}
}

func (b *Backend) serveItem(w http.ResponseWriter, r *http.Request, resource, id string, body []byte) {
	items := b.collections[resource]
	idx := -1
	for i, item := range items {
		if fmt.Sprint(item["id"]) == id && matchesQuery(item, r.URL.Query()) {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, items[idx])

	case http.MethodPatch, http.MethodPut:
		patch, err := decodeObject(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if r.Method == http.MethodPut {
			items[idx] = map[string]any{"id": items[idx]["id"]}
		}
		for k, v := range patch {
			if k != "id" {
				items[idx][k] = v
			}
		}
		writeJSON(w, http.StatusOK, items[idx])

	case http.MethodDelete:
		b.collections[resource] = append(items[:idx:idx], items[idx+1:]...)
		writeJSON(w, http.StatusOK, map[string]string{})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{})
	}
}

// serveDocument handles whole-object resources. GET/PATCH/PUT address the
// document; POST to /<doc>/<field> appends to the array under field.
func (b *Backend) serveDocument(w http.ResponseWriter, r *http.Request, segments []string, body []byte) {
	resource := segments[0]
	doc := b.documents[resource]

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, doc)

	case len(segments) == 1 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		patch, err := decodeObject(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if r.Method == http.MethodPut {
			doc = map[string]any{}
		}
		for k, v := range patch {
			doc[k] = v
		}
		b.documents[resource] = doc
		writeJSON(w, http.StatusOK, doc)

	case len(segments) == 2 && r.Method == http.MethodPost:
		item, err := decodeObject(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if id, _ := item["id"].(string); id == "" {
			item["id"] = uuid.NewString()
		}
		field := segments[1]
		list, _ := doc[field].([]any)
		doc[field] = append(list, item)
		writeJSON(w, http.StatusCreated, item)

	case len(segments) == 2 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, doc[segments[1]])

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{})
	}
}

// =============================================================================
// Helpers
// =============================================================================

func matchesQuery(item map[string]any, query map[string][]string) bool {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.HasPrefix(k, "_") {
			continue
		}
		v, ok := item[k]
		if !ok || fmt.Sprint(v) != query[k][0] {
			return false
		}
	}
	return true
}

func decodeObject(body []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return out, nil
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mocks: marshal seed: %v", err))
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("mocks: seed must be a JSON object: %v", err))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
