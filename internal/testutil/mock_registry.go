// Package testutil provides testing utilities for the declaration registry
// client and the harvest pipeline.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockRegistryResponse defines the behavior for a mock registry endpoint.
type MockRegistryResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRegistry is a configurable mock declaration registry server.
type MockRegistry struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	ListRequestCount  int
	LastRequestHeader http.Header
	UserAgents        []string
}

// NewMockRegistry creates a new mock registry server.
func NewMockRegistry() *MockRegistry {
	mock := &MockRegistry{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.UserAgents = append(mock.UserAgents, r.Header.Get("User-Agent"))
		if strings.HasPrefix(r.URL.Path, "/documents/list") {
			mock.ListRequestCount++
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockRegistry) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRegistry) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockRegistry) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ListRequestCount = 0
	m.LastRequestHeader = nil
	m.UserAgents = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockRegistry) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockRegistry) SetResponse(path string, resp MockRegistryResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListResponse configures the document list endpoint.
func (m *MockRegistry) SetListResponse(resp MockRegistryResponse) {
	m.SetResponse("/documents/list", resp)
}

// SetDocumentResponse configures the detail endpoint for one document.
func (m *MockRegistry) SetDocumentResponse(documentID string, resp MockRegistryResponse) {
	m.SetResponse("/documents/"+documentID, resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockRegistry) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetUserAgents returns the User-Agent header of every request, in order.
func (m *MockRegistry) GetUserAgents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.UserAgents...)
}

// defaultHandler answers with an empty document list.
func (m *MockRegistry) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`[]`))
}

// NewListResponse creates a 200 OK list response from summary JSON objects.
func NewListResponse(items ...string) MockRegistryResponse {
	return MockRegistryResponse{
		StatusCode: http.StatusOK,
		Body:       "[" + strings.Join(items, ",") + "]",
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewSummaryItem builds one summary object for a list response.
func NewSummaryItem(documentID, declarantName string, year int) string {
	return fmt.Sprintf(`{"id": %q, "declarant_name": %q, "declaration_year": %d}`,
		documentID, declarantName, year)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockRegistryResponse {
	return MockRegistryResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "too many requests"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockRegistryResponse {
	return MockRegistryResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockRegistryResponse {
	return MockRegistryResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "document not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
