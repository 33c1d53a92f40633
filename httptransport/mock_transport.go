package httptransport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// RecordedRequest is a request captured by MockTransport, body included.
type RecordedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// MockTransport is a scripted http.RoundTripper for tests of services built
// on a Transport. Stubs are checked in registration order and the first
// match answers. Requests nothing matches fail with an error.
//
//	mock := httptransport.NewMockTransport().
//	    StubSequence(http.MethodGet, "/v1/me",
//	        httptransport.MockResponse{Status: http.StatusUnauthorized},
//	        httptransport.MockResponse{Status: http.StatusOK, Body: `{"id":"1"}`},
//	    )
//	t := httptransport.New(httptransport.WithRoundTripper(mock))
type MockTransport struct {
	mu       sync.Mutex
	stubs    []*stub
	fallback *stub
	requests []RecordedRequest
	hook     func(RecordedRequest)
}

// MockResponse is one scripted answer. A non-nil Err fails the round trip.
type MockResponse struct {
	Status int
	Header http.Header
	Body   string
	Err    error
}

type stub struct {
	method    string
	path      string
	responses []MockResponse
	next      int
}

func (s *stub) matches(req *http.Request) bool {
	return (s.method == "" || s.method == req.Method) &&
		(s.path == "" || s.path == req.URL.Path)
}

// answer returns the next scripted response; the last one repeats.
func (s *stub) answer() MockResponse {
	r := s.responses[s.next]
	if s.next < len(s.responses)-1 {
		s.next++
	}
	return r
}

// NewMockTransport returns a MockTransport with no stubs.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubJSON answers every otherwise unmatched request with a JSON body.
func (m *MockTransport) StubJSON(status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{responses: []MockResponse{jsonResponse(status, body)}}
	return m
}

// StubError fails every otherwise unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{responses: []MockResponse{{Err: err}}}
	return m
}

// StubPath answers requests for path, any method, with a JSON body.
func (m *MockTransport) StubPath(path string, status int, body string) *MockTransport {
	return m.add(&stub{path: path, responses: []MockResponse{jsonResponse(status, body)}})
}

// StubMethod answers requests with method, any path, with a JSON body.
func (m *MockTransport) StubMethod(method string, status int, body string) *MockTransport {
	return m.add(&stub{method: method, responses: []MockResponse{jsonResponse(status, body)}})
}

// StubSequence answers successive matching requests with responses in
// order, repeating the last one. An empty method or path matches anything.
// Responses without a Content-Type header are sent as JSON.
func (m *MockTransport) StubSequence(method, path string, responses ...MockResponse) *MockTransport {
	if len(responses) == 0 {
		return m
	}
	return m.add(&stub{method: method, path: path, responses: responses})
}

// OnRequest registers fn to observe every request before it is answered.
func (m *MockTransport) OnRequest(fn func(RecordedRequest)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

func (m *MockTransport) add(s *stub) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, s)
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := RecordedRequest{Method: req.Method, URL: req.URL, Header: req.Header.Clone()}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		rec.Body = body
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	hook := m.hook
	answer, ok := m.match(req)
	m.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	if !ok {
		return nil, fmt.Errorf("mock transport: no stub for %s %s", req.Method, req.URL.Redacted())
	}
	if answer.Err != nil {
		return nil, answer.Err
	}

	header := answer.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get("Content-Type") == "" && answer.Body != "" {
		header.Set("Content-Type", "application/json")
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", answer.Status, http.StatusText(answer.Status)),
		StatusCode:    answer.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(answer.Body)),
		ContentLength: int64(len(answer.Body)),
		Request:       req,
	}, nil
}

func (m *MockTransport) match(req *http.Request) (MockResponse, bool) {
	for _, s := range m.stubs {
		if s.matches(req) {
			return s.answer(), true
		}
	}
	if m.fallback != nil {
		return m.fallback.answer(), true
	}
	return MockResponse{}, false
}

// Requests returns every request seen so far.
func (m *MockTransport) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests seen.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the latest request and false when there is none.
func (m *MockTransport) LastRequest() (RecordedRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Reset drops stubs, recorded requests and the hook.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = nil
	m.fallback = nil
	m.requests = nil
	m.hook = nil
}

func jsonResponse(status int, body string) MockResponse {
	return MockResponse{
		Status: status,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}
}
