package api

import (
	"net/http"
	"strconv"
)

// HeaderMap is the filter's view of a request or response header block.
// Lookups are by lowercased name; Get returns the first value.
type HeaderMap interface {
	Get(name string) (string, bool)
	Values(name string) []string
	Add(name, value string)
	Set(name, value string)
	Remove(name string)
	Range(f func(name, value string) bool)

	// Status reads the :status pseudo-header. It reports false on request
	// header maps.
	Status() (int, bool)
	SetStatus(code int)
}

// httpHeaderMap adapts net/http headers to HeaderMap. An optional status
// pointer backs the :status pseudo-header on response maps.
type httpHeaderMap struct {
	h      http.Header
	status *int
}

// NewRequestHeaderMap wraps request headers.
func NewRequestHeaderMap(h http.Header) HeaderMap {
	return &httpHeaderMap{h: h}
}

// NewResponseHeaderMap wraps response headers together with the response
// status code slot.
func NewResponseHeaderMap(h http.Header, status *int) HeaderMap {
	return &httpHeaderMap{h: h, status: status}
}

func (m *httpHeaderMap) Get(name string) (string, bool) {
	if name == ":status" && m.status != nil {
		return strconv.Itoa(*m.status), true
	}
	vs := m.h.Values(name)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (m *httpHeaderMap) Values(name string) []string { return m.h.Values(name) }

func (m *httpHeaderMap) Add(name, value string) { m.h.Add(name, value) }

func (m *httpHeaderMap) Set(name, value string) { m.h.Set(name, value) }

func (m *httpHeaderMap) Remove(name string) { m.h.Del(name) }

func (m *httpHeaderMap) Range(f func(name, value string) bool) {
	for k, vs := range m.h {
		for _, v := range vs {
			if !f(k, v) {
				return
			}
		}
	}
}

func (m *httpHeaderMap) Status() (int, bool) {
	if m.status == nil {
		return 0, false
	}
	return *m.status, true
}

func (m *httpHeaderMap) SetStatus(code int) {
	if m.status != nil {
		*m.status = code
	}
}

// SetContentLength sets Content-Length to n on the map.
func SetContentLength(m HeaderMap, n int) {
	m.Set("Content-Length", strconv.Itoa(n))
}
