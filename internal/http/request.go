package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Request is one call to the service. Path is relative to the client's
// base URL.
type Request struct {
	Method string
	Path   string
	Header map[string]string
	Body   []byte
}

// NewRequest returns a request without a body.
func NewRequest(method, path string) *Request {
	return &Request{Method: method, Path: path, Header: map[string]string{}}
}

// SetHeader sets a request header, replacing a client default of the same
// name.
func (r *Request) SetHeader(key, value string) *Request {
	r.Header[key] = value
	return r
}

// SetJSON encodes v as the body.
func (r *Request) SetJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s %s body: %w", r.Method, r.Path, err)
	}
	r.Body = b
	r.Header["Content-Type"] = "application/json"
	return nil
}

func (r *Request) String() string {
	return r.Method + " " + r.Path
}

// resolve joins the request path onto base, keeping any path prefix of base
// (e.g. a gateway mount point).
func (r *Request) resolve(base *url.URL) *url.URL {
	u := *base
	rel, query, _ := strings.Cut(r.Path, "?")
	u.Path = path.Join("/", base.Path, rel)
	if strings.HasSuffix(rel, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = query
	return &u
}

func (r *Request) httpRequest(ctx context.Context, base *url.URL, defaults map[string]string) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.resolve(base).String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range defaults {
		req.Header.Set(k, v)
	}
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	return req, nil
}
