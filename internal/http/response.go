package http

import (
	"net/http"

	"github.com/tidwall/gjson"
)

// Response is a received response with its body fully read.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timing     TimingInfo
}

// JSON returns the value at path in the body, using gjson path syntax.
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// IsJSON reports whether the body is valid JSON.
func (r *Response) IsJSON() bool {
	return gjson.ValidBytes(r.Body)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool { return r.StatusCode/100 == 2 }

// IsServerError reports a 5xx status.
func (r *Response) IsServerError() bool { return r.StatusCode/100 == 5 }
