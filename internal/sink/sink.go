// Package sink defines the records, requests, and outcomes exchanged between
// the stream runtime and the HTTP delivery pipeline.
package sink

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Record is a single logical event to deliver. Treat it as immutable once
// created.
type Record struct {
	Method string `json:"method"`
	Body   []byte `json:"body"`
}

// SizeInBytes returns the length of the record body.
func (r Record) SizeInBytes() int { return len(r.Body) }

// Equal reports whether two records carry the same method and body.
func (r Record) Equal(o Record) bool {
	return r.Method == o.Method && bytes.Equal(r.Body, o.Body)
}

// SameMethod compares HTTP methods case-insensitively.
func (r Record) SameMethod(o Record) bool {
	return strings.EqualFold(r.Method, o.Method)
}

// Request is an encoded, transport-ready request built from one or more
// records. Header is private to the request and may be mutated by its owner.
type Request struct {
	ID       string
	Method   string
	Endpoint *url.URL
	Body     []byte
	Chunks   [][]byte
	Header   http.Header
	Records  []Record
}

// NewHTTPRequest builds the transport request. The body is always POSTed;
// Method records the method shared by the constituent records.
func (r *Request) NewHTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	return req, nil
}

// Response is the captured outcome of a request that reached the server.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OptionalResponse is present when a response was received and absent when
// the call failed before one arrived.
type OptionalResponse struct {
	resp *Response
}

// Some wraps a received response.
func Some(r *Response) OptionalResponse { return OptionalResponse{resp: r} }

// None is the absent response.
func None() OptionalResponse { return OptionalResponse{} }

// Get returns the response and whether it is present.
func (o OptionalResponse) Get() (*Response, bool) { return o.resp, o.resp != nil }

// Present reports whether a response was received.
func (o OptionalResponse) Present() bool { return o.resp != nil }

// ResponseEnvelope pairs an issued request with its outcome. Err holds the
// transport failure when Response is absent.
type ResponseEnvelope struct {
	Request  *Request
	Response OptionalResponse
	Err      error
}

// Entry is one record of a flush together with the request that carried it.
type Entry struct {
	Record  Record
	Request *Request
}

// Result partitions every submitted record into successful and failed.
type Result struct {
	Successful []Entry
	Failed     []Entry
}

// Len returns the number of records in the partition.
func (r *Result) Len() int { return len(r.Successful) + len(r.Failed) }

// SuccessfulRecords returns the records that were delivered.
func (r *Result) SuccessfulRecords() []Record { return records(r.Successful) }

// FailedRecords returns the records the caller should retry.
func (r *Result) FailedRecords() []Record { return records(r.Failed) }

func records(entries []Entry) []Record {
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.Record
	}
	return out
}

// Submitter issues requests for a list of records, returning one future per
// unit of work in creation order.
type Submitter interface {
	Submit(ctx context.Context, endpointURL string, records []Record) ([]*Future, error)

	// Close stops accepting work and waits for in-flight calls.
	Close() error
}

// Callback observes every resolved call. An error aborts the flush.
type Callback interface {
	Call(resp OptionalResponse, req *Request, endpointURL string, headers map[string]string) error
}

// CallbackFunc adapts a function to the Callback interface.
type CallbackFunc func(resp OptionalResponse, req *Request, endpointURL string, headers map[string]string) error

// Call implements Callback.
func (f CallbackFunc) Call(resp OptionalResponse, req *Request, endpointURL string, headers map[string]string) error {
	return f(resp, req, endpointURL, headers)
}

// Classifier decides whether a status code is a delivery failure.
type Classifier interface {
	IsError(statusCode int) bool
}
