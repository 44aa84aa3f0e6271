package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/developingchet/http-sink/internal/envelope"
	"github.com/developingchet/http-sink/internal/header"
	"github.com/developingchet/http-sink/internal/sink"
)

const (
	contentTypeJSON = "application/json"

	// placeholderAuthorization is overridden by any configured Authorization header.
	placeholderAuthorization = "Bearer your_token"
)

var (
	batchOpen  = []byte("[")
	batchSep   = []byte(",")
	batchClose = []byte("]")
)

// Encoder turns records into transport-ready requests. It holds no mutable
// state, so the same input always encodes to the same body.
type Encoder struct {
	headers header.Set
	sealer  envelope.Sealer
}

// NewEncoder returns an Encoder. A nil sealer means plain bodies.
func NewEncoder(headers header.Set, sealer envelope.Sealer) *Encoder {
	if sealer == nil {
		sealer = envelope.Plain{}
	}
	return &Encoder{headers: headers, sealer: sealer}
}

// ParseEndpoint validates an absolute http or https URL.
func ParseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &sink.EncodingError{Endpoint: raw, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &sink.EncodingError{Endpoint: raw, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &sink.EncodingError{Endpoint: raw, Err: errors.New("missing host")}
	}
	return u, nil
}

// EncodeRecord builds one request carrying a single record.
func (e *Encoder) EncodeRecord(rec sink.Record, endpoint *url.URL) (*sink.Request, error) {
	return e.build(rec.Method, [][]byte{rec.Body}, []sink.Record{rec}, endpoint)
}

// EncodeBatch builds one request whose body is the JSON array of the record
// bodies in input order. Record bodies are not validated.
func (e *Encoder) EncodeBatch(recs []sink.Record, endpoint *url.URL) (*sink.Request, error) {
	if len(recs) == 0 {
		return nil, &sink.EncodingError{Endpoint: endpoint.String(), Err: errors.New("empty batch")}
	}
	chunks := make([][]byte, 0, 2*len(recs)+1)
	chunks = append(chunks, batchOpen)
	for i, r := range recs {
		if i > 0 {
			chunks = append(chunks, batchSep)
		}
		chunks = append(chunks, r.Body)
	}
	chunks = append(chunks, batchClose)

	own := make([]sink.Record, len(recs))
	copy(own, recs)
	return e.build(recs[0].Method, chunks, own, endpoint)
}

func (e *Encoder) build(method string, chunks [][]byte, recs []sink.Record, endpoint *url.URL) (*sink.Request, error) {
	body := bytes.Join(chunks, nil)
	sealed, err := e.sealer.Seal(body)
	if err != nil {
		return nil, err
	}
	if _, plain := e.sealer.(envelope.Plain); !plain {
		chunks = [][]byte{sealed}
	}

	h := make(http.Header, e.headers.Len()+2)
	h.Set("Content-Type", contentTypeJSON)
	h.Set("Authorization", placeholderAuthorization)
	e.headers.ApplyTo(h)

	return &sink.Request{
		ID:       uuid.NewString(),
		Method:   method,
		Endpoint: endpoint,
		Body:     sealed,
		Chunks:   chunks,
		Header:   h,
		Records:  recs,
	}, nil
}
