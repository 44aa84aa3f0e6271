// Package httpclient delivers sink records over HTTP. It encodes records into
// requests, submits them through a per-record or batching strategy, and
// partitions the outcomes into delivered and failed records.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/developingchet/http-sink/internal/envelope"
	"github.com/developingchet/http-sink/internal/header"
	"github.com/developingchet/http-sink/internal/sink"
)

const (
	ModeSingle = "single"
	ModeBatch  = "batch"

	DefaultBatchSize = 500
	DefaultTimeout   = 30 * time.Second
)

// Options configures a submitter. It is captured once at construction.
type Options struct {
	Mode      string
	BatchSize int
	Timeout   time.Duration
	Workers   int // completion workers; does not bound open calls
	QueueSize int // completion queue depth
	RateLimit float64 // requests per second, 0 disables
	RateBurst int
	TLS       *tls.Config
	Headers   header.Set
	Sealer    envelope.Sealer
}

func (o Options) withDefaults() (Options, error) {
	o.Mode = strings.ToLower(strings.TrimSpace(o.Mode))
	if o.Mode == "" {
		o.Mode = ModeBatch
	}
	if o.Mode != ModeSingle && o.Mode != ModeBatch {
		return o, &sink.ConfigurationError{Key: "sink_mode", Err: fmt.Errorf("unknown mode %q", o.Mode)}
	}
	if o.Mode == ModeBatch && o.BatchSize <= 0 {
		return o, &sink.ConfigurationError{Key: "sink_batch_size", Err: fmt.Errorf("must be > 0, got %d", o.BatchSize)}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.RateLimit > 0 && o.RateBurst < 1 {
		o.RateBurst = 1
	}
	return o, nil
}

// NewSubmitter returns the submitter selected by opts.Mode.
func NewSubmitter(opts Options) (sink.Submitter, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	enc := NewEncoder(opts.Headers, opts.Sealer)
	d := newDispatcher(opts)
	if opts.Mode == ModeSingle {
		return &PerRequestSubmitter{enc: enc, d: d}, nil
	}
	return &BatchRequestSubmitter{enc: enc, d: d, maxBatchSize: opts.BatchSize}, nil
}

// PerRequestSubmitter issues one call per record.
type PerRequestSubmitter struct {
	enc *Encoder
	d   *dispatcher
}

var _ sink.Submitter = (*PerRequestSubmitter)(nil)

// Submit encodes every record before dispatching any of them, so an
// encoding or sealing failure sends nothing. Futures follow input order.
func (s *PerRequestSubmitter) Submit(ctx context.Context, endpointURL string, records []sink.Record) ([]*sink.Future, error) {
	if len(records) == 0 {
		return nil, nil
	}
	endpoint, err := ParseEndpoint(endpointURL)
	if err != nil {
		return nil, err
	}
	reqs := make([]*sink.Request, len(records))
	for i, rec := range records {
		if reqs[i], err = s.enc.EncodeRecord(rec, endpoint); err != nil {
			return nil, err
		}
	}
	return s.d.dispatchAll(ctx, reqs)
}

// Close implements sink.Submitter.
func (s *PerRequestSubmitter) Close() error {
	s.d.close()
	return nil
}

// BatchRequestSubmitter groups records into method-homogeneous JSON arrays.
type BatchRequestSubmitter struct {
	enc          *Encoder
	d            *dispatcher
	maxBatchSize int
}

var _ sink.Submitter = (*BatchRequestSubmitter)(nil)

// Submit issues one call per batch, with futures in batch order.
func (s *BatchRequestSubmitter) Submit(ctx context.Context, endpointURL string, records []sink.Record) ([]*sink.Future, error) {
	if len(records) == 0 {
		return nil, nil
	}
	endpoint, err := ParseEndpoint(endpointURL)
	if err != nil {
		return nil, err
	}
	batches := Partition(records, s.maxBatchSize)
	reqs := make([]*sink.Request, len(batches))
	for i, b := range batches {
		if reqs[i], err = s.enc.EncodeBatch(b, endpoint); err != nil {
			return nil, err
		}
	}
	return s.d.dispatchAll(ctx, reqs)
}

// Close implements sink.Submitter.
func (s *BatchRequestSubmitter) Close() error {
	s.d.close()
	return nil
}

// Partition splits records in a single pass. A new batch starts when the
// current one holds maxBatchSize records or the method changes (compared
// case-insensitively). Empty batches are never produced.
func Partition(records []sink.Record, maxBatchSize int) [][]sink.Record {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	var (
		out []sink.Record
		all [][]sink.Record
	)
	for _, r := range records {
		if len(out) == maxBatchSize || (len(out) > 0 && !out[0].SameMethod(r)) {
			all = append(all, out)
			out = nil
		}
		out = append(out, r)
	}
	if len(out) > 0 {
		all = append(all, out)
	}
	return all
}
