package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/developingchet/http-sink/internal/metrics"
	"github.com/developingchet/http-sink/internal/sink"
)

// maxResponseBody bounds how much of each response body is kept.
const maxResponseBody = 64 << 10

var respBufPool = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 4096)) },
}

// maxIdleConnsPerHost keeps enough warm connections for concurrent calls
// to one endpoint; the transport opens more on demand.
const maxIdleConnsPerHost = 64

var errClosed = errors.New("httpclient: submitter closed")

// dispatcher owns the transport shared by a submitter. Every call runs on
// its own goroutine; the worker pool only runs completion work. Each
// submitter holds its own dispatcher; there is no shared base type.
type dispatcher struct {
	mode      string
	client    *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	pool      *workerPool

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// outcome is what a finished call hands to the completion pool.
type outcome struct {
	env     sink.ResponseEnvelope
	err     error
	kind    string // transport error kind, "" when a response arrived
	elapsed time.Duration
}

func newDispatcher(opts Options) *dispatcher {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     opts.TLS,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
	}

	return &dispatcher{
		mode: opts.Mode,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		transport: base,
		limiter:   limiter,
		pool:      newWorkerPool(opts.Workers, opts.QueueSize),
	}
}

// dispatchAll starts one call per request and returns the futures in
// request order without waiting for any response. Either every request is
// started or, once the dispatcher is closed, none is. Calls are detached
// from ctx cancellation; only the client timeout bounds them.
func (d *dispatcher) dispatchAll(ctx context.Context, reqs []*sink.Request) ([]*sink.Future, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errClosed
	}

	callCtx := context.WithoutCancel(ctx)
	futures := make([]*sink.Future, len(reqs))
	d.inflight.Add(len(reqs))
	for i, req := range reqs {
		f, resolve := sink.NewFuture()
		futures[i] = f
		go d.call(callCtx, req, resolve)
	}
	return futures, nil
}

func (d *dispatcher) call(ctx context.Context, req *sink.Request, resolve func(sink.ResponseEnvelope, error)) {
	defer d.inflight.Done()
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Str("id", req.ID).Msg("rate limiter wait failed")
		}
	}

	out := d.do(ctx, req)
	complete := func() {
		d.record(req, out)
		resolve(out.env, out.err)
	}
	if err := d.pool.submit(complete); err != nil {
		complete()
	}
}

func (d *dispatcher) do(ctx context.Context, req *sink.Request) outcome {
	out := outcome{env: sink.ResponseEnvelope{Request: req, Response: sink.None()}}

	hr, err := req.NewHTTPRequest(ctx)
	if err != nil {
		out.err = &sink.EncodingError{Endpoint: req.Endpoint.String(), Err: err}
		return out
	}

	metrics.RequestsSent.WithLabelValues(d.mode).Inc()
	start := time.Now()
	resp, err := d.client.Do(hr)
	if err != nil {
		out.kind = transportErrorKind(err)
		out.env.Err = &sink.TransportError{Endpoint: req.Endpoint.String(), Err: err}
		return out
	}
	defer resp.Body.Close()

	buf := respBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer respBufPool.Put(buf)
	_, _ = io.Copy(buf, io.LimitReader(resp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())

	out.elapsed = time.Since(start)
	out.env.Response = sink.Some(&sink.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	})
	return out
}

// record publishes metrics and logs for a finished call.
func (d *dispatcher) record(req *sink.Request, out outcome) {
	if out.kind != "" {
		metrics.TransportErrors.WithLabelValues(out.kind).Inc()
		log.Warn().
			Err(out.env.Err).
			Str("id", req.ID).
			Str("type", out.kind).
			Int("records", len(req.Records)).
			Msg("request failed without response")
		return
	}
	resp, ok := out.env.Response.Get()
	if !ok {
		return
	}
	metrics.RequestDuration.Observe(out.elapsed.Seconds())
	log.Debug().
		Str("id", req.ID).
		Int("http", resp.StatusCode).
		Dur("took", out.elapsed).
		Msg("response received")
}

// close rejects new calls, waits for in-flight calls and their completion
// work, then releases idle connections.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.pool.stop()
	d.transport.CloseIdleConnections()
}

func transportErrorKind(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	var (
		verifyErr    *tls.CertificateVerificationError
		authErr      x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		recordHdrErr tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &verifyErr), errors.As(err, &authErr), errors.As(err, &hostErr),
		errors.As(err, &invalidErr), errors.As(err, &recordHdrErr):
		return "tls"
	}
	return "network"
}
