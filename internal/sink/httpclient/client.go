package httpclient

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/http-sink/internal/header"
	"github.com/developingchet/http-sink/internal/metrics"
	"github.com/developingchet/http-sink/internal/sink"
	"github.com/developingchet/http-sink/internal/statuscode"
)

// Client submits flushes and reports per-record outcomes.
type Client struct {
	submitter  sink.Submitter
	classifier sink.Classifier
	callback   sink.Callback
	headers    header.Set
}

// New builds the submitter from opts and wraps it in a Client.
func New(opts Options, classifier sink.Classifier, callback sink.Callback) (*Client, error) {
	sub, err := NewSubmitter(opts)
	if err != nil {
		return nil, err
	}
	return NewClient(sub, classifier, callback, opts.Headers), nil
}

// NewClient wires an existing submitter. A nil classifier treats 4xx and 5xx
// as failures; a nil callback does nothing.
func NewClient(sub sink.Submitter, classifier sink.Classifier, callback sink.Callback, headers header.Set) *Client {
	if classifier == nil {
		classifier, _ = statuscode.New("", "")
	}
	if callback == nil {
		callback = NopCallback()
	}
	return &Client{
		submitter:  sub,
		classifier: classifier,
		callback:   callback,
		headers:    headers,
	}
}

// PutRequests submits records to endpointURL and blocks until every call
// has resolved. The returned Result contains every input record exactly
// once. Transport failures land in Result.Failed; encoding, sealing, and
// callback failures abort the flush with an error and no Result.
//
// Cancelling ctx does not abort calls already issued.
func (c *Client) PutRequests(ctx context.Context, records []sink.Record, endpointURL string) (*sink.Result, error) {
	res := &sink.Result{}
	if len(records) == 0 {
		return res, nil
	}

	futures, err := c.submitter.Submit(ctx, endpointURL, records)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	envs, err := sink.WaitAll(futures)
	if err != nil {
		return nil, fmt.Errorf("await: %w", err)
	}

	for _, env := range envs {
		if err := c.callback.Call(env.Response, env.Request, endpointURL, c.headers.Map()); err != nil {
			log.Error().Err(err).Str("id", env.Request.ID).Str("endpoint", endpointURL).Msg("callback failed")
			return nil, &sink.CallbackError{RequestID: env.Request.ID, Err: err}
		}

		failed := true
		if resp, ok := env.Response.Get(); ok {
			failed = c.classifier.IsError(resp.StatusCode)
		}
		for _, rec := range env.Request.Records {
			e := sink.Entry{Record: rec, Request: env.Request}
			if failed {
				res.Failed = append(res.Failed, e)
			} else {
				res.Successful = append(res.Successful, e)
			}
		}
	}

	metrics.Records.WithLabelValues("success").Add(float64(len(res.Successful)))
	metrics.Records.WithLabelValues("failed").Add(float64(len(res.Failed)))
	return res, nil
}

// Close stops the submitter after in-flight calls finish.
func (c *Client) Close() error {
	return c.submitter.Close()
}
