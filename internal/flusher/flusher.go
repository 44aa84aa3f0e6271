// Package flusher implements the stream runtime that reads JSON documents,
// buffers them into flushes, and hands each flush to the HTTP sink client.
// Records the sink could not deliver are spooled for a later replay.
package flusher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/developingchet/http-sink/internal/config"
	"github.com/developingchet/http-sink/internal/envelope"
	"github.com/developingchet/http-sink/internal/header"
	"github.com/developingchet/http-sink/internal/metrics"
	"github.com/developingchet/http-sink/internal/security"
	"github.com/developingchet/http-sink/internal/sink"
	"github.com/developingchet/http-sink/internal/sink/httpclient"
	"github.com/developingchet/http-sink/internal/statuscode"
	"github.com/developingchet/http-sink/internal/storage"
)

// maxLineBytes bounds a single input document.
const maxLineBytes = 16 << 20

// Deliverer is the part of the sink client the runtime depends on.
type Deliverer interface {
	PutRequests(ctx context.Context, records []sink.Record, endpointURL string) (*sink.Result, error)
	Close() error
}

// Flusher connects an input stream to the sink client.
type Flusher struct {
	cfg     *config.Config
	client  Deliverer
	spool   storage.Spool // nil when DataDir == ""
	httpSrv *http.Server  // nil when MetricsAddr == ""
}

// ReplayStats summarises one replay pass.
type ReplayStats struct {
	Delivered int
	Failed    int
}

// New builds the sink client from cfg and opens the spool.
func New(cfg *config.Config) (*Flusher, error) {
	client, err := BuildClient(cfg)
	if err != nil {
		return nil, err
	}

	var spool storage.Spool
	if cfg.DataDir != "" {
		s, err := storage.Open(filepath.Join(cfg.DataDir, "spool.db"))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		spool = s
	}

	return NewWith(cfg, client, spool), nil
}

// NewWith wires an existing client and spool. spool may be nil.
func NewWith(cfg *config.Config, client Deliverer, spool storage.Spool) *Flusher {
	f := &Flusher{cfg: cfg, client: client, spool: spool}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if err := f.Healthy(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		f.httpSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	return f
}

// BuildClient assembles the sink HTTP client described by cfg.
func BuildClient(cfg *config.Config) (*httpclient.Client, error) {
	headers := header.FromProperties(cfg.Properties, config.HeaderPrefix)

	classifier, err := statuscode.New(cfg.ErrorCodeWhitelist, cfg.ErrorCodes)
	if err != nil {
		return nil, &sink.ConfigurationError{Key: "sink_error_codes", Err: err}
	}

	sealer, err := envelope.New(cfg.EncryptionMode, cfg.EncryptionPublicKey, cfg.EncryptionAppID)
	if err != nil {
		return nil, &sink.ConfigurationError{Key: "sink_encryption_public_key", Err: err}
	}

	tlsCfg, err := security.BuildTLSConfig(security.TrustConfig{
		ServerTrustedCerts: cfg.TrustedCerts(),
		AllowSelfSigned:    cfg.AllowSelfSigned,
		ClientCert:         cfg.ClientCert,
		ClientPrivateKey:   cfg.ClientPrivateKey,
		KeyStorePath:       cfg.KeyStorePath,
		KeyStorePassword:   cfg.KeyStorePassword,
	})
	if err != nil {
		return nil, err
	}

	callback, err := httpclient.CallbackByName(cfg.Callback)
	if err != nil {
		return nil, err
	}

	return httpclient.New(httpclient.Options{
		Mode:      cfg.Mode,
		BatchSize: cfg.BatchSize,
		Timeout:   cfg.Timeout(),
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.WorkerBuffer,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		TLS:       tlsCfg,
		Headers:   headers,
		Sealer:    sealer,
	}, classifier, callback)
}

// Run reads newline-delimited JSON documents from r until EOF or ctx is
// cancelled. Records still buffered when either happens are flushed before
// Run returns. Encoding, encryption, and callback failures stop the run.
//
// On cancellation r is closed if it is an io.Closer, which unblocks a
// pending read on pipes, sockets and pollable files. A reader that cannot be
// interrupted, such as a blocking terminal, keeps the reading goroutine
// parked until its next line or process exit.
func (f *Flusher) Run(ctx context.Context, r io.Reader) error {
	f.startMetricsServer()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if f.spool != nil {
		metrics.SpoolRecords.Set(float64(f.spool.Len()))
		go runJanitor(janitorCtx, f.spool, f.cfg.JanitorInterval)
	}

	log.Info().
		Str("mode", f.cfg.Mode).
		Int("batch_size", f.cfg.BatchSize).
		Int("flush_max_records", f.cfg.FlushMaxRecords).
		Str("flush_interval", f.cfg.FlushInterval.String()).
		Str("encryption", f.cfg.EncryptionMode).
		Bool("spool", f.spool != nil).
		Str("log_level", f.cfg.LogLevel).
		Msg("sink started")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go readLines(ctx, r, lines, readErr)

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	buf := make([]sink.Record, 0, f.cfg.FlushMaxRecords)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		batch := buf
		buf = make([]sink.Record, 0, f.cfg.FlushMaxRecords)
		// Calls are detached from ctx; a shutdown still delivers what was read.
		return f.flush(context.WithoutCancel(ctx), batch)
	}

	for {
		select {
		case <-ctx.Done():
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}
			err := flush()
			log.Info().Msg("sink stopped")
			return err

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}

		case line, ok := <-lines:
			if !ok {
				if err := flush(); err != nil {
					return err
				}
				if err := <-readErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				log.Info().Msg("input exhausted")
				return nil
			}
			if !json.Valid(line) {
				metrics.RecordsSkipped.WithLabelValues("invalid-json").Inc()
				log.Debug().Int("bytes", len(line)).Msg("skipping invalid json line")
				continue
			}
			buf = append(buf, sink.Record{Method: f.cfg.InsertMethod, Body: line})
			if len(buf) >= f.cfg.FlushMaxRecords {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

// readLines sends each non-blank line of r on out, then closes out and
// reports the scanner error (nil on clean EOF) on errc.
func readLines(ctx context.Context, r io.Reader, out chan<- []byte, errc chan<- error) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			metrics.RecordsSkipped.WithLabelValues("blank").Inc()
			continue
		}
		cp := append([]byte(nil), line...)
		select {
		case out <- cp:
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- sc.Err()
}

// flush delivers one batch and spools whatever failed.
func (f *Flusher) flush(ctx context.Context, records []sink.Record) error {
	start := time.Now()
	res, err := f.client.PutRequests(ctx, records, f.cfg.URL)
	if err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		log.Error().Err(err).Int("records", len(records)).Msg("flush failed")
		return err
	}

	failed := res.FailedRecords()
	result := "ok"
	if len(failed) > 0 {
		result = "partial"
		f.park(failed)
	}
	metrics.Flushes.WithLabelValues(result).Inc()

	log.Info().
		Int("records", len(records)).
		Int("delivered", len(res.Successful)).
		Int("failed", len(failed)).
		Dur("took", time.Since(start)).
		Msg("flush complete")
	return nil
}

// park appends failed records to the spool, or logs them as dropped when
// no spool is configured.
func (f *Flusher) park(failed []sink.Record) {
	if f.spool == nil {
		log.Warn().Int("records", len(failed)).Msg("no spool configured, dropping failed records")
		return
	}
	if err := f.spool.Append(failed); err != nil {
		log.Error().Err(err).Int("records", len(failed)).Msg("spool append failed, dropping failed records")
		return
	}
	metrics.SpoolRecords.Set(float64(f.spool.Len()))
}

// ErrNoSpool is returned by Replay when DataDir is not configured.
var ErrNoSpool = errors.New("no spool configured (set DATA_DIR)")

// Replay drains records that were spooled before the pass started and
// delivers them again in FlushMaxRecords chunks. Records that fail again go
// back to the end of the spool and are not retried in the same pass.
func (f *Flusher) Replay(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats
	if f.spool == nil {
		return stats, ErrNoSpool
	}

	pending := f.spool.Len()
	log.Info().Int("records", pending).Msg("replay started")

	for pending > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n := f.cfg.FlushMaxRecords
		if n > pending {
			n = pending
		}
		batch, consumed, err := f.spool.Drain(n)
		if err != nil {
			return stats, fmt.Errorf("drain spool: %w", err)
		}
		if consumed == 0 {
			break
		}
		// Corrupt entries are consumed without yielding a record.
		pending -= consumed
		if len(batch) == 0 {
			continue
		}

		res, err := f.client.PutRequests(context.WithoutCancel(ctx), batch, f.cfg.URL)
		if err != nil {
			// Nothing was delivered; put the chunk back before giving up.
			if aerr := f.spool.Append(batch); aerr != nil {
				log.Error().Err(aerr).Int("records", len(batch)).Msg("spool append failed, dropping records")
			}
			metrics.Flushes.WithLabelValues("error").Inc()
			return stats, err
		}
		failed := res.FailedRecords()
		stats.Delivered += len(res.Successful)
		stats.Failed += len(failed)
		if len(failed) > 0 {
			f.park(failed)
			metrics.Flushes.WithLabelValues("partial").Inc()
		} else {
			metrics.Flushes.WithLabelValues("ok").Inc()
		}
	}

	metrics.SpoolRecords.Set(float64(f.spool.Len()))
	log.Info().
		Int("delivered", stats.Delivered).
		Int("failed", stats.Failed).
		Msg("replay complete")
	return stats, nil
}

// Healthy checks that the sink endpoint accepts TCP connections.
func (f *Flusher) Healthy(ctx context.Context) error {
	return CheckEndpoint(ctx, f.cfg.URL)
}

// CheckEndpoint dials the host of rawURL. It needs no spool or client, so it
// is safe to call while another process holds the spool lock.
func CheckEndpoint(ctx context.Context, rawURL string) error {
	addr, err := dialAddr(rawURL)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("sink endpoint %s unreachable: %w", addr, err)
	}
	return conn.Close()
}

func dialAddr(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse sink url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("sink url %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Close performs graceful shutdown.
func (f *Flusher) Close() {
	if f.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.httpSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}
	if err := f.client.Close(); err != nil {
		log.Warn().Err(err).Msg("sink client close failed")
	}
	if f.spool != nil {
		if err := f.spool.Close(); err != nil {
			log.Warn().Err(err).Msg("spool close failed")
		}
	}
}

func (f *Flusher) startMetricsServer() {
	if f.httpSrv == nil {
		return
	}
	go func() {
		log.Info().Str("addr", f.cfg.MetricsAddr).Msg("metrics server listening")
		if err := f.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
}

// dbSize returns the size of the spool file, or false for in-memory spools.
func dbSize(spool storage.Spool) (int64, bool) {
	path := spool.DBPath()
	if path == "" {
		return 0, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
