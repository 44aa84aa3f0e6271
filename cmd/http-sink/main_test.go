package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developingchet/http-sink/internal/config"
	"github.com/developingchet/http-sink/internal/flusher"
	"github.com/developingchet/http-sink/internal/storage"
)

type stubRuntime struct {
	runFn    func(context.Context, io.Reader) error
	replayFn func(context.Context) (flusher.ReplayStats, error)
	closeN   atomic.Int32
}

func (s *stubRuntime) Run(ctx context.Context, r io.Reader) error {
	if s.runFn != nil {
		return s.runFn(ctx, r)
	}
	return nil
}

func (s *stubRuntime) Replay(ctx context.Context) (flusher.ReplayStats, error) {
	if s.replayFn != nil {
		return s.replayFn(ctx)
	}
	return flusher.ReplayStats{}, nil
}

func (s *stubRuntime) Close() {
	s.closeN.Add(1)
}

func installMainSeams(t *testing.T) {
	t.Helper()
	origLoad := loadConfig
	origRegister := registerMetrics
	origSignal := newSignalContext
	origNew := newRuntime
	origInput := openInput
	origCheck := checkEndpoint
	t.Cleanup(func() {
		loadConfig = origLoad
		registerMetrics = origRegister
		newSignalContext = origSignal
		newRuntime = origNew
		openInput = origInput
		checkEndpoint = origCheck
	})
	registerMetrics = func() {}
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(parent)
	}
	openInput = func(string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	}
}

func TestVersionCmd_PrintsVersionInfo(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, out.String(), "http-sink")
}

func TestHelpFlag_PrintsUsage(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Usage")
	assert.Contains(t, out.String(), "replay")
}

func TestRunSink_LoadConfigError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return nil, errors.New("bad config")
	}

	err := runSink(nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestRunSink_OpenInputError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogLevel: "info", LogFormat: "json"}, nil
	}
	openInput = func(string) (io.ReadCloser, error) { return nil, errors.New("no such file") }

	err := runSink(nil, "/missing.ndjson")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open input")
}

func TestRunSink_RuntimeInitError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogLevel: "info", LogFormat: "json"}, nil
	}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) {
		return nil, errors.New("init fail")
	}

	err := runSink(nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink init")
}

func TestRunSink_RunAndCloseOnCancel(t *testing.T) {
	installMainSeams(t)
	cfg := &config.Config{LogLevel: "debug", LogFormat: "text"}
	loadConfig = func() (*config.Config, error) { return cfg, nil }

	var registered bool
	registerMetrics = func() { registered = true }

	rt := &stubRuntime{}
	rt.runFn = func(ctx context.Context, _ io.Reader) error {
		<-ctx.Done()
		return nil
	}
	newRuntime = func(c *config.Config) (runtimeSink, error) {
		assert.Same(t, cfg, c)
		return rt, nil
	}
	newSignalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(parent)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		return ctx, func() {}
	}

	err := runSink(nil, "")
	require.NoError(t, err)
	assert.True(t, registered)
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestRunSink_PropagatesRunError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogLevel: "info", LogFormat: "json"}, nil
	}

	rt := &stubRuntime{
		runFn: func(context.Context, io.Reader) error { return errors.New("run failed") },
	}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) { return rt, nil }

	err := runSink(nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run failed")
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestRunCmd_InputFlagReachesRuntime(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogLevel: "info", LogFormat: "json"}, nil
	}
	var gotPath string
	openInput = func(path string) (io.ReadCloser, error) {
		gotPath = path
		return io.NopCloser(strings.NewReader("{\"a\":1}\n")), nil
	}
	var gotInput string
	rt := &stubRuntime{runFn: func(_ context.Context, r io.Reader) error {
		b, err := io.ReadAll(r)
		gotInput = string(b)
		return err
	}}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) { return rt, nil }

	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--input", "/data/in.ndjson"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/data/in.ndjson", gotPath)
	assert.Equal(t, "{\"a\":1}\n", gotInput)
}

func TestRunReplay_PrintsStats(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogLevel: "info", LogFormat: "json"}, nil
	}
	rt := &stubRuntime{replayFn: func(context.Context) (flusher.ReplayStats, error) {
		return flusher.ReplayStats{Delivered: 4, Failed: 1}, nil
	}}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) { return rt, nil }

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, runReplay(cmd, nil))
	assert.Equal(t, "replayed 4 record(s), 1 failed\n", out.String())
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestRunReplay_Errors(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) { return nil, errors.New("bad config") }
	err := runReplay(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")

	loadConfig = func() (*config.Config, error) {
		return &config.Config{LogLevel: "info", LogFormat: "json"}, nil
	}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) { return nil, errors.New("init fail") }
	err = runReplay(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink init")

	rt := &stubRuntime{replayFn: func(context.Context) (flusher.ReplayStats, error) {
		return flusher.ReplayStats{}, flusher.ErrNoSpool
	}}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) { return rt, nil }
	assert.ErrorIs(t, runReplay(nil, nil), flusher.ErrNoSpool)
	assert.EqualValues(t, 1, rt.closeN.Load())
}

func TestRunHealthcheck_LoadConfigError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return nil, errors.New("bad config")
	}

	err := runHealthcheck(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestRunHealthcheck_DialsConfiguredURLOnly(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{URL: "https://collector.example.com/ingest", LogFormat: "json"}, nil
	}
	newRuntime = func(cfg *config.Config) (runtimeSink, error) {
		t.Fatal("healthcheck must not build the runtime")
		return nil, nil
	}
	var gotURL string
	checkEndpoint = func(ctx context.Context, rawURL string) error {
		gotURL = rawURL
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(10*time.Second), deadline, 500*time.Millisecond)
		return nil
	}

	require.NoError(t, runHealthcheck(nil, nil))
	assert.Equal(t, "https://collector.example.com/ingest", gotURL)
}

func TestRunHealthcheck_PropagatesDialError(t *testing.T) {
	installMainSeams(t)
	loadConfig = func() (*config.Config, error) {
		return &config.Config{URL: "http://127.0.0.1:1/ingest", LogFormat: "json"}, nil
	}
	checkEndpoint = func(context.Context, string) error { return errors.New("unreachable") }

	err := runHealthcheck(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestRunHealthcheck_SucceedsWhileSpoolIsLocked(t *testing.T) {
	installMainSeams(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	held, err := storage.Open(filepath.Join(dir, "spool.db"))
	require.NoError(t, err)
	defer held.Close()

	loadConfig = func() (*config.Config, error) {
		return &config.Config{URL: srv.URL, DataDir: dir, LogFormat: "json"}, nil
	}

	start := time.Now()
	require.NoError(t, runHealthcheck(nil, nil))
	assert.Less(t, time.Since(start), time.Second, "healthcheck must not wait on the spool lock")
}

func TestInitLogging_SetsExpectedGlobalLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "trace", want: zerolog.TraceLevel},
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "warning", want: zerolog.WarnLevel},
		{level: "error", want: zerolog.ErrorLevel},
		{level: "info", want: zerolog.InfoLevel},
		{level: "nope", want: zerolog.InfoLevel},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			initLogging(tc.level, "json")
			assert.Equal(t, tc.want, zerolog.GlobalLevel())
		})
	}
}

func TestInitLogging_TextFormat(t *testing.T) {
	assert.NotPanics(t, func() {
		initLogging("info", "text")
	})
}

func TestMain_SubprocessVersion_ExitZero(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestMain_SubprocessHelper")
	cmd.Env = append(os.Environ(),
		"GO_WANT_MAIN_PROCESS=1",
		"MAIN_TEST_CASE=version",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Contains(t, string(out), "http-sink")
}

func TestMain_SubprocessConfigError_ExitOne(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestMain_SubprocessHelper")
	cmd.Env = append(os.Environ(),
		"GO_WANT_MAIN_PROCESS=1",
		"MAIN_TEST_CASE=config-error",
		"SINK_URL=",
		"CONFIG_FILE=",
	)
	out, err := cmd.CombinedOutput()
	require.Error(t, err, "expected os.Exit(1)")
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.True(t, strings.Contains(string(out), "fatal") || strings.Contains(string(out), "configuration"))
}

func TestMain_SubprocessHelper(t *testing.T) {
	if os.Getenv("GO_WANT_MAIN_PROCESS") != "1" {
		return
	}

	switch os.Getenv("MAIN_TEST_CASE") {
	case "version":
		os.Args = []string{"http-sink", "version"}
	case "config-error":
		os.Args = []string{"http-sink"}
	default:
		t.Fatalf("unknown MAIN_TEST_CASE")
	}

	main()
}

func TestDefaultSeams_AreCallable(t *testing.T) {
	// Exercise default seam implementations so their function literals are covered.
	ctx, cancel := newSignalContext(context.Background())
	cancel()
	<-ctx.Done()

	cfg := &config.Config{
		URL:             "http://127.0.0.1:8080/ingest",
		InsertMethod:    "POST",
		Mode:            "batch",
		BatchSize:       10,
		TimeoutSecs:     1,
		WorkerCount:     1,
		WorkerBuffer:    1,
		RateBurst:       1,
		Callback:        "none",
		EncryptionMode:  "plain",
		FlushMaxRecords: 10,
		FlushInterval:   time.Second,
		DataDir:         t.TempDir(),
		JanitorInterval: time.Minute,
	}
	rt, err := newRuntime(cfg)
	require.NoError(t, err)
	rt.Close()

	path := filepath.Join(t.TempDir(), "in.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	f, err := openInput(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stdin, err := openInput("-")
	require.NoError(t, err)
	assert.Same(t, os.Stdin, stdin, "stdin is passed through so Run can close it on cancel")

	_, err = openInput(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
