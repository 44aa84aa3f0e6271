package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

// recordingServer captures every request body and answers with status(body).
type recordingServer struct {
	*httptest.Server
	mu      sync.Mutex
	bodies  []string
	methods []string
	headers []http.Header
}

func newRecordingServer(t *testing.T, status func(body string) int) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, string(b))
		rs.methods = append(rs.methods, r.Method)
		rs.headers = append(rs.headers, r.Header.Clone())
		rs.mu.Unlock()
		code := http.StatusOK
		if status != nil {
			code = status(string(b))
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) received() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, len(rs.bodies))
	copy(out, rs.bodies)
	return out
}

func (rs *recordingServer) receivedMethods() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.methods...)
}

func (rs *recordingServer) receivedHeaders() []http.Header {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]http.Header(nil), rs.headers...)
}

// deadURL returns the URL of a server that has already been shut down.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}
