package httpclient

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/http-sink/internal/sink"
)

const (
	CallbackLog  = "log"
	CallbackNone = "none"
)

// LogCallback logs every request/response pair at info level.
func LogCallback() sink.Callback {
	return sink.CallbackFunc(func(resp sink.OptionalResponse, req *sink.Request, endpointURL string, _ map[string]string) error {
		ev := log.Info().
			Str("id", req.ID).
			Str("endpoint", endpointURL).
			Str("method", req.Method).
			Int("records", len(req.Records)).
			Bytes("body", req.Body)
		if r, ok := resp.Get(); ok {
			ev.Int("http", r.StatusCode).
				Str("response", strings.ReplaceAll(string(r.Body), "\n", "")).
				Msg("got response for request")
			return nil
		}
		ev.Bool("response", false).Msg("got no response for request")
		return nil
	})
}

// NopCallback ignores every call.
func NopCallback() sink.Callback {
	return sink.CallbackFunc(func(sink.OptionalResponse, *sink.Request, string, map[string]string) error {
		return nil
	})
}

// CallbackByName resolves a configured callback name.
func CallbackByName(name string) (sink.Callback, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CallbackLog:
		return LogCallback(), nil
	case CallbackNone:
		return NopCallback(), nil
	default:
		return nil, &sink.ConfigurationError{Key: "sink_callback", Err: fmt.Errorf("unknown callback %q", name)}
	}
}
