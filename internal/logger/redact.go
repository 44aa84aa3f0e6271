// Package logger provides log output helpers, including a secret-masking writer.
package logger

import (
	"io"
	"regexp"
)

var redactPatterns = []struct {
	re          *regexp.Regexp
	replacement []byte
}{
	// Bearer tokens in Authorization headers or log fields.
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), []byte("bearer [REDACTED]")},
	// PEM private keys, e.g. a misconfigured TLS_CLIENT_PRIVATE_KEY echoed back.
	{regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), []byte("[REDACTED-PRIVATE-KEY]")},
	// API key style headers rendered as JSON fields or key=value pairs.
	{regexp.MustCompile(`(?i)("?x-api-key"?\s*[:=]\s*"?)[^"\s,}]+`), []byte("${1}[REDACTED]")},
	{regexp.MustCompile(`(?i)("?(?:keystore_)?password"?\s*[:=]\s*"?)[^"\s,}]+`), []byte("${1}[REDACTED]")},
}

type RedactWriter struct{ w io.Writer }

func NewRedactWriter(w io.Writer) *RedactWriter { return &RedactWriter{w: w} }

func (r *RedactWriter) Write(p []byte) (int, error) {
	out := p
	for _, pat := range redactPatterns {
		out = pat.re.ReplaceAll(out, pat.replacement)
	}
	_, err := r.w.Write(out)
	return len(p), err
}
