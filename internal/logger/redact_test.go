package logger

import (
	"bytes"
	"testing"
)

func TestRedactWriter_Write(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Redact Bearer Token",
			input:    "Authorization: Bearer my.secret.token",
			expected: "Authorization: bearer [REDACTED]",
		},
		{
			name:     "Redact Placeholder Bearer",
			input:    `{"Authorization":"Bearer your_token"}`,
			expected: `{"Authorization":"bearer [REDACTED]"}`,
		},
		{
			name:     "Redact Private Key",
			input:    "key=-----BEGIN RSA " + "PRIVATE KEY-----\nMIIEow\nAAAA\n-----END RSA PRIVATE KEY----- done",
			expected: "key=[REDACTED-PRIVATE-KEY] done",
		},
		{
			name:     "Redact API Key Header JSON",
			input:    `{"headers":{"X-Api-Key":"abc123"}}`,
			expected: `{"headers":{"X-Api-Key":"[REDACTED]"}}`,
		},
		{
			name:     "Redact API Key Header Pair",
			input:    "x-api-key=abc123 next",
			expected: "x-api-key=[REDACTED] next",
		},
		{
			name:     "Redact Keystore Password",
			input:    `{"tls_keystore_password":"hunter2"}`,
			expected: `{"tls_keystore_password":"[REDACTED]"}`,
		},
		{
			name:     "No Redaction Needed",
			input:    "sink started successfully",
			expected: "sink started successfully",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rw := NewRedactWriter(&buf)

			n, err := rw.Write([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != len(tt.input) {
				t.Errorf("expected length %d, got %d", len(tt.input), n)
			}
			if buf.String() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, buf.String())
			}
		})
	}
}
