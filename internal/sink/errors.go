package sink

import "fmt"

// TransportError is a network-level failure: refused connection, timeout,
// TLS handshake failure. It is absorbed into the failed partition.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodingError means a request could not be built, for instance because
// the endpoint URL is malformed.
type EncodingError struct {
	Endpoint string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding: endpoint %q: %v", e.Endpoint, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// EncryptionError means a body could not be sealed. The record must not be
// sent.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption: %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// CallbackError wraps a failure of the post-request callback.
type CallbackError struct {
	RequestID string
	Err       error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback: request %s: %v", e.RequestID, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// ConfigurationError is returned at construction time, before any traffic.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration: %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
