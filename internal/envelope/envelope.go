// Package envelope transforms request bodies before they are sent. The
// plain mode passes bodies through; the xsyk mode wraps and signs them.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/developingchet/http-sink/internal/sink"
)

const (
	ModePlain = "plain"
	ModeXSYK  = "xsyk"

	// DefaultAppID is used when no application id is configured.
	DefaultAppID = "CG001"
)

var errNotJSON = errors.New("body is not valid JSON")

// Sealer transforms a request body. Implementations must be safe for
// concurrent use.
type Sealer interface {
	Seal(body []byte) ([]byte, error)
}

// Plain is the identity transform.
type Plain struct{}

// Seal returns body unchanged.
func (Plain) Seal(body []byte) ([]byte, error) { return body, nil }

// XSYK wraps a JSON body with the application id and a timestamp, then
// signs the wrapper with the configured encrypter.
type XSYK struct {
	AppID     string
	Encrypter Encrypter

	// Now defaults to time.Now.
	Now func() time.Time
}

type signedEnvelope struct {
	Data      json.RawMessage `json:"data"`
	AppID     string          `json:"appId"`
	Timestamp string          `json:"timestamp"`
	Sign      string          `json:"sign,omitempty"`
}

// Seal implements Sealer. It never returns a body that has not been signed.
func (x *XSYK) Seal(body []byte) ([]byte, error) {
	if !json.Valid(body) {
		return nil, &sink.EncryptionError{Op: "parse", Err: errNotJSON}
	}
	now := time.Now
	if x.Now != nil {
		now = x.Now
	}

	env := signedEnvelope{
		Data:      json.RawMessage(body),
		AppID:     x.AppID,
		Timestamp: strconv.FormatInt(now().UnixMilli(), 10),
	}
	plain, err := json.Marshal(env)
	if err != nil {
		return nil, &sink.EncryptionError{Op: "marshal", Err: err}
	}
	cipher, err := x.Encrypter.Encrypt(plain)
	if err != nil {
		return nil, &sink.EncryptionError{Op: "encrypt", Err: err}
	}
	env.Sign = base64.StdEncoding.EncodeToString(cipher)

	out, err := json.Marshal(env)
	if err != nil {
		return nil, &sink.EncryptionError{Op: "marshal", Err: err}
	}
	return out, nil
}

// New returns the sealer for mode. An empty mode means plain. For xsyk the
// public key is parsed up front so a bad key fails before any traffic.
func New(mode, publicKey, appID string) (Sealer, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModePlain:
		return Plain{}, nil
	case ModeXSYK:
		enc, err := NewRSAEncrypter(publicKey)
		if err != nil {
			return nil, fmt.Errorf("envelope: %w", err)
		}
		if appID == "" {
			appID = DefaultAppID
		}
		return &XSYK{AppID: appID, Encrypter: enc}, nil
	default:
		return nil, fmt.Errorf("envelope: unknown encryption mode %q", mode)
	}
}
