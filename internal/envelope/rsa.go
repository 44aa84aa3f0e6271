package envelope

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Encrypter is the asymmetric primitive used to sign envelopes.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// pkcs1Overhead is the PKCS#1 v1.5 padding size per block.
const pkcs1Overhead = 11

// RSAEncrypter encrypts with PKCS#1 v1.5, splitting input into blocks of
// k-11 bytes and concatenating the ciphertext blocks.
type RSAEncrypter struct {
	key *rsa.PublicKey
}

// NewRSAEncrypter parses a base64-encoded X.509 SubjectPublicKeyInfo key.
// PEM armour and embedded whitespace are tolerated.
func NewRSAEncrypter(encoded string) (*RSAEncrypter, error) {
	s := strings.TrimSpace(encoded)
	if s == "" {
		return nil, errors.New("public key is empty")
	}
	s = strings.TrimPrefix(s, "-----BEGIN PUBLIC KEY-----")
	s = strings.TrimSuffix(s, "-----END PUBLIC KEY-----")
	s = strings.Join(strings.Fields(s), "")

	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return &RSAEncrypter{key: key}, nil
}

// NewRSAEncrypterFromKey wraps an already parsed key.
func NewRSAEncrypterFromKey(key *rsa.PublicKey) *RSAEncrypter {
	return &RSAEncrypter{key: key}
}

// BlockSize returns the maximum plaintext bytes per block.
func (e *RSAEncrypter) BlockSize() int { return e.key.Size() - pkcs1Overhead }

// Encrypt implements Encrypter.
func (e *RSAEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	block := e.BlockSize()
	if block <= 0 {
		return nil, errors.New("rsa key too small")
	}
	var out bytes.Buffer
	for off := 0; off < len(plaintext); off += block {
		end := min(off+block, len(plaintext))
		ct, err := rsa.EncryptPKCS1v15(rand.Reader, e.key, plaintext[off:end])
		if err != nil {
			return nil, fmt.Errorf("rsa encrypt block at %d: %w", off, err)
		}
		out.Write(ct)
	}
	return out.Bytes(), nil
}
