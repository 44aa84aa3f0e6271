// Package security builds the client TLS configuration used by the sink
// transport: trust anchors, an optional self-signed override, and an
// optional mutual-TLS identity.
package security

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pkcs12"

	"github.com/developingchet/http-sink/internal/sink"
)

// TrustConfig is the TLS material read from configuration. File fields hold
// paths to PEM files, except KeyStorePath which points at a PKCS#12 bundle.
type TrustConfig struct {
	ServerTrustedCerts []string
	AllowSelfSigned    bool
	ClientCert         string
	ClientPrivateKey   string
	KeyStorePath       string
	KeyStorePassword   string
}

// BuildTLSConfig assembles a client tls.Config from cfg. Every problem with
// the configured material is returned as *sink.ConfigurationError.
func BuildTLSConfig(cfg TrustConfig) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		roots = x509.NewCertPool()
	}

	for _, path := range cfg.ServerTrustedCerts {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, configErr("tls_server_trusted_certs", fmt.Errorf("read %s: %w", path, err))
		}
		if !roots.AppendCertsFromPEM(pemBytes) {
			return nil, configErr("tls_server_trusted_certs", fmt.Errorf("%s: no PEM certificates found", path))
		}
	}

	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    roots,
	}

	if cfg.KeyStorePath != "" {
		if cfg.KeyStorePassword == "" {
			return nil, configErr("tls_keystore_password", errors.New("required when tls_keystore_path is set"))
		}
		ident, err := loadKeyStore(cfg.KeyStorePath, cfg.KeyStorePassword, roots)
		if err != nil {
			return nil, configErr("tls_keystore_path", err)
		}
		if ident != nil {
			tlsCfg.Certificates = append(tlsCfg.Certificates, *ident)
		}
	}

	switch {
	case cfg.ClientCert != "" && cfg.ClientPrivateKey != "":
		pair, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientPrivateKey)
		if err != nil {
			return nil, configErr("tls_client_cert", fmt.Errorf("load client key pair: %w", err))
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	case cfg.ClientCert != "":
		return nil, configErr("tls_client_private_key", errors.New("required when tls_client_cert is set"))
	case cfg.ClientPrivateKey != "":
		return nil, configErr("tls_client_cert", errors.New("required when tls_client_private_key is set"))
	}

	if cfg.AllowSelfSigned {
		log.Warn().Msg("tls: self-signed server certificates will be accepted when they match the host")
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = selfSignedVerifier(roots)
	}
	return tlsCfg, nil
}

// loadKeyStore adds every certificate in the bundle to roots and returns
// the client identity if the bundle carries a private key.
func loadKeyStore(path, password string, roots *x509.CertPool) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var certPEM, keyPEM []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if b.Type == "CERTIFICATE" {
			certPEM = append(certPEM, encoded...)
			continue
		}
		if strings.HasSuffix(b.Type, "PRIVATE KEY") {
			keyPEM = append(keyPEM, encoded...)
		}
	}
	if len(certPEM) == 0 {
		return nil, fmt.Errorf("%s: no certificates in key store", path)
	}
	roots.AppendCertsFromPEM(certPEM)
	if len(keyPEM) == 0 {
		return nil, nil
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: key store identity: %w", path, err)
	}
	return &pair, nil
}

// selfSignedVerifier runs standard chain and hostname verification and,
// only if that fails, accepts a lone self-signed leaf that is currently
// valid and names the server.
func selfSignedVerifier(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("tls: server presented no certificate")
		}
		leaf := cs.PeerCertificates[0]

		inter := x509.NewCertPool()
		for _, c := range cs.PeerCertificates[1:] {
			inter.AddCert(c)
		}
		_, verr := leaf.Verify(x509.VerifyOptions{
			DNSName:       cs.ServerName,
			Roots:         roots,
			Intermediates: inter,
		})
		if verr == nil {
			return nil
		}

		if len(cs.PeerCertificates) != 1 || !isSelfSigned(leaf) {
			return verr
		}
		now := time.Now()
		if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
			return fmt.Errorf("tls: self-signed certificate not valid at %s", now.Format(time.RFC3339))
		}
		if err := leaf.VerifyHostname(cs.ServerName); err != nil {
			return err
		}
		return nil
	}
}

func isSelfSigned(c *x509.Certificate) bool {
	if !bytes.Equal(c.RawIssuer, c.RawSubject) {
		return false
	}
	return c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature) == nil
}

func configErr(key string, err error) error {
	return &sink.ConfigurationError{Key: key, Err: err}
}
