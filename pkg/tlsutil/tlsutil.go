// Package tlsutil builds TLS configurations for the dashboard's API server.
// Most deployments sit behind a TLS-terminating frontend and leave this
// disabled; standalone deployments point it at a certificate pair.
package tlsutil

import (
	"crypto/tls"
	"strings"

	"github.com/apache/infrastructure-reporting-dashboard/errors"
)

// ServerConfig is the TLS section of the server configuration.
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" (default) or "1.3"
}

// LoadServerConfig creates a tls.Config for the API server. A disabled
// config yields nil, meaning plain HTTP.
func LoadServerConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate pair")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// parseTLSVersion maps a config string to a TLS version constant. Unknown
// values fall back to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	switch strings.TrimSpace(version) {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
