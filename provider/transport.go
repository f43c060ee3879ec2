package provider

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout is the total time allowed for a single API page request
const DefaultTimeout = 30 * time.Second

// TransportConfig configures the TLS capable HTTP client used to talk to the API
type TransportConfig struct {
	// Timeout of a single request including reading the body, default 30s
	Timeout time.Duration `yaml:"timeout"`

	// CAFile is the path of an additional PEM CA bundle to trust
	CAFile string `yaml:"ca_file"`

	// InsecureSkipVerify disables server certificate verification
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// NewHTTPClient creates new http client for the given transport config.
// The client is not shared, every discovery creates its own.
func NewHTTPClient(conf TransportConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: conf.InsecureSkipVerify,
	}

	if conf.CAFile != "" {
		pemData, err := os.ReadFile(conf.CAFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA file: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in CA file %s", conf.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	timeout := conf.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
