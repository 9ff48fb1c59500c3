// Copyright 2024 Edgeo SCADA contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcuaclient

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/hadijannat/basyx-opcua-bridge/opcuaproto"
)

// SecurityConfig holds the material needed to open a secured channel:
// the local certificate/key pair and the peer's expected certificate.
type SecurityConfig struct {
	Policy            opcuaproto.SecurityPolicy
	Mode              opcuaproto.MessageSecurityMode
	LocalCertificate  []byte // DER
	LocalPrivateKey   *rsa.PrivateKey
	RemoteCertificate []byte // DER
}

// NewSecurityConfig loads PEM-encoded certificate/key material and
// returns a SecurityConfig ready to drive a secure channel handshake.
// When policy is None, certPEM/keyPEM may be empty.
func NewSecurityConfig(policy opcuaproto.SecurityPolicy, mode opcuaproto.MessageSecurityMode, certPEM, keyPEM []byte) (*SecurityConfig, error) {
	cfg := &SecurityConfig{Policy: policy, Mode: mode}
	if len(certPEM) == 0 {
		if policy != opcuaproto.SecurityPolicyNone {
			return nil, fmt.Errorf("opcuaclient: security policy %s requires a client certificate", policy)
		}
		return cfg, nil
	}
	cert, err := LoadCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := LoadPrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	cfg.LocalCertificate = cert.Raw
	cfg.LocalPrivateKey = key
	return cfg, nil
}

// LoadCertificate parses a single PEM-encoded X.509 certificate.
func LoadCertificate(pemData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("opcuaclient: no CERTIFICATE block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// LoadPrivateKey parses a PEM-encoded RSA private key (PKCS1 or PKCS8).
func LoadPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("opcuaclient: no PEM block found for private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("opcuaclient: failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("opcuaclient: private key is not RSA")
	}
	return rsaKey, nil
}

// Thumbprint returns the SHA-1 thumbprint of a DER-encoded certificate,
// as used in OPC UA certificate identification.
func Thumbprint(der []byte) []byte {
	sum := sha1.Sum(der)
	return sum[:]
}

// TLSConfig builds a *tls.Config suitable for wrapping the underlying TCP
// connection when the security policy requires channel-level TLS (used by
// transports that tunnel OPC UA over TLS rather than the binary secure
// channel handshake).
func (c *SecurityConfig) TLSConfig() (*tls.Config, error) {
	if c.Policy == opcuaproto.SecurityPolicyNone || len(c.LocalCertificate) == 0 {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec
	}
	cert := tls.Certificate{
		Certificate: [][]byte{c.LocalCertificate},
		PrivateKey:  c.LocalPrivateKey,
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
