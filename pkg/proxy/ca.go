package proxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/netstub/netstub/internal/errx"
)

const (
	caCertFile = "ca.crt"
	caKeyFile  = "ca.key"
)

// CAPool holds the interception CA and the leaf certificates minted from
// it, one per server name.
type CAPool struct {
	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	certCache sync.Map
	dir       string
}

// NewCAPool loads the CA from dir, generating and persisting a new one when
// none is present or the stored one is unreadable.
func NewCAPool(dir string) (*CAPool, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errx.Wrap(ErrCASave, err)
	}

	pool := &CAPool{dir: dir}

	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	if _, err := os.Stat(certPath); err == nil {
		if err := pool.loadCA(certPath, keyPath); err == nil {
			return pool, nil
		}
	}

	if err := pool.generateCA(); err != nil {
		return nil, err
	}
	if err := pool.saveCA(certPath, keyPath); err != nil {
		return nil, err
	}
	return pool, nil
}

func (p *CAPool) loadCA(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return errx.Wrap(ErrCALoad, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return errx.Wrap(ErrCALoad, err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errx.With(ErrCALoad, ": %s is not PEM", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return errx.Wrap(ErrCALoad, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errx.With(ErrCALoad, ": %s is not PEM", keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return errx.Wrap(ErrCALoad, err)
	}

	p.caCert, p.caKey = cert, key
	return nil
}

func (p *CAPool) generateCA() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errx.Wrap(ErrCAGenerate, err)
	}

	serial, err := randomSerial()
	if err != nil {
		return errx.Wrap(ErrCAGenerate, err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"netstub"},
			CommonName:   "netstub interception CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return errx.Wrap(ErrCAGenerate, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return errx.Wrap(ErrCAGenerate, err)
	}
	p.caCert, p.caKey = cert, key
	return nil
}

func (p *CAPool) saveCA(certPath, keyPath string) error {
	if err := os.WriteFile(certPath, p.CACertPEM(), 0644); err != nil {
		return errx.Wrap(ErrCASave, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(p.caKey),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return errx.Wrap(ErrCASave, err)
	}
	return nil
}

// GetCertificate returns the leaf certificate for serverName, minting it on
// first use. IP literals get an IP SAN.
func (p *CAPool) GetCertificate(serverName string) (*tls.Certificate, error) {
	if serverName == "" {
		return nil, errx.With(ErrLeafCert, ": empty server name")
	}
	if cached, ok := p.certCache.Load(serverName); ok {
		return cached.(*tls.Certificate), nil
	}

	cert, err := p.generateCertificate(serverName)
	if err != nil {
		return nil, err
	}
	actual, _ := p.certCache.LoadOrStore(serverName, cert)
	return actual.(*tls.Certificate), nil
}

func (p *CAPool) generateCertificate(serverName string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errx.Wrap(ErrLeafCert, err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, errx.Wrap(ErrLeafCert, err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: serverName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(serverName); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{serverName}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, p.caCert, &key.PublicKey, p.caKey)
	if err != nil {
		return nil, errx.Wrap(ErrLeafCert, err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{der, p.caCert.Raw},
		PrivateKey:  key,
	}, nil
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, big.NewInt(1<<62))
}

func (p *CAPool) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: p.caCert.Raw,
	})
}

func (p *CAPool) CACertPath() string {
	return filepath.Join(p.dir, caCertFile)
}

// CertPool returns a pool trusting only the interception CA.
func (p *CAPool) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.caCert)
	return pool
}
