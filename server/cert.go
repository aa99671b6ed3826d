package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// LoadOrCreateCert loads the certificate for a host from dir, minting
// a self-signed one on first start so a fresh wiki serves TLS without
// any provisioning. Paths are absolute; the server never changes its
// working directory.
func LoadOrCreateCert(dir, host string) (*tls.Certificate, error) {
	certFile := filepath.Join(dir, host+"-cert.pem")
	keyFile := filepath.Join(dir, host+"-key.pem")
	if _, err := os.Stat(certFile); os.IsNotExist(err) {
		logf(1, "creating self-signed certificate for %s", host)
		if err := generateCert(certFile, keyFile, host); err != nil {
			return nil, err
		}
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "loading certificate for %s", host)
	}
	return &cert, nil
}

func generateCert(certFile, keyFile, host string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.Wrap(err, "generating key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return errors.Wrap(err, "generating serial")
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             now,
		NotAfter:              now.AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return errors.Wrap(err, "creating certificate")
	}
	certOut, err := os.OpenFile(certFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "writing certificate")
	}
	err = pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err2 := certOut.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return errors.Wrap(err, "writing certificate")
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return errors.Wrap(err, "encoding key")
	}
	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "writing key")
	}
	err = pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err2 := keyOut.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return errors.Wrap(err, "writing key")
	}
	return nil
}
