package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	devcertsOut   string
	devcertsHosts string
)

var devcertsCmd = &cobra.Command{
	Use:   "devcerts",
	Short: "Generate a development CA and TLS server certificate",
	Long: `Generate a throwaway CA (ca.crt, ca.key) and a server certificate signed by it
(server.crt, server.key) for local TLS. Point TLS_CERT_FILE and TLS_KEY_FILE at the
server pair. Not for production use.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := generateDevCerts(devcertsOut, splitHosts(devcertsHosts), time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "certificates generated in %s\n", devcertsOut)
		return nil
	},
}

func init() {
	devcertsCmd.Flags().StringVar(&devcertsOut, "out", "certs", "output directory")
	devcertsCmd.Flags().StringVar(&devcertsHosts, "hosts", "localhost,127.0.0.1,::1", "comma-separated DNS names and IPs for the server certificate")
	rootCmd.AddCommand(devcertsCmd)
}

func splitHosts(v string) []string {
	var out []string
	for _, h := range strings.Split(v, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func generateDevCerts(dir string, hosts []string, now time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	ca := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"zkdpp development"},
			CommonName:   "zkdpp Dev Root CA",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(1, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	caDER, err := x509.CreateCertificate(rand.Reader, ca, ca, &caKey.PublicKey, caKey)
	if err != nil {
		return err
	}

	server := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano() + 1),
		Subject: pkix.Name{
			Organization: []string{"zkdpp development"},
			CommonName:   "zk-gateway",
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.AddDate(0, 3, 0),
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			server.IPAddresses = append(server.IPAddresses, ip)
		} else {
			server.DNSNames = append(server.DNSNames, h)
		}
	}
	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	serverDER, err := x509.CreateCertificate(rand.Reader, server, ca, &serverKey.PublicKey, caKey)
	if err != nil {
		return err
	}

	files := []struct {
		name  string
		block string
		der   []byte
		mode  os.FileMode
	}{
		{"ca.crt", "CERTIFICATE", caDER, 0o644},
		{"ca.key", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(caKey), 0o600},
		{"server.crt", "CERTIFICATE", serverDER, 0o644},
		{"server.key", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(serverKey), 0o600},
	}
	for _, f := range files {
		data := pem.EncodeToMemory(&pem.Block{Type: f.block, Bytes: f.der})
		if err := os.WriteFile(filepath.Join(dir, f.name), data, f.mode); err != nil {
			return err
		}
	}
	return nil
}
