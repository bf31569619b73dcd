package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"zkdpp/internal/auth"
	"zkdpp/internal/receipt"

	"github.com/spf13/cobra"
)

var (
	keygenPEMOut string
	receiptPub   string
	apikeyTier   string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 receipt signing key",
	Long: `Generate an Ed25519 receipt signing key.

The hex seed goes into RECEIPT_SIGNING_KEY. With --pem-out the key pair is also
written as receipt_signing_key.pem (PKCS#8, mode 0600) and receipt_signing_key.pub.pem,
for use with RECEIPT_SIGNING_KEY_FILE.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "RECEIPT_SIGNING_KEY=%s\n", hex.EncodeToString(priv.Seed()))
		fmt.Fprintf(out, "RECEIPT_KEY_ID=%s\n", receipt.DeriveKeyID(pub))
		fmt.Fprintf(out, "public key (hex): %s\n", hex.EncodeToString(pub))

		if keygenPEMOut == "" {
			return nil
		}
		privPEM, pubPEM, err := receipt.EncodePEM(priv)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(keygenPEMOut, 0o700); err != nil {
			return err
		}
		privPath := filepath.Join(keygenPEMOut, "receipt_signing_key.pem")
		pubPath := filepath.Join(keygenPEMOut, "receipt_signing_key.pub.pem")
		if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s and %s\n", privPath, pubPath)
		return nil
	},
}

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Inspect gateway receipts",
}

var receiptVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a receipt signature and print its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, err := loadPublicKey(receiptPub)
		if err != nil {
			return err
		}
		claims, err := receipt.Verify(strings.TrimSpace(args[0]), pub)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"valid":          true,
			"receiptId":      claims.ReceiptID,
			"predicateId":    claims.PredicateID,
			"commitmentRoot": claims.CommitmentRoot,
			"result":         claims.Result,
			"issuedAt":       claims.IssuedAt,
		})
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate an API key and its API_KEYS entry",
	Long: `Generate an API key for the given access tier.

The raw key is shown once and handed to the caller. Only the printed entry
(sha256 hash and tier) is added to API_KEYS on the gateway.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, entry, err := auth.GenerateKey(apikeyTier)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "api key:        %s\n", raw)
		fmt.Fprintf(out, "API_KEYS entry: %s\n", entry)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenPEMOut, "pem-out", "", "directory to also write PEM-encoded key files to")

	receiptVerifyCmd.Flags().StringVar(&receiptPub, "pubkey", "", "gateway public key: 64 hex chars or a PEM file path")
	_ = receiptVerifyCmd.MarkFlagRequired("pubkey")
	receiptCmd.AddCommand(receiptVerifyCmd)

	apikeyCreateCmd.Flags().StringVar(&apikeyTier, "tier", "standard", "access tier granted to the key")
	apikeyCmd.AddCommand(apikeyCreateCmd)
}

// loadPublicKey accepts a hex-encoded key or a path to a PEM file.
func loadPublicKey(v string) (ed25519.PublicKey, error) {
	v = strings.TrimSpace(v)
	if raw, err := hex.DecodeString(strings.TrimPrefix(v, "0x")); err == nil {
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		return ed25519.PublicKey(raw), nil
	}
	data, err := os.ReadFile(v)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return receipt.ParsePublicKeyPEM(data)
}
