// ==============================================================================
// PROOF VERIFICATION GATEWAY - cmd/gateway/main.go
// ==============================================================================
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Zero-knowledge proof verification gateway",
	Long: `gateway verifies zero-knowledge predicate proofs submitted for digital product
passports and issues Ed25519-signed receipts for accepted proofs.

Examples:
  gateway serve
  gateway keygen --pem-out ./keys
  gateway receipt verify --pubkey <hex|file.pem> <token>
  gateway apikey create --tier premium
  gateway migrate up`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		// A missing .env is normal outside development.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration (empty to skip)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(receiptCmd)
	rootCmd.AddCommand(apikeyCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
