package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a secp256k1 owner key",
	Long: `Generate a new secp256k1 private key for a smart account owner.
The key is printed in hex, or written to --out with its address next to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		privHex := hex.EncodeToString(crypto.FromECDSA(key))
		addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

		if keygenOut == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\naddress:     %s\n", privHex, addr)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(keygenOut), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(keygenOut, []byte(privHex), 0o600); err != nil {
			return fmt.Errorf("failed to write key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key written to %s\naddress: %s\n", keygenOut, addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "file to write the private key to")
}
