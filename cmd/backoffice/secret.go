package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liveyourdreams/backoffice-metering/internal/encryption"
)

var generateSecretCmd = &cobra.Command{
	Use:   "generate-secret",
	Short: "Generate a new 64-hex-character encryption secret",
	Long: `Generates a random AES-256 key suitable for API_KEY_ENCRYPTION_SECRET.
Rotating the secret requires re-encrypting every stored key; keys encrypted
under the old secret will fail authentication under the new one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := encryption.GenerateKeyHex()
		if err != nil {
			return err
		}
		fmt.Println(secret)
		return nil
	},
}
