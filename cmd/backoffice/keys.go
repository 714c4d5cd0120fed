package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/liveyourdreams/backoffice-metering/internal/apikey"
	"github.com/liveyourdreams/backoffice-metering/internal/audit"
	"github.com/liveyourdreams/backoffice-metering/internal/database"
	"github.com/liveyourdreams/backoffice-metering/internal/encryption"
)

var (
	addKeyProvider string
	addKeyName     string
	addKeyLimit    float64
)

func init() {
	addKeyCmd.Flags().StringVar(&addKeyProvider, "provider", "", "Provider of the key (ANTHROPIC or OPENAI)")
	addKeyCmd.Flags().StringVar(&addKeyName, "name", "", "Display name for the key")
	addKeyCmd.Flags().Float64Var(&addKeyLimit, "monthly-limit", 0, "Advisory monthly budget ceiling (0 for none)")
	_ = addKeyCmd.MarkFlagRequired("provider")
	_ = addKeyCmd.MarkFlagRequired("name")
}

var addKeyCmd = &cobra.Command{
	Use:   "add-key",
	Short: "Encrypt and store a new vendor API key",
	Long: `Prompts for the plaintext key (hidden when run on a terminal), encrypts
it, and stores it as the newest key for the provider. The plaintext is
never echoed or persisted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		plaintext, err := readKeyInput()
		if err != nil {
			return err
		}

		svcs, err := buildServices()
		if err != nil {
			return err
		}
		defer svcs.close()

		var limit *float64
		if addKeyLimit > 0 {
			limit = &addKeyLimit
		}

		key, err := svcs.keys.CreateKey(cmd.Context(), apikey.CreateKeyParams{
			Provider:     database.Provider(strings.ToUpper(addKeyProvider)),
			Name:         addKeyName,
			Key:          plaintext,
			MonthlyLimit: limit,
			Actor:        audit.ActorCLI,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Stored key %s (%s) as %s\n", key.ID, key.Provider, encryption.Mask(plaintext))
		return nil
	},
}

// readKeyInput reads the plaintext key without echoing when stdin is a
// terminal; piped input is read as a single line.
func readKeyInput() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "API key: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read key from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var listKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List stored keys with masked values and monthly cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := buildServices()
		if err != nil {
			return err
		}
		defer svcs.close()

		summaries, err := svcs.keys.ListKeys(cmd.Context())
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No keys stored.")
			return nil
		}

		for _, s := range summaries {
			state := "active"
			if !s.IsActive {
				state = "inactive"
			}
			fmt.Printf("%s  %-9s  %-20s  %s  %s  calls=%d  month=%.4f\n",
				s.ID, s.Provider, s.Name, s.MaskedKey, state, s.CallCount, s.MonthlyCost)
		}
		return nil
	},
}

var deactivateKeyCmd = &cobra.Command{
	Use:   "deactivate-key <key-id>",
	Short: "Retire a stored key (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svcs, err := buildServices()
		if err != nil {
			return err
		}
		defer svcs.close()

		if err := svcs.keys.DeactivateKey(cmd.Context(), args[0], audit.ActorCLI); err != nil {
			return err
		}
		fmt.Printf("Key %s deactivated.\n", args[0])
		return nil
	},
}
