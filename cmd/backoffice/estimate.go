package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/liveyourdreams/backoffice-metering/internal/pricing"
	"github.com/liveyourdreams/backoffice-metering/internal/tokencount"
)

var (
	estimateModel  string
	estimatePrompt string
	estimateFile   string
	estimateOutput int
)

func init() {
	estimateCmd.Flags().StringVar(&estimateModel, "model", "", "Model the call would use")
	estimateCmd.Flags().StringVar(&estimatePrompt, "prompt", "", "Prompt text to tokenize")
	estimateCmd.Flags().StringVar(&estimateFile, "file", "", "Read the prompt from a file ('-' for stdin)")
	estimateCmd.Flags().IntVar(&estimateOutput, "expected-output", 0, "Expected output tokens for the cost projection")
	_ = estimateCmd.MarkFlagRequired("model")
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate token count and cost for a prompt",
	Long: `Tokenizes a prompt and projects the cost of sending it to the given
model, using the same pricing table the usage ledger bills against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := resolvePrompt()
		if err != nil {
			return err
		}

		// Estimation needs no database or secrets, only the pricing table.
		_ = godotenv.Load()
		table := pricing.Default()
		if path := os.Getenv("PRICING_CONFIG_PATH"); path != "" {
			table, err = pricing.LoadFile(path)
			if err != nil {
				return fmt.Errorf("failed to load pricing config: %w", err)
			}
		}

		est := tokencount.NewEstimator(table)
		result, err := est.Estimate(estimateModel, prompt, estimateOutput)
		if err != nil {
			return err
		}

		fmt.Printf("Model:          %s\n", result.Model)
		fmt.Printf("Input tokens:   %d\n", result.InputTokens)
		fmt.Printf("Output tokens:  %d (expected)\n", result.OutputTokens)
		fmt.Printf("Input cost:     %.6f\n", result.InputCost)
		fmt.Printf("Output cost:    %.6f\n", result.OutputCost)
		fmt.Printf("Total cost:     %.6f\n", result.TotalCost)
		if !result.PricingKnown {
			fmt.Println("Note: no pricing entry for this model; costs shown as zero.")
		}
		return nil
	},
}

func resolvePrompt() (string, error) {
	if estimatePrompt != "" {
		return estimatePrompt, nil
	}
	if estimateFile == "" {
		return "", fmt.Errorf("either --prompt or --file is required")
	}
	if estimateFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(estimateFile)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}
	return string(data), nil
}
