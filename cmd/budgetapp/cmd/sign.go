package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"budgetapp/internal/signature"
)

var signFile string

var signCmd = &cobra.Command{
	Use:   "sign [body]",
	Short: "Print the X-Signature value for a request body",
	Long: `Compute the hex HMAC-SHA256 of a request body with the shared secret.

The body is taken from the argument, from --file, or from stdin. It is
signed byte for byte, so sign exactly what you send.

Examples:
  budgetapp sign '{"weekly_budget": 120}'
  budgetapp sign --file expense.json
  echo -n '{"amount": 3, "description": "tea", "date": "2024-01-10"}' | budgetapp sign`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Secret) == 0 {
			return errors.New("shared secret is not configured: set SHARED_SECRET or SHARED_SECRET_FILE")
		}

		body, err := readSignBody(cmd, args)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return errors.New("refusing to sign an empty body")
		}

		fmt.Fprintln(cmd.OutOrStdout(), signature.NewVerifier(cfg.Secret, true).Sign(body))
		return nil
	},
}

func readSignBody(cmd *cobra.Command, args []string) ([]byte, error) {
	switch {
	case len(args) == 1:
		return []byte(args[0]), nil
	case signFile != "":
		body, err := os.ReadFile(signFile)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	default:
		body, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return body, nil
	}
}

func init() {
	signCmd.Flags().StringVarP(&signFile, "file", "f", "", "read the body from a file")
	rootCmd.AddCommand(signCmd)
}
