package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_connect/internal/api"
)

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve [org-id]",
	Short: "Resolve the enabled recipients of an organization",
	Long: `Ask the recipients resolver for the enabled recipients of an organization.

When org-id is omitted the resolver uses the org of the JWT token.

Example:
  connectorctl resolve org_123 --token $JWT_TOKEN`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req api.ResolveRequest
		if len(args) == 1 {
			req.OrgID = args[0]
		}

		resp, err := makeHTTPRequest("POST", "/v1/recipients", req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != 200 {
			return fmt.Errorf("HTTP error %s: %s", resp.Status, errorMessage(body))
		}

		var out api.ResolveResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if outputJSON {
			printOutput(out)
			return nil
		}
		fmt.Printf("Org %s: %d recipients (via %s)\n", out.OrgID, len(out.Recipients), out.Provider)
		for _, r := range out.Recipients {
			fmt.Printf("  %s\n", r.ID)
		}
		return nil
	},
}

// errorMessage extracts the "error" field of an API error body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
