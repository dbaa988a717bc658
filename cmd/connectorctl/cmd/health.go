package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_connect/internal/health"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the recipients resolver",
	Long:  `Check the health status of the recipients resolver and its dependencies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/healthz", nil)
		if err != nil {
			return fmt.Errorf("HTTP health check failed: %w", err)
		}
		defer resp.Body.Close()

		var st health.Status
		_ = json.NewDecoder(resp.Body).Decode(&st)

		if outputJSON {
			printOutput(st)
			return nil
		}
		if resp.StatusCode == 200 {
			fmt.Println("✓ Service is healthy")
		} else {
			fmt.Printf("✗ Service is unhealthy (HTTP %d): %s\n", resp.StatusCode, st.Message)
		}
		for name, ok := range st.Checks {
			fmt.Printf("  %s: %v\n", name, ok)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
