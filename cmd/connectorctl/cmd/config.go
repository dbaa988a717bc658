package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage connectorctl configuration",
	Long:  `Manage connectorctl configuration settings.`,
}

// currentConfig is what `config view` reports. The token is never echoed.
func currentConfig() map[string]any {
	return map[string]any{
		"resolver": resolverAddr,
		"nsqd":     nsqdAddr,
		"topic":    inboundTopic,
		"timeout":  timeout.String(),
		"json":     outputJSON,
		"pretty":   prettyJSON,
		"token":    jwtToken != "",
	}
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		if outputJSON {
			printOutput(currentConfig())
			return
		}
		fmt.Println("Current configuration:")
		fmt.Printf("  Resolver: %s\n", resolverAddr)
		fmt.Printf("  nsqd: %s\n", nsqdAddr)
		fmt.Printf("  Topic: %s\n", inboundTopic)
		fmt.Printf("  Timeout: %s\n", timeout)
		fmt.Printf("  JSON Output: %v\n", outputJSON)
		fmt.Printf("  Pretty JSON: %v\n", prettyJSON)
		fmt.Printf("  Token set: %v\n", jwtToken != "")

		if prettyJSON && !checkJQAvailable() {
			fmt.Printf("  ⚠️  Warning: pretty=true but jq not found in PATH\n")
		}
		if viper.ConfigFileUsed() != "" {
			fmt.Printf("  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Println("  Config file: none (using defaults)")
		}
	},
}

// setConfigValue validates and stores one setting in v.
func setConfigValue(v *viper.Viper, key, value string) error {
	if !slices.Contains(configKeys, key) {
		return fmt.Errorf("invalid configuration key: %s. Valid keys are: %s", key, strings.Join(configKeys, ", "))
	}

	switch key {
	case "json", "pretty":
		switch value {
		case "true", "1", "yes", "on":
			v.Set(key, true)
		case "false", "0", "no", "off":
			v.Set(key, false)
		default:
			return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
		}
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid duration for timeout: %s", value)
		}
		v.Set(key, d.String())
	default:
		if value == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
		v.Set(key, value)
	}
	return nil
}

func defaultConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".connectorctl.yaml"), nil
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  connectorctl config set resolver http://resolver:8090
  connectorctl config set nsqd nsqd:4150
  connectorctl config set timeout 60s
  connectorctl config set pretty true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if key == "pretty" && (value == "true" || value == "1") && !checkJQAvailable() {
			fmt.Printf("⚠️  Warning: jq not found in PATH. Pretty formatting will fall back to standard formatting.\n")
		}
		if err := setConfigValue(viper.GetViper(), key, value); err != nil {
			return err
		}

		configPath, err := defaultConfigPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		fmt.Printf("Configuration saved to: %s\n", configPath)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := defaultConfigPath()
		if err != nil {
			return err
		}

		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		v := viper.New()
		v.Set("resolver", "http://localhost:8090")
		v.Set("nsqd", "localhost:4150")
		v.Set("topic", "engine_to_connector")
		v.Set("timeout", "30s")
		v.Set("json", false)
		v.Set("pretty", false)

		if err := v.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		fmt.Printf("Configuration file created: %s\n", configPath)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and dependencies",
	Long:  `Check the current configuration and verify that the resolver and jq are reachable.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Configuration check:")
		fmt.Printf("  ✅ connectorctl version: %s\n", Version)

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("  ✅ Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Printf("  ⚠️  Config file: not found (using defaults)\n")
		}

		if checkJQAvailable() {
			fmt.Printf("  ✅ jq: available\n")
		} else {
			fmt.Printf("  ❌ jq: not found in PATH\n")
		}

		fmt.Println("\nTesting resolver connectivity...")
		resp, err := makeHTTPRequest("GET", "/healthz", nil)
		if err != nil {
			fmt.Printf("  ❌ Resolver connectivity: %v\n", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			fmt.Printf("  ❌ Resolver connectivity: HTTP %d\n", resp.StatusCode)
			return
		}
		fmt.Printf("  ✅ Resolver connectivity: OK\n")
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
