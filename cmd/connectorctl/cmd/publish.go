package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/austindbirch/harbor_connect/internal/delivery"
)

type publishOptions struct {
	CorrelationID string
	AccountID     string
	AuthToken     string
	TrustAll      bool
}

// buildInbound assembles the message the engine would put on the connector
// topic.
func buildInbound(orgID, targetURL, payloadJSON string, opts publishOptions) (delivery.Inbound, error) {
	if orgID == "" || targetURL == "" {
		return delivery.Inbound{}, fmt.Errorf("org-id and target-url are required")
	}
	if !json.Valid([]byte(payloadJSON)) {
		return delivery.Inbound{}, fmt.Errorf("invalid payload JSON")
	}
	if opts.AccountID == "" {
		return delivery.Inbound{}, fmt.Errorf("--account is required")
	}
	id := opts.CorrelationID
	if id == "" {
		id = uuid.NewString()
	}
	return delivery.Inbound{
		CorrelationID: id,
		OrgID:         orgID,
		AccountID:     opts.AccountID,
		TargetURL:     targetURL,
		TrustAll:      opts.TrustAll,
		AuthToken:     opts.AuthToken,
		Payload:       json.RawMessage(payloadJSON),
		PublishedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [org-id] [target-url] [payload-json]",
	Short: "Publish an event onto the connector inbound topic",
	Long: `Publish an engine event for the connectors to deliver.

A JSON array payload is split into one item per element; Splunk connectors
batch those items into HEC posts.

Example:
  connectorctl publish org_123 https://hooks.example.com/x '[{"id":"evt_1"},{"id":"evt_2"}]' --account acct_1 --auth-token s3cr3t`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts publishOptions
		opts.CorrelationID, _ = cmd.Flags().GetString("correlation-id")
		opts.AccountID, _ = cmd.Flags().GetString("account")
		opts.AuthToken, _ = cmd.Flags().GetString("auth-token")
		opts.TrustAll, _ = cmd.Flags().GetBool("trust-all")

		msg, err := buildInbound(args[0], args[1], args[2], opts)
		if err != nil {
			return err
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}

		conf := nsq.NewConfig()
		conf.DialTimeout = timeout
		producer, err := nsq.NewProducer(nsqdAddr, conf)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}
		defer producer.Stop()
		producer.SetLogger(log.New(os.Stderr, "", log.LstdFlags), nsq.LogLevelError)

		if err := producer.Publish(inboundTopic, body); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{"correlation_id": msg.CorrelationID, "topic": inboundTopic})
		} else {
			fmt.Printf("Published event: %s\n", msg.CorrelationID)
			fmt.Printf("  Topic: %s\n", inboundTopic)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().String("correlation-id", "", "correlation id (generated when empty)")
	publishCmd.Flags().String("account", "", "account id (required)")
	publishCmd.Flags().String("auth-token", "", "destination credential passed to the connector")
	publishCmd.Flags().Bool("trust-all", false, "skip TLS verification of the destination")
}
