package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/stream"
)

var (
	publishData    string
	publishStatus  string
	publishMessage string
)

var publishCmd = &cobra.Command{
	Use:   "publish <type>",
	Short: "Publish a test event to your own update stream",
	Long: `Publish sends one stream message through the relay's trigger endpoint.
The relay must run with TRIGGER_ENABLED=true. Examples:

  dashsync publish emails --data '[{"id":"m1"}]'
  dashsync publish status --status degraded --message "maintenance"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ev, err := buildEvent(args[0], publishData, publishStatus, publishMessage)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := client.Trigger(cmd.Context(), ev); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s event\n", ev.Type())
	},
}

// buildEvent assembles a wire message and runs it through ParseEvent so
// the CLI rejects what the stream client would reject.
func buildEvent(kind, data, status, message string) (stream.Event, error) {
	msg := map[string]any{"type": kind}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		msg["data"] = json.RawMessage(data)
	}
	if status != "" {
		msg["status"] = status
	}
	if message != "" {
		msg["message"] = message
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	ev, err := stream.ParseEvent(raw)
	if err != nil {
		return nil, err
	}
	if u, ok := ev.(stream.UnknownEvent); ok {
		return nil, fmt.Errorf("unknown event type %q", u.Kind)
	}
	return ev, nil
}

func init() {
	publishCmd.Flags().StringVar(&publishData, "data", "", "JSON array of changed entities (emails, meetings)")
	publishCmd.Flags().StringVar(&publishStatus, "status", "", "Health for status events: connected|degraded")
	publishCmd.Flags().StringVar(&publishMessage, "message", "", "Human readable message")
}
