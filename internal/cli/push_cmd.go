package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/keycodec"
	"github.com/oremus-labs/dashsync/internal/push"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage push subscriptions registered with the relay",
}

var pushListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your push subscriptions",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		subs, err := client.ListSubscriptions(cmd.Context())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if done, err := writeOutput(cmd.OutOrStdout(), subs); done {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		if len(subs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No push subscriptions registered.")
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "ID\tENDPOINT\tCREATED\n")
		for _, s := range subs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Endpoint, relativeTime(s.CreatedAt))
		}
		flushTable(tw)
	},
}

var (
	pushEndpoint string
	pushP256dh   string
	pushAuth     string
)

var pushRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a push subscription record",
	Run: func(cmd *cobra.Command, args []string) {
		record := push.Record{Endpoint: pushEndpoint, P256dh: pushP256dh, Auth: pushAuth}
		if err := checkRecord(record); err != nil {
			exitWithError(cmd, err)
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := client.CreateSubscription(cmd.Context(), record); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription for %s registered\n", record.Endpoint)
	},
}

var pushDeleteCmd = &cobra.Command{
	Use:     "delete <endpoint>",
	Aliases: []string{"unsubscribe"},
	Short:   "Remove a push subscription by endpoint",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := client.DeleteSubscription(cmd.Context(), args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription for %s removed\n", args[0])
	},
}

var pushVAPIDKeyCmd = &cobra.Command{
	Use:   "vapid-key",
	Short: "Print the relay's push public key",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		key, err := client.VAPIDPublicKey(cmd.Context())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		raw, err := keycodec.Decode(key)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", key, len(raw))
	},
}

func checkRecord(r push.Record) error {
	if r.Endpoint == "" || r.P256dh == "" || r.Auth == "" {
		return fmt.Errorf("--endpoint, --p256dh and --auth are required")
	}
	if _, err := keycodec.Decode(r.P256dh); err != nil {
		return fmt.Errorf("--p256dh: %w", err)
	}
	if _, err := keycodec.Decode(r.Auth); err != nil {
		return fmt.Errorf("--auth: %w", err)
	}
	return nil
}

func init() {
	pushRegisterCmd.Flags().StringVar(&pushEndpoint, "endpoint", "", "Push service endpoint URL")
	pushRegisterCmd.Flags().StringVar(&pushP256dh, "p256dh", "", "Subscription public key (base64url)")
	pushRegisterCmd.Flags().StringVar(&pushAuth, "auth", "", "Subscription auth secret (base64url)")

	pushCmd.AddCommand(pushListCmd)
	pushCmd.AddCommand(pushRegisterCmd)
	pushCmd.AddCommand(pushDeleteCmd)
	pushCmd.AddCommand(pushVAPIDKeyCmd)
}
