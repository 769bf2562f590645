package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Work with relay access tokens",
}

var (
	tokenSecret string
	tokenEmail  string
	tokenExpiry time.Duration
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <user-id>",
	Short: "Sign a token for a user with the relay secret",
	Long: `Issue signs an HS256 token locally. The secret comes from --secret or
JWT_SECRET and must match the relay's.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		svc := auth.NewService(secret, tokenExpiry)
		token, err := svc.Issue(args[0], tokenEmail)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Verify a token and print its claims",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		claims, err := auth.NewService(secret, tokenExpiry).Verify(args[0])
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		out := struct {
			Subject   string    `json:"subject"`
			Email     string    `json:"email,omitempty"`
			ExpiresAt time.Time `json:"expires_at"`
		}{Subject: claims.Subject, Email: claims.Email}
		if claims.ExpiresAt != nil {
			out.ExpiresAt = claims.ExpiresAt.Time
		}
		if done, err := writeOutput(cmd.OutOrStdout(), out); done {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "SUBJECT\t%s\n", out.Subject)
		fmt.Fprintf(tw, "EMAIL\t%s\n", out.Email)
		fmt.Fprintf(tw, "EXPIRES\t%s\n", relativeTime(out.ExpiresAt))
		flushTable(tw)
	},
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenSecret, "secret", "", "HMAC secret (defaults to $JWT_SECRET)")
	tokenIssueCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	tokenCmd.PersistentFlags().DurationVar(&tokenExpiry, "expiry", 24*time.Hour, "Token lifetime")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
}
