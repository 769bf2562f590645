package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/keycodec"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Convert push keys between base64url and hex",
}

var keyDecodeCmd = &cobra.Command{
	Use:   "decode <base64url>",
	Short: "Decode a base64url key (padded or not) to hex",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := keycodec.Decode(strings.TrimSpace(args[0]))
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		out := struct {
			Hex    string `json:"hex"`
			Length int    `json:"length"`
		}{hex.EncodeToString(raw), len(raw)}
		if done, err := writeOutput(cmd.OutOrStdout(), out); done {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", out.Hex, out.Length)
	},
}

var keyEncodeCmd = &cobra.Command{
	Use:   "encode <hex>",
	Short: "Encode hex key material as unpadded base64url",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := hex.DecodeString(strings.TrimSpace(args[0]))
		if err != nil {
			exitWithError(cmd, fmt.Errorf("invalid hex: %w", err))
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), keycodec.Encode(raw))
	},
}

func init() {
	keyCmd.AddCommand(keyDecodeCmd)
	keyCmd.AddCommand(keyEncodeCmd)
}
