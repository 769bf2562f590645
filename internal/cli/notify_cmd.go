package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/notify"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Preview how the background handler treats push payloads",
}

var notifyRenderCmd = &cobra.Command{
	Use:   "render [payload|-]",
	Short: "Show the notification a push payload produces",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := readPayload(cmd.InOrStdin(), args)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		intent := notify.HandlePush(raw)
		if done, err := writeOutput(cmd.OutOrStdout(), intent); done {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		data, _ := json.Marshal(intent.Data)
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "TITLE\t%s\n", intent.Title)
		fmt.Fprintf(tw, "BODY\t%s\n", intent.Body)
		fmt.Fprintf(tw, "ICON\t%s\n", intent.Icon)
		fmt.Fprintf(tw, "BADGE\t%s\n", intent.Badge)
		fmt.Fprintf(tw, "TAG\t%s\n", intent.Tag)
		fmt.Fprintf(tw, "DATA\t%s\n", data)
		fmt.Fprintf(tw, "ROUTE\t%s\n", notify.Route(notify.TypeOf(intent.Data)))
		flushTable(tw)
	},
}

var notifyClickWindows []string

var notifyClickCmd = &cobra.Command{
	Use:   "click <type>",
	Short: "Show what clicking a notification of the given data type does",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		windows := make([]notify.Window, 0, len(notifyClickWindows))
		for i, u := range notifyClickWindows {
			windows = append(windows, notify.Window{ID: fmt.Sprintf("w%d", i+1), URL: u})
		}
		intent := notify.HandleClick(map[string]any{"type": args[0]}, windows)
		if done, err := writeOutput(cmd.OutOrStdout(), intent); done {
			if err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		out := cmd.OutOrStdout()
		switch {
		case intent.FocusID != "" && intent.NavigateURL != "":
			fmt.Fprintf(out, "focus %s and navigate to %s\n", intent.FocusID, intent.NavigateURL)
		case intent.FocusID != "":
			fmt.Fprintf(out, "focus %s\n", intent.FocusID)
		default:
			fmt.Fprintf(out, "open %s\n", intent.OpenURL)
		}
	},
}

func readPayload(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	if len(args) == 0 {
		if f, ok := stdin.(*os.File); ok {
			if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
				return nil, nil
			}
		}
	}
	return io.ReadAll(io.LimitReader(stdin, 64<<10))
}

func init() {
	notifyClickCmd.Flags().StringSliceVar(&notifyClickWindows, "window", nil, "URL of an open application window (repeatable)")

	notifyCmd.AddCommand(notifyRenderCmd)
	notifyCmd.AddCommand(notifyClickCmd)
}
