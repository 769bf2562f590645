package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/dashsync/internal/dispatch"
	"github.com/oremus-labs/dashsync/internal/logutil"
	"github.com/oremus-labs/dashsync/internal/stream"
)

var (
	watchMaxAttempts  int
	watchInitialDelay time.Duration
	watchMaxDelay     time.Duration
	watchDuration     time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the update stream and print state changes and refreshes",
	Run: func(cmd *cobra.Command, args []string) {
		client, rc, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if rc.Token == "" {
			exitWithError(cmd, fmt.Errorf("a token is required to watch the stream"))
			return
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if watchDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchDuration)
			defer cancel()
		}

		manager := stream.New(stream.Options{
			URL:      client.StreamURL(),
			Token:    rc.Token,
			AuthMode: stream.AuthMode(rc.AuthMode),
			Backoff: stream.Backoff{
				Initial: watchInitialDelay,
				Max:     watchMaxDelay,
			},
			MaxAttempts: watchMaxAttempts,
			Logger:      logutil.Default(),
		})
		state := watchSession(ctx, cmd.OutOrStdout(), manager)
		if state.Status == stream.StatusError {
			exitWithError(cmd, fmt.Errorf("stream gave up: %s", state.LastError))
		}
	},
}

// watchSession runs manager until ctx ends or the connection becomes
// terminal, printing to out. It returns the last observed state.
func watchSession(ctx context.Context, out io.Writer, manager *stream.Manager) stream.ConnectionState {
	p := &eventPrinter{out: out}
	d := dispatch.New(dispatch.RefresherFunc(func(_ context.Context, kind dispatch.Kind) error {
		p.refresh(kind)
		return nil
	}), logutil.Default())

	obs := d.Bind(manager)
	defer manager.Stop()

	states := obs.State.Subscribe(ctx)
	errs := obs.Err.Subscribe(ctx)
	last := obs.State.Get()
	for {
		select {
		case <-ctx.Done():
			return last
		case s, ok := <-states:
			if !ok {
				return last
			}
			last = s
			p.state(s)
			if s.IsTerminal() {
				return last
			}
		case msg, ok := <-errs:
			if !ok {
				return last
			}
			if msg != "" {
				p.errorMessage(msg)
			}
		}
	}
}

type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

type watchEvent struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	Kind    string    `json:"kind,omitempty"`
}

func (p *eventPrinter) emit(ev watchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.Time = time.Now().UTC()
	switch outputFormat {
	case "json":
		_ = printJSON(p.out, ev)
		return
	case "yaml":
		fmt.Fprintln(p.out, "---")
		_ = printYAML(p.out, ev)
		return
	}
	ts := ev.Time.Format(time.TimeOnly)
	switch ev.Event {
	case "state":
		fmt.Fprintf(p.out, "%s  %-12s %s\n", ts, ev.Status, ev.Message)
	case "refresh":
		fmt.Fprintf(p.out, "%s  refresh      %s\n", ts, ev.Kind)
	default:
		fmt.Fprintf(p.out, "%s  error        %s\n", ts, ev.Message)
	}
}

func (p *eventPrinter) state(s stream.ConnectionState) {
	msg := s.Message
	if msg == "" {
		msg = s.LastError
	}
	p.emit(watchEvent{Event: "state", Status: string(s.Status), Message: msg})
}

func (p *eventPrinter) refresh(kind dispatch.Kind) {
	p.emit(watchEvent{Event: "refresh", Kind: string(kind)})
}

func (p *eventPrinter) errorMessage(msg string) {
	p.emit(watchEvent{Event: "error", Message: msg})
}

func init() {
	watchCmd.Flags().IntVar(&watchMaxAttempts, "max-attempts", 0, "Give up after this many consecutive failures (0 retries forever)")
	watchCmd.Flags().DurationVar(&watchInitialDelay, "initial-delay", stream.DefaultInitialDelay, "First reconnect delay")
	watchCmd.Flags().DurationVar(&watchMaxDelay, "max-delay", stream.DefaultMaxDelay, "Reconnect delay cap")
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop watching after this long (0 runs until interrupted)")
}
