package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrStreamClosed is returned when the server ends the response.
var ErrStreamClosed = errors.New("stream: closed by server")

// readEvents parses a text/event-stream body and calls fn with the data of
// each event, in order. Multi-line data is joined with "\n". It returns
// ErrStreamClosed at EOF.
func readEvents(ctx context.Context, body io.Reader, fn func(data []byte)) error {
	reader := bufio.NewReader(body)
	var dataLines []string

	dispatch := func() {
		if len(dataLines) == 0 {
			return
		}
		raw := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		fn([]byte(raw))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadString('\n')
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		if err != nil {
			dispatch()
			return ErrStreamClosed
		}
	}
}

// WriteEvent frames one message as a text/event-stream event.
func WriteEvent(w io.Writer, data []byte) error {
	var b strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("stream: write event: %w", err)
	}
	return nil
}
