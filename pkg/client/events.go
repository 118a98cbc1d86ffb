package client

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/events"
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 << 20

// SubscribeEvents opens the daemon's event stream. The channel is closed
// when ctx is done or the daemon ends the stream.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	resp, err := c.do(ctx, http.MethodGet, "/events", nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, newAPIError(resp.StatusCode, b)
	}

	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		readEvents(ctx, resp.Body, ch)
	}()

	return ch, nil
}

// readEvents parses the event-stream framing: "event:" and "data:" fields,
// with a blank line ending each event.
func readEvents(ctx context.Context, r io.Reader, ch chan<- events.Event) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)

	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()

		if line == "" {
			if name == "" && len(data) == 0 {
				continue
			}
			ev := events.Event{Name: name, Data: []byte(strings.Join(data, "\n"))}
			name, data = "", nil

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}

	if err := sc.Err(); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Debug("event stream ended")
	}
}
