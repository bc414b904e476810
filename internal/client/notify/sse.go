package notify

import (
	"bufio"
	"io"
	"strings"
)

type sseEvent struct {
	name string
	data string
}

type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// next returns the next dispatched event. Comment lines (heartbeats) are
// skipped; "data:" lines are joined with newlines.
func (e *eventReader) next() (sseEvent, error) {
	var (
		ev   sseEvent
		data []string
	)
	for {
		line, err := e.r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if ev.name == "" && len(data) == 0 {
				continue
			}
			ev.data = strings.Join(data, "\n")
			if ev.name == "" {
				ev.name = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.name = value
		case "data":
			data = append(data, value)
		}
	}
}
