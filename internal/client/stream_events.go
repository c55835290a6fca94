// ABOUTME: Server-Sent Events reader for a group's live event stream
// ABOUTME: Joins multi-line data fields and yields one raw payload per event

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("event stream closed")

// Event is one Server-Sent Event.
type Event struct {
	Type string
	ID   string
	Data []byte
}

// EventStream reads events from an open SSE response.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
	lastID string
}

// OpenStream connects to the event stream of a group. The stream lives until
// ctx is canceled, the server ends it, or Close is called.
func (c *Client) OpenStream(ctx context.Context, groupID string) (*EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("groups", groupID, "events"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream for group %s: %w", groupID, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening event stream for group %s: %w", groupID, decodeError(req, resp))
	}

	c.logger.Debug("event stream opened", "group_id", groupID)
	return newEventStream(resp.Body), nil
}

func newEventStream(body io.ReadCloser) *EventStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	return &EventStream{body: body, scanner: scanner}
}

// Next returns the data of the next event that carries data.
func (s *EventStream) Next() ([]byte, error) {
	ev, err := s.NextEvent()
	if err != nil {
		return nil, err
	}
	return ev.Data, nil
}

// NextEvent blocks until a complete event with data arrives. It returns
// io.EOF when the server ends the stream.
func (s *EventStream) NextEvent() (Event, error) {
	var (
		eventType string
		dataLines []string
		hasData   bool
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if hasData {
				return Event{
					Type: eventType,
					ID:   s.LastEventID(),
					Data: []byte(strings.Join(dataLines, "\n")),
				}, nil
			}
			eventType = ""
			continue
		}

		// Comment, usually a keepalive
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			s.mu.Lock()
			s.lastID = value
			s.mu.Unlock()
		}
	}

	if err := s.scanner.Err(); err != nil {
		if s.isClosed() {
			return Event{}, ErrStreamClosed
		}
		return Event{}, fmt.Errorf("reading event stream: %w", err)
	}
	if s.isClosed() {
		return Event{}, ErrStreamClosed
	}
	return Event{}, io.EOF
}

// LastEventID returns the most recent id field seen on the stream.
func (s *EventStream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Close releases the connection. A blocked Next returns ErrStreamClosed.
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.body.Close()
}

func (s *EventStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
