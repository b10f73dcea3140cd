package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/freqclamp/pkg/events"
)

// Client talks to the freqclamp daemon over its unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					conn, err := d.DialContext(ctx, "unix", socketPath)
					if err != nil {
						if errors.Is(err, os.ErrNotExist) {
							return nil, ErrDaemonNotRunning
						}
						if errors.Is(err, os.ErrPermission) {
							return nil, ErrPermissionDenied
						}
						logrus.Errorf("failed to connect to unix socket: %v", err)
						return nil, err
					}
					return conn, err
				},
			},
		},
	}
}

// Send sends a request to the daemon and returns the response body.
func (c *Client) Send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"unix":   c.socketPath,
	}).Debug("sending request")

	url := "http://unix" + path

	var body io.Reader
	switch method {
	case http.MethodGet:
	case http.MethodPost, http.MethodPut:
		body = strings.NewReader(data)
	default:
		return "", fmt.Errorf("unknown method: %s", method)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	ret := string(b)

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, unquote(ret))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("got %d: %s", resp.StatusCode, unquote(ret))
	}

	return ret, nil
}

func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

func (c *Client) Put(path string, data string) (string, error) {
	return c.Send(http.MethodPut, path, data)
}

func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}

// SubscribeEvents streams daemon events until ctx is done or the
// connection drops, then closes the returned channel. Names filter the
// events; none means all.
func (c *Client) SubscribeEvents(ctx context.Context, names ...string) (<-chan events.Event, error) {
	path := "/events"
	for i, n := range names {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		path += sep + "name=" + n
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("got %d while subscribing to events", resp.StatusCode)
	}

	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		var ev events.Event
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if ev.Name == "" {
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
				ev = events.Event{}
			case strings.HasPrefix(line, "event:"):
				ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.Data = append(ev.Data, strings.TrimPrefix(line, "data:")...)
			}
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			logrus.Debugf("event stream closed: %v", err)
		}
	}()

	return ch, nil
}

// unquote strips the JSON string encoding the daemon uses for messages.
func unquote(s string) string {
	var msg string
	if err := json.Unmarshal([]byte(s), &msg); err == nil {
		return msg
	}
	return strings.TrimSpace(s)
}
