package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/te5025/pkg/types"
)

// Client is a struct for communicating with the te5025 daemon
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient is a constructor for creating a new Client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					conn, err := d.DialContext(ctx, "unix", socketPath)
					if err != nil {
						if os.IsNotExist(err) {
							return nil, ErrDaemonNotRunning
						}
						if os.IsPermission(err) {
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

// Send is a method for sending a request to the te5025 daemon. Non-2xx
// replies are returned as *APIError.
func (c *Client) Send(ctx context.Context, method string, path string, data []byte) ([]byte, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   string(data),
		"unix":   c.socketPath,
	}).Debug("sending request")

	resp, err := c.do(ctx, method, path, data)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, b)
	}

	return b, nil
}

func (c *Client) do(ctx context.Context, method string, path string, data []byte) (*http.Response, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// Get is a method for sending a GET request to the te5025 daemon
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.Send(ctx, http.MethodGet, path, nil)
}

// Put is a method for sending a PUT request to the te5025 daemon
func (c *Client) Put(ctx context.Context, path string, data []byte) ([]byte, error) {
	return c.Send(ctx, http.MethodPut, path, data)
}

// Post is a method for sending a POST request to the te5025 daemon
func (c *Client) Post(ctx context.Context, path string, data []byte) ([]byte, error) {
	return c.Send(ctx, http.MethodPost, path, data)
}

// Delete is a method for sending a DELETE request to the te5025 daemon
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.Send(ctx, http.MethodDelete, path, nil)
}

// getJSON decodes the reply to a GET into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ret, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(ret, out)
}

// sendJSON encodes in as the request body and decodes the reply into out,
// if out is not nil.
func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	ret, err := c.Send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(ret, out)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}

	var resp types.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != "" {
		e.Message = resp.Error
		e.Code = resp.Code
	} else {
		e.Message = string(body)
	}

	return e
}
