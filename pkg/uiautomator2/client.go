// Package uiautomator2 provides HTTP client for UIAutomator2 server.
package uiautomator2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/logger"
)

// Client communicates with UIAutomator2 server.
type Client struct {
	http       *http.Client
	baseURL    string
	sessionID  string
	socketPath string
}

// NewClient creates a client using Unix socket (Linux/Mac).
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		baseURL:    "http://localhost",
		socketPath: socketPath,
	}
}

// NewClientTCP creates a client using TCP port (Windows, adb forward).
func NewClientTCP(port int) *Client {
	return NewClientURL(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// NewClientURL creates a client for a server reachable at baseURL.
func NewClientURL(baseURL string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

// SessionID returns the current session ID.
func (c *Client) SessionID() string {
	return c.sessionID
}

// HasSession returns true if a session is active.
func (c *Client) HasSession() bool {
	return c.sessionID != ""
}

// request makes an HTTP request to UIAutomator2.
func (c *Client) request(method, path string, body interface{}) ([]byte, error) {
	start := time.Now()

	var reqBody io.Reader
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Debug("%s %s [%v] ERROR: %v", method, path, elapsed, err)
		return nil, core.ErrServerUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Log request timing
	status := "OK"
	if resp.StatusCode >= 400 {
		status = fmt.Sprintf("ERR:%d", resp.StatusCode)
	}
	logger.Debug("%s %s [%v] %s body=%s", method, path, elapsed, status, bodyStr)

	if resp.StatusCode >= 400 {
		return nil, serverError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// ServerError is an error answer of the server.
type ServerError struct {
	Status  int
	Code    string // W3C error code, e.g. "no such element"
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func serverError(status int, body []byte) error {
	value := gjson.GetBytes(body, "value")
	if value.IsObject() {
		return &ServerError{
			Status:  status,
			Code:    value.Get("error").String(),
			Message: value.Get("message").String(),
		}
	}
	return &ServerError{Status: status, Message: string(body)}
}

// sessionPath returns path with session ID prefix.
func (c *Client) sessionPath(path string) string {
	return fmt.Sprintf("/session/%s%s", c.sessionID, path)
}

func (c *Client) requireSession() error {
	if c.sessionID == "" {
		return core.ErrNoSession
	}
	return nil
}

// Status checks if the server is ready.
func (c *Client) Status() (bool, error) {
	data, err := c.request("GET", "/status", nil)
	if err != nil {
		return false, err
	}

	if !gjson.ValidBytes(data) {
		return false, core.ErrInvalidResponse.WithMessage("invalid status response")
	}
	return gjson.GetBytes(data, "value.ready").Bool(), nil
}

// CreateSession starts a new automation session.
func (c *Client) CreateSession(caps Capabilities) error {
	req := SessionRequest{Capabilities: caps}
	data, err := c.request("POST", "/session", req)
	if err != nil {
		return err
	}

	// Older servers answer at the top level, W3C ones under value.
	id := gjson.GetBytes(data, "sessionId").String()
	if id == "" {
		id = gjson.GetBytes(data, "value.sessionId").String()
	}
	if id == "" {
		return core.ErrInvalidResponse.WithMessage("no session ID in response")
	}

	c.sessionID = id
	return nil
}

// DeleteSession ends the current session.
func (c *Client) DeleteSession() error {
	if c.sessionID == "" {
		return nil
	}

	_, err := c.request("DELETE", c.sessionPath(""), nil)
	c.sessionID = ""
	return err
}

// Close ends the session and cleans up.
func (c *Client) Close() error {
	return c.DeleteSession()
}

// Source returns the current UI hierarchy as XML.
func (c *Client) Source() (string, error) {
	if err := c.requireSession(); err != nil {
		return "", err
	}

	data, err := c.request("GET", c.sessionPath("/source"), nil)
	if err != nil {
		return "", err
	}

	value := gjson.GetBytes(data, "value")
	if value.Type != gjson.String {
		return "", core.ErrInvalidResponse.WithMessage("page source is not a string")
	}
	return value.String(), nil
}

// DeviceInfo returns information about the device under test.
func (c *Client) DeviceInfo() (*DeviceInfo, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	data, err := c.request("GET", c.sessionPath("/appium/device/info"), nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value DeviceInfo `json:"value"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, core.ErrInvalidResponse.WithCause(err)
	}
	return &resp.Value, nil
}
