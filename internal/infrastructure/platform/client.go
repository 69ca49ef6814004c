package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/tradedeck/backend/internal/core/ports"
	"github.com/tradedeck/backend/internal/domain"
	"github.com/tradedeck/backend/internal/infrastructure/logger"
)

// Client talks to the trading-data platform's task API: the pull endpoints
// over HTTP and the per-task push channel over websocket. It implements
// every port the monitoring core consumes.
type Client struct {
	baseURL    string
	wsBaseURL  string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *logger.Logger
}

type ClientConfig struct {
	BaseURL   string // e.g. https://platform.example.com
	WSBaseURL string // e.g. wss://platform.example.com
	APIKey    string
	Timeout   time.Duration
	Logger    *logger.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		wsBaseURL: strings.TrimRight(cfg.WSBaseURL, "/"),
		apiKey:    cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		logger: cfg.Logger,
	}
}

// FetchStatus pulls the current status of one task.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (domain.StatusUpdate, error) {
	var update domain.StatusUpdate
	url := fmt.Sprintf("%s/tasks/%s/status/", c.baseURL, taskID)
	if err := c.getJSON(ctx, url, &update); err != nil {
		return domain.StatusUpdate{}, fmt.Errorf("fetch status for task %s: %w", taskID, err)
	}
	return update, nil
}

// FetchActive pulls the full list of currently running tasks.
func (c *Client) FetchActive(ctx context.Context) ([]domain.ActiveTask, error) {
	var payload struct {
		Results []domain.ActiveTask `json:"results"`
	}
	url := fmt.Sprintf("%s/tasks/active/", c.baseURL)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("fetch active tasks: %w", err)
	}
	return payload.Results, nil
}

// FetchHistory pulls up to limit terminal tasks, freshest first.
func (c *Client) FetchHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	var payload struct {
		Results []domain.HistoryEntry `json:"results"`
	}
	url := fmt.Sprintf("%s/tasks/history/?limit=%d", c.baseURL, limit)
	if err := c.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("fetch task history: %w", err)
	}
	return payload.Results, nil
}

// StopTask asks the platform to cancel a running task. Unlike the polling
// endpoints, failures here are surfaced: the user asked for this directly.
func (c *Client) StopTask(ctx context.Context, taskID string) error {
	url := fmt.Sprintf("%s/tasks/%s/stop/", c.baseURL, taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warnw("platform_stop_network_error", "task_id", taskID, "error", err)
		return fmt.Errorf("stop task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	c.logger.Infow("platform_stop_response",
		"task_id", taskID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stop task %s: server returned status %d: %s", taskID, resp.StatusCode, string(body))
	}
	return nil
}

// DialTask opens the push channel for one task id.
func (c *Client) DialTask(ctx context.Context, taskID string) (ports.TaskChannel, error) {
	url := fmt.Sprintf("%s/ws/tasks/%s/", c.wsBaseURL, taskID)

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	conn, resp, err := c.dialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Warnw("platform_channel_dial_failed", "task_id", taskID, "status", status, "error", err)
		return nil, fmt.Errorf("dial channel for task %s: %w", taskID, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.logger.Debugw("platform_channel_dialed", "task_id", taskID)
	return &taskChannel{conn: conn}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
}

// taskChannel adapts one websocket connection to the TaskChannel port.
type taskChannel struct {
	conn *websocket.Conn
}

// ReadUpdate returns the next frame body. A normal close from the peer is
// translated to io.EOF so the connection manager can tell clean shutdown
// from an abnormal drop.
func (ch *taskChannel) ReadUpdate() ([]byte, error) {
	_, data, err := ch.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Close sends the caller-initiated normal close code before dropping the
// connection, so the peer never mistakes it for a failure.
func (ch *taskChannel) Close() error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ch.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && err != websocket.ErrCloseSent {
		ch.conn.Close()
		return err
	}
	return ch.conn.Close()
}
