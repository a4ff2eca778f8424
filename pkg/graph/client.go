package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/lmsync/lmsync/pkg/engine"
	"github.com/lmsync/lmsync/pkg/telemetry"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// credentials is the token lifecycle the client depends on. Satisfied by
// *Authenticator.
type credentials interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Refresh(ctx context.Context) error
}

// Config holds the Graph connection settings.
type Config struct {
	// BaseURL overrides the Graph endpoint. Tests only.
	BaseURL string

	Timeout time.Duration
}

// Client is the To Do REST client. It implements engine.Destination: one
// method per API operation, classified errors, no retry of its own (the
// executor owns retries).
type Client struct {
	baseURL string
	creds   credentials
	http    *http.Client
	log     *telemetry.Logger
}

// NewClient creates a Graph client backed by the given credentials.
func NewClient(cfg Config, creds credentials, log *telemetry.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = telemetry.NopLogger()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		creds:   creds,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.NewComponentLogger("graph"),
	}
}

// EnsureTaskList returns the id of the list with the given display name,
// creating it when absent. Resolved once per run by the engine.
func (c *Client) EnsureTaskList(ctx context.Context, name string) (string, error) {
	next := c.baseURL + "/me/todo/lists"
	for next != "" {
		body, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return "", err
		}

		var page taskListPage
		if err := json.Unmarshal(body, &page); err != nil {
			return "", engine.NewPermanentError("malformed task list page", err)
		}
		for _, list := range page.Value {
			if list.DisplayName == name {
				return list.ID, nil
			}
		}
		next = page.NextLink
	}

	c.log.Infof("creating task list %q", name)
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/me/todo/lists",
		map[string]string{"displayName": name})
	if err != nil {
		return "", err
	}

	var created taskList
	if err := json.Unmarshal(body, &created); err != nil {
		return "", engine.NewPermanentError("malformed task list response", err)
	}
	return created.ID, nil
}

// CreateTask creates one task for an assignment snapshot and returns the
// destination task id.
func (c *Client) CreateTask(ctx context.Context, listID string, rec *engine.SourceRecord) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.tasksURL(listID), newTaskPayload(rec))
	if err != nil {
		return "", err
	}

	var created todoTask
	if err := json.Unmarshal(body, &created); err != nil {
		return "", engine.NewPermanentError("malformed task response", err)
	}
	if created.ID == "" {
		return "", engine.NewPermanentError("task created without an id", nil)
	}
	return created.ID, nil
}

// SetCompletion marks a task completed or not started.
func (c *Client) SetCompletion(ctx context.Context, listID, taskID string, completed bool) error {
	status := statusNotStarted
	if completed {
		status = statusCompleted
	}
	_, err := c.do(ctx, http.MethodPatch, c.taskURL(listID, taskID),
		map[string]string{"status": status})
	return err
}

// UpdateDueDate sets or clears a task's due date. A nil due date sends
// an explicit null so Graph removes it.
func (c *Client) UpdateDueDate(ctx context.Context, listID, taskID string, due *time.Time) error {
	payload := map[string]interface{}{"dueDateTime": nil}
	if due != nil {
		payload["dueDateTime"] = dueDatePayload(due)
	}
	_, err := c.do(ctx, http.MethodPatch, c.taskURL(listID, taskID), payload)
	return err
}

// UpdateTitle renames a task.
func (c *Client) UpdateTitle(ctx context.Context, listID, taskID, title string) error {
	_, err := c.do(ctx, http.MethodPatch, c.taskURL(listID, taskID),
		map[string]string{"title": title})
	return err
}

// Archive tags a task as archived. The task itself is retained.
func (c *Client) Archive(ctx context.Context, listID, taskID string) error {
	_, err := c.do(ctx, http.MethodPatch, c.taskURL(listID, taskID),
		map[string][]string{"categories": {archivedCategory}})
	return err
}

// Unarchive removes the archived tag from a task.
func (c *Client) Unarchive(ctx context.Context, listID, taskID string) error {
	_, err := c.do(ctx, http.MethodPatch, c.taskURL(listID, taskID),
		map[string][]string{"categories": {}})
	return err
}

// RefreshCredentials forces a token refresh after an auth rejection.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	return c.creds.Refresh(ctx)
}

// HealthCheck verifies the credential by listing task lists.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/me/todo/lists", nil)
	return err
}

func (c *Client) tasksURL(listID string) string {
	return fmt.Sprintf("%s/me/todo/lists/%s/tasks", c.baseURL, listID)
}

func (c *Client) taskURL(listID, taskID string) string {
	return fmt.Sprintf("%s/me/todo/lists/%s/tasks/%s", c.baseURL, listID, taskID)
}

// do performs one authenticated request and returns the response body.
// Errors come back classified; the caller never retries here.
func (c *Client) do(ctx context.Context, method, url string, payload interface{}) ([]byte, error) {
	tok, err := c.creds.Token(ctx)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, engine.NewPermanentError("failed to encode request", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, engine.NewPermanentError("failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, engine.NewTransientError("graph request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, engine.NewTransientError("failed to read graph response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyResponse(resp, body)
	}
	return body, nil
}

func classifyTokenError(err error) error {
	if _, ok := err.(*engine.SyncError); ok {
		return err
	}
	return engine.NewAuthError("failed to obtain access token", err)
}

// classifyResponse maps a Graph error response onto the engine's error
// classes.
func classifyResponse(resp *http.Response, body []byte) *engine.SyncError {
	msg := fmt.Sprintf("graph returned %s", resp.Status)
	var envelope graphError
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s (%s)", msg, envelope.Error.Message, envelope.Error.Code)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return engine.NewAuthError(msg, nil)
	case resp.StatusCode == http.StatusNotFound:
		return engine.NewPermanentError(msg, nil).WithCode(engine.ErrCodeNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.NewThrottledError(msg, retryAfterHeader(resp), nil)
	case resp.StatusCode >= 500:
		return engine.NewTransientError(msg, nil)
	default:
		return engine.NewPermanentError(msg, nil)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
