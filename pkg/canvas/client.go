package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lmsync/lmsync/pkg/engine"
	"github.com/lmsync/lmsync/pkg/telemetry"
)

const (
	defaultTimeout = 30 * time.Second
	defaultPerPage = 100
)

// Config holds the Canvas API connection settings.
type Config struct {
	// BaseURL is the institution's Canvas root, e.g.
	// https://canvas.example.edu. The /api/v1 prefix is appended here.
	BaseURL string

	// Token is a personal access token sent as a bearer credential.
	Token string

	Timeout time.Duration
	PerPage int
}

// Client is a paginating Canvas REST client. It implements engine.Source.
type Client struct {
	baseURL string
	token   string
	perPage int
	http    *http.Client
	retry   engine.RetryPolicy
	clock   engine.Clock
	log     *telemetry.Logger
}

// NewClient creates a Canvas client.
func NewClient(cfg Config, log *telemetry.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("canvas base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("canvas access token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if log == nil {
		log = telemetry.NopLogger()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		token:   cfg.Token,
		perPage: cfg.PerPage,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   engine.DefaultRetryPolicy(),
		clock:   engine.SystemClock(),
		log:     log.NewComponentLogger("canvas"),
	}, nil
}

// FetchActiveAssignments walks every active course and returns one
// snapshot per published assignment. Unpublished and malformed
// assignments are skipped with a warning, as is any single course whose
// assignment fetch fails after retries. A failed course listing or a
// rejected credential aborts the fetch.
func (c *Client) FetchActiveAssignments(ctx context.Context) ([]*engine.SourceRecord, error) {
	courses, err := c.ActiveCourses(ctx)
	if err != nil {
		return nil, err
	}

	var out []*engine.SourceRecord
	for _, course := range courses {
		assignments, err := c.CourseAssignments(ctx, course)
		if err != nil {
			// A rejected credential will fail every course; give up. A
			// single broken course must not sink the rest of the fetch.
			if engine.IsAuthExpired(err) || ctx.Err() != nil {
				return nil, err
			}
			c.log.WithError(err).
				Warnf("skipping course %d, assignment fetch failed", course.ID)
			continue
		}
		for _, a := range assignments {
			out = append(out, &engine.SourceRecord{
				Key:             a.Key(),
				Title:           a.DisplayTitle(),
				DueDate:         a.DueDate(),
				SubmissionState: a.SubmissionState(),
				SourceURL:       a.HTMLURL,
			})
		}
	}
	return out, nil
}

// ActiveCourses lists the courses the token's user is actively enrolled
// in.
func (c *Client) ActiveCourses(ctx context.Context) ([]Course, error) {
	q := url.Values{}
	q.Set("enrollment_state", "active")
	q.Set("per_page", strconv.Itoa(c.perPage))

	var courses []Course
	err := c.paginate(ctx, "/courses", q, func(page json.RawMessage) error {
		var batch []Course
		if err := json.Unmarshal(page, &batch); err != nil {
			return engine.NewPermanentError("malformed course list", err)
		}
		for _, course := range batch {
			// Restricted enrollments come back with a null name.
			if course.Name == "" {
				c.log.Debugf("skipping unnamed course %d", course.ID)
				continue
			}
			courses = append(courses, course)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Debugf("found %d active courses", len(courses))
	return courses, nil
}

// CourseAssignments lists the published assignments of one course with
// the user's submission embedded. Individual malformed entries are
// logged and skipped rather than failing the whole course.
func (c *Client) CourseAssignments(ctx context.Context, course Course) ([]*Assignment, error) {
	q := url.Values{}
	q.Set("include[]", "submission")
	q.Set("per_page", strconv.Itoa(c.perPage))

	var assignments []*Assignment
	err := c.paginate(ctx, fmt.Sprintf("/courses/%d/assignments", course.ID), q, func(page json.RawMessage) error {
		var batch []json.RawMessage
		if err := json.Unmarshal(page, &batch); err != nil {
			return engine.NewPermanentError("malformed assignment list", err)
		}
		for _, raw := range batch {
			a, err := decodeAssignment(raw, course)
			if err != nil {
				c.log.WithError(err).
					Warnf("skipping assignment in course %d", course.ID)
				continue
			}
			if !a.Published {
				continue
			}
			assignments = append(assignments, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// HealthCheck verifies the token by loading the current user's profile.
func (c *Client) HealthCheck(ctx context.Context) error {
	body, _, err := c.get(ctx, c.baseURL+"/users/self")
	if err != nil {
		return err
	}
	var user struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return engine.NewPermanentError("malformed user profile", err)
	}
	return nil
}

// paginate walks every page of a collection endpoint following the Link
// header's rel="next" until exhausted.
func (c *Client) paginate(ctx context.Context, path string, q url.Values, handle func(json.RawMessage) error) error {
	next := c.baseURL + path + "?" + q.Encode()
	for next != "" {
		body, links, err := c.get(ctx, next)
		if err != nil {
			return err
		}
		if err := handle(body); err != nil {
			return err
		}
		next = links
	}
	return nil
}

// get performs one authenticated GET with retry on throttled and
// transient failures. It returns the body and the rel="next" link, if
// any.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	attempts := 0
	for {
		attempts++
		body, next, err := c.doGet(ctx, rawURL)
		if err == nil {
			return body, next, nil
		}
		if !engine.IsRetryable(err) || attempts >= c.retry.MaxAttempts {
			return nil, "", err
		}

		delay := c.retry.Backoff(attempts-1, engine.RetryAfterHint(err))
		c.log.WithError(err).
			Warnf("canvas request failed, retrying in %s (attempt %d/%d)",
				delay, attempts, c.retry.MaxAttempts)
		if serr := c.clock.Sleep(ctx, delay); serr != nil {
			return nil, "", engine.NewTransientError("canvas retry interrupted", serr).
				WithCode(engine.ErrCodeTimeout)
		}
	}
}

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", engine.NewPermanentError("failed to build canvas request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", engine.NewTransientError("canvas request failed", err).
			WithCode(engine.ErrCodeSourceFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, "", engine.NewTransientError("failed to read canvas response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, "", classifyStatus(resp, body)
	}

	return body, nextLink(resp.Header.Get("Link")), nil
}

// classifyStatus maps an HTTP error response onto the engine's error
// classes.
func classifyStatus(resp *http.Response, body []byte) *engine.SyncError {
	msg := fmt.Sprintf("canvas returned %s", resp.Status)
	if len(body) > 0 && len(body) < 512 {
		msg = fmt.Sprintf("%s: %s", msg, strings.TrimSpace(string(body)))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return engine.NewAuthError(msg, nil)
	case resp.StatusCode == http.StatusNotFound:
		return engine.NewPermanentError(msg, nil).WithCode(engine.ErrCodeNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return engine.NewThrottledError(msg, retryAfter(resp), nil)
	case resp.StatusCode >= 500:
		return engine.NewTransientError(msg, nil).WithCode(engine.ErrCodeSourceFailed)
	default:
		return engine.NewPermanentError(msg, nil)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// nextLink extracts the rel="next" URL from a Canvas Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, param := range section[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}
