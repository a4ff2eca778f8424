package canvas

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lmsync/lmsync/pkg/engine"
	"github.com/lmsync/lmsync/pkg/stores"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL,
		Token:   "canvas-token",
		PerPage: 2,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	// No real sleeping in tests.
	client.retry.BaseDelay = time.Millisecond
	return client
}

func TestClient_ActiveCourses(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer canvas-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("enrollment_state"); got != "active" {
			t.Errorf("Expected enrollment_state=active, got %q", got)
		}

		fmt.Fprint(w, `[
			{"id": 101, "name": "Biology", "course_code": "BIO-101"},
			{"id": 102, "name": null, "course_code": "SEC-1"},
			{"id": 103, "name": "Chemistry", "course_code": "CHM-101"}
		]`)
	})

	courses, err := newTestClient(t, handler).ActiveCourses(context.Background())
	if err != nil {
		t.Fatalf("Failed to list courses: %v", err)
	}

	if len(courses) != 2 {
		t.Fatalf("Expected 2 named courses, got %d", len(courses))
	}
	if courses[0].ID != 101 || courses[0].Name != "Biology" {
		t.Errorf("Unexpected first course: %+v", courses[0])
	}
}

func TestClient_ActiveCoursesPagination(t *testing.T) {
	var server *httptest.Server
	page := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		switch page {
		case 1:
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?page=2>; rel="next", <%s/api/v1/courses?page=1>; rel="first"`, server.URL, server.URL))
			fmt.Fprint(w, `[{"id": 1, "name": "A"}, {"id": 2, "name": "B"}]`)
		case 2:
			fmt.Fprint(w, `[{"id": 3, "name": "C"}]`)
		default:
			t.Errorf("Unexpected page request %d", page)
		}
	})
	server = httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, Token: "tok"}, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	courses, err := client.ActiveCourses(context.Background())
	if err != nil {
		t.Fatalf("Failed to list courses: %v", err)
	}
	if len(courses) != 3 {
		t.Errorf("Expected 3 courses across pages, got %d", len(courses))
	}
}

func TestClient_CourseAssignments(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses/101/assignments" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("include[]"); got != "submission" {
			t.Errorf("Expected include[]=submission, got %q", got)
		}

		fmt.Fprint(w, `[
			{"id": 1, "name": "Essay", "due_at": "2026-09-15T23:59:00Z", "html_url": "https://c/1",
			 "submission": {"assignment_id": 1, "submitted_at": "2026-09-10T12:00:00Z", "workflow_state": "submitted"}},
			{"id": 2, "name": "Draft", "published": false},
			{"id": 0, "name": "broken"},
			{"id": 3, "name": "Quiz", "due_at": null}
		]`)
	})

	client := newTestClient(t, handler)
	assignments, err := client.CourseAssignments(context.Background(), Course{ID: 101, Name: "Biology"})
	if err != nil {
		t.Fatalf("Failed to list assignments: %v", err)
	}

	// Unpublished and malformed entries are skipped.
	if len(assignments) != 2 {
		t.Fatalf("Expected 2 assignments, got %d", len(assignments))
	}

	essay := assignments[0]
	if essay.DisplayTitle() != "[Biology] Essay" {
		t.Errorf("Expected prefixed title, got %q", essay.DisplayTitle())
	}
	if essay.SubmissionState() != stores.SubmissionStateSubmitted {
		t.Errorf("Expected submitted, got %q", essay.SubmissionState())
	}
	if due := essay.DueDate(); due == nil || !due.Equal(time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected due date reduced to 2026-09-15, got %v", due)
	}

	quiz := assignments[1]
	if quiz.DueDate() != nil {
		t.Errorf("Expected nil due date, got %v", quiz.DueDate())
	}
	if quiz.SubmissionState() != stores.SubmissionStateNotSubmitted {
		t.Errorf("Expected not_submitted without submission, got %q", quiz.SubmissionState())
	}
}

func TestClient_FetchActiveAssignments(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses":
			fmt.Fprint(w, `[{"id": 101, "name": "Biology"}]`)
		case "/api/v1/courses/101/assignments":
			fmt.Fprint(w, `[{"id": 7, "name": "Lab", "due_at": "2026-10-01T04:00:00Z", "html_url": "https://c/7"}]`)
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	})

	records, err := newTestClient(t, handler).FetchActiveAssignments(context.Background())
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	want := stores.Key{CourseID: 101, AssignmentID: 7}
	if rec.Key != want {
		t.Errorf("Expected key %v, got %v", want, rec.Key)
	}
	if rec.Title != "[Biology] Lab" {
		t.Errorf("Expected title [Biology] Lab, got %q", rec.Title)
	}
	if rec.SourceURL != "https://c/7" {
		t.Errorf("Expected source URL, got %q", rec.SourceURL)
	}
}

func TestClient_FetchActiveAssignments_SkipsBrokenCourse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses":
			fmt.Fprint(w, `[{"id": 101, "name": "Biology"}, {"id": 102, "name": "Chemistry"}]`)
		case "/api/v1/courses/101/assignments":
			w.WriteHeader(http.StatusInternalServerError)
		case "/api/v1/courses/102/assignments":
			fmt.Fprint(w, `[{"id": 8, "name": "Worksheet"}]`)
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	})

	records, err := newTestClient(t, handler).FetchActiveAssignments(context.Background())
	if err != nil {
		t.Fatalf("Expected partial fetch to succeed, got: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record from the healthy course, got %d", len(records))
	}
	if records[0].Key.CourseID != 102 {
		t.Errorf("Expected record from course 102, got %v", records[0].Key)
	}
}

func TestClient_FetchActiveAssignments_AuthFailureIsFatal(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/courses" {
			fmt.Fprint(w, `[{"id": 101, "name": "Biology"}]`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := newTestClient(t, handler).FetchActiveAssignments(context.Background())
	if !engine.IsAuthExpired(err) {
		t.Fatalf("Expected auth classification, got: %v", err)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	_, err := newTestClient(t, handler).ActiveCourses(context.Background())
	if err != nil {
		t.Fatalf("Expected retry to succeed, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := newTestClient(t, handler).ActiveCourses(context.Background())
	if !engine.IsAuthExpired(err) {
		t.Fatalf("Expected auth classification, got: %v", err)
	}
}

func TestClient_RateLimitedCarriesHint(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.001")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	_, err := newTestClient(t, handler).ActiveCourses(context.Background())
	if err != nil {
		t.Fatalf("Expected throttled request to be retried, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/self" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id": 42}`)
	})

	if err := newTestClient(t, handler).HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy, got: %v", err)
	}
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{"next present", `<https://c/api/v1/courses?page=2>; rel="next", <https://c/api/v1/courses?page=9>; rel="last"`, "https://c/api/v1/courses?page=2"},
		{"no next", `<https://c/api/v1/courses?page=1>; rel="first"`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextLink(tt.header); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSubmission_IsSubmitted(t *testing.T) {
	ts := time.Now()
	tests := []struct {
		name string
		sub  *Submission
		want bool
	}{
		{"nil submission", nil, false},
		{"submitted_at set", &Submission{SubmittedAt: &ts}, true},
		{"graded without timestamp", &Submission{WorkflowState: "graded"}, true},
		{"pending review", &Submission{WorkflowState: "pending_review"}, true},
		{"unsubmitted", &Submission{WorkflowState: "unsubmitted"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.IsSubmitted(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
