package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johndauphine/bizsync/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(&config.ProviderConfig{
		BaseURL:   srv.URL,
		UserAgent: "bizsync-test",
	}, "test-token")
}

func TestListReviewsFollowsPageTokens(t *testing.T) {
	pages := map[string][]Review{
		"":   {{ReviewID: "r1", Rating: "FIVE"}, {ReviewID: "r2", Rating: float64(3)}},
		"p2": {{ReviewID: "r3", Rating: "ONE"}},
	}
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		token := r.URL.Query().Get("pageToken")
		next := ""
		if token == "" {
			next = "p2"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"reviews":       pages[token],
			"nextPageToken": next,
		})
	}))

	reviews, err := client.ListReviews(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("reviews = %d, want 3 across pages", len(reviews))
	}
	if reviews[2].ReviewID != "r3" {
		t.Errorf("last review = %s, want r3 from second page", reviews[2].ReviewID)
	}
}

func TestNotFoundMeansFeatureUnavailable(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	_, err := client.ListPosts(context.Background(), "loc-1")
	if !errors.Is(err, ErrFeatureUnavailable) {
		t.Errorf("err = %v, want ErrFeatureUnavailable", err)
	}
}

func TestForbiddenNotEnabledMeansFeatureUnavailable(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "NOT_ENABLED for this location"}`))
	}))

	_, err := client.ListSearchKeywords(context.Background(), "loc-1", "2026-01", "2026-08")
	if !errors.Is(err, ErrFeatureUnavailable) {
		t.Errorf("err = %v, want ErrFeatureUnavailable", err)
	}
}

func TestStatusErrorCarriesCode(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, err := client.ListReviews(context.Background(), "loc-1")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests {
		t.Errorf("code = %d, want 429", se.Code)
	}
}

func TestGetInsightsFillsPeriodDefaults(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("startDate") == "" || r.URL.Query().Get("endDate") == "" {
			t.Error("period query params missing")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"metrics": map[string]any{"QUERIES_DIRECT": 12},
		})
	}))

	start := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	report, err := client.GetInsights(context.Background(), "loc-1", start, end)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if report.LocationID != "loc-1" || report.StartDate != "2026-08-17" || report.EndDate != "2026-08-24" {
		t.Errorf("defaults not filled: %+v", report)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &StatusError{Code: 429}, true},
		{"server error", &StatusError{Code: 503}, true},
		{"bad request", &StatusError{Code: 400}, false},
		{"feature unavailable", ErrFeatureUnavailable, false},
		{"network", errors.New("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
