package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/johndauphine/bizsync/internal/config"
	"github.com/johndauphine/bizsync/internal/logging"
)

// ErrFeatureUnavailable indicates the provider does not serve a data type
// for a location (unverified listing, region restriction). Callers treat it
// as an empty result, not a failure.
var ErrFeatureUnavailable = errors.New("feature unavailable for this location")

// Client is the remote business-data API surface the sync core depends on.
type Client interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	ListLocations(ctx context.Context, accountID string) ([]Location, error)
	ListReviews(ctx context.Context, locationID string) ([]Review, error)
	ListPosts(ctx context.Context, locationID string) ([]Post, error)
	GetInsights(ctx context.Context, locationID string, start, end time.Time) (*InsightReport, error)
	ListSearchKeywords(ctx context.Context, locationID, fromMonth, toMonth string) ([]SearchKeywordCount, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// IsRetryable reports whether a failed call is worth retrying (rate limits
// and server-side errors). Feature-unavailable and client errors are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrFeatureUnavailable) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	// Network-level failures and timeouts are retryable
	return true
}

// HTTPClient talks to the provider API over HTTP with bearer-token auth.
type HTTPClient struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPClient creates a provider client. The token is resolved once per
// run by the credential provider and assumed valid for the run's duration.
func NewHTTPClient(cfg *config.ProviderConfig, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     token,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			// Per-attempt deadlines come from the caller's context; this is
			// a hard upper bound against leaked connections.
			Timeout: 2 * time.Minute,
		},
	}
}

// get performs one GET and decodes the JSON response into out.
func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if featureUnavailableBody(string(body)) {
			return ErrFeatureUnavailable
		}
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(body))}
	}
	if resp.StatusCode == http.StatusNotFound {
		// The provider serves 404 for locations without the feature enabled
		return ErrFeatureUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func featureUnavailableBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "not_enabled") ||
		strings.Contains(lower, "feature unavailable") ||
		strings.Contains(lower, "unverified")
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// ListAccounts returns all accounts visible to the credential, following
// page tokens.
func (c *HTTPClient) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	pageToken := ""
	for {
		var page struct {
			Accounts      []Account `json:"accounts"`
			NextPageToken string    `json:"nextPageToken"`
		}
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "/accounts", q, &page); err != nil {
			return nil, err
		}
		accounts = append(accounts, page.Accounts...)
		if page.NextPageToken == "" {
			return accounts, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListLocations returns all locations for an account, following page tokens.
func (c *HTTPClient) ListLocations(ctx context.Context, accountID string) ([]Location, error) {
	var locations []Location
	pageToken := ""
	for {
		var page struct {
			Locations     []Location `json:"locations"`
			NextPageToken string     `json:"nextPageToken"`
		}
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/locations", q, &page); err != nil {
			return nil, err
		}
		locations = append(locations, page.Locations...)
		if page.NextPageToken == "" {
			return locations, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListReviews returns all reviews for a location, following page tokens.
func (c *HTTPClient) ListReviews(ctx context.Context, locationID string) ([]Review, error) {
	var reviews []Review
	pageToken := ""
	for {
		var page struct {
			Reviews       []Review `json:"reviews"`
			NextPageToken string   `json:"nextPageToken"`
		}
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "/locations/"+url.PathEscape(locationID)+"/reviews", q, &page); err != nil {
			return nil, err
		}
		reviews = append(reviews, page.Reviews...)
		if page.NextPageToken == "" {
			return reviews, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListPosts returns all promotional posts for a location.
func (c *HTTPClient) ListPosts(ctx context.Context, locationID string) ([]Post, error) {
	var posts []Post
	pageToken := ""
	for {
		var page struct {
			Posts         []Post `json:"localPosts"`
			NextPageToken string `json:"nextPageToken"`
		}
		q := url.Values{}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "/locations/"+url.PathEscape(locationID)+"/posts", q, &page); err != nil {
			return nil, err
		}
		posts = append(posts, page.Posts...)
		if page.NextPageToken == "" {
			return posts, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetInsights returns the performance-metric report for one period.
func (c *HTTPClient) GetInsights(ctx context.Context, locationID string, start, end time.Time) (*InsightReport, error) {
	q := url.Values{}
	q.Set("startDate", start.Format("2006-01-02"))
	q.Set("endDate", end.Format("2006-01-02"))

	var report InsightReport
	if err := c.get(ctx, "/locations/"+url.PathEscape(locationID)+"/insights", q, &report); err != nil {
		return nil, err
	}
	if report.LocationID == "" {
		report.LocationID = locationID
	}
	if report.StartDate == "" {
		report.StartDate = start.Format("2006-01-02")
	}
	if report.EndDate == "" {
		report.EndDate = end.Format("2006-01-02")
	}
	logging.Debug("Insights %s %s..%s: %d metrics", locationID, report.StartDate, report.EndDate, len(report.Metrics))
	return &report, nil
}

// ListSearchKeywords returns keyword impression counts for a month range.
func (c *HTTPClient) ListSearchKeywords(ctx context.Context, locationID, fromMonth, toMonth string) ([]SearchKeywordCount, error) {
	var keywords []SearchKeywordCount
	pageToken := ""
	for {
		var page struct {
			Keywords      []SearchKeywordCount `json:"searchKeywordCounts"`
			NextPageToken string               `json:"nextPageToken"`
		}
		q := url.Values{}
		q.Set("fromMonth", fromMonth)
		q.Set("toMonth", toMonth)
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if err := c.get(ctx, "/locations/"+url.PathEscape(locationID)+"/searchKeywords", q, &page); err != nil {
			return nil, err
		}
		keywords = append(keywords, page.Keywords...)
		if page.NextPageToken == "" {
			return keywords, nil
		}
		pageToken = page.NextPageToken
	}
}

var _ Client = (*HTTPClient)(nil)
