package provider

// Raw provider payloads. Fields the provider serves inconsistently (ratings
// as enum strings or numbers, counters as numbers or numeric strings) stay
// untyped here; the pipeline's sanitize stage is the only consumer of the
// weak typing.

// Account is a provider account that owns locations.
type Account struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

// Location is a single business venue owned by an account.
type Location struct {
	LocationID string `json:"locationId"`
	AccountID  string `json:"accountId"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Category   string `json:"category"`
}

// Review is a raw customer review.
type Review struct {
	ReviewID   string `json:"reviewId"`
	Reviewer   string `json:"reviewer"`
	Rating     any    `json:"starRating"` // "FIVE", "4", or 4
	Comment    string `json:"comment"`
	Reply      string `json:"reviewReply"`
	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
}

// Post is a raw promotional post.
type Post struct {
	PostID     string `json:"postId"`
	Summary    string `json:"summary"`
	Topic      string `json:"topicType"`
	MediaURL   string `json:"mediaUrl"`
	State      string `json:"state"`
	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
}

// InsightReport is one performance-metric report for a location and period.
// Metric values may arrive as numbers or numeric strings.
type InsightReport struct {
	LocationID string         `json:"locationId"`
	StartDate  string         `json:"startDate"`
	EndDate    string         `json:"endDate"`
	Metrics    map[string]any `json:"metrics"`
}

// Metric names served in InsightReport.Metrics.
const (
	MetricSearchViews      = "QUERIES_DIRECT"
	MetricMapsViews        = "VIEWS_MAPS"
	MetricWebsiteClicks    = "ACTIONS_WEBSITE"
	MetricPhoneCalls       = "ACTIONS_PHONE"
	MetricDirectionLookups = "ACTIONS_DRIVING_DIRECTIONS"
)

// SearchKeywordCount is one keyword impression count for a month.
type SearchKeywordCount struct {
	Keyword     string `json:"searchKeyword"`
	Month       string `json:"month"` // YYYY-MM
	Impressions any    `json:"insightsValue"`
}
