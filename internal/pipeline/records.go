package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/johndauphine/bizsync/internal/model"
	"github.com/johndauphine/bizsync/internal/provider"
)

// Reviews builds the review pipeline for one run.
func Reviews(maxErrors int) *Pipeline[provider.Review, model.Review] {
	return New(Config[provider.Review, model.Review]{
		Name:      string(model.DataReviews),
		MaxErrors: maxErrors,
		Sanitize: func(raw provider.Review) (provider.Review, []string) {
			var warnings []string
			raw.Reviewer = strings.TrimSpace(raw.Reviewer)
			raw.Comment = strings.TrimSpace(raw.Comment)
			raw.Reply = strings.TrimSpace(raw.Reply)
			rating, w := ParseRating(raw.Rating)
			raw.Rating = rating
			warnings = append(warnings, w...)
			return raw, warnings
		},
		Transform: func(raw provider.Review, target Target) (model.Review, error) {
			created, _ := ParseTime(raw.CreateTime, "createTime")
			updated, _ := ParseTime(raw.UpdateTime, "updateTime")
			if updated.IsZero() {
				updated = created
			}
			rating, _ := raw.Rating.(int)
			return model.Review{
				ExternalID: raw.ReviewID,
				LocationID: target.LocationID,
				StoreID:    target.StoreID,
				Reviewer:   raw.Reviewer,
				Rating:     rating,
				Comment:    raw.Comment,
				Reply:      raw.Reply,
				CreatedAt:  created,
				UpdatedAt:  updated,
			}, nil
		},
		Validate: func(rec model.Review) []string {
			var errs []string
			if rec.ExternalID == "" {
				errs = append(errs, "review missing external id")
			}
			if rec.LocationID == "" {
				errs = append(errs, "review missing location id")
			}
			if rec.Rating < 1 || rec.Rating > 5 {
				errs = append(errs, fmt.Sprintf("review %s: rating %d outside 1..5", rec.ExternalID, rec.Rating))
			}
			return errs
		},
		Enrich: func(rec *model.Review) {
			rec.Source = model.SourceProvider
			rec.Status = model.StatusActive
			rec.HelpfulCount = 0
		},
	})
}

// Posts builds the post pipeline for one run.
func Posts(maxErrors int) *Pipeline[provider.Post, model.Post] {
	return New(Config[provider.Post, model.Post]{
		Name:      string(model.DataPosts),
		MaxErrors: maxErrors,
		Sanitize: func(raw provider.Post) (provider.Post, []string) {
			var warnings []string
			raw.Summary = strings.TrimSpace(raw.Summary)
			raw.Topic = strings.TrimSpace(raw.Topic)
			raw.State = strings.TrimSpace(raw.State)
			mediaURL, w := VerifyURL(raw.MediaURL)
			raw.MediaURL = mediaURL
			warnings = append(warnings, w...)
			return raw, warnings
		},
		Transform: func(raw provider.Post, target Target) (model.Post, error) {
			created, _ := ParseTime(raw.CreateTime, "createTime")
			updated, _ := ParseTime(raw.UpdateTime, "updateTime")
			if updated.IsZero() {
				updated = created
			}
			return model.Post{
				ExternalID: raw.PostID,
				LocationID: target.LocationID,
				StoreID:    target.StoreID,
				Summary:    raw.Summary,
				Topic:      raw.Topic,
				MediaURL:   raw.MediaURL,
				State:      raw.State,
				CreatedAt:  created,
				UpdatedAt:  updated,
			}, nil
		},
		Validate: func(rec model.Post) []string {
			var errs []string
			if rec.ExternalID == "" {
				errs = append(errs, "post missing external id")
			}
			if rec.LocationID == "" {
				errs = append(errs, "post missing location id")
			}
			return errs
		},
		Enrich: func(rec *model.Post) {
			rec.Source = model.SourceProvider
			rec.Status = model.StatusActive
			rec.ViewCount = 0
		},
	})
}

// Insights builds the insight pipeline for one run. The external id encodes
// location and period bounds so overlapping windows persist as distinct
// records.
func Insights(maxErrors int) *Pipeline[*provider.InsightReport, model.Insight] {
	return New(Config[*provider.InsightReport, model.Insight]{
		Name:      string(model.DataInsights),
		MaxErrors: maxErrors,
		Sanitize: func(raw *provider.InsightReport) (*provider.InsightReport, []string) {
			var warnings []string
			clean := *raw
			clean.Metrics = make(map[string]any, len(raw.Metrics))
			for name, v := range raw.Metrics {
				count, w := ParseCount(v, name)
				clean.Metrics[name] = count
				warnings = append(warnings, w...)
			}
			return &clean, warnings
		},
		Transform: func(raw *provider.InsightReport, target Target) (model.Insight, error) {
			start, werr := ParseTime(raw.StartDate, "startDate")
			if len(werr) > 0 || start.IsZero() {
				return model.Insight{}, fmt.Errorf("invalid period start %q", raw.StartDate)
			}
			end, werr := ParseTime(raw.EndDate, "endDate")
			if len(werr) > 0 || end.IsZero() {
				return model.Insight{}, fmt.Errorf("invalid period end %q", raw.EndDate)
			}
			metric := func(name string) int64 {
				n, _ := raw.Metrics[name].(int64)
				return n
			}
			return model.Insight{
				ExternalID: fmt.Sprintf("%s:%s:%s",
					target.LocationID, start.Format("2006-01-02"), end.Format("2006-01-02")),
				LocationID:       target.LocationID,
				StoreID:          target.StoreID,
				PeriodStart:      start,
				PeriodEnd:        end,
				SearchViews:      metric(provider.MetricSearchViews),
				MapsViews:        metric(provider.MetricMapsViews),
				WebsiteClicks:    metric(provider.MetricWebsiteClicks),
				PhoneCalls:       metric(provider.MetricPhoneCalls),
				DirectionLookups: metric(provider.MetricDirectionLookups),
			}, nil
		},
		Validate: func(rec model.Insight) []string {
			var errs []string
			if rec.LocationID == "" {
				errs = append(errs, "insight missing location id")
			}
			if rec.PeriodEnd.Before(rec.PeriodStart) {
				errs = append(errs, fmt.Sprintf("insight %s: period end before start", rec.ExternalID))
			}
			return errs
		},
		Enrich: func(rec *model.Insight) {
			rec.Source = model.SourceProvider
			rec.Status = model.StatusActive
		},
	})
}

// Keywords builds the search-keyword pipeline for one run.
func Keywords(maxErrors int) *Pipeline[provider.SearchKeywordCount, model.SearchKeyword] {
	return New(Config[provider.SearchKeywordCount, model.SearchKeyword]{
		Name:      string(model.DataSearchKeywords),
		MaxErrors: maxErrors,
		Sanitize: func(raw provider.SearchKeywordCount) (provider.SearchKeywordCount, []string) {
			var warnings []string
			raw.Keyword = strings.ToLower(strings.TrimSpace(raw.Keyword))
			raw.Month = strings.TrimSpace(raw.Month)
			impressions, w := ParseCount(raw.Impressions, "impressions")
			raw.Impressions = impressions
			warnings = append(warnings, w...)
			return raw, warnings
		},
		Transform: func(raw provider.SearchKeywordCount, target Target) (model.SearchKeyword, error) {
			impressions, _ := raw.Impressions.(int64)
			return model.SearchKeyword{
				ExternalID:  fmt.Sprintf("%s:%s:%s", target.LocationID, raw.Keyword, raw.Month),
				LocationID:  target.LocationID,
				StoreID:     target.StoreID,
				Keyword:     raw.Keyword,
				Month:       raw.Month,
				Impressions: impressions,
			}, nil
		},
		Validate: func(rec model.SearchKeyword) []string {
			var errs []string
			if rec.Keyword == "" {
				errs = append(errs, "search keyword empty after sanitize")
			}
			if rec.LocationID == "" {
				errs = append(errs, "search keyword missing location id")
			}
			if !ValidMonth(rec.Month) {
				errs = append(errs, fmt.Sprintf("search keyword %q: month %q not YYYY-MM", rec.Keyword, rec.Month))
			}
			return errs
		},
		Enrich: func(rec *model.SearchKeyword) {
			rec.Source = model.SourceProvider
			rec.Status = model.StatusActive
		},
	})
}

// InsightWindows derives the overlapping reporting periods ending at now for
// the configured window lengths, oldest first.
func InsightWindows(now time.Time, windowDays []int) [][2]time.Time {
	end := now.UTC().Truncate(24 * time.Hour)
	windows := make([][2]time.Time, 0, len(windowDays))
	for i := len(windowDays) - 1; i >= 0; i-- {
		start := end.AddDate(0, 0, -windowDays[i])
		windows = append(windows, [2]time.Time{start, end})
	}
	return windows
}
