package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/bizsync/internal/provider"
)

var target = Target{LocationID: "loc-1", StoreID: "store-1"}

func TestReviewRatingCoercion(t *testing.T) {
	cases := []struct {
		name   string
		rating any
		want   int
	}{
		{"enum word", "FIVE", 5},
		{"lowercase word", "three", 3},
		{"json number", float64(4), 4},
		{"numeric string", "2", 2},
		{"out of range clamped", float64(9), 5},
		{"below range clamped", float64(0), 1},
	}

	p := Reviews(50)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := p.Process(provider.Review{
				ReviewID:   "r-1",
				Rating:     tc.rating,
				CreateTime: "2026-01-02T15:04:05Z",
			}, target)
			if !res.Success {
				t.Fatalf("errors = %v, want success", res.Errors)
			}
			if res.Data.Rating != tc.want {
				t.Errorf("rating = %d, want %d", res.Data.Rating, tc.want)
			}
		})
	}
}

func TestReviewEnrichment(t *testing.T) {
	res := Reviews(50).Process(provider.Review{
		ReviewID:   "r-1",
		Reviewer:   "  Jo  ",
		Rating:     "FOUR",
		Comment:    " great ",
		CreateTime: "2026-01-02T15:04:05Z",
	}, target)
	if !res.Success {
		t.Fatalf("errors = %v", res.Errors)
	}
	rec := res.Data
	if rec.Source != "business-profile-api" || rec.Status != "active" {
		t.Errorf("enrichment = source %q status %q", rec.Source, rec.Status)
	}
	if rec.Reviewer != "Jo" || rec.Comment != "great" {
		t.Errorf("sanitize left whitespace: %q %q", rec.Reviewer, rec.Comment)
	}
	if rec.LocationID != "loc-1" || rec.StoreID != "store-1" {
		t.Errorf("target not attached: %q %q", rec.LocationID, rec.StoreID)
	}
	if rec.UpdatedAt != rec.CreatedAt {
		t.Errorf("missing update time should fall back to create time")
	}
}

func TestReviewMissingExternalIDDropped(t *testing.T) {
	res := Reviews(50).Process(provider.Review{Rating: "FIVE"}, target)
	if res.Success {
		t.Fatal("review without external id should be dropped")
	}
	if len(res.Errors) == 0 {
		t.Error("dropped record should carry errors")
	}
}

func TestBatchIsolation(t *testing.T) {
	raws := []provider.Review{
		{ReviewID: "r-1", Rating: "FIVE", CreateTime: "2026-01-01"},
		{Rating: "FIVE"}, // no external id
		{ReviewID: "r-3", Rating: float64(2), CreateTime: "2026-01-03"},
	}

	p := Reviews(50)
	out, stats := p.ProcessBatch(raws, target)

	if len(out) != 2 || stats.Processed != 2 || stats.Dropped != 1 {
		t.Fatalf("out=%d processed=%d dropped=%d, want 2/2/1", len(out), stats.Processed, stats.Dropped)
	}
	if out[0].ExternalID != "r-1" || out[1].ExternalID != "r-3" {
		t.Errorf("surviving records = %s, %s", out[0].ExternalID, out[1].ExternalID)
	}
}

func TestErrorCeilingStopsProcessing(t *testing.T) {
	raws := make([]provider.Review, 10)
	for i := range raws {
		if i%2 == 0 {
			raws[i] = provider.Review{Rating: "FIVE"} // invalid, no external id
		} else {
			raws[i] = provider.Review{ReviewID: "ok", Rating: "FIVE", CreateTime: "2026-01-01"}
		}
	}

	p := Reviews(3)
	out, stats := p.ProcessBatch(raws, target)

	if !stats.CeilingReached {
		t.Fatal("ceiling should be reached at 3 errors")
	}
	// Records 0..4 are processed (errors at 0, 2, 4 hit the ceiling), the
	// rest are skipped unprocessed.
	if stats.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", stats.Dropped)
	}
	if stats.Skipped != 5 {
		t.Errorf("skipped = %d, want 5", stats.Skipped)
	}
	if len(out)+stats.Dropped+stats.Skipped != 10 {
		t.Errorf("accounting mismatch: %d + %d + %d != 10", len(out), stats.Dropped, stats.Skipped)
	}
	if !p.CeilingReached() {
		t.Error("pipeline should stay capped for the rest of the run")
	}

	// A later batch in the same run is dropped wholesale.
	out2, stats2 := p.ProcessBatch(raws[:2], target)
	if len(out2) != 0 || stats2.Skipped != 2 {
		t.Errorf("post-ceiling batch: out=%d skipped=%d, want 0/2", len(out2), stats2.Skipped)
	}
}

func TestPostMediaURLVerification(t *testing.T) {
	p := Posts(50)

	res := p.Process(provider.Post{
		PostID:     "p-1",
		Summary:    "sale",
		MediaURL:   "https://img.example.com/a.jpg",
		CreateTime: "2026-02-01",
	}, target)
	if !res.Success || res.Data.MediaURL != "https://img.example.com/a.jpg" {
		t.Fatalf("valid url should survive: %+v", res)
	}

	res = p.Process(provider.Post{
		PostID:     "p-2",
		MediaURL:   "javascript:alert(1)",
		CreateTime: "2026-02-01",
	}, target)
	if !res.Success {
		t.Fatalf("invalid media url should warn, not drop: %v", res.Errors)
	}
	if res.Data.MediaURL != "" {
		t.Errorf("invalid url should be cleared, got %q", res.Data.MediaURL)
	}
	if len(res.Warnings) == 0 {
		t.Error("cleared url should produce a warning")
	}
}

func TestInsightExternalIDEncodesPeriod(t *testing.T) {
	p := Insights(50)
	res := p.Process(&provider.InsightReport{
		StartDate: "2026-07-25",
		EndDate:   "2026-08-24",
		Metrics: map[string]any{
			provider.MetricSearchViews:   float64(120),
			provider.MetricMapsViews:     "45",
			provider.MetricWebsiteClicks: float64(-3),
		},
	}, target)
	if !res.Success {
		t.Fatalf("errors = %v", res.Errors)
	}
	rec := res.Data
	if rec.ExternalID != "loc-1:2026-07-25:2026-08-24" {
		t.Errorf("external id = %q", rec.ExternalID)
	}
	if rec.SearchViews != 120 || rec.MapsViews != 45 {
		t.Errorf("metric coercion: search=%d maps=%d", rec.SearchViews, rec.MapsViews)
	}
	if rec.WebsiteClicks != 0 {
		t.Errorf("negative count should clamp to 0, got %d", rec.WebsiteClicks)
	}
	if len(res.Warnings) == 0 {
		t.Error("clamped count should warn")
	}
}

func TestInsightInvalidPeriodDropped(t *testing.T) {
	p := Insights(50)

	res := p.Process(&provider.InsightReport{StartDate: "bogus", EndDate: "2026-08-24"}, target)
	if res.Success {
		t.Error("unparseable period start should drop the record")
	}

	res = p.Process(&provider.InsightReport{StartDate: "2026-08-24", EndDate: "2026-07-01"}, target)
	if res.Success {
		t.Error("period end before start should drop the record")
	}
}

func TestInsightWindowsDistinct(t *testing.T) {
	now := time.Date(2026, 8, 24, 13, 45, 0, 0, time.UTC)
	windows := InsightWindows(now, []int{7, 30, 90, 365})

	if len(windows) != 4 {
		t.Fatalf("windows = %d, want 4", len(windows))
	}
	seen := map[string]bool{}
	for _, w := range windows {
		key := w[0].Format("2006-01-02") + ":" + w[1].Format("2006-01-02")
		if seen[key] {
			t.Errorf("duplicate window %s", key)
		}
		seen[key] = true
		if !w[1].Equal(now.Truncate(24 * time.Hour)) {
			t.Errorf("window end = %v, want trailing edge at today", w[1])
		}
	}
	if !windows[0][0].Before(windows[len(windows)-1][0]) {
		t.Error("windows should be ordered oldest first")
	}
}

func TestKeywordPipeline(t *testing.T) {
	p := Keywords(50)

	res := p.Process(provider.SearchKeywordCount{
		Keyword:     "  Coffee Shop  ",
		Month:       "2026-07",
		Impressions: "830",
	}, target)
	if !res.Success {
		t.Fatalf("errors = %v", res.Errors)
	}
	rec := res.Data
	if rec.ExternalID != "loc-1:coffee shop:2026-07" {
		t.Errorf("external id = %q", rec.ExternalID)
	}
	if rec.Impressions != 830 {
		t.Errorf("impressions = %d, want 830", rec.Impressions)
	}

	res = p.Process(provider.SearchKeywordCount{Keyword: "tea", Month: "July 2026"}, target)
	if res.Success {
		t.Error("malformed month should drop the record")
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0], "YYYY-MM") {
		t.Errorf("errors = %v, want month format error", res.Errors)
	}
}
