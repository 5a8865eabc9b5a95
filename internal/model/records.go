package model

import "time"

// DataType identifies one class of provider data handled by the pipeline.
type DataType string

const (
	DataReviews        DataType = "reviews"
	DataPosts          DataType = "posts"
	DataInsights       DataType = "insights"
	DataSearchKeywords DataType = "searchkeywords"
)

// AllDataTypes lists every data type in fetch order.
var AllDataTypes = []DataType{DataReviews, DataPosts, DataInsights, DataSearchKeywords}

// SourceProvider stamps the provenance of every synced record.
const SourceProvider = "business-profile-api"

// StatusActive is the default operational status for enriched records.
const StatusActive = "active"

// Store is the local entity owning synced records for one provider location.
// Created on first sight during persistence if no store exists for the
// provider location id.
type Store struct {
	ID         string
	LocationID string // provider location identifier, unique
	AccountID  string
	Name       string
	Address    string
	Category   string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Review is a customer review ready for persistence.
type Review struct {
	ExternalID   string // provider review id, upsert key
	LocationID   string
	StoreID      string
	Reviewer     string
	Rating       int // 1..5, clamped during sanitize
	Comment      string
	Reply        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Source       string
	Status       string
	HelpfulCount int
}

// Post is a promotional post ready for persistence.
type Post struct {
	ExternalID string
	LocationID string
	StoreID    string
	Summary    string
	Topic      string
	MediaURL   string
	State      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Source     string
	Status     string
	ViewCount  int
}

// Insight is one performance-metric period for a location. Overlapping
// periods are stored as distinct records; the external id encodes the
// location and the period bounds.
type Insight struct {
	ExternalID       string
	LocationID       string
	StoreID          string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	SearchViews      int64
	MapsViews        int64
	WebsiteClicks    int64
	PhoneCalls       int64
	DirectionLookups int64
	Source           string
	Status           string
}

// SearchKeyword is one keyword impression count for a location and month.
type SearchKeyword struct {
	ExternalID  string
	LocationID  string
	StoreID     string
	Keyword     string
	Month       string // YYYY-MM
	Impressions int64
	Source      string
	Status      string
}
