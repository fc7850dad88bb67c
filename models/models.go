package models

import "time"

// RawPage is a fetched page handed to the engine by the fetch layer
type RawPage struct {
	URL       string    `json:"url"`
	SourceID  string    `json:"source_id"`
	Content   []byte    `json:"-"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CandidateRecord is one unnormalized product extraction from a page.
// Only TitleRaw is mandatory; empty strings mean the field was not found.
type CandidateRecord struct {
	TitleRaw    string `json:"title_raw"`
	PriceRaw    string `json:"price_raw,omitempty"`
	RatingRaw   string `json:"rating_raw,omitempty"`
	LinkRaw     string `json:"link_raw,omitempty"`
	CategoryRaw string `json:"category_raw,omitempty"` // Path as published, e.g. "Elektronika > Mobily"
}

// ProductRecord is the normalized, storable unit keyed by (Title, SourceID)
type ProductRecord struct {
	Title     string    `json:"title"`
	SourceID  string    `json:"source_id"`
	Price     *float64  `json:"price"`
	Rating    *float64  `json:"rating"` // Scale as published by the source (0-5 or 0-10)
	Link      *string   `json:"link"`
	Category  *string   `json:"category"`
	CrawledAt time.Time `json:"crawled_at"` // Set by the store at write time
}

// PaginationDecision tells the fetch layer whether a listing continues
type PaginationDecision struct {
	HasNext bool   `json:"has_next"`
	NextURL string `json:"next_url,omitempty"`
}

// NoNext is the terminal pagination decision
var NoNext = PaginationDecision{}

// SortOrder selects the ordering of catalog reads
type SortOrder string

const (
	SortPriceAsc  SortOrder = "price_asc"
	SortPriceDesc SortOrder = "price_desc"
	SortNameAsc   SortOrder = "name_asc"
	SortNameDesc  SortOrder = "name_desc"
)

// ParseSortOrder returns the matching SortOrder, defaulting to price ascending
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(s) {
	case SortPriceDesc, SortNameAsc, SortNameDesc:
		return SortOrder(s)
	default:
		return SortPriceAsc
	}
}

// ProductFilter narrows catalog reads. Zero values mean "no constraint".
type ProductFilter struct {
	Category string `json:"category,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	Search   string `json:"search,omitempty"` // Title substring
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Stats summarises the stored catalog
type Stats struct {
	TotalProducts int            `json:"total_products"`
	BySource      map[string]int `json:"by_source"`
	Categories    int            `json:"categories"`
}

// CrawlRun records one crawl invocation
type CrawlRun struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Pages      int        `json:"pages"`
	Stored     int        `json:"stored"`
	Failed     int        `json:"failed"`
	Dropped    int        `json:"dropped"`
	Status     string     `json:"status"`
}

// Crawl run statuses
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)
