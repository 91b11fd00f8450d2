package models

import (
	"fmt"
	"strings"
	"time"
)

// Bounds for SearchRequest.Count.
const (
	MinSearchResults = 1
	MaxSearchResults = 50
)

// SearchRequest describes one query against a search provider.
// Build it with NewSearchRequest so the invariants hold at construction time,
// not at the provider call.
type SearchRequest struct {
	Query         string `json:"query"`
	Count         int    `json:"count"`
	RecencyFilter string `json:"recency_filter,omitempty"`
	DomainFilter  string `json:"domain_filter,omitempty"`
}

// NewSearchRequest validates and builds a search request.
func NewSearchRequest(query string, count int) (*SearchRequest, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if count < MinSearchResults || count > MaxSearchResults {
		return nil, fmt.Errorf("search count %d out of range [%d, %d]", count, MinSearchResults, MaxSearchResults)
	}
	return &SearchRequest{Query: query, Count: count}, nil
}

// SearchResult is one ranked hit returned by a search provider.
type SearchResult struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Link        string `json:"link"`
	Media       string `json:"media,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Refer       string `json:"refer,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
}

// SearchResults bundles the ordered hits for one query.
type SearchResults struct {
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	Total     int            `json:"total,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// IsEmpty reports whether the query produced no hits.
func (r *SearchResults) IsEmpty() bool {
	return r == nil || len(r.Results) == 0
}
