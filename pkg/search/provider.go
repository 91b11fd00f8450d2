// Package search provides web-search access for agents, backed by an
// MCP (Model Context Protocol) server over streamable HTTP.
package search

import (
	"context"

	"github.com/finnetrolle/nergal-sub000/pkg/models"
)

// Provider executes search requests. Implementations own their transport
// and are safe for concurrent use.
type Provider interface {
	// Search runs one query and returns the ordered hits.
	Search(ctx context.Context, request *models.SearchRequest) (*models.SearchResults, error)

	// Close releases the provider's transport resources.
	Close() error
}
