package api

import (
	"github.com/starford/kenaz-import/internal/importer"
	"github.com/starford/kenaz-import/internal/importservice"
	"github.com/starford/kenaz-import/internal/models"
	"github.com/starford/kenaz-import/internal/store"
)

// ImportRequest is the request body for starting an import.
type ImportRequest = importservice.ImportRequest

// ImportReport is the run report (aliased from the domain layer).
type ImportReport = importer.Report

// ItemDetail is the item response type (aliased from the domain layer).
type ItemDetail = importservice.ItemDetail

// ImportStatusResponse describes the current import state.
type ImportStatusResponse struct {
	Running bool          `json:"running" example:"false"`
	Last    *ImportReport `json:"last,omitempty"`
}

// IdentityResponse maps an external id to a local id.
type IdentityResponse struct {
	ExternalID string `json:"external_id" example:"42" validate:"required"`
	LocalID    int64  `json:"local_id" example:"117" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []store.SearchResult `json:"results" validate:"required"`
}

// RunListResponse wraps run listings.
type RunListResponse struct {
	Runs []models.Run `json:"runs" validate:"required"`
}

// RunEntriesResponse wraps the identity map of one run.
type RunEntriesResponse struct {
	RunID   string                 `json:"run_id" validate:"required"`
	Entries []models.IdentityEntry `json:"entries" validate:"required"`
}

// RedirectListResponse wraps redirect rules.
type RedirectListResponse struct {
	Rules []models.RedirectRule `json:"rules" validate:"required"`
}

// MediaUploadResponse is returned after a successful media upload.
type MediaUploadResponse struct {
	File string `json:"file" example:"2024/05/image.png" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
	URL  string `json:"url" example:"/media/2024/05/image.png" validate:"required"`
}
