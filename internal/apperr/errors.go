// Package apperr defines the sentinel errors shared across the importer.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrSetup aborts a run before any record is processed.
	ErrSetup = errors.New("setup failed")
	// ErrRecordValidation marks a record that was skipped without a mapping.
	ErrRecordValidation = errors.New("invalid record")
	// ErrCreation marks a record the content store refused to create.
	ErrCreation = errors.New("content item rejected")
	// ErrTermCreation marks a single term that could not be created.
	ErrTermCreation = errors.New("term creation failed")
	// ErrAssetFetch marks a single asset reference that could not be sideloaded.
	ErrAssetFetch = errors.New("asset fetch failed")
)
