// Package storage defines the media directory file-system abstraction.
package storage

import "github.com/starford/kenaz-import/internal/models"

// Provider is the interface for media file operations.
type Provider interface {
	// List returns metadata for every regular file under dir (relative to the media root).
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool
	// Delete removes the file at path.
	Delete(path string) error
	// Root returns the absolute media root.
	Root() string
}
