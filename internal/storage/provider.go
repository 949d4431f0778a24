// Package storage defines the vault file-system abstraction.
package storage

import (
	"time"

	"github.com/starford/othala/internal/models"
)

// Provider is the interface for vault file operations. Paths are relative
// to the vault root and use forward slashes; a path that no longer
// resolves is a deleted document.
type Provider interface {
	// List returns every file under dir (relative to vault root) whose name
	// ends in ext, with modification times. A missing dir yields an empty
	// list, not an error.
	List(dir, ext string) ([]models.DocInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Stat returns the modification time of the file at path.
	Stat(path string) (time.Time, error)
	// Root returns the absolute vault root path.
	Root() string
}
