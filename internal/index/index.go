package index

import "github.com/starford/othala/internal/models"

// CalloutIndex defines the interface for callout search operations.
// Consumers should depend on this interface rather than the concrete *DB
// type to facilitate testing with mocks.
type CalloutIndex interface {
	UpsertDoc(path string, mtime models.TimeString, callouts []models.Callout) error
	DeleteDoc(path string) error
	GetMtime(path string) (string, error)
	ListCallouts(limit, offset int, typ, sort string) ([]CalloutRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target models.Ref) ([]BacklinkRow, error)
	AllPaths() (map[string]struct{}, error)
	AllMtimes() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies CalloutIndex at compile time.
var _ CalloutIndex = (*DB)(nil)
