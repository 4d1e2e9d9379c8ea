package mediamodule

import (
	"os"

	"gorm.io/gorm"

	"github.com/mantonx/cadenza/internal/contentpath"
	"github.com/mantonx/cadenza/internal/database"
	"github.com/mantonx/cadenza/internal/errors"
)

// ResolveLibrary loads a library row and builds its content path
// resolver. Configuration problems (missing row, relative root, invalid
// exclusions) surface as precondition or not-found errors.
func ResolveLibrary(db *gorm.DB, libraryID uint32) (*database.MediaLibrary, *contentpath.Resolver, error) {
	var library database.MediaLibrary
	if err := db.First(&library, libraryID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, errors.NewNotFoundError("media library")
		}
		return nil, nil, errors.NewStorageError("failed to load media library", err)
	}

	exclusions, err := library.ExcludeList()
	if err != nil {
		return nil, nil, errors.NewPreconditionError("library has invalid exclusions", err).
			WithContext("library_id", libraryID)
	}

	resolver, err := contentpath.NewResolver(library.Path, exclusions)
	if err != nil {
		return nil, nil, err
	}
	return &library, resolver, nil
}

// RequireRoot verifies the library root actually exists on disk. Batch
// operations call this before touching anything so a detached volume
// fails the whole operation instead of orphaning the entire library.
func RequireRoot(resolver *contentpath.Resolver) error {
	info, err := os.Stat(resolver.Root())
	if err != nil {
		return errors.NewPreconditionError("library root is not accessible", err).
			WithContext("root", resolver.Root())
	}
	if !info.IsDir() {
		return errors.NewPreconditionError("library root is not a directory", nil).
			WithContext("root", resolver.Root())
	}
	return nil
}
