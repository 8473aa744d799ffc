package pkgcache

import (
	"context"
	"path/filepath"

	platformerrors "github.com/jmgilman/go/errors"
)

// LocalSource is a RepositorySource for repositories that are already checked
// out on the local filesystem. RepositoryRequest.Repository is the checkout
// directory; Commit and Branch are ignored.
type LocalSource struct{}

// Checkout returns the cleaned absolute repository path.
func (LocalSource) Checkout(_ context.Context, req RepositoryRequest) (string, error) {
	if req.Repository == "" {
		return "", platformerrors.New(platformerrors.CodeInvalidInput, "repository path cannot be empty")
	}
	dir, err := filepath.Abs(req.Repository)
	if err != nil {
		return "", platformerrors.Wrapf(err, platformerrors.CodeInvalidInput,
			"failed to resolve repository path %s", req.Repository)
	}
	return dir, nil
}
