package pkgcache

import (
	"errors"

	platformerrors "github.com/jmgilman/go/errors"
)

// ErrPackingInProgress is wrapped by the error returned when a slot lock could
// not be acquired within the lock timeout. Another caller is building the
// package; retrying later is expected to succeed.
var ErrPackingInProgress = errors.New("packing in progress")

// IsPackingInProgress reports whether err was caused by lock contention.
func IsPackingInProgress(err error) bool {
	return errors.Is(err, ErrPackingInProgress)
}

// RepositoryFailure is one entry of a recorded build failure caused by a
// repository that could not be checked out.
type RepositoryFailure struct {
	Repository string `json:"repository"` // RepositoryRequest.String()
	Error      string `json:"error"`      // Raw error text
}

// faultPayload converts an unexpected build fault into its recorded form. The
// message keeps the full cause chain.
func faultPayload(err error) *platformerrors.ErrorResponse {
	resp := platformerrors.ToJSON(err)
	resp.Message = err.Error()
	return resp
}

// invalidFingerprint builds the error returned for unusable fingerprints.
func invalidFingerprint(fp Fingerprint, reason string) error {
	return platformerrors.WithContext(
		platformerrors.Newf(platformerrors.CodeInvalidInput, "invalid fingerprint: %s", reason),
		"fingerprint", string(fp),
	)
}
