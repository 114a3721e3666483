package matcher

import (
	"errors"

	"github.com/example/fingerprint-match/internal/imaging"
)

var (
	// ErrDecode reports unparseable image bytes.
	ErrDecode = imaging.ErrDecode
	// ErrShape reports invalid target dimensions.
	ErrShape = imaging.ErrShape
	// ErrInvalidInput reports a malformed request payload or query image.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDependencyUnavailable reports an embedding backend or store that never initialized.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrStoreQuery reports a failure while enumerating stored records.
	ErrStoreQuery = errors.New("store query failed")
)
