package schedule

import "errors"

var (
	// ErrMalformed means the payload cannot be decoded for its declared kind.
	ErrMalformed = errors.New("malformed schedule payload")

	// ErrConfig means the payload decoded but carries a semantically invalid
	// value (interval below minimum, out-of-range field, unknown timezone).
	ErrConfig = errors.New("invalid schedule configuration")
)
