package types

import "errors"

// Error taxonomy shared by storage, sync and search. Callers match with errors.Is.
var (
	// ErrValidation reports bad request parameters (paging, geo, search text)
	ErrValidation = errors.New("validation failed")

	// ErrNotFound reports a missing or soft-deleted post
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument reports a storage contract violation
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProvider reports an embedding provider failure
	ErrProvider = errors.New("embedding provider error")

	// ErrProviderTimeout reports an embedding provider call that ran out of time
	ErrProviderTimeout = errors.New("embedding provider timeout")

	// ErrContentChanged reports that a post was edited while its embedding was computed
	ErrContentChanged = errors.New("post content changed")
)
