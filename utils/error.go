package utils

import "errors"

var (
	// ErrInvalidKeyPart is returned when a date-shaped cache key part is not a real calendar date.
	ErrInvalidKeyPart = errors.New("invalid cache key part")
	// ErrCorruptSnapshot is returned by the codec when a stored value cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrCacheUnavailable wraps transport errors from the remote cache.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrFetchFailure wraps errors raised by a resource fetch function.
	ErrFetchFailure = errors.New("fetch failure")
	// ErrClassificationInput marks a malformed season code or stock row.
	ErrClassificationInput = errors.New("classification input error")
	// ErrRefreshInProgress is returned when another refresh run holds the lock.
	ErrRefreshInProgress = errors.New("snapshot refresh already in progress")
)
