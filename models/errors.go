package models

import "errors"

var (
	// ErrRemoteUnavailable marks a network or API failure of a remote source.
	ErrRemoteUnavailable = errors.New("remote source unavailable")
	// ErrStaleCacheUnrefreshable marks a refresh that failed while older data
	// was kept in service.
	ErrStaleCacheUnrefreshable = errors.New("stale data could not be refreshed")
	// ErrEmptyDataset is returned when a matrix is requested without any
	// usable rows.
	ErrEmptyDataset = errors.New("empty dataset")
)
